package matching

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCacheKey_Deterministic(t *testing.T) {
	t.Parallel()

	a := CacheKey("same prompt")
	b := CacheKey("same prompt")
	c := CacheKey("different prompt")
	if a != b {
		t.Fatalf("identical prompts produced different keys: %s vs %s", a, b)
	}
	if a == c {
		t.Fatal("different prompts produced the same key")
	}
	if len(a) != 64 {
		t.Fatalf("key length=%d, want 64 hex chars", len(a))
	}
}

func TestDiskStore_PersistsAcrossInstances(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s1, err := NewDiskStore(dir)
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}

	key := CacheKey("prompt")
	if err := s1.Put(key, "prompt", "response body"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	s2, err := NewDiskStore(dir)
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}
	got, ok, err := s2.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || got != "response body" {
		t.Fatalf("Get=(%q,%v), want response body", got, ok)
	}
	if s2.Len() != 1 {
		t.Fatalf("Len=%d, want 1", s2.Len())
	}
}

func TestDiskStore_MissingKeyIsMiss(t *testing.T) {
	t.Parallel()

	s, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}
	_, ok, err := s.Get(CacheKey("never stored"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("missing key reported as hit")
	}
}

func TestDiskStore_TornEntryIsMiss(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := NewDiskStore(dir)
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}

	key := CacheKey("p")
	if err := os.WriteFile(filepath.Join(dir, key+".json"), []byte(`{"prompt": "p", "resp`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, ok, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("torn entry reported as hit")
	}
}

// countingStore wraps a map and counts backing reads.
type countingStore struct {
	entries map[string]string
	gets    int
}

func (s *countingStore) Get(key string) (string, bool, error) {
	s.gets++
	v, ok := s.entries[key]
	return v, ok, nil
}

func (s *countingStore) Put(key, prompt, response string) error {
	s.entries[key] = response
	return nil
}

func TestLayeredStore_ServesRepeatsFromMemory(t *testing.T) {
	t.Parallel()

	backing := &countingStore{entries: map[string]string{CacheKey("warm"): "warm response"}}
	layered := NewLayeredStore(backing)

	key := CacheKey("warm")
	for i := 0; i < 3; i++ {
		got, ok, err := layered.Get(key)
		if err != nil || !ok || got != "warm response" {
			t.Fatalf("Get #%d=(%q,%v,%v)", i, got, ok, err)
		}
	}
	if backing.gets != 1 {
		t.Fatalf("backing gets=%d, want 1", backing.gets)
	}
}

func TestLayeredStore_PutPopulatesBothLayers(t *testing.T) {
	t.Parallel()

	backing := &countingStore{entries: map[string]string{}}
	layered := NewLayeredStore(backing)

	key := CacheKey("p")
	if err := layered.Put(key, "p", "r"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if backing.entries[key] != "r" {
		t.Fatal("backing store not written")
	}
	got, ok, err := layered.Get(key)
	if err != nil || !ok || got != "r" {
		t.Fatalf("Get=(%q,%v,%v)", got, ok, err)
	}
	if backing.gets != 0 {
		t.Fatalf("backing gets=%d, want 0 (memory layer should answer)", backing.gets)
	}
}
