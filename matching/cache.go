package matching

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	gocache "github.com/patrickmn/go-cache"

	"github.com/framewright/match-cutter/matching/fileutils"
)

// Store is a durable key→response cache for analysis results. Identical
// prompts across runs and retries must resolve to the same key, so reruns
// after a partial failure skip already-answered windows.
type Store interface {
	Get(key string) (response string, ok bool, err error)
	Put(key string, prompt string, response string) error
}

// CacheKey derives the content-addressed store key for a prompt.
func CacheKey(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

type cacheEntry struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

// DiskStore persists one JSON file per entry under a directory. Growth is
// unbounded; eviction is a capacity concern handled outside this engine.
type DiskStore struct {
	dir string
}

// NewDiskStore creates the cache directory if needed.
func NewDiskStore(dir string) (*DiskStore, error) {
	if dir == "" {
		return nil, errors.New("NewDiskStore: dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("NewDiskStore: mkdir cache dir: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

func (s *DiskStore) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

func (s *DiskStore) Get(key string) (string, bool, error) {
	b, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("DiskStore.Get: %w", err)
	}
	var e cacheEntry
	if err := json.Unmarshal(b, &e); err != nil {
		// A torn or hand-edited entry is treated as a miss.
		return "", false, nil
	}
	return e.Response, true, nil
}

func (s *DiskStore) Put(key string, prompt string, response string) error {
	if err := fileutils.WriteJSONAtomic(s.path(key), cacheEntry{Prompt: prompt, Response: response}, false); err != nil {
		return fmt.Errorf("DiskStore.Put: %w", err)
	}
	return nil
}

// Len reports the number of persisted entries, for run statistics.
func (s *DiskStore) Len() int {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return 0
	}
	return len(matches)
}

// LayeredStore fronts a backing store with an in-process map so repeated
// windows within one run skip disk (or network) entirely.
type LayeredStore struct {
	mem     *gocache.Cache
	backing Store
}

func NewLayeredStore(backing Store) *LayeredStore {
	return &LayeredStore{
		mem:     gocache.New(gocache.NoExpiration, 0),
		backing: backing,
	}
}

func (s *LayeredStore) Get(key string) (string, bool, error) {
	if v, ok := s.mem.Get(key); ok {
		return v.(string), true, nil
	}
	resp, ok, err := s.backing.Get(key)
	if err != nil || !ok {
		return "", false, err
	}
	s.mem.Set(key, resp, gocache.NoExpiration)
	return resp, true, nil
}

func (s *LayeredStore) Put(key string, prompt string, response string) error {
	if err := s.backing.Put(key, prompt, response); err != nil {
		return err
	}
	s.mem.Set(key, response, gocache.NoExpiration)
	return nil
}
