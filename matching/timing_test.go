package matching

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/framewright/match-cutter/matching/fileutils"
)

func almost(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestFixTimings_ShiftsAndDrops(t *testing.T) {
	t.Parallel()

	scenes := []SceneRecord{
		{SceneID: 0, StartTime: 0, EndTime: 10, Duration: 10},
		{SceneID: 1, StartTime: 5, EndTime: 5.1, Duration: 0.1},
		{SceneID: 2, StartTime: 12, EndTime: 12.2, Duration: 0.2},
	}

	fixed, stats := FixTimings(scenes, DefaultTimingOffset)
	if stats.Total != 3 || stats.Kept != 1 || stats.Dropped != 2 {
		t.Fatalf("stats=%+v, want 3/1/2", stats)
	}
	if len(fixed) != 1 {
		t.Fatalf("len(fixed)=%d, want 1", len(fixed))
	}
	if !almost(fixed[0].StartTime, 0.2) || !almost(fixed[0].Duration, 9.8) {
		t.Fatalf("fixed[0]=%+v, want start 0.2 duration 9.8", fixed[0])
	}
	if !almost(fixed[0].EndTime, 10) {
		t.Fatalf("EndTime=%f, want unchanged 10", fixed[0].EndTime)
	}

	// Input slice is untouched.
	if scenes[0].StartTime != 0 {
		t.Fatalf("input mutated: %+v", scenes[0])
	}
}

func TestFixTimings_RoundsToMilliseconds(t *testing.T) {
	t.Parallel()

	scenes := []SceneRecord{{SceneID: 0, StartTime: 1.00049, EndTime: 3}}
	fixed, _ := FixTimings(scenes, 0.2)
	if fixed[0].StartTime != 1.2 {
		t.Fatalf("StartTime=%v, want 1.2", fixed[0].StartTime)
	}
}

func TestFixTimingsFile_InPlaceWritesBackup(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	indexPath := filepath.Join(dir, SceneIndexFile)
	writeJSON(t, indexPath, []SceneRecord{
		{SceneID: 0, StartTime: 0, EndTime: 10, Duration: 10},
	})

	stats, err := FixTimingsFile(indexPath, "", 0.2, true)
	if err != nil {
		t.Fatalf("FixTimingsFile: %v", err)
	}
	if stats.Kept != 1 || stats.Dropped != 0 {
		t.Fatalf("stats=%+v, want 1 kept", stats)
	}

	if !fileutils.Exists(filepath.Join(dir, TimingBackupFile)) {
		t.Fatal("backup file missing")
	}

	b, err := os.ReadFile(indexPath)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var fixed []SceneRecord
	if err := json.Unmarshal(b, &fixed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !almost(fixed[0].StartTime, 0.2) {
		t.Fatalf("StartTime=%f, want 0.2", fixed[0].StartTime)
	}
}

func TestFixTimingsFile_AlternateOutputSkipsBackup(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	indexPath := filepath.Join(dir, SceneIndexFile)
	outPath := filepath.Join(dir, "scene_index_fixed.json")
	writeJSON(t, indexPath, []SceneRecord{
		{SceneID: 0, StartTime: 0, EndTime: 10, Duration: 10},
	})

	if _, err := FixTimingsFile(indexPath, outPath, 0.2, true); err != nil {
		t.Fatalf("FixTimingsFile: %v", err)
	}
	if fileutils.Exists(filepath.Join(dir, TimingBackupFile)) {
		t.Fatal("backup written for a non-destructive run")
	}
	if !fileutils.Exists(outPath) {
		t.Fatal("output file missing")
	}

	// The source index is untouched.
	b, err := os.ReadFile(indexPath)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var original []SceneRecord
	if err := json.Unmarshal(b, &original); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if original[0].StartTime != 0 {
		t.Fatalf("source index mutated: %+v", original[0])
	}
}

func TestFixTimingsFile_MissingIndex(t *testing.T) {
	t.Parallel()

	_, err := FixTimingsFile(filepath.Join(t.TempDir(), SceneIndexFile), "", 0.2, true)
	if !errors.Is(err, ErrMissingArtifact) {
		t.Fatalf("err=%v, want ErrMissingArtifact", err)
	}
}
