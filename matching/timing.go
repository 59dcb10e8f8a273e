package matching

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/framewright/match-cutter/matching/fileutils"
)

// DefaultTimingOffset compensates for the upstream scene detector firing
// slightly early, which causes flicker at scene joins.
const DefaultTimingOffset = 0.2

// TimingBackupFile is written next to the scene index before an in-place fix.
const TimingBackupFile = "scene_index_backup.json"

// TimingStats summarizes one correction pass. Dropped records are issues,
// not errors: a scene that becomes non-positive after the shift is removed.
type TimingStats struct {
	Total   int     `json:"total"`
	Kept    int     `json:"fixed"`
	Dropped int     `json:"issues"`
	Offset  float64 `json:"offset"`
}

// FixTimings shifts each record's start forward by offset and shrinks its
// duration accordingly, dropping records whose duration becomes non-positive.
// Times are rounded to millisecond precision. The input is not mutated.
func FixTimings(scenes []SceneRecord, offset float64) ([]SceneRecord, TimingStats) {
	stats := TimingStats{Total: len(scenes), Offset: offset}

	fixed := make([]SceneRecord, 0, len(scenes))
	for _, s := range scenes {
		newStart := s.StartTime + offset
		newDuration := s.EndTime - newStart

		if newDuration <= 0 || newStart >= s.EndTime {
			stats.Dropped++
			continue
		}

		s.StartTime = round3(newStart)
		s.Duration = round3(newDuration)
		fixed = append(fixed, s)
	}

	stats.Kept = len(fixed)
	return fixed, stats
}

// FixTimingsFile applies FixTimings to a scene index file. When outPath is
// empty the index is rewritten in place, and a backup copy is written first
// unless backup is disabled; an explicit alternate outPath skips the backup.
func FixTimingsFile(indexPath string, outPath string, offset float64, backup bool) (TimingStats, error) {
	b, err := os.ReadFile(indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return TimingStats{}, MissingArtifact(indexPath, "the video indexer")
		}
		return TimingStats{}, fmt.Errorf("FixTimingsFile: %w", err)
	}

	var scenes []SceneRecord
	if err := json.Unmarshal(b, &scenes); err != nil {
		return TimingStats{}, fmt.Errorf("FixTimingsFile: unmarshal %s: %w", indexPath, err)
	}

	inPlace := outPath == "" || outPath == indexPath
	if inPlace {
		outPath = indexPath
		if backup {
			backupPath := filepath.Join(filepath.Dir(indexPath), TimingBackupFile)
			if _, err := fileutils.BackupFile(indexPath, backupPath); err != nil {
				return TimingStats{}, fmt.Errorf("FixTimingsFile: backup: %w", err)
			}
		}
	}

	fixed, stats := FixTimings(scenes, offset)

	if err := fileutils.WriteJSONAtomic(outPath, fixed, true); err != nil {
		return TimingStats{}, fmt.Errorf("FixTimingsFile: write %s: %w", outPath, err)
	}
	return stats, nil
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
