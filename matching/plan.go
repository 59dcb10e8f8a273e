package matching

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/framewright/match-cutter/matching/fileutils"
)

// PlanStats are run-level diagnostics computed over a finished plan.
// CooldownViolations is a self-check: the gate makes it zero by construction.
type PlanStats struct {
	TotalPhrases       int     `json:"total_phrases"`
	MatchedPhrases     int     `json:"matched_phrases"`
	UnmatchedCount     int     `json:"unmatched_count"`
	UniqueScenes       int     `json:"unique_scenes"`
	MaxSceneUsage      int     `json:"max_scene_usage"`
	CooldownPeriod     int     `json:"cooldown_period"`
	CooldownViolations int     `json:"cooldown_violations"`
	AvgRepeatSpacing   float64 `json:"avg_repeat_spacing,omitempty"`
	MinRepeatSpacing   int     `json:"min_repeat_spacing,omitempty"`
	FocusChanges       int     `json:"focus_changes"`
}

// Plan is the ordered edit plan: one entry per input phrase, in phrase
// order, never filtered. This is the engine's sole output artifact.
type Plan struct {
	RunID     string          `json:"run_id"`
	CreatedAt time.Time       `json:"created_at"`
	Entries   []EditPlanEntry `json:"entries"`
	Stats     PlanStats       `json:"stats"`
}

// BuildPlan zips phrases and intents in order, invoking the matcher once per
// pair with a strictly increasing phrase index. len(plan.Entries) always
// equals len(phrases), even when a phrase fails to match.
func BuildPlan(phrases []Phrase, intents []VisualIntent, matcher *Matcher) (*Plan, error) {
	return BuildPlanFunc(phrases, intents, matcher, nil)
}

// BuildPlanFunc is BuildPlan with a per-phrase progress callback.
func BuildPlanFunc(phrases []Phrase, intents []VisualIntent, matcher *Matcher, onPhrase func(i int)) (*Plan, error) {
	if len(intents) != len(phrases) {
		return nil, fmt.Errorf("BuildPlan: %d intents for %d phrases", len(intents), len(phrases))
	}

	plan := &Plan{
		RunID:     uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Entries:   make([]EditPlanEntry, 0, len(phrases)),
	}

	for i, phrase := range phrases {
		sceneID := matcher.MatchPhrase(phrase, intents[i], i)

		usage := 0
		if sceneID != nil {
			usage = matcher.UsageCount(*sceneID)
		}
		plan.Entries = append(plan.Entries, EditPlanEntry{
			PhraseText: phrase.Text,
			Start:      phrase.Start,
			End:        phrase.End,
			Duration:   phrase.End - phrase.Start,
			SceneID:    sceneID,
			Intent:     intents[i],
			UsageCount: usage,
		})
		if onPhrase != nil {
			onPhrase(i)
		}
	}

	plan.Stats = computeStats(plan.Entries, intents, matcher.Cooldown())
	return plan, nil
}

func computeStats(entries []EditPlanEntry, intents []VisualIntent, cooldown int) PlanStats {
	stats := PlanStats{
		TotalPhrases:   len(entries),
		CooldownPeriod: cooldown,
	}

	positions := make(map[int][]int)
	usage := make(map[int]int)
	for i, e := range entries {
		if e.SceneID == nil {
			stats.UnmatchedCount++
			continue
		}
		stats.MatchedPhrases++
		id := *e.SceneID
		usage[id]++
		positions[id] = append(positions[id], i)
	}

	stats.UniqueScenes = len(usage)
	for _, n := range usage {
		if n > stats.MaxSceneUsage {
			stats.MaxSceneUsage = n
		}
	}

	var spacings []int
	for _, pos := range positions {
		for i := 1; i < len(pos); i++ {
			gap := pos[i] - pos[i-1]
			spacings = append(spacings, gap)
			if gap < cooldown {
				stats.CooldownViolations++
			}
		}
	}
	if len(spacings) > 0 {
		sum := 0
		min := spacings[0]
		for _, s := range spacings {
			sum += s
			if s < min {
				min = s
			}
		}
		stats.AvgRepeatSpacing = float64(sum) / float64(len(spacings))
		stats.MinRepeatSpacing = min
	}

	for i := 1; i < len(intents); i++ {
		if intents[i].FocusEntity != intents[i-1].FocusEntity {
			stats.FocusChanges++
		}
	}

	return stats
}

// WritePlan persists the plan atomically as pretty-printed JSON.
func WritePlan(path string, plan *Plan) error {
	if err := fileutils.WriteJSONAtomic(path, plan, true); err != nil {
		return fmt.Errorf("WritePlan: %w", err)
	}
	return nil
}
