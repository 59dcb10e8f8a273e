package matching

// Phrase is one timed unit of narration text from the optimized transcript.
// Phrases are produced upstream, ordered by start time, and never mutated here.
type Phrase struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// UnknownFocus is the sentinel focus entity meaning "no resolvable subject".
const UnknownFocus = "Unknown"

// VisualIntent is the director's structured instruction for a single phrase:
// who should be on screen, how the shot should look, and which props matter.
// FocusEntity is a resolved subject name, never a pronoun and never an
// actor's real name when a fictional role is implied.
type VisualIntent struct {
	FocusEntity       string   `json:"focus_entity"`
	SecondaryEntities []string `json:"secondary_entities"`
	VisualAction      string   `json:"visual_action"`
	Mood              string   `json:"mood"`
	Setting           string   `json:"setting"`
	Objects           []string `json:"objects"`
	WindowID          int      `json:"window_id"`
}

// HasFocus reports whether the intent names a concrete subject.
func (vi VisualIntent) HasFocus() bool {
	switch vi.FocusEntity {
	case "", UnknownFocus, "none", "None", "unknown":
		return false
	}
	return true
}

// ContentTags is the optional visual-content description of a scene produced
// by the upstream frame analyzer. ExpandedFrom is set when the tags were
// copied from a neighboring analyzed scene rather than observed directly.
type ContentTags struct {
	Characters []string `json:"characters,omitempty"`
	Objects    []string `json:"objects,omitempty"`
	Setting    string   `json:"setting,omitempty"`
	Mood       []string `json:"mood,omitempty"`
	Colors     []string `json:"colors,omitempty"`
	Action     string   `json:"action,omitempty"`

	ExpandedFrom *int `json:"expanded_from,omitempty"`
}

// SceneRecord is one detected, time-bounded unit of source footage.
// A nil Tags means the scene was never content-analyzed, which is a valid
// and common state; strategies must branch on it explicitly.
type SceneRecord struct {
	SceneID      int     `json:"id"`
	VideoIndex   int     `json:"video_index"`
	StartTime    float64 `json:"start_time"`
	EndTime      float64 `json:"end_time"`
	Duration     float64 `json:"duration"`
	KeyFrameTime float64 `json:"key_frame_time,omitempty"`
	FramePath    string  `json:"frame_path"`

	Tags *ContentTags `json:"-"`
}

// EditPlanEntry assigns one scene (or none) to one phrase. SceneID is nil
// when no candidate passed the usage gate.
type EditPlanEntry struct {
	PhraseText string       `json:"phrase"`
	Start      float64      `json:"start"`
	End        float64      `json:"end"`
	Duration   float64      `json:"duration"`
	SceneID    *int         `json:"scene_id"`
	Intent     VisualIntent `json:"visual_intent"`

	// UsageCount is the scene's cumulative usage count after this assignment.
	UsageCount int `json:"scene_usage_count"`
}
