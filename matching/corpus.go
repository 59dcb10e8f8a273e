package matching

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Artifact filenames produced by the upstream indexing collaborators.
const (
	SceneIndexFile       = "scene_index.json"
	FrameAnalysisFile    = "frame_analysis.json"
	FrameAnalysisExpFile = "frame_analysis_expanded.json"
	EmbeddingsFile       = "embeddings.json"
	TranscriptFile       = "transcript_optimized.json"
)

// Corpus is the pool of scenes a plan is matched against. Embeddings, when
// present, is the dense visual embedding matrix aligned with Scenes by index.
type Corpus struct {
	Scenes     []SceneRecord
	Embeddings [][]float32
}

// frameAnalysis is the upstream content-tag record for one analyzed frame.
// Records carrying an error field are skipped, matching upstream output.
type frameAnalysis struct {
	SceneID      int      `json:"scene_id"`
	Characters   []string `json:"characters"`
	Objects      []string `json:"objects"`
	Setting      string   `json:"setting"`
	Mood         []string `json:"mood"`
	Colors       []string `json:"colors"`
	Action       string   `json:"action"`
	ExpandedFrom *int     `json:"expanded_from"`
	Error        string   `json:"error"`
}

// LoadPhrases reads the optimized transcript. Its absence is fatal: nothing
// downstream can run without narration timing.
func LoadPhrases(path string) ([]Phrase, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, MissingArtifact(path, "the transcript optimizer")
		}
		return nil, fmt.Errorf("LoadPhrases: %w", err)
	}
	var phrases []Phrase
	if err := json.Unmarshal(b, &phrases); err != nil {
		return nil, fmt.Errorf("LoadPhrases: unmarshal %s: %w", path, err)
	}
	return phrases, nil
}

// LoadCorpus reads the scene index plus optional content tags and visual
// embeddings from cacheDir. The scene index is required; tags and embeddings
// degrade the matcher's strategies when absent but do not block a run.
func LoadCorpus(cacheDir string) (*Corpus, error) {
	indexPath := filepath.Join(cacheDir, SceneIndexFile)
	b, err := os.ReadFile(indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, MissingArtifact(indexPath, "the video indexer")
		}
		return nil, fmt.Errorf("LoadCorpus: %w", err)
	}

	var scenes []SceneRecord
	if err := json.Unmarshal(b, &scenes); err != nil {
		return nil, fmt.Errorf("LoadCorpus: unmarshal %s: %w", indexPath, err)
	}

	c := &Corpus{Scenes: scenes}

	// Prefer expanded analysis when the expander has run.
	analysisPath := filepath.Join(cacheDir, FrameAnalysisExpFile)
	if _, err := os.Stat(analysisPath); err != nil {
		analysisPath = filepath.Join(cacheDir, FrameAnalysisFile)
	}
	if ab, err := os.ReadFile(analysisPath); err == nil {
		if err := c.attachTags(ab); err != nil {
			return nil, fmt.Errorf("LoadCorpus: %s: %w", analysisPath, err)
		}
	}

	embPath := filepath.Join(cacheDir, EmbeddingsFile)
	if eb, err := os.ReadFile(embPath); err == nil {
		var emb [][]float32
		if err := json.Unmarshal(eb, &emb); err != nil {
			return nil, fmt.Errorf("LoadCorpus: unmarshal %s: %w", embPath, err)
		}
		if len(emb) != len(scenes) {
			return nil, fmt.Errorf("LoadCorpus: embedding rows (%d) do not match scene count (%d)", len(emb), len(scenes))
		}
		c.Embeddings = emb
	}

	return c, nil
}

func (c *Corpus) attachTags(analysisJSON []byte) error {
	var records []frameAnalysis
	if err := json.Unmarshal(analysisJSON, &records); err != nil {
		return fmt.Errorf("unmarshal frame analysis: %w", err)
	}

	byID := make(map[int]*ContentTags, len(records))
	for _, r := range records {
		if r.Error != "" {
			continue
		}
		byID[r.SceneID] = &ContentTags{
			Characters:   r.Characters,
			Objects:      r.Objects,
			Setting:      r.Setting,
			Mood:         r.Mood,
			Colors:       r.Colors,
			Action:       r.Action,
			ExpandedFrom: r.ExpandedFrom,
		}
	}

	for i := range c.Scenes {
		if tags, ok := byID[c.Scenes[i].SceneID]; ok {
			c.Scenes[i].Tags = tags
		}
	}
	return nil
}

// TaggedCount reports how many scenes carry content tags.
func (c *Corpus) TaggedCount() int {
	n := 0
	for i := range c.Scenes {
		if c.Scenes[i].Tags != nil {
			n++
		}
	}
	return n
}

// KnownEntities extracts distinct character-name tokens from all content
// tags: multi-word names are split, tokens of three characters or fewer are
// dropped, and the result is sorted for stable prompts.
func (c *Corpus) KnownEntities() []string {
	seen := make(map[string]struct{})
	for i := range c.Scenes {
		tags := c.Scenes[i].Tags
		if tags == nil {
			continue
		}
		for _, name := range tags.Characters {
			for _, part := range strings.Fields(name) {
				if len(part) <= 2 {
					continue
				}
				seen[part] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for tok := range seen {
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

// ExpandTags copies each tagged scene's tags onto its untagged immediate
// neighbors (scene id ±1). A scene-change boundary usually keeps the same
// characters and setting for a beat on either side, so the copies are a
// useful approximation when only a sparse sample of frames was analyzed.
// Returns the number of scenes that gained tags.
func (c *Corpus) ExpandTags() int {
	byID := make(map[int]int, len(c.Scenes)) // scene id -> slice index
	for i := range c.Scenes {
		byID[c.Scenes[i].SceneID] = i
	}

	added := 0
	for i := range c.Scenes {
		tags := c.Scenes[i].Tags
		if tags == nil || tags.ExpandedFrom != nil {
			continue
		}
		id := c.Scenes[i].SceneID
		for _, neighborID := range []int{id - 1, id + 1} {
			j, ok := byID[neighborID]
			if !ok || c.Scenes[j].Tags != nil {
				continue
			}
			copied := *tags
			src := id
			copied.ExpandedFrom = &src
			c.Scenes[j].Tags = &copied
			added++
		}
	}
	return added
}

// MergeCorpora combines corpora from several source videos into one,
// renumbering scene ids globally so they stay unique, and stamping each
// scene with the index of the video it came from. Embeddings merge only
// when every input carries them; a single missing matrix disables
// visual-first matching for the merged corpus rather than misaligning rows.
func MergeCorpora(corpora ...*Corpus) *Corpus {
	merged := &Corpus{}

	allEmbedded := len(corpora) > 0
	for _, c := range corpora {
		if c.Embeddings == nil {
			allEmbedded = false
		}
	}

	nextID := 0
	for vi, c := range corpora {
		for i := range c.Scenes {
			s := c.Scenes[i]
			s.SceneID = nextID
			s.VideoIndex = vi
			merged.Scenes = append(merged.Scenes, s)
			if allEmbedded {
				merged.Embeddings = append(merged.Embeddings, c.Embeddings[i])
			}
			nextID++
		}
	}
	return merged
}
