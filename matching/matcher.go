package matching

import (
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
)

// Embedder is a text-embedding capability: deterministic for identical
// input. The visual-text variant must be dimensionally compatible with the
// corpus's precomputed visual embeddings.
type Embedder interface {
	Embed(text string) ([]float32, error)
}

// MatcherOptions carries the usage-gate policy and retrieval depth.
type MatcherOptions struct {
	// MaxUsage caps how many times one scene may appear in a plan (default 3).
	MaxUsage int
	// Cooldown is the minimum phrase distance before a scene repeats (default 20).
	Cooldown int
	// VisualTopK is how many visually similar scenes are re-ranked (default 50).
	VisualTopK int
}

const (
	defaultMaxUsage   = 3
	defaultCooldown   = 20
	defaultVisualTopK = 50
)

// Re-rank bonuses applied to tagged scenes in the visual-first strategy.
const (
	entityBonus  = 10
	settingBonus = 3
	moodBonus    = 2
	objectBonus  = 1
)

// Matcher resolves visual intents to concrete scenes under global usage and
// cooldown constraints. Phrases must be matched in increasing index order:
// the usage state from phrase i gates phrase i+1. Single writer, no undo.
type Matcher struct {
	corpus    *Corpus
	textEmb   Embedder
	visualEmb Embedder
	opts      MatcherOptions

	tagged        map[int]*ContentTags // scene id -> tags
	rowBySceneID  map[int]int          // scene id -> embedding matrix row
	tagEmbeddings map[int][]float32    // scene id -> precomputed tag-text embedding

	usage        map[int]int
	lastUsed     map[int]int
	lastSceneID  int
	currentIndex int
	unmatched    int
}

// NewMatcher precomputes one text embedding per tagged scene (scenes without
// tags are excluded from semantic-only strategies) and validates the corpus.
// An empty corpus fails immediately with ErrCorpusEmpty: this is checked
// before any phrase is processed.
func NewMatcher(corpus *Corpus, textEmb Embedder, visualEmb Embedder, opts MatcherOptions) (*Matcher, error) {
	if corpus == nil || len(corpus.Scenes) == 0 {
		return nil, ErrCorpusEmpty
	}
	if textEmb == nil {
		return nil, fmt.Errorf("NewMatcher: text embedder is nil")
	}
	if opts.MaxUsage <= 0 {
		opts.MaxUsage = defaultMaxUsage
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = defaultCooldown
	}
	if opts.VisualTopK <= 0 {
		opts.VisualTopK = defaultVisualTopK
	}

	m := &Matcher{
		corpus:        corpus,
		textEmb:       textEmb,
		visualEmb:     visualEmb,
		opts:          opts,
		tagged:        make(map[int]*ContentTags),
		rowBySceneID:  make(map[int]int, len(corpus.Scenes)),
		tagEmbeddings: make(map[int][]float32),
		usage:         make(map[int]int),
		lastUsed:      make(map[int]int),
		lastSceneID:   -1,
	}

	for i := range corpus.Scenes {
		s := &corpus.Scenes[i]
		m.rowBySceneID[s.SceneID] = i
		if s.Tags != nil {
			m.tagged[s.SceneID] = s.Tags
		}
	}

	for id, tags := range m.tagged {
		emb, err := textEmb.Embed(tagDescription(tags))
		if err != nil {
			return nil, fmt.Errorf("NewMatcher: embed tags for scene %d: %w", id, err)
		}
		m.tagEmbeddings[id] = emb
	}

	return m, nil
}

// tagDescription flattens content tags into one searchable string,
// omitting absent fields.
func tagDescription(tags *ContentTags) string {
	var parts []string
	if len(tags.Characters) > 0 {
		parts = append(parts, "Characters: "+strings.Join(tags.Characters, ", "))
	}
	if len(tags.Objects) > 0 {
		parts = append(parts, "Objects: "+strings.Join(tags.Objects, ", "))
	}
	if tags.Setting != "" {
		parts = append(parts, "Setting: "+tags.Setting)
	}
	if len(tags.Mood) > 0 {
		parts = append(parts, "Mood: "+strings.Join(tags.Mood, ", "))
	}
	if tags.Action != "" {
		parts = append(parts, "Action: "+tags.Action)
	}
	if len(parts) == 0 {
		return "empty frame"
	}
	return strings.Join(parts, " | ")
}

// MatchPhrase resolves one phrase to a scene id, or nil when no candidate
// passes the usage gate. Strategies run in strict priority order; the first
// gate-passing candidate wins and mutates the usage state.
func (m *Matcher) MatchPhrase(phrase Phrase, intent VisualIntent, phraseIndex int) *int {
	m.currentIndex = phraseIndex

	// Strategy A: entity-first, when the director resolved a subject and
	// any scene is tagged.
	if intent.HasFocus() && len(m.tagged) > 0 {
		if candidates := m.filterByEntity(intent.FocusEntity); len(candidates) > 0 {
			if best, ok := m.semanticBest(phrase, intent, candidates); ok && m.validChoice(best) {
				m.recordUse(best)
				return &best
			}
		}
	}

	// Strategy B: visual-first across every scene, tagged or not.
	if m.corpus.Embeddings != nil && m.visualEmb != nil {
		ranked := m.visualSearch(phrase, intent)
		if refined := m.rerankWithTags(ranked, intent); len(refined) > 0 {
			ranked = refined
		}
		for _, id := range ranked {
			if m.validChoice(id) {
				m.recordUse(id)
				out := id
				return &out
			}
		}
	}

	// Strategy C: semantic fallback over all tagged scenes.
	if len(m.tagged) > 0 {
		candidates := make([]int, 0, len(m.tagged))
		for id := range m.tagged {
			candidates = append(candidates, id)
		}
		sort.Ints(candidates)
		if best, ok := m.semanticBest(phrase, intent, candidates); ok && m.validChoice(best) {
			m.recordUse(best)
			return &best
		}
	}

	m.unmatched++
	log.Printf("no valid scene for phrase %d", phraseIndex)
	return nil
}

// filterByEntity returns tagged scenes whose character tags mention any
// token of the focus entity longer than two characters.
func (m *Matcher) filterByEntity(focus string) []int {
	tokens := focusTokens(focus)
	if len(tokens) == 0 {
		return nil
	}

	var out []int
	for id, tags := range m.tagged {
		chars := strings.ToLower(strings.Join(tags.Characters, " "))
		for _, tok := range tokens {
			if strings.Contains(chars, tok) {
				out = append(out, id)
				break
			}
		}
	}
	sort.Ints(out)
	return out
}

func focusTokens(focus string) []string {
	var out []string
	for _, tok := range strings.Fields(strings.ToLower(focus)) {
		if len(tok) > 2 {
			out = append(out, tok)
		}
	}
	return out
}

// semanticBest ranks candidates by cosine similarity between the query
// embedding and each candidate's precomputed tag embedding, returning the
// single best. Candidates without embeddings are skipped; when none carry
// one, the first candidate stands in.
func (m *Matcher) semanticBest(phrase Phrase, intent VisualIntent, candidates []int) (int, bool) {
	if len(candidates) == 0 {
		return 0, false
	}

	valid := candidates[:0:0]
	for _, id := range candidates {
		if _, ok := m.tagEmbeddings[id]; ok {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return candidates[0], true
	}

	query := strings.Join([]string{phrase.Text, intent.VisualAction, intent.Mood, intent.Setting}, " ")
	qEmb, err := m.textEmb.Embed(query)
	if err != nil {
		log.Printf("query embedding failed: %v", err)
		return 0, false
	}

	best := valid[0]
	bestSim := float32(math.Inf(-1))
	for _, id := range valid {
		if sim := cosine(qEmb, m.tagEmbeddings[id]); sim > bestSim {
			bestSim = sim
			best = id
		}
	}
	return best, true
}

// visualSearch returns the top-K scene ids by cosine similarity between a
// query embedding and the corpus's dense visual embeddings.
func (m *Matcher) visualSearch(phrase Phrase, intent VisualIntent) []int {
	parts := []string{phrase.Text, intent.VisualAction, intent.Mood, intent.Setting}
	parts = append(parts, intent.Objects...)
	qEmb, err := m.visualEmb.Embed(strings.Join(parts, " "))
	if err != nil {
		log.Printf("visual query embedding failed: %v", err)
		return nil
	}

	type scored struct {
		id  int
		sim float32
	}
	all := make([]scored, 0, len(m.corpus.Scenes))
	for i := range m.corpus.Scenes {
		all = append(all, scored{id: m.corpus.Scenes[i].SceneID, sim: cosine(qEmb, m.corpus.Embeddings[i])})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].sim > all[j].sim })

	k := m.opts.VisualTopK
	if k > len(all) {
		k = len(all)
	}
	out := make([]int, 0, k)
	for _, s := range all[:k] {
		out = append(out, s.id)
	}
	return out
}

// rerankWithTags blends the visual ranking with content tags: untagged
// scenes keep their rank, tagged scenes earn an additive score and sort
// above the untagged when any of them score at all. Tagged scenes that
// score zero are dropped; an empty result tells the caller to keep the
// purely visual ranking.
func (m *Matcher) rerankWithTags(ids []int, intent VisualIntent) []int {
	type scored struct {
		id    int
		score int
	}
	var withScore []scored
	var unscored []int

	focus := focusTokens(intent.FocusEntity)
	for _, id := range ids {
		tags, ok := m.tagged[id]
		if !ok {
			unscored = append(unscored, id)
			continue
		}

		score := 0
		if intent.HasFocus() {
			chars := strings.ToLower(strings.Join(tags.Characters, " "))
			for _, tok := range focus {
				if strings.Contains(chars, tok) {
					score += entityBonus
					break
				}
			}
		}
		if intent.Setting != "any" && tags.Setting != "" &&
			strings.Contains(strings.ToLower(tags.Setting), strings.ToLower(intent.Setting)) {
			score += settingBonus
		}
		for _, mood := range tags.Mood {
			if strings.EqualFold(mood, intent.Mood) {
				score += moodBonus
				break
			}
		}
		for _, obj := range intent.Objects {
			for _, have := range tags.Objects {
				if strings.EqualFold(obj, have) {
					score += objectBonus
					break
				}
			}
		}

		if score > 0 {
			withScore = append(withScore, scored{id: id, score: score})
		}
	}

	if len(withScore) == 0 {
		return unscored
	}
	sort.SliceStable(withScore, func(i, j int) bool { return withScore[i].score > withScore[j].score })
	out := make([]int, 0, len(withScore)+len(unscored))
	for _, s := range withScore {
		out = append(out, s.id)
	}
	return append(out, unscored...)
}

// validChoice applies the usage gate: no back-to-back repeat, cooldown
// spacing, and the per-scene usage cap.
func (m *Matcher) validChoice(id int) bool {
	if id == m.lastSceneID {
		return false
	}
	if last, ok := m.lastUsed[id]; ok && m.currentIndex-last < m.opts.Cooldown {
		return false
	}
	if m.usage[id] >= m.opts.MaxUsage {
		return false
	}
	return true
}

// recordUse mutates the usage state. State is monotonic for the run.
func (m *Matcher) recordUse(id int) {
	m.usage[id]++
	m.lastUsed[id] = m.currentIndex
	m.lastSceneID = id
}

// UsageCount returns a scene's cumulative usage so far.
func (m *Matcher) UsageCount(id int) int { return m.usage[id] }

// UsageCounts returns a copy of the per-scene usage map.
func (m *Matcher) UsageCounts() map[int]int {
	out := make(map[int]int, len(m.usage))
	for id, n := range m.usage {
		out[id] = n
	}
	return out
}

// Unmatched reports how many phrases resolved to no scene.
func (m *Matcher) Unmatched() int { return m.unmatched }

// Cooldown returns the configured cooldown period.
func (m *Matcher) Cooldown() int { return m.opts.Cooldown }

func cosine(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
