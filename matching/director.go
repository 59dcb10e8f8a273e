package matching

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/tidwall/gjson"
)

// Analyzer is the external semantic-analysis capability. The response is
// expected to be a JSON array of per-phrase objects but is not guaranteed
// well-formed; the director tolerates anything it gets back.
type Analyzer interface {
	Analyze(ctx context.Context, prompt string) (string, error)
}

// DirectorOptions tunes the windowing behavior.
type DirectorOptions struct {
	// WindowSize is the number of phrases analyzed per request (default 5).
	WindowSize int
	// Lookback is how many preceding phrases are quoted for continuity (default 2).
	Lookback int
	// Retry governs calls to the analyzer.
	Retry RetryPolicy
}

const (
	defaultWindowSize = 5
	defaultLookback   = 2

	// Lock strength after a focus change, and its clamp.
	newFocusLock    = 2
	maxLockStrength = 3
)

// Director resolves phrases to visual intents with narrative context.
// It walks the script window-by-window, carrying a sticky focus: the entity
// the edit is currently following. Windows must be analyzed in order; the
// sticky focus from window i feeds window i+1's prompt.
type Director struct {
	analyzer Analyzer
	cache    Store
	entities []string
	opts     DirectorOptions

	currentFocus      string
	focusLockStrength int

	cacheHits       int
	fallbackWindows int
}

// NewDirector builds a director over the given analyzer and cache. entities
// is the list of known character names from the corpus tags; cache may be
// nil to disable caching (tests mostly run that way).
func NewDirector(analyzer Analyzer, cache Store, entities []string, opts DirectorOptions) *Director {
	if opts.WindowSize <= 0 {
		opts.WindowSize = defaultWindowSize
	}
	if opts.Lookback < 0 {
		opts.Lookback = defaultLookback
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	return &Director{
		analyzer: analyzer,
		cache:    cache,
		entities: entities,
		opts:     opts,
	}
}

// CurrentFocus returns the sticky focus entity, or "" before any window.
func (d *Director) CurrentFocus() string { return d.currentFocus }

// FocusLockStrength returns the current lock strength hint (0..3).
func (d *Director) FocusLockStrength() int { return d.focusLockStrength }

// CacheHits reports how many windows were served from cache.
func (d *Director) CacheHits() int { return d.cacheHits }

// FallbackWindows reports how many windows degraded to fallback intents.
func (d *Director) FallbackWindows() int { return d.fallbackWindows }

// AnalyzeAll resolves every phrase to an intent, window by window, in order.
// The result always has exactly one intent per phrase.
func (d *Director) AnalyzeAll(ctx context.Context, phrases []Phrase) []VisualIntent {
	return d.AnalyzeAllFunc(ctx, phrases, nil)
}

// AnalyzeAllFunc is AnalyzeAll with a per-window progress callback.
func (d *Director) AnalyzeAllFunc(ctx context.Context, phrases []Phrase, onWindow func(windowStart int)) []VisualIntent {
	intents := make([]VisualIntent, 0, len(phrases))
	for start := 0; start < len(phrases); start += d.opts.WindowSize {
		intents = append(intents, d.AnalyzeWindow(ctx, phrases, start)...)
		if onWindow != nil {
			onWindow(start)
		}
	}
	// AnalyzeWindow guarantees one intent per phrase, but keep the length
	// invariant unconditional.
	for len(intents) < len(phrases) {
		intents = append(intents, d.fallbackIntent(len(intents)))
	}
	return intents[:len(phrases)]
}

// AnalyzeWindow resolves the window starting at windowStart to one intent
// per phrase in it. The analyzer never blocks the run: exhausted retries and
// unparseable responses degrade to fallback intents carrying the sticky focus.
func (d *Director) AnalyzeWindow(ctx context.Context, phrases []Phrase, windowStart int) []VisualIntent {
	end := windowStart + d.opts.WindowSize
	if end > len(phrases) {
		end = len(phrases)
	}
	window := phrases[windowStart:end]
	if len(window) == 0 {
		return nil
	}

	prevStart := windowStart - d.opts.Lookback
	if prevStart < 0 {
		prevStart = 0
	}
	prev := phrases[prevStart:windowStart]

	prompt := d.buildPrompt(prev, window)
	key := CacheKey(prompt)

	if d.cache != nil {
		if cached, ok, err := d.cache.Get(key); err == nil && ok {
			d.cacheHits++
			return d.parseOrFallback(cached, windowStart, len(window))
		}
	}

	response, err := d.opts.Retry.Call(ctx, func(ctx context.Context) (string, error) {
		return d.analyzer.Analyze(ctx, prompt)
	})
	if err != nil {
		log.Printf("window %d: %v; using fallback intents", windowStart, err)
		d.fallbackWindows++
		return d.fallbackWindow(windowStart, len(window))
	}

	response = stripCodeFences(response)
	if d.cache != nil {
		if err := d.cache.Put(key, prompt, response); err != nil {
			log.Printf("window %d: cache write failed: %v", windowStart, err)
		}
	}
	return d.parseOrFallback(response, windowStart, len(window))
}

func (d *Director) buildPrompt(prev, window []Phrase) string {
	var b strings.Builder

	b.WriteString("You are a film director agent analyzing a video essay script.\n\n")

	if len(d.entities) > 0 {
		entities := d.entities
		if len(entities) > 20 {
			entities = entities[:20]
		}
		fmt.Fprintf(&b, "KNOWN CHARACTERS IN THE FOOTAGE:\n%s\n\n", strings.Join(entities, ", "))
	}

	b.WriteString("YOUR TASK: analyze each phrase and provide explicit visual instructions.\n\n")
	b.WriteString("CRITICAL - entity resolution:\n")
	b.WriteString("- If the script names an actor while discussing a CHARACTER, resolve focus_entity to the CHARACTER name, not the actor.\n")
	b.WriteString("- Focus on WHO should be on screen, not who is discussed abstractly.\n\n")

	if len(prev) > 0 {
		b.WriteString("PREVIOUS CONTEXT (for continuity):\n")
		for i, p := range prev {
			fmt.Fprintf(&b, "  %d. %q\n", i+1, p.Text)
		}
		b.WriteString("\n")
	}

	if d.currentFocus != "" {
		fmt.Fprintf(&b, "CURRENT VISUAL FOCUS: %s (maintain unless explicitly changed)\n\n", d.currentFocus)
	}

	b.WriteString("PHRASES TO ANALYZE:\n")
	for i, p := range window {
		fmt.Fprintf(&b, "%d. %q\n", i+1, p.Text)
	}

	b.WriteString(`
For EACH phrase, return a JSON object with:
{
  "focus_entity": "primary character/subject to show (resolved name)",
  "secondary_entities": ["other characters visible"],
  "visual_action": "shot type or action (e.g. close-up, walking, conversation)",
  "mood": "emotional tone (e.g. tense, calm, mysterious)",
  "setting": "location (e.g. office, apartment, street)",
  "objects": ["key props that should be visible"]
}

RULES:
1. Resolve pronouns (he/she/they) to the last mentioned character name.
2. An actor playing a role resolves to the character name, not the actor.
3. When establishing a new subject, set focus_entity explicitly.
4. When continuing the previous focus, repeat the same focus_entity.

Return a JSON array, one object per phrase, in order.
NO markdown, NO explanations, ONLY the JSON array.
`)

	return b.String()
}

// parseOrFallback turns a response into exactly want intents, degrading to
// fallback per index when the response is malformed or short.
func (d *Director) parseOrFallback(response string, windowStart, want int) []VisualIntent {
	entries, ok := parseIntentArray(response)
	if !ok {
		log.Printf("window %d: unparseable analysis response (%d bytes); using fallback intents", windowStart, len(response))
		d.fallbackWindows++
		return d.fallbackWindow(windowStart, want)
	}

	intents := make([]VisualIntent, 0, want)
	for i := 0; i < want && i < len(entries); i++ {
		intents = append(intents, d.resolveEntry(entries[i], windowStart+i))
	}
	// A short array means the tail of the window went unanswered; those
	// indices fall back rather than guessing. Surplus entries are ignored.
	for len(intents) < want {
		intents = append(intents, d.fallbackIntent(windowStart+len(intents)))
	}
	return intents
}

// resolveEntry maps one loosely-typed response object to a VisualIntent and
// advances the sticky-focus state machine.
func (d *Director) resolveEntry(entry gjson.Result, windowID int) VisualIntent {
	focus := strings.TrimSpace(entry.Get("focus_entity").String())
	if focus == "" {
		focus = d.currentFocus
	}
	if focus == "" {
		focus = UnknownFocus
	}

	if focus != d.currentFocus {
		d.currentFocus = focus
		d.focusLockStrength = newFocusLock
	} else if d.focusLockStrength > 0 && d.focusLockStrength < maxLockStrength {
		d.focusLockStrength++
	}

	return VisualIntent{
		FocusEntity:       focus,
		SecondaryEntities: stringList(entry.Get("secondary_entities")),
		VisualAction:      stringOr(entry.Get("visual_action"), "medium shot"),
		Mood:              stringOr(entry.Get("mood"), "neutral"),
		Setting:           stringOr(entry.Get("setting"), "any"),
		Objects:           stringList(entry.Get("objects")),
		WindowID:          windowID,
	}
}

func (d *Director) fallbackWindow(windowStart, n int) []VisualIntent {
	intents := make([]VisualIntent, 0, n)
	for i := 0; i < n; i++ {
		intents = append(intents, d.fallbackIntent(windowStart+i))
	}
	return intents
}

// fallbackIntent carries the sticky focus forward with neutral defaults.
func (d *Director) fallbackIntent(windowID int) VisualIntent {
	focus := d.currentFocus
	if focus == "" {
		focus = UnknownFocus
	}
	return VisualIntent{
		FocusEntity:       focus,
		SecondaryEntities: []string{},
		VisualAction:      "medium shot",
		Mood:              "neutral",
		Setting:           "any",
		Objects:           []string{},
		WindowID:          windowID,
	}
}

// parseIntentArray extracts per-phrase objects from a model response.
// A bare object is accepted as a one-element array.
func parseIntentArray(response string) ([]gjson.Result, bool) {
	s := strings.TrimSpace(response)
	if s == "" {
		return nil, false
	}
	if !gjson.Valid(s) {
		// The model sometimes wraps the array in prose; extract the
		// outermost bracket pair and retry.
		start := strings.IndexByte(s, '[')
		end := strings.LastIndexByte(s, ']')
		if start == -1 || end <= start {
			return nil, false
		}
		s = s[start : end+1]
		if !gjson.Valid(s) {
			return nil, false
		}
	}
	parsed := gjson.Parse(s)
	switch {
	case parsed.IsArray():
		return parsed.Array(), true
	case parsed.IsObject():
		return []gjson.Result{parsed}, true
	}
	return nil, false
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = s[len("```json"):]
	} else if strings.HasPrefix(s, "```") {
		s = s[len("```"):]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func stringOr(r gjson.Result, def string) string {
	s := strings.TrimSpace(r.String())
	if s == "" {
		return def
	}
	return s
}

func stringList(r gjson.Result) []string {
	if !r.IsArray() {
		return []string{}
	}
	items := r.Array()
	out := make([]string, 0, len(items))
	for _, it := range items {
		s := strings.TrimSpace(it.String())
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
