package matching

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeAnalyzer struct {
	response string
	err      error
	calls    int
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, prompt string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func quietRetry() RetryPolicy {
	p := DefaultRetryPolicy()
	p.MaxAttempts = 2
	p.Sleep = func(time.Duration) {}
	return p
}

func makePhrases(texts ...string) []Phrase {
	out := make([]Phrase, len(texts))
	for i, txt := range texts {
		out[i] = Phrase{Text: txt, Start: float64(i), End: float64(i) + 1}
	}
	return out
}

func TestAnalyzeAll_OneIntentPerPhrase(t *testing.T) {
	t.Parallel()

	an := &fakeAnalyzer{response: "[]"}
	d := NewDirector(an, nil, nil, DirectorOptions{WindowSize: 3, Retry: quietRetry()})

	phrases := makePhrases("a", "b", "c", "d", "e", "f", "g")
	intents := d.AnalyzeAll(context.Background(), phrases)
	if len(intents) != len(phrases) {
		t.Fatalf("len(intents)=%d, want %d", len(intents), len(phrases))
	}
	if an.calls != 3 {
		t.Fatalf("analyzer calls=%d, want 3 windows", an.calls)
	}
	for i, in := range intents {
		if in.FocusEntity != UnknownFocus {
			t.Fatalf("intent %d focus=%q, want %q", i, in.FocusEntity, UnknownFocus)
		}
		if in.VisualAction != "medium shot" || in.Mood != "neutral" || in.Setting != "any" {
			t.Fatalf("intent %d defaults wrong: %+v", i, in)
		}
	}
}

func TestAnalyzeWindow_CacheSkipsAnalyzer(t *testing.T) {
	t.Parallel()

	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}
	response := `[{"focus_entity":"Kim","visual_action":"close-up","mood":"tense","setting":"court","objects":[]},
		{"focus_entity":"Kim"}]`
	phrases := makePhrases("Kim stands", "She waits")

	an1 := &fakeAnalyzer{response: response}
	d1 := NewDirector(an1, store, []string{"Kim"}, DirectorOptions{Retry: quietRetry()})
	first := d1.AnalyzeAll(context.Background(), phrases)

	an2 := &fakeAnalyzer{response: response}
	d2 := NewDirector(an2, store, []string{"Kim"}, DirectorOptions{Retry: quietRetry()})
	second := d2.AnalyzeAll(context.Background(), phrases)

	if an1.calls != 1 {
		t.Fatalf("first run analyzer calls=%d, want 1", an1.calls)
	}
	if an2.calls != 0 {
		t.Fatalf("second run analyzer calls=%d, want 0 (cache hit)", an2.calls)
	}
	if d2.CacheHits() != 1 {
		t.Fatalf("CacheHits=%d, want 1", d2.CacheHits())
	}
	if len(first) != len(second) {
		t.Fatalf("intent counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].FocusEntity != second[i].FocusEntity {
			t.Fatalf("intent %d focus differs across runs: %q vs %q", i, first[i].FocusEntity, second[i].FocusEntity)
		}
	}
}

func TestAnalyzeWindow_StickyFocusFillsBlanks(t *testing.T) {
	t.Parallel()

	an := &fakeAnalyzer{response: `[
		{"focus_entity":"Alice","visual_action":"walking","mood":"calm","setting":"street","objects":["umbrella"]},
		{"focus_entity":""}
	]`}
	d := NewDirector(an, nil, nil, DirectorOptions{Retry: quietRetry()})

	intents := d.AnalyzeAll(context.Background(), makePhrases("Alice walks", "She hums"))
	if intents[0].FocusEntity != "Alice" {
		t.Fatalf("intent 0 focus=%q, want Alice", intents[0].FocusEntity)
	}
	if intents[1].FocusEntity != "Alice" {
		t.Fatalf("intent 1 focus=%q, want sticky Alice", intents[1].FocusEntity)
	}
	if d.CurrentFocus() != "Alice" {
		t.Fatalf("CurrentFocus=%q, want Alice", d.CurrentFocus())
	}
	if d.FocusLockStrength() != 3 {
		t.Fatalf("FocusLockStrength=%d, want 3 after a repeat", d.FocusLockStrength())
	}
	if intents[1].VisualAction != "medium shot" {
		t.Fatalf("intent 1 action=%q, want default", intents[1].VisualAction)
	}
}

func TestAnalyzeWindow_FallbackAfterRetriesExhausted(t *testing.T) {
	t.Parallel()

	an := &fakeAnalyzer{err: errors.New("503 upstream down")}
	d := NewDirector(an, nil, nil, DirectorOptions{Retry: quietRetry()})

	intents := d.AnalyzeAll(context.Background(), makePhrases("a", "b"))
	if len(intents) != 2 {
		t.Fatalf("len(intents)=%d, want 2", len(intents))
	}
	if an.calls != 2 {
		t.Fatalf("analyzer calls=%d, want 2 attempts", an.calls)
	}
	if d.FallbackWindows() != 1 {
		t.Fatalf("FallbackWindows=%d, want 1", d.FallbackWindows())
	}
	for i, in := range intents {
		if in.FocusEntity != UnknownFocus || in.VisualAction != "medium shot" {
			t.Fatalf("intent %d is not a neutral fallback: %+v", i, in)
		}
	}
}

func TestAnalyzeWindow_ShortArrayFallsBackForTail(t *testing.T) {
	t.Parallel()

	an := &fakeAnalyzer{response: `[{"focus_entity":"Bob","visual_action":"typing","mood":"focused","setting":"office","objects":[]}]`}
	d := NewDirector(an, nil, nil, DirectorOptions{Retry: quietRetry()})

	intents := d.AnalyzeAll(context.Background(), makePhrases("Bob types", "He pauses", "He sighs"))
	if intents[0].FocusEntity != "Bob" || intents[0].VisualAction != "typing" {
		t.Fatalf("intent 0=%+v, want analyzed Bob entry", intents[0])
	}
	for i := 1; i < 3; i++ {
		if intents[i].FocusEntity != "Bob" {
			t.Fatalf("intent %d focus=%q, want sticky Bob", i, intents[i].FocusEntity)
		}
		if intents[i].VisualAction != "medium shot" {
			t.Fatalf("intent %d action=%q, want fallback default", i, intents[i].VisualAction)
		}
	}
}

func TestParseIntentArray_ToleratesWrappers(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		in    string
		want  int
		focus string
	}{
		{"plain array", `[{"focus_entity":"A"},{"focus_entity":"B"}]`, 2, "A"},
		{"bare object", `{"focus_entity":"A"}`, 1, "A"},
		{"prose wrapped", `Here are the intents: [{"focus_entity":"A"}] hope that helps`, 1, "A"},
	}
	for _, tc := range cases {
		entries, ok := parseIntentArray(tc.in)
		if !ok {
			t.Fatalf("%s: parse failed", tc.name)
		}
		if len(entries) != tc.want {
			t.Fatalf("%s: len=%d, want %d", tc.name, len(entries), tc.want)
		}
		if got := entries[0].Get("focus_entity").String(); got != tc.focus {
			t.Fatalf("%s: focus=%q, want %q", tc.name, got, tc.focus)
		}
	}

	for _, bad := range []string{"", "not json at all", "{broken"} {
		if _, ok := parseIntentArray(bad); ok {
			t.Fatalf("parseIntentArray(%q) succeeded, want failure", bad)
		}
	}
}

func TestStripCodeFences(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"```json\n[1]\n```", "[1]"},
		{"```\n[1]\n```", "[1]"},
		{"[1]", "[1]"},
		{"  [1]  ", "[1]"},
	}
	for _, tc := range cases {
		if got := stripCodeFences(tc.in); got != tc.want {
			t.Fatalf("stripCodeFences(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}
