package matching

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestClassifyError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		msg  string
		want ErrorKind
	}{
		{"got 429 from upstream", KindRateLimited},
		{"rate limit exceeded", KindRateLimited},
		{"RESOURCE EXHAUSTED: quota", KindRateLimited},
		{"too many requests", KindRateLimited},
		{"500 internal server error", KindServerError},
		{"upstream returned 503", KindServerError},
		{"model overloaded, try again", KindServerError},
		{"connection reset by peer", KindOther},
		{"invalid request", KindOther},
	}
	for _, tc := range cases {
		if got := ClassifyError(errors.New(tc.msg)); got != tc.want {
			t.Fatalf("ClassifyError(%q)=%s, want %s", tc.msg, got, tc.want)
		}
	}
	if got := ClassifyError(nil); got != KindOther {
		t.Fatalf("ClassifyError(nil)=%s, want other", got)
	}
}

type kindedErr struct {
	kind ErrorKind
}

func (e kindedErr) Error() string        { return "kinded" }
func (e kindedErr) ErrorKind() ErrorKind { return e.kind }

func TestClassifyError_SelfClassifying(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("call failed: %w", kindedErr{kind: KindRateLimited})
	if got := ClassifyError(wrapped); got != KindRateLimited {
		t.Fatalf("ClassifyError=%s, want rate_limited", got)
	}
}

func TestRetryCall_RateLimitBackoffSchedule(t *testing.T) {
	t.Parallel()

	var slept []time.Duration
	p := DefaultRetryPolicy()
	p.Sleep = func(d time.Duration) { slept = append(slept, d) }

	attempts := 0
	_, err := p.Call(context.Background(), func(ctx context.Context) (string, error) {
		attempts++
		return "", errors.New("429 too many requests")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if attempts != 5 {
		t.Fatalf("attempts=%d, want 5", attempts)
	}

	want := []time.Duration{2 * time.Second, 10 * time.Second, 50 * time.Second, 250 * time.Second}
	if len(slept) != len(want) {
		t.Fatalf("len(slept)=%d, want %d", len(slept), len(want))
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Fatalf("slept[%d]=%s, want %s", i, slept[i], want[i])
		}
	}
}

func TestRetryCall_ServerErrorFixedDelay(t *testing.T) {
	t.Parallel()

	var slept []time.Duration
	p := DefaultRetryPolicy()
	p.MaxAttempts = 3
	p.Sleep = func(d time.Duration) { slept = append(slept, d) }

	_, err := p.Call(context.Background(), func(ctx context.Context) (string, error) {
		return "", errors.New("503 service unavailable")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	for i, d := range slept {
		if d != 5*time.Second {
			t.Fatalf("slept[%d]=%s, want 5s", i, d)
		}
	}
	if len(slept) != 2 {
		t.Fatalf("len(slept)=%d, want 2", len(slept))
	}
}

func TestRetryCall_SucceedsMidway(t *testing.T) {
	t.Parallel()

	p := DefaultRetryPolicy()
	p.Sleep = func(time.Duration) {}

	attempts := 0
	out, err := p.Call(context.Background(), func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out != "ok" || attempts != 3 {
		t.Fatalf("out=%q attempts=%d, want ok/3", out, attempts)
	}
}

func TestRetryCall_ContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := DefaultRetryPolicy()
	p.Sleep = func(time.Duration) {}

	_, err := p.Call(ctx, func(ctx context.Context) (string, error) {
		t.Fatal("fn must not run after cancellation")
		return "", nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
}
