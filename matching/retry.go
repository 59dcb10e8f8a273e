package matching

import (
	"context"
	"fmt"
	"log"
	"time"
)

// RetryPolicy is a bounded retry schedule keyed by error kind. The attempt
// budget is shared across kinds: five rate-limit rejections exhaust it the
// same as five generic failures.
type RetryPolicy struct {
	MaxAttempts int

	// Backoff returns the delay before the next attempt, given the failure
	// kind and the 0-based attempt number that just failed.
	Backoff func(kind ErrorKind, attempt int) time.Duration

	// Sleep is called with each backoff delay. Defaults to time.Sleep;
	// tests substitute a recorder.
	Sleep func(d time.Duration)
}

// DefaultRetryPolicy mirrors the analyzer's production schedule:
// rate limits back off 2·5^attempt seconds (2, 10, 50, 250, 1250),
// server errors wait a fixed 5s, anything else waits 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		Backoff: func(kind ErrorKind, attempt int) time.Duration {
			switch kind {
			case KindRateLimited:
				d := 2 * time.Second
				for i := 0; i < attempt; i++ {
					d *= 5
				}
				return d
			case KindServerError:
				return 5 * time.Second
			default:
				return 2 * time.Second
			}
		},
	}
}

// Call invokes fn under the policy. The last error is returned once the
// attempt budget is exhausted or the context is done. Each failed attempt
// is logged with its classification and the delay chosen.
func (p RetryPolicy) Call(ctx context.Context, fn func(ctx context.Context) (string, error)) (string, error) {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if attempt == p.MaxAttempts-1 {
			break
		}
		kind := ClassifyError(err)
		var delay time.Duration
		if p.Backoff != nil {
			delay = p.Backoff(kind, attempt)
		}
		log.Printf("analysis attempt %d/%d failed (%s): %v; retrying in %s",
			attempt+1, p.MaxAttempts, kind, err, delay)
		if delay > 0 {
			sleep(delay)
		}
	}
	return "", fmt.Errorf("analysis failed after %d attempts: %w", p.MaxAttempts, lastErr)
}
