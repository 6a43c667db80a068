package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"
)

// ErrRateLimited marks a transport fault caused by provider throttling.
// Wrap it so the policy picks the slower exponential backoff branch.
var ErrRateLimited = errors.New("rate limited")

// Outcome is one attempt's result. A nil error with Success=false is a typed
// failure: the backend answered but produced nothing usable. Errors are
// transport faults.
type Outcome struct {
	Success bool
	Error   string
}

// Operation runs one attempt.
type Operation func(ctx context.Context) (Outcome, error)

// Policy retries an operation with failure-mode specific backoff.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Sleep is injectable for tests. Nil means a context-aware time.After wait.
	Sleep func(ctx context.Context, d time.Duration) error
	// Rand drives rate-limit jitter. Nil means the shared math/rand source.
	Rand func() float64
}

// NewPolicy returns a policy with the default attempt budget.
func NewPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second}
}

// Execute runs op up to MaxAttempts times. It returns the first successful
// outcome, or the last typed failure, or the transport error from the final
// attempt. No sleep happens after the last attempt.
func (p Policy) Execute(ctx context.Context, op Operation) (Outcome, int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	baseDelay := p.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 2 * time.Second
	}

	var lastOutcome Outcome
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Outcome{}, attempt, err
		}

		outcome, err := op(ctx)
		if err == nil && outcome.Success {
			return outcome, attempt + 1, nil
		}
		lastOutcome, lastErr = outcome, err

		if attempt == maxAttempts-1 {
			break
		}

		var delay time.Duration
		switch {
		case err != nil && IsRateLimit(err):
			delay = expDelay(baseDelay, attempt+1) + p.jitter()
		case err != nil:
			delay = baseDelay * time.Duration(attempt+1)
		default:
			delay = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}
		if err := p.sleep(ctx, delay); err != nil {
			return Outcome{}, attempt + 1, err
		}
	}

	if lastErr != nil {
		return Outcome{}, maxAttempts, lastErr
	}
	if lastOutcome.Error == "" {
		lastOutcome.Error = "retry limit exceeded"
	}
	return lastOutcome, maxAttempts, nil
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p Policy) jitter() time.Duration {
	f := rand.Float64
	if p.Rand != nil {
		f = p.Rand
	}
	return time.Duration(f() * float64(time.Second))
}

func expDelay(base time.Duration, exp int) time.Duration {
	seconds := math.Pow(base.Seconds(), float64(exp))
	return time.Duration(seconds * float64(time.Second))
}

// IsRateLimit classifies a transport fault as provider throttling, either by
// the ErrRateLimited sentinel or by message content.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests")
}
