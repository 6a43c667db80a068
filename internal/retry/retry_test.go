package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func recordingSleep(delays *[]time.Duration) func(ctx context.Context, d time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestExecuteSucceedsFirstAttempt(t *testing.T) {
	var delays []time.Duration
	p := Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second, Sleep: recordingSleep(&delays)}

	calls := 0
	outcome, attempts, err := p.Execute(context.Background(), func(ctx context.Context) (Outcome, error) {
		calls++
		return Outcome{Success: true}, nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !outcome.Success || calls != 1 || attempts != 1 {
		t.Fatalf("calls=%d attempts=%d outcome=%+v", calls, attempts, outcome)
	}
	if len(delays) != 0 {
		t.Fatalf("no sleep expected, got %v", delays)
	}
}

func TestExecuteExhaustsAttempts(t *testing.T) {
	var delays []time.Duration
	p := Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second, Sleep: recordingSleep(&delays)}

	calls := 0
	outcome, attempts, err := p.Execute(context.Background(), func(ctx context.Context) (Outcome, error) {
		calls++
		return Outcome{Success: false, Error: fmt.Sprintf("bad output %d", calls)}, nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if calls != 3 || attempts != 3 {
		t.Fatalf("calls=%d attempts=%d", calls, attempts)
	}
	if outcome.Success || outcome.Error != "bad output 3" {
		t.Fatalf("outcome=%+v", outcome)
	}
	// Typed failures back off 2^attempt seconds, and never after the last try.
	if len(delays) != 2 || delays[0] != time.Second || delays[1] != 2*time.Second {
		t.Fatalf("delays=%v", delays)
	}
}

func TestExecuteTransportErrorLinearBackoff(t *testing.T) {
	var delays []time.Duration
	p := Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second, Sleep: recordingSleep(&delays)}

	wantErr := errors.New("connection reset")
	_, attempts, err := p.Execute(context.Background(), func(ctx context.Context) (Outcome, error) {
		return Outcome{}, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts=%d", attempts)
	}
	if len(delays) != 2 || delays[0] != 2*time.Second || delays[1] != 4*time.Second {
		t.Fatalf("delays=%v", delays)
	}
}

func TestExecuteRateLimitExponentialBackoff(t *testing.T) {
	var delays []time.Duration
	p := Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		Sleep:       recordingSleep(&delays),
		Rand:        func() float64 { return 0.5 },
	}

	_, _, err := p.Execute(context.Background(), func(ctx context.Context) (Outcome, error) {
		return Outcome{}, fmt.Errorf("call failed: %w", ErrRateLimited)
	})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	// base^(attempt+1) plus fixed jitter of 500ms.
	want := []time.Duration{
		2*time.Second + 500*time.Millisecond,
		4*time.Second + 500*time.Millisecond,
	}
	if len(delays) != 2 || delays[0] != want[0] || delays[1] != want[1] {
		t.Fatalf("delays=%v want=%v", delays, want)
	}
}

func TestExecuteRecoversMidway(t *testing.T) {
	var delays []time.Duration
	p := Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second, Sleep: recordingSleep(&delays)}

	calls := 0
	outcome, attempts, err := p.Execute(context.Background(), func(ctx context.Context) (Outcome, error) {
		calls++
		if calls < 3 {
			return Outcome{Success: false, Error: "not yet"}, nil
		}
		return Outcome{Success: true}, nil
	})
	if err != nil || !outcome.Success {
		t.Fatalf("err=%v outcome=%+v", err, outcome)
	}
	if attempts != 3 {
		t.Fatalf("attempts=%d", attempts)
	}
}

func TestExecuteContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second, Sleep: func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}}

	_, _, err := p.Execute(ctx, func(ctx context.Context) (Outcome, error) {
		return Outcome{Success: false, Error: "fail"}, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestIsRateLimit(t *testing.T) {
	if !IsRateLimit(errors.New("HTTP 429 Too Many Requests")) {
		t.Fatal("status text should classify as rate limit")
	}
	if IsRateLimit(errors.New("connection refused")) {
		t.Fatal("plain transport error misclassified")
	}
}
