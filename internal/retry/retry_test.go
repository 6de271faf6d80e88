package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errFlaky = errors.New("flaky")
var errFatal = errors.New("fatal")

func isFlaky(err error) bool { return errors.Is(err, errFlaky) }

// TestDoSucceedsAfterRetries checks transient failures are retried
func TestDoSucceedsAfterRetries(t *testing.T) {
	calls := 0
	var retried []int
	policy := Policy{
		MaxAttempts: 3,
		Delay:       time.Millisecond,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			retried = append(retried, attempt)
		},
	}

	err := Do(context.Background(), policy, isFlaky, func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errFlaky
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
		t.Fatalf("retry hooks = %v, want [1 2]", retried)
	}
}

// TestDoStopsOnPermanentError checks non-retryable errors are returned at once
func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 5, Delay: time.Millisecond}, isFlaky, func(ctx context.Context, attempt int) error {
		calls++
		return errFatal
	})
	if !errors.Is(err, errFatal) {
		t.Fatalf("error = %v, want errFatal", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

// TestDoExhaustsAttempts checks the last error is kept after the final attempt
func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 3, Delay: time.Millisecond}, isFlaky, func(ctx context.Context, attempt int) error {
		calls++
		return errFlaky
	})
	if !errors.Is(err, errFlaky) {
		t.Fatalf("error = %v, want errFlaky", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

// TestDoStopsOnCancel checks cancellation during the wait prevents another attempt
func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	policy := Policy{
		MaxAttempts: 5,
		Delay:       time.Hour,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			cancel()
		},
	}

	err := Do(ctx, policy, isFlaky, func(ctx context.Context, attempt int) error {
		calls++
		return errFlaky
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

// TestBackoff checks exponential growth and the cap
func TestBackoff(t *testing.T) {
	p := Policy{Delay: time.Second, Multiplier: 2, MaxDelay: 5 * time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}

	fixed := Policy{Delay: 3 * time.Second}
	if got := fixed.Backoff(4); got != 3*time.Second {
		t.Fatalf("fixed Backoff(4) = %v, want 3s", got)
	}
}
