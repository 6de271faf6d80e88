// Package retry runs an operation with bounded attempts and backoff between them.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy controls how often and how patiently an operation is retried
type Policy struct {
	MaxAttempts int           // total attempts including the first; <1 means 1
	Delay       time.Duration // wait before the second attempt
	Multiplier  float64       // growth factor per attempt; <1 means fixed delay
	MaxDelay    time.Duration // cap on a single wait; 0 means uncapped

	// OnRetry is called before each wait with the attempt that just failed
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultPolicy returns 3 attempts with 2s, 4s waits
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Delay:       2 * time.Second,
		Multiplier:  2,
		MaxDelay:    30 * time.Second,
	}
}

// Backoff returns the wait after the given failed attempt (1-based)
func (p Policy) Backoff(attempt int) time.Duration {
	wait := p.Delay
	if p.Multiplier > 1 {
		for i := 1; i < attempt; i++ {
			wait = time.Duration(float64(wait) * p.Multiplier)
			if p.MaxDelay > 0 && wait >= p.MaxDelay {
				break
			}
		}
	}
	if p.MaxDelay > 0 && wait > p.MaxDelay {
		wait = p.MaxDelay
	}
	return wait
}

// Do calls fn until it succeeds, returns an error retryable rejects, or the
// attempts run out. Context cancellation stops the loop without another attempt
// and returns the context error.
func Do(ctx context.Context, p Policy, retryable func(error) bool, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		wait := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
		if err := Sleep(ctx, wait); err != nil {
			return err
		}
	}

	if attempts > 1 {
		return fmt.Errorf("gave up after %d attempts: %w", attempts, err)
	}
	return err
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
