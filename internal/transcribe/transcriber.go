package transcribe

import (
	"context"
	"errors"
	"log"
	"time"

	"audiotricks/internal/retry"

	"golang.org/x/time/rate"
)

var errNoTransport = errors.New("no transcription transport configured")

// Options configures retry and pacing for a Transcriber
type Options struct {
	Retry   retry.Policy
	Limiter *rate.Limiter // nil means unlimited
}

// DefaultOptions retries transient failures 3 times with backoff from 2s
func DefaultOptions() Options {
	return Options{Retry: retry.DefaultPolicy()}
}

// NewLimiter paces requests to perMinute calls; 0 or less disables pacing
func NewLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

// Transcriber transcribes single files or chunks, retrying transient failures
type Transcriber struct {
	transport Transport
	opts      Options
}

// NewTranscriber wraps a transport with the retry policy in opts
func NewTranscriber(transport Transport, opts Options) *Transcriber {
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry.MaxAttempts = 1
	}
	return &Transcriber{transport: transport, opts: opts}
}

// Transcribe runs one transport call per attempt. Auth and other permanent
// errors are returned at once; cancellation returns an error matching ErrCancelled.
func (t *Transcriber) Transcribe(ctx context.Context, a Audio) (*ChunkResult, error) {
	if t.transport == nil {
		return nil, errNoTransport
	}

	policy := t.opts.Retry
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		log.Printf("Transcription of %s failed (attempt %d/%d), retrying in %s: %v",
			a.Name, attempt, policy.MaxAttempts, wait, err)
	}

	var result *ChunkResult
	err := retry.Do(ctx, policy, IsTransient, func(ctx context.Context, attempt int) error {
		if t.opts.Limiter != nil {
			if err := t.opts.Limiter.Wait(ctx); err != nil {
				return err
			}
		}
		r, err := t.transport.Transcribe(ctx, a)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, ErrCancelled) {
			return nil, cancelled(ctx)
		}
		return nil, err
	}
	return result, nil
}
