// Package poller waits for a backend processing job to reach a terminal state.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"audiotricks/internal/models"
	"audiotricks/internal/retry"
)

// ErrTimeout is returned when the job is still running after the last allowed poll
var ErrTimeout = errors.New("timed out waiting for job")

// ErrJobNotFound is returned when the backend does not know the job
var ErrJobNotFound = errors.New("job not found")

// JobFailedError carries the error message the backend recorded for a failed job
type JobFailedError struct {
	JobID   string
	Message string
}

func (e *JobFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("job %s failed", e.JobID)
	}
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Message)
}

// StatusClient fetches the current state of a job
type StatusClient interface {
	JobStatus(ctx context.Context, jobID string) (*models.JobStatus, error)
}

// Options controls the polling schedule
type Options struct {
	Interval             time.Duration // wait between polls
	MaxAttempts          int           // polls before giving up
	MaxConsecutiveErrors int           // failed polls in a row that end the wait
}

// DefaultOptions polls every 5s for up to 5 minutes
func DefaultOptions() Options {
	return Options{
		Interval:             5 * time.Second,
		MaxAttempts:          60,
		MaxConsecutiveErrors: 5,
	}
}

// Poller polls one job at a time
type Poller struct {
	client StatusClient
	opts   Options
}

// New creates a poller; zero option fields take their defaults
func New(client StatusClient, opts Options) *Poller {
	def := DefaultOptions()
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.MaxConsecutiveErrors <= 0 {
		opts.MaxConsecutiveErrors = def.MaxConsecutiveErrors
	}
	return &Poller{client: client, opts: opts}
}

// Wait polls jobID until it completes, fails, or MaxAttempts polls have been
// made. onProgress receives the reported progress after every successful poll.
// A failed poll still counts as an attempt. There is no wait after the last poll.
func (p *Poller) Wait(ctx context.Context, jobID string, onProgress func(progress int)) (json.RawMessage, error) {
	var lastErr error
	consecutive := 0
	lastStatus := models.JobStatusQueued

	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		status, err := p.client.JobStatus(ctx, jobID)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, ErrJobNotFound):
			return nil, err
		case err != nil:
			consecutive++
			lastErr = err
			log.Printf("Poll %d/%d for job %s failed: %v", attempt, p.opts.MaxAttempts, jobID, err)
			if consecutive >= p.opts.MaxConsecutiveErrors {
				return nil, fmt.Errorf("polling job %s: %d consecutive errors: %w", jobID, consecutive, lastErr)
			}
		default:
			consecutive = 0
			lastStatus = status.Status
			if onProgress != nil {
				onProgress(status.Progress)
			}

			switch status.Status {
			case models.JobStatusCompleted:
				return status.Result, nil
			case models.JobStatusFailed:
				return nil, &JobFailedError{JobID: jobID, Message: status.Error}
			}
		}

		if attempt == p.opts.MaxAttempts {
			break
		}
		if err := retry.Sleep(ctx, p.opts.Interval); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w %s after %d attempts (last status %s)", ErrTimeout, jobID, p.opts.MaxAttempts, lastStatus)
}
