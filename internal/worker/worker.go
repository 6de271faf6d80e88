package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"audiotricks/internal/audio"
	"audiotricks/internal/events"
	"audiotricks/internal/models"
	"audiotricks/internal/storage"
	"audiotricks/internal/transcribe"
)

// ProgressFunc records a job's progress percentage and current step
type ProgressFunc func(progress int, step string)

// JobHandler processes a job and returns its JSON result
type JobHandler func(ctx context.Context, job *models.ProcessingJob, progress ProgressFunc) (json.RawMessage, error)

// Publisher receives job lifecycle events
type Publisher interface {
	Publish(event events.Event) events.Event
}

// Worker processes jobs from the queue
type Worker struct {
	jobRepo    *storage.JobRepository
	publisher  Publisher
	handlers   map[string]JobHandler
	interval   time.Duration
	maxRetries int
	stop       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	mu         sync.RWMutex
}

// NewWorker creates a new worker; publisher may be nil
func NewWorker(jobRepo *storage.JobRepository, publisher Publisher) *Worker {
	return &Worker{
		jobRepo:    jobRepo,
		publisher:  publisher,
		handlers:   make(map[string]JobHandler),
		interval:   1 * time.Second,
		maxRetries: 3,
		stop:       make(chan struct{}),
	}
}

// RegisterHandler registers a handler for a job type
func (w *Worker) RegisterHandler(jobType string, handler JobHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[jobType] = handler
}

// SetInterval sets the polling interval
func (w *Worker) SetInterval(interval time.Duration) {
	w.interval = interval
}

// SetMaxRetries sets how many times a failed job is queued again
func (w *Worker) SetMaxRetries(n int) {
	w.maxRetries = n
}

// Start begins processing jobs. Jobs left in processing by a previous run
// are queued again first.
func (w *Worker) Start(ctx context.Context) {
	if n, err := w.jobRepo.RequeueInterrupted(ctx); err != nil {
		log.Printf("Error requeueing interrupted jobs: %v", err)
	} else if n > 0 {
		log.Printf("Requeued %d interrupted jobs", n)
	}

	w.wg.Add(1)
	go w.run(ctx)
	log.Println("Worker started")
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	w.wg.Wait()
	log.Println("Worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			// drain the queue before waiting for the next tick
			for w.processNextJob(ctx) {
				if ctx.Err() != nil {
					return
				}
			}
		}
	}
}

// processNextJob runs one queued job and reports whether one was found
func (w *Worker) processNextJob(ctx context.Context) bool {
	job, err := w.jobRepo.GetNextQueued(ctx)
	if err != nil {
		log.Printf("Error getting next job: %v", err)
		return false
	}
	if job == nil {
		return false // No jobs to process
	}

	w.mu.RLock()
	handler, ok := w.handlers[job.Type]
	w.mu.RUnlock()

	if !ok {
		log.Printf("No handler for job type: %s", job.Type)
		msg := "no handler registered for job type: " + job.Type
		if err := w.jobRepo.Fail(ctx, job.ID, msg); err != nil {
			log.Printf("Error failing job %s: %v", job.ID, err)
		}
		w.publish(events.Event{JobID: job.ID, Type: events.EventTypeError, Status: models.JobStatusFailed, Message: msg})
		return true
	}

	// Start the job
	if err := w.jobRepo.Start(ctx, job.ID); err != nil {
		log.Printf("Error starting job %s: %v", job.ID, err)
		return false
	}
	w.publish(events.Event{JobID: job.ID, Type: events.EventTypeStatus, Status: models.JobStatusProcessing})

	log.Printf("Processing job %s (type: %s)", job.ID, job.Type)

	// Execute the handler
	result, err := handler(ctx, job, w.progress(ctx, job.ID))
	if err != nil {
		if ctx.Err() != nil {
			// shutdown; Start requeues the job on the next run
			log.Printf("Job %s interrupted: %v", job.ID, err)
			return false
		}
		log.Printf("Job %s failed: %v", job.ID, err)
		w.handleJobFailure(ctx, job, err)
		// a retried job waits for the next tick
		return false
	}

	// Complete the job
	if err := w.jobRepo.Complete(ctx, job.ID, result); err != nil {
		log.Printf("Error completing job %s: %v", job.ID, err)
		return true
	}
	w.publish(events.Event{JobID: job.ID, Type: events.EventTypeResult, Status: models.JobStatusCompleted, Progress: 100})

	log.Printf("Job %s completed", job.ID)
	return true
}

// progress returns a callback that stores progress and notifies subscribers
func (w *Worker) progress(ctx context.Context, jobID string) ProgressFunc {
	return func(progress int, step string) {
		if err := w.jobRepo.UpdateProgressWithStep(ctx, jobID, progress, step); err != nil {
			log.Printf("Error updating progress of job %s: %v", jobID, err)
		}
		w.publish(events.Event{
			JobID:    jobID,
			Type:     events.EventTypeProgress,
			Status:   models.JobStatusProcessing,
			Progress: progress,
			Step:     step,
		})
	}
}

func (w *Worker) handleJobFailure(ctx context.Context, job *models.ProcessingJob, jobErr error) {
	if !IsPermanent(jobErr) && job.RetryCount < w.maxRetries {
		// Retry the job
		if err := w.jobRepo.Retry(ctx, job.ID); err != nil {
			log.Printf("Error retrying job %s: %v", job.ID, err)
		} else {
			log.Printf("Job %s queued for retry (attempt %d/%d)", job.ID, job.RetryCount+1, w.maxRetries)
			w.publish(events.Event{JobID: job.ID, Type: events.EventTypeStatus, Status: models.JobStatusQueued, Message: jobErr.Error()})
		}
		return
	}

	// Permanent error or max retries exceeded, mark as failed
	if err := w.jobRepo.Fail(ctx, job.ID, jobErr.Error()); err != nil {
		log.Printf("Error failing job %s: %v", job.ID, err)
	}
	w.publish(events.Event{JobID: job.ID, Type: events.EventTypeError, Status: models.JobStatusFailed, Message: jobErr.Error()})
}

func (w *Worker) publish(event events.Event) {
	if w.publisher != nil {
		w.publisher.Publish(event)
	}
}

// SubmitJob creates a new job and adds it to the queue
func (w *Worker) SubmitJob(ctx context.Context, jobType, sourceID string, priority int) (*models.ProcessingJob, error) {
	job := &models.ProcessingJob{
		Type:     jobType,
		SourceID: sourceID,
		Priority: priority,
	}

	if err := w.jobRepo.Create(ctx, job); err != nil {
		return nil, err
	}

	log.Printf("Job %s submitted (type: %s, priority: %d)", job.ID, jobType, priority)
	w.publish(events.Event{JobID: job.ID, Type: events.EventTypeStatus, Status: models.JobStatusQueued})
	return job, nil
}

// permanentError marks an error that retrying the job cannot fix
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the worker fails the job without retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports errors for which a job retry would fail the same way:
// rejected credentials, undecodable or empty audio and missing files
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe) ||
		errors.Is(err, transcribe.ErrAuth) ||
		errors.Is(err, audio.ErrDecode) ||
		errors.Is(err, audio.ErrEmptyFile) ||
		errors.Is(err, os.ErrNotExist)
}
