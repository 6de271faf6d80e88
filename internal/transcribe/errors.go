package transcribe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAuth means the credential was rejected; retrying or continuing with
	// further chunks cannot succeed
	ErrAuth = errors.New("invalid API key or token")

	// ErrCancelled is returned when the caller cancels a transcription
	ErrCancelled = errors.New("transcription cancelled")

	// ErrAllChunksFailed is returned when no chunk of a split file could be transcribed
	ErrAllChunksFailed = errors.New("all chunks failed to transcribe")
)

// APIError is a failed call to a speech-to-text endpoint.
// StatusCode is 0 when no response was received.
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = userMessage(e.StatusCode)
	}
	if e.StatusCode == 0 {
		if e.Err != nil {
			return fmt.Sprintf("transcription request failed: %s: %v", msg, e.Err)
		}
		return "transcription request failed: " + msg
	}
	return fmt.Sprintf("transcription API error (%d): %s", e.StatusCode, msg)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Is lets 401/403 responses match ErrAuth
func (e *APIError) Is(target error) bool {
	return target == ErrAuth && e.isAuth()
}

func (e *APIError) isAuth() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Transient reports whether the same request may succeed later:
// network failures, rate limiting and server errors
func (e *APIError) Transient() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode == http.StatusRequestTimeout:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

// IsTransient reports whether err is worth retrying
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrCancelled) || errors.Is(err, ErrAuth) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	return false
}

// IsFatal reports errors that must abort a multi-chunk transcription
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrCancelled)
}

// cancelled wraps a context error so it matches both ErrCancelled and the context error
func cancelled(ctx context.Context) error {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = context.Canceled
	}
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}

func userMessage(status int) string {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return "invalid API key"
	case status == http.StatusTooManyRequests:
		return "rate limit exceeded, try again later"
	case status == http.StatusRequestEntityTooLarge:
		return "audio file is too large for the transcription API"
	case status >= 500:
		return "transcription service unavailable"
	case status == 0:
		return "network error"
	}
	return http.StatusText(status)
}
