// Package apperrors provides structured application errors with HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrInternal   = errors.New("internal error")

	// ErrMalformedEvent marks an inbound notification rejected at the
	// ingress boundary; it never reaches the reconciler.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrPollTimeout marks the poll channel exhausting its attempt budget
	// without observing a terminal state. A liveness failure of one channel,
	// not a job failure: the webhook channel may still deliver the outcome.
	ErrPollTimeout = errors.New("poll attempts exhausted")

	// ErrWaitTimeout marks a caller's WaitForTerminal deadline expiring.
	// Background tracking keeps running.
	ErrWaitTimeout = errors.New("wait timeout")

	// ErrArtifactFetch marks the artifact download budget being exhausted
	// after the job itself completed. Distinct from job failure: only the
	// local materialization failed.
	ErrArtifactFetch = errors.New("artifact fetch failed")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "text", "job_id")
	JobID    string // Job the error relates to, if any
	Op       string // Operation that failed (e.g., "remote.status")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel error for errors.Is() classification.
func (e *Error) Unwrap() error {
	return e.Sentinel
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a job.
func NotFound(jobID string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("job %s not found", jobID),
		JobID:    jobID,
	}
}

// MalformedEvent creates an ingress rejection error.
func MalformedEvent(message string) error {
	return &Error{
		Sentinel: ErrMalformedEvent,
		Message:  message,
	}
}

// PollTimeout creates a poll budget exhaustion condition for a job.
// attempts <= 0 means the count is not known at the call site.
func PollTimeout(jobID string, attempts int) error {
	msg := fmt.Sprintf("job %s: poll attempt budget exhausted without a terminal state", jobID)
	if attempts > 0 {
		msg = fmt.Sprintf("job %s: no terminal state after %d poll attempts", jobID, attempts)
	}
	return &Error{
		Sentinel: ErrPollTimeout,
		Message:  msg,
		JobID:    jobID,
	}
}

// WaitTimeout creates a caller wait expiry condition for a job.
func WaitTimeout(jobID string) error {
	return &Error{
		Sentinel: ErrWaitTimeout,
		Message:  fmt.Sprintf("job %s: wait timed out before a terminal state was reached", jobID),
		JobID:    jobID,
	}
}

// ArtifactFetch creates an artifact materialization failure for a job.
func ArtifactFetch(jobID string, cause error) error {
	return &Error{
		Sentinel: ErrArtifactFetch,
		Message:  fmt.Sprintf("job %s: artifact fetch failed: %v", jobID, cause),
		JobID:    jobID,
		Cause:    cause,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}
