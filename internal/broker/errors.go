package broker

import (
	"errors"
	"fmt"

	"github.com/cuongbtq/ms-media-worker/internal/transport"
)

// ErrHandler is matched by every failure reported by a compression handler
var ErrHandler = errors.New("handler failed")

// RetryableError wraps transient handler failures that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError marks err as transient
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// HandlerError is a handler failure attributed to one job
type HandlerError struct {
	JobID string
	Err   error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler failed for job %s: %v", e.JobID, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

func (e *HandlerError) Is(target error) bool {
	return target == ErrHandler
}

// PanicError is a recovered handler panic
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}

// shouldRequeue decides whether a failed job goes back to the queue. Only
// transient errors on a work queue are retried, and only while the delivery
// bound has not been reached.
func shouldRequeue(err error, mode transport.Mode, deliveryCount, maxDeliveries int) bool {
	if mode != transport.ModeQueue {
		return false
	}

	var retryable *RetryableError
	if !errors.As(err, &retryable) {
		return false
	}

	return deliveryCount < maxDeliveries
}
