package poller

import (
	"context"
	"errors"
)

var (
	// ErrRetryExhausted is returned when every attempt of a tick failed.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the poller's context ends mid-tick.
	ErrContextCancelled = errors.New("context cancelled")
)

// retryable is implemented by fetch errors that know whether another attempt can help.
type retryable interface {
	Retryable() bool
}

// classified is implemented by fetch errors that carry an error class for metrics.
type classified interface {
	ErrorClass() string
}

// IsRetryable reports whether err is worth another attempt within the same tick.
// Errors that do not say otherwise are treated as transient.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

func errorClass(err error) string {
	var c classified
	if errors.As(err, &c) {
		return c.ErrorClass()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "unknown"
}
