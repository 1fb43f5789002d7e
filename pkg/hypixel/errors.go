package hypixel

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the fetchers.
var (
	// ErrInconsistentSnapshot is returned when the pages of one paginated
	// fetch report different lastUpdated values. It is transient: the next
	// attempt usually lands after the upstream finished rotating.
	ErrInconsistentSnapshot = errors.New("inconsistent snapshot across pages")

	// ErrUnsuccessful is returned when the body reports success=false.
	ErrUnsuccessful = errors.New("upstream reported success=false")

	// ErrUnexpectedNotModified is returned when an unconditional page request
	// is answered with 304. It is transient.
	ErrUnexpectedNotModified = errors.New("unexpected 304 for unconditional request")
)

// ErrorClass represents a classification of upstream errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network and timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents bodies that could not be decoded.
	ErrorClassDecode ErrorClass = "decode"

	// ErrorClassCircuitOpen represents requests refused by an open circuit breaker.
	ErrorClassCircuitOpen ErrorClass = "circuit_open"
)

// APIError represents a Hypixel request failure with its classification.
type APIError struct {
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("hypixel %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("hypixel %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt may succeed.
func (e *APIError) Retryable() bool {
	return shouldRetry(e.Class)
}

// ErrorClass returns the class as a metrics label.
func (e *APIError) ErrorClass() string {
	return string(e.Class)
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(class ErrorClass) bool {
	switch class {
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork, ErrorClassDecode:
		return true
	case ErrorClassClient:
		// A bad key or path stays bad.
		return false
	case ErrorClassCircuitOpen:
		// The breaker decides when to probe again, not the caller.
		return false
	default:
		return false
	}
}

// classifyStatus maps a non-2xx, non-304 status code to an error class.
func classifyStatus(code int) ErrorClass {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case code >= 500:
		return ErrorClassServer
	case code >= 400:
		return ErrorClassClient
	default:
		return ErrorClassServer
	}
}
