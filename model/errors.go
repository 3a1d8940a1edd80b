package model

import (
	"context"
	"errors"
	"fmt"
)

// ProviderError classifies a failed provider call. Transient errors (timeout,
// rate limit, server overload) are safe to retry with backoff; permanent
// errors (bad request, content rejection) must not be retried.
type ProviderError struct {
	Provider  string
	Code      string
	Transient bool
	Err       error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s provider error (%s, code=%s): %v", e.Provider, kind, e.Code, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *ProviderError) Unwrap() error { return e.Err }

// NewTransientError wraps err as a retryable provider failure.
func NewTransientError(provider, code string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Code: code, Transient: true, Err: err}
}

// NewPermanentError wraps err as a non-retryable provider failure.
func NewPermanentError(provider, code string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Code: code, Transient: false, Err: err}
}

// ClassifyHTTP maps an HTTP status to the transient/permanent taxonomy.
// Timeouts, rate limits and server-side failures are transient.
func ClassifyHTTP(provider string, status int, err error) *ProviderError {
	code := fmt.Sprintf("http_%d", status)
	switch {
	case status == 408 || status == 409 || status == 429 || status >= 500:
		return NewTransientError(provider, code, err)
	default:
		return NewPermanentError(provider, code, err)
	}
}

// IsTransient reports whether err may succeed on retry. Context cancellation
// is never transient: the caller asked to stop.
func IsTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return false
}
