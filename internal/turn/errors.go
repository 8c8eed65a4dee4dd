package turn

import (
	"context"
	"errors"
	"fmt"

	"github.com/nugget/conclave/internal/llm"
)

// ErrorKind classifies a backend failure.
type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindRateLimited ErrorKind = "rate_limited"
	KindMalformed   ErrorKind = "malformed"
	KindUnavailable ErrorKind = "unavailable"
	KindRejected    ErrorKind = "rejected"
	KindCancelled   ErrorKind = "cancelled"
)

// Retryable reports whether a failure of this kind is worth one more
// attempt.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindTimeout, KindRateLimited, KindUnavailable:
		return true
	}
	return false
}

// BackendError describes a backend call that failed after any retry.
// It is reported in a Result, not returned as an error, so callers can
// still use partial output.
type BackendError struct {
	Kind     ErrorKind
	Attempts int
	Err      error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// classify maps an adapter error to a kind. parent is the turn's
// context; a call-scoped deadline that fires while parent is still live
// is a timeout, anything that ends parent is a cancellation.
func classify(parent context.Context, err error) ErrorKind {
	if parent.Err() != nil {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, llm.ErrMalformedResponse) {
		return KindMalformed
	}
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.RateLimited():
			return KindRateLimited
		case apiErr.Unavailable():
			return KindUnavailable
		default:
			return KindRejected
		}
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	// Transport failures: refused connections, resets, DNS.
	return KindUnavailable
}
