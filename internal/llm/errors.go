package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrMalformedResponse wraps failures to decode a provider's reply.
var ErrMalformedResponse = errors.New("malformed backend response")

// APIError is returned when a provider answers with a non-2xx status.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.StatusCode, e.Body)
}

// RateLimited reports whether the provider throttled the request.
func (e *APIError) RateLimited() bool {
	// 529 is Anthropic's "overloaded".
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == 529
}

// Unavailable reports whether the failure is a server-side outage.
func (e *APIError) Unavailable() bool {
	return e.StatusCode >= 500 && e.StatusCode != 529
}
