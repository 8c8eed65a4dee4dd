// Package httpkit builds the HTTP clients used by the reasoning backend
// adapters and holds small helpers for handling their error bodies.
//
// Backend calls have no client-level timeout: each one runs under the
// turn engine's per-call context, and streaming responses may last
// minutes. Only connection setup and the wait for response headers are
// bounded here.
package httpkit

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/nugget/conclave/internal/buildinfo"
)

// Transport limits shared by every backend client.
const (
	DialTimeout         = 10 * time.Second
	KeepAlive           = 30 * time.Second
	TLSHandshakeTimeout = 10 * time.Second
	IdleConnTimeout     = 90 * time.Second
	MaxIdleConnsPerHost = 5
)

// NewBackendClient returns a client for one backend. headerTimeout
// bounds the wait for response headers; backends that load models or
// think before answering need a generous value.
func NewBackendClient(provider string, headerTimeout time.Duration) *http.Client {
	t := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   DialTimeout,
			KeepAlive: KeepAlive,
		}).DialContext,
		TLSHandshakeTimeout:   TLSHandshakeTimeout,
		ResponseHeaderTimeout: headerTimeout,
		IdleConnTimeout:       IdleConnTimeout,
		MaxIdleConnsPerHost:   MaxIdleConnsPerHost,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{
		Transport: &userAgentTransport{base: t, ua: UserAgent(provider)},
	}
}

// UserAgent returns the User-Agent sent to provider.
func UserAgent(provider string) string {
	return fmt.Sprintf("%s (%s)", buildinfo.UserAgent(), provider)
}

// userAgentTransport sets the User-Agent header unless the request
// already carries one.
type userAgentTransport struct {
	base http.RoundTripper
	ua   string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.ua)
	}
	return t.base.RoundTrip(req)
}

// DrainAndClose reads up to limit bytes from rc and closes it so the
// connection can return to the pool.
func DrainAndClose(rc io.ReadCloser, limit int64) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, limit))
	rc.Close()
}

// ReadErrorBody reads up to limit bytes of an error response for the
// error message, then drains and closes the rest. Returns "" if rc is
// nil.
func ReadErrorBody(rc io.ReadCloser, limit int64) string {
	if rc == nil {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(rc, limit))
	DrainAndClose(rc, 1024)
	if err != nil {
		return fmt.Sprintf("(failed to read error body: %v)", err)
	}
	return string(body)
}
