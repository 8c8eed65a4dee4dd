package httpkit

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewBackendClient_UserAgent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	resp, err := NewBackendClient("ollama", time.Second).Get(srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()

	if !strings.HasPrefix(got, "Conclave/") || !strings.HasSuffix(got, "(ollama)") {
		t.Errorf("User-Agent = %q, want Conclave/<version> (ollama)", got)
	}
}

func TestNewBackendClient_ExplicitUserAgentWins(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("User-Agent", "custom/1.0")
	resp, err := NewBackendClient("anthropic", time.Second).Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()

	if got != "custom/1.0" {
		t.Errorf("User-Agent = %q, want custom/1.0", got)
	}
}

func TestNewBackendClient_HeaderTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := NewBackendClient("slow", 20*time.Millisecond)
	if c.Timeout != 0 {
		t.Errorf("client Timeout = %v, want none", c.Timeout)
	}
	if _, err := c.Get(srv.URL); err == nil {
		t.Error("request without response headers did not time out")
	}
}

func TestReadErrorBody(t *testing.T) {
	body := io.NopCloser(strings.NewReader("rate limited, slow down please"))
	if got := ReadErrorBody(body, 12); got != "rate limited" {
		t.Errorf("ReadErrorBody = %q, want %q", got, "rate limited")
	}
	if got := ReadErrorBody(nil, 10); got != "" {
		t.Errorf("ReadErrorBody(nil) = %q, want empty", got)
	}
}
