package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseTextToolCalls(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantCount int
		wantName  string
	}{
		{name: "empty content", content: "", wantCount: 0},
		{name: "whitespace only", content: "   \n\t  ", wantCount: 0},
		{name: "plain text", content: "The build is green.", wantCount: 0},
		{
			name:      "single object",
			content:   `{"name": "check_mail", "arguments": {}}`,
			wantCount: 1,
			wantName:  "check_mail",
		},
		{
			name:      "array",
			content:   `[{"name": "send_mail", "arguments": {"to": "tester"}}, {"name": "peek_mail", "arguments": {}}]`,
			wantCount: 2,
			wantName:  "send_mail",
		},
		{
			name:      "tagged",
			content:   `<tool_call>{"name": "handoff", "arguments": {"agent": "debugger"}}</tool_call>`,
			wantCount: 1,
			wantName:  "handoff",
		},
		{
			name:      "tagged without closing tag",
			content:   `<tool_call>{"name": "check_mail", "arguments": {}}`,
			wantCount: 1,
			wantName:  "check_mail",
		},
		{name: "json without name", content: `{"status": "CONTINUE"}`, wantCount: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTextToolCalls(tt.content)
			if len(got) != tt.wantCount {
				t.Fatalf("got %d calls, want %d", len(got), tt.wantCount)
			}
			if tt.wantCount > 0 && got[0].Function.Name != tt.wantName {
				t.Errorf("first name = %q, want %q", got[0].Function.Name, tt.wantName)
			}
		})
	}
}

func TestOllamaClient_ChatToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"model":"qwen","done":true,"done_reason":"stop","message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"check_mail","arguments":{}}}]},"prompt_eval_count":10,"eval_count":4}`)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, nil)
	resp, err := c.Chat(context.Background(), "qwen", []Message{{Role: "user", Content: "mail?"}}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.FinishReason != FinishToolCalls {
		t.Errorf("FinishReason = %q, want tool_calls", resp.FinishReason)
	}
	if resp.Message.ToolCalls[0].ID == "" {
		t.Error("tool call should be assigned an id")
	}
	if resp.InputTokens != 10 || resp.OutputTokens != 4 {
		t.Errorf("usage = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
}

func TestOllamaClient_Streaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"7+7 "},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"is 14"},"done":false}`)
		fmt.Fprintln(w, `{"model":"qwen","message":{"role":"assistant","content":""},"done":true,"done_reason":"length"}`)
	}))
	defer srv.Close()

	var n int
	c := NewOllamaClient(srv.URL, nil)
	resp, err := c.ChatStream(context.Background(), "qwen", nil, nil, func(ev StreamEvent) { n++ })
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if resp.Message.Content != "7+7 is 14" {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if resp.FinishReason != FinishLength {
		t.Errorf("FinishReason = %q, want length", resp.FinishReason)
	}
	if n != 2 {
		t.Errorf("callback invoked %d times, want 2", n)
	}
}

func TestOllamaClient_TruncatedStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"partial"},"done":false}`)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, nil)
	_, err := c.ChatStream(context.Background(), "qwen", nil, nil, func(StreamEvent) {})
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("err = %v, want ErrMalformedResponse", err)
	}
}

func TestOllamaClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, nil)
	_, err := c.Chat(context.Background(), "qwen", nil, nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.Unavailable() {
		t.Fatalf("err = %v, want unavailable *APIError", err)
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Error("Ping should fail against a 503 server")
	}
}
