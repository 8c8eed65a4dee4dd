package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestConvertToAnthropic(t *testing.T) {
	messages := []Message{
		{Role: "system", Content: "You are a planner."},
		{Role: "user", Content: "Hello!"},
		{Role: "assistant", Content: "Hi there!"},
		{Role: "user", Content: "Draft a plan."},
	}

	result, system := convertToAnthropic(messages)

	if system != "You are a planner." {
		t.Errorf("expected system prompt extracted, got %q", system)
	}
	if len(result) != 3 {
		t.Fatalf("expected 3 messages (no system), got %d", len(result))
	}
	if result[0].Role != "user" {
		t.Errorf("expected first message to be user, got %s", result[0].Role)
	}
}

func TestConvertToAnthropicWithToolCalls(t *testing.T) {
	messages := []Message{
		{Role: "user", Content: "Run the tests."},
		{
			Role: "assistant",
			ToolCalls: []ToolCall{
				{ID: "toolu_a", Function: FunctionCall{Name: "run_tests", Arguments: map[string]any{"pkg": "./..."}}},
				{ID: "toolu_b", Function: FunctionCall{Name: "check_mail"}},
			},
		},
		{Role: "tool", Content: "ok", ToolCallID: "toolu_a"},
		{Role: "tool", Content: "no mail", ToolCallID: "toolu_b"},
	}

	result, _ := convertToAnthropic(messages)

	// user, assistant with tool_use, one user turn holding both results
	if len(result) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(result))
	}

	blocks, ok := result[1].Content.([]anthropicContent)
	if !ok || len(blocks) != 2 {
		t.Fatalf("assistant content = %#v, want 2 tool_use blocks", result[1].Content)
	}
	if blocks[1].Input == nil {
		t.Error("nil arguments should become an empty object")
	}

	results, ok := result[2].Content.([]anthropicContent)
	if !ok || len(results) != 2 {
		t.Fatalf("tool results = %#v, want 2 blocks", result[2].Content)
	}
	if results[0].ToolUseID != "toolu_a" || results[1].ToolUseID != "toolu_b" {
		t.Errorf("tool_use ids = %q, %q", results[0].ToolUseID, results[1].ToolUseID)
	}
}

func TestAnthropicFinish(t *testing.T) {
	tests := []struct {
		stop string
		want FinishReason
	}{
		{"end_turn", FinishStop},
		{"stop_sequence", FinishStop},
		{"tool_use", FinishToolCalls},
		{"max_tokens", FinishLength},
		{"", FinishStop},
	}
	for _, tt := range tests {
		if got := anthropicFinish(tt.stop); got != tt.want {
			t.Errorf("anthropicFinish(%q) = %q, want %q", tt.stop, got, tt.want)
		}
	}
}

func TestConvertFromAnthropic_ToolUse(t *testing.T) {
	resp := &anthropicResponse{
		Model:      "claude-test",
		StopReason: "tool_use",
		Content: []anthropicContent{
			{Type: "text", Text: "Let me check. "},
			{Type: "tool_use", ID: "toolu_1", Name: "check_mail", Input: map[string]any{}},
		},
		Usage: anthropicUsage{InputTokens: 12, OutputTokens: 7},
	}

	got := convertFromAnthropic(resp)

	if got.FinishReason != FinishToolCalls {
		t.Errorf("FinishReason = %q, want tool_calls", got.FinishReason)
	}
	if got.Message.Role != RoleAssistant {
		t.Errorf("Role = %q, want assistant", got.Message.Role)
	}
	if len(got.Message.ToolCalls) != 1 || got.Message.ToolCalls[0].ID != "toolu_1" {
		t.Errorf("ToolCalls = %+v", got.Message.ToolCalls)
	}
	if got.InputTokens != 12 || got.OutputTokens != 7 {
		t.Errorf("usage = %d/%d, want 12/7", got.InputTokens, got.OutputTokens)
	}
}

func TestAnthropicClient_ChatNonStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.System != "sys" {
			t.Errorf("system = %q, want sys", req.System)
		}
		fmt.Fprint(w, `{"role":"assistant","model":"m","stop_reason":"end_turn","content":[{"type":"text","text":"14"}],"usage":{"input_tokens":3,"output_tokens":1}}`)
	}))
	defer srv.Close()

	c := NewAnthropicClient("test-key", srv.URL, nil)
	resp, err := c.Chat(context.Background(), "m", []Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "7+7?"},
	}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Message.Content != "14" || resp.FinishReason != FinishStop {
		t.Errorf("resp = %q / %q", resp.Message.Content, resp.FinishReason)
	}
}

func TestAnthropicClient_Streaming(t *testing.T) {
	events := []string{
		`{"type":"message_start","message":{"model":"m","usage":{"input_tokens":5}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Sending "}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_9","name":"send_mail"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"to\":\"tes"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"ter\"}"}}`,
		`{"type":"content_block_stop","index":1}`,
		`{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":9}}`,
		`{"type":"message_stop"}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range events {
			fmt.Fprintf(w, "event: x\ndata: %s\n\n", e)
		}
	}))
	defer srv.Close()

	var tokens []string
	c := NewAnthropicClient("k", srv.URL, nil)
	resp, err := c.ChatStream(context.Background(), "m", []Message{{Role: "user", Content: "go"}}, nil, func(ev StreamEvent) {
		if ev.Kind == KindToken {
			tokens = append(tokens, ev.Token)
		}
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if strings.Join(tokens, "") != "Sending " {
		t.Errorf("tokens = %q", tokens)
	}
	if resp.FinishReason != FinishToolCalls {
		t.Errorf("FinishReason = %q, want tool_calls", resp.FinishReason)
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %d, want 1", len(resp.Message.ToolCalls))
	}
	tc := resp.Message.ToolCalls[0]
	if tc.ID != "toolu_9" || tc.Function.Arguments["to"] != "tester" {
		t.Errorf("tool call = %+v", tc)
	}
	if resp.InputTokens != 5 || resp.OutputTokens != 9 {
		t.Errorf("usage = %d/%d, want 5/9", resp.InputTokens, resp.OutputTokens)
	}
}

func TestAnthropicClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":"slow down"}`)
	}))
	defer srv.Close()

	c := NewAnthropicClient("k", srv.URL, nil)
	_, err := c.Chat(context.Background(), "m", []Message{{Role: "user", Content: "hi"}}, nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if !apiErr.RateLimited() {
		t.Errorf("RateLimited() = false for %d", apiErr.StatusCode)
	}
}

func TestAnthropicClient_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{not json`)
	}))
	defer srv.Close()

	c := NewAnthropicClient("k", srv.URL, nil)
	_, err := c.Chat(context.Background(), "m", []Message{{Role: "user", Content: "hi"}}, nil)
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("err = %v, want ErrMalformedResponse", err)
	}
}
