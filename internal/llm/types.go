// Package llm defines the reasoning backend contract used by the turn
// engine and the adapters that speak to concrete providers.
package llm

import (
	"log/slog"
	"time"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message for the LLM.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
}

// FunctionCall is the name and decoded arguments of a requested tool.
type FunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolCall represents a tool call from the model.
type ToolCall struct {
	ID       string       `json:"id,omitempty"` // Provider-assigned; Anthropic needs it for tool_result correlation
	Function FunctionCall `json:"function"`
}

// FinishReason reports why the backend stopped generating.
type FinishReason string

const (
	// FinishStop is a natural end of the assistant's reply.
	FinishStop FinishReason = "stop"

	// FinishToolCalls means the reply requests one or more tool calls
	// and the caller is expected to answer them.
	FinishToolCalls FinishReason = "tool_calls"

	// FinishLength means the output token limit cut the reply short.
	FinishLength FinishReason = "length"
)

// ChatResponse is the unified response from any LLM provider.
// Wire format conversion happens at provider boundaries.
type ChatResponse struct {
	Model        string
	CreatedAt    time.Time
	Message      Message
	FinishReason FinishReason

	// Token usage (provider-neutral)
	InputTokens  int
	OutputTokens int

	// Timing (populated when available)
	TotalDuration time.Duration
}

// normalizeFinish makes FinishReason consistent with the message: a
// response carrying tool calls always reports FinishToolCalls, and a
// missing reason defaults to FinishStop.
func (r *ChatResponse) normalizeFinish() {
	if len(r.Message.ToolCalls) > 0 {
		r.FinishReason = FinishToolCalls
		return
	}
	if r.FinishReason == "" || r.FinishReason == FinishToolCalls {
		r.FinishReason = FinishStop
	}
}

// StreamEvent represents a single event in a streaming response.
// Consumers switch on Kind to determine what data is available.
type StreamEvent struct {
	Kind StreamEventKind

	// Token is set for KindToken events.
	Token string

	// ToolCall is set for KindToolCallStart events.
	ToolCall *ToolCall

	// ToolName, ToolResult and ToolError are set for KindToolCallDone events.
	ToolName   string
	ToolResult string
	ToolError  string

	// Response is set for KindDone events.
	Response *ChatResponse
}

// StreamEventKind identifies the type of stream event.
type StreamEventKind int

const (
	// KindToken is an incremental text token from the model.
	KindToken StreamEventKind = iota

	// KindToolCallStart fires when the model invokes a tool.
	KindToolCallStart

	// KindToolCallDone fires when a tool execution completes.
	KindToolCallDone

	// KindDone signals the stream is complete. Response carries final metadata.
	KindDone
)

// String returns the wire name used in stream notifications.
func (k StreamEventKind) String() string {
	switch k {
	case KindToken:
		return "token"
	case KindToolCallStart:
		return "tool_start"
	case KindToolCallDone:
		return "tool_done"
	case KindDone:
		return "done"
	default:
		return "unknown"
	}
}

// StreamCallback receives streaming events.
type StreamCallback func(event StreamEvent)
