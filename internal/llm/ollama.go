package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/conclave/internal/httpkit"
)

// OllamaClient is a client for the Ollama chat API.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(baseURL string, logger *slog.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With("provider", "ollama"),
		// Large local models load slowly.
		httpClient: httpkit.NewBackendClient("ollama", 5*time.Minute),
	}
}

type ollamaRequest struct {
	Model    string           `json:"model"`
	Messages []Message        `json:"messages"`
	Stream   bool             `json:"stream"`
	Tools    []map[string]any `json:"tools,omitempty"`
}

type ollamaResponse struct {
	Model      string  `json:"model"`
	CreatedAt  string  `json:"created_at"`
	Message    Message `json:"message"`
	Done       bool    `json:"done"`
	DoneReason string  `json:"done_reason,omitempty"`

	TotalDuration   int64 `json:"total_duration,omitempty"`
	PromptEvalCount int   `json:"prompt_eval_count,omitempty"`
	EvalCount       int   `json:"eval_count,omitempty"`
}

func (r *ollamaResponse) toChatResponse() *ChatResponse {
	resp := &ChatResponse{
		Model:         r.Model,
		Message:       r.Message,
		InputTokens:   r.PromptEvalCount,
		OutputTokens:  r.EvalCount,
		TotalDuration: time.Duration(r.TotalDuration),
	}
	if t, err := time.Parse(time.RFC3339Nano, r.CreatedAt); err == nil {
		resp.CreatedAt = t
	}
	if resp.Message.Role == "" {
		resp.Message.Role = RoleAssistant
	}
	if r.DoneReason == "length" {
		resp.FinishReason = FinishLength
	}

	// Many local models write tool calls into the content instead of
	// the native field.
	if len(resp.Message.ToolCalls) == 0 && resp.Message.Content != "" {
		if parsed := parseTextToolCalls(resp.Message.Content); len(parsed) > 0 {
			resp.Message.ToolCalls = parsed
			resp.Message.Content = ""
		}
	}
	for i := range resp.Message.ToolCalls {
		if resp.Message.ToolCalls[i].ID == "" {
			resp.Message.ToolCalls[i].ID = fmt.Sprintf("call_%d", i)
		}
	}
	resp.normalizeFinish()
	return resp
}

// Chat sends a chat completion request to Ollama.
func (c *OllamaClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	return c.ChatStream(ctx, model, messages, tools, nil)
}

// ChatStream sends a chat request to Ollama. If callback is non-nil the
// response is streamed as newline-delimited JSON and tokens are
// forwarded as they arrive.
func (c *OllamaClient) ChatStream(ctx context.Context, model string, messages []Message, tools []map[string]any, callback StreamCallback) (*ChatResponse, error) {
	stream := callback != nil

	jsonData, err := json.Marshal(ollamaRequest{
		Model:    model,
		Messages: messages,
		Stream:   stream,
		Tools:    tools,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{
			Provider:   "ollama",
			StatusCode: resp.StatusCode,
			Body:       httpkit.ReadErrorBody(resp.Body, 4096),
		}
	}

	if !stream {
		var wire ollamaResponse
		if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
			return nil, fmt.Errorf("%w: decode response: %v", ErrMalformedResponse, err)
		}
		out := wire.toChatResponse()
		c.logger.Debug("response received",
			"model", out.Model,
			"finish", out.FinishReason,
			"tool_calls", len(out.Message.ToolCalls),
		)
		return out, nil
	}

	var (
		final          ollamaResponse
		contentBuilder strings.Builder
		toolCalls      []ToolCall
		sawDone        bool
	)
	decoder := json.NewDecoder(resp.Body)
	for {
		var chunk ollamaResponse
		if err := decoder.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("%w: decode stream chunk: %v", ErrMalformedResponse, err)
		}

		if chunk.Message.Content != "" {
			contentBuilder.WriteString(chunk.Message.Content)
			callback(StreamEvent{Kind: KindToken, Token: chunk.Message.Content})
		}
		if len(chunk.Message.ToolCalls) > 0 {
			toolCalls = append(toolCalls, chunk.Message.ToolCalls...)
		}
		if chunk.Done {
			final = chunk
			sawDone = true
			break
		}
	}
	if !sawDone {
		return nil, fmt.Errorf("%w: stream ended without done marker", ErrMalformedResponse)
	}

	final.Message.Content = contentBuilder.String()
	final.Message.ToolCalls = toolCalls
	out := final.toChatResponse()
	c.logger.Log(ctx, LevelTrace, "stream final content", "content", out.Message.Content)
	return out, nil
}

// parseTextToolCalls attempts to extract tool calls from content text.
// Handles a raw JSON object {"name": ..., "arguments": {...}}, a JSON
// array of those, and either form wrapped in <tool_call> tags.
func parseTextToolCalls(content string) []ToolCall {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	if start := strings.Index(content, "<tool_call>"); start != -1 {
		rest := content[start+len("<tool_call>"):]
		if end := strings.Index(rest, "</tool_call>"); end != -1 {
			rest = rest[:end]
		}
		content = strings.TrimSpace(rest)
	}

	var calls []FunctionCall
	if err := json.Unmarshal([]byte(content), &calls); err == nil && len(calls) > 0 {
		result := make([]ToolCall, 0, len(calls))
		for _, fc := range calls {
			if fc.Name == "" {
				continue
			}
			result = append(result, ToolCall{Function: fc})
		}
		return result
	}

	var single FunctionCall
	if err := json.Unmarshal([]byte(content), &single); err == nil && single.Name != "" {
		return []ToolCall{{Function: single}}
	}
	return nil
}

// Ping checks if Ollama is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return &APIError{Provider: "ollama", StatusCode: resp.StatusCode}
	}
	return nil
}
