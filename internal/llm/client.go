package llm

import "context"

// Client is a reasoning backend. The turn engine is its only caller;
// connwatch uses Ping for health.
type Client interface {
	// Chat sends one request and waits for the whole response.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// ChatStream is Chat with incremental delivery. A nil callback
	// behaves like Chat.
	ChatStream(ctx context.Context, model string, messages []Message, tools []map[string]any, callback StreamCallback) (*ChatResponse, error)

	// Ping checks that the backend is reachable and accepts our
	// credentials.
	Ping(ctx context.Context) error
}

var (
	_ Client = (*OllamaClient)(nil)
	_ Client = (*AnthropicClient)(nil)
	_ Client = (*MultiClient)(nil)
)
