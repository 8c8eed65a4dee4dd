package tools

import "context"

type contextKey string

const (
	sessionIDKey contextKey = "session_id"
	agentIDKey   contextKey = "agent_id"
)

// WithSessionID adds the calling session's ID to the context.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionIDFromContext returns the session ID, or "" if unset.
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey).(string)
	return id
}

// WithAgentID adds the calling agent's ID to the context. Tools that act
// on behalf of an agent, such as the mail tools, read it back.
func WithAgentID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, agentIDKey, id)
}

// AgentIDFromContext returns the agent ID, or "" if unset.
func AgentIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(agentIDKey).(string)
	return id
}
