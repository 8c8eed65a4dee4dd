package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nugget/conclave/internal/mailbox"
)

// Mailbox is the subset of *mailbox.Mailbox the mail tools need.
type Mailbox interface {
	Send(ctx context.Context, from, to, subject, body string) (string, error)
	CheckMail(agentID string) []mailbox.Message
	Peek(agentID string) []mailbox.Message
}

// Mail tool names.
const (
	ToolSendMail  = "send_mail"
	ToolCheckMail = "check_mail"
	ToolPeekMail  = "peek_mail"
)

// RegisterMailTools adds send_mail, check_mail and peek_mail to r. The
// calling agent is taken from the context (see [WithAgentID]).
func RegisterMailTools(r *Registry, mb Mailbox) {
	m := &mailHandlers{mb: mb}

	r.Register(&Tool{
		Name:        ToolSendMail,
		Description: "Send a message to another agent. The recipient handles it on its own turn; you do not wait for a reply.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"to":      map[string]any{"type": "string", "description": "Recipient agent id"},
				"subject": map[string]any{"type": "string"},
				"body":    map[string]any{"type": "string"},
			},
			"required": []string{"to", "body"},
		},
		Handler: m.send,
	})
	r.Register(&Tool{
		Name:        ToolCheckMail,
		Description: "Read and remove all unread messages addressed to you, oldest first.",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Handler:     m.check,
	})
	r.Register(&Tool{
		Name:        ToolPeekMail,
		Description: "List unread messages addressed to you without marking them read.",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Handler:     m.peek,
	})
}

type mailHandlers struct {
	mb Mailbox
}

func callingAgent(ctx context.Context) (string, error) {
	id := AgentIDFromContext(ctx)
	if id == "" {
		return "", fmt.Errorf("no calling agent in context")
	}
	return id, nil
}

func (m *mailHandlers) send(ctx context.Context, args map[string]any) (string, error) {
	from, err := callingAgent(ctx)
	if err != nil {
		return "", err
	}
	to, err := stringArg(args, "to")
	if err != nil {
		return "", err
	}
	body, err := stringArg(args, "body")
	if err != nil {
		return "", err
	}
	subject, _ := args["subject"].(string)

	id, err := m.mb.Send(ctx, from, to, subject, body)
	if err != nil {
		return "", err
	}
	return marshalResult(map[string]string{"id": id, "status": "sent"})
}

func (m *mailHandlers) check(ctx context.Context, _ map[string]any) (string, error) {
	agentID, err := callingAgent(ctx)
	if err != nil {
		return "", err
	}
	msgs := m.mb.CheckMail(agentID)
	if msgs == nil {
		msgs = []mailbox.Message{}
	}
	return marshalResult(map[string]any{"messages": msgs, "count": len(msgs)})
}

func (m *mailHandlers) peek(ctx context.Context, _ map[string]any) (string, error) {
	agentID, err := callingAgent(ctx)
	if err != nil {
		return "", err
	}
	msgs := m.mb.Peek(agentID)
	if msgs == nil {
		msgs = []mailbox.Message{}
	}
	return marshalResult(map[string]any{"messages": msgs, "count": len(msgs)})
}

func marshalResult(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(b), nil
}

// ToolHandoff is the name of the agent handoff tool. The session
// manager registers it because only the session can act on it.
const ToolHandoff = "handoff"
