package session

import (
	"context"
	"fmt"

	"github.com/nugget/conclave/internal/prompts"
	"github.com/nugget/conclave/internal/tools"
)

// registerHandoffTool adds the handoff tool to r. The tool only records
// the request; the manager performs the switch once the calling loop
// has finished.
func (m *Manager) registerHandoffTool(r *tools.Registry) {
	r.Register(&tools.Tool{
		Name:        tools.ToolHandoff,
		Description: prompts.HandoffToolDescription,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"agent": map[string]any{
					"type":        "string",
					"description": "ID of the agent to hand the conversation to",
					"enum":        m.agents.IDs(),
				},
				"reason": map[string]any{
					"type":        "string",
					"description": "Why the other agent should take over",
				},
			},
			"required": []string{"agent"},
		},
		Handler: m.handleHandoff,
	})
}

func (m *Manager) handleHandoff(ctx context.Context, args map[string]any) (string, error) {
	target, _ := args["agent"].(string)
	if target == "" {
		return "", fmt.Errorf("agent is required")
	}
	if !m.agents.Known(target) {
		return "", &UnknownAgentError{AgentID: target}
	}
	caller := tools.AgentIDFromContext(ctx)
	if target == caller {
		return "", fmt.Errorf("you are already %s", target)
	}

	s, err := m.get(tools.SessionIDFromContext(ctx))
	if err != nil {
		return "", err
	}
	s.requestHandoff(target)

	reason, _ := args["reason"].(string)
	m.logger.Info("handoff requested", "session_id", s.ID, "from", caller, "to", target, "reason", reason)
	return fmt.Sprintf("Handoff to %s scheduled. It takes over after this reply.", target), nil
}
