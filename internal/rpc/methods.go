package rpc

import (
	"context"
	"encoding/json"
	"strings"
)

type sessionParams struct {
	SessionID string `json:"sessionId"`
}

type sendParams struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

type switchParams struct {
	SessionID string `json:"sessionId"`
	AgentID   string `json:"agentId"`
}

// dispatch routes one request to the session manager.
func (c *conn) dispatch(ctx context.Context, req Request) (any, error) {
	switch req.Method {
	case "session.sendMessage":
		var p sendParams
		if err := c.decode(req.Params, &p, &p.SessionID); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.Text) == "" {
			return nil, invalidParams("text is required")
		}
		return c.sessions.SendMessage(ctx, p.SessionID, p.Text)

	case "session.switchAgent":
		var p switchParams
		if err := c.decode(req.Params, &p, &p.SessionID); err != nil {
			return nil, err
		}
		if p.AgentID == "" {
			return nil, invalidParams("agentId is required")
		}
		res, err := c.sessions.SwitchAgent(ctx, p.SessionID, p.AgentID)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"ok":        true,
			"from":      res.From,
			"agentId":   res.AgentID,
			"activated": res.Activated,
			"content":   res.Content,
		}, nil

	case "session.info":
		var p sessionParams
		if err := c.decode(req.Params, &p, &p.SessionID); err != nil {
			return nil, err
		}
		return c.sessions.Info(p.SessionID)

	case "session.reset":
		var p sessionParams
		if err := c.decode(req.Params, &p, &p.SessionID); err != nil {
			return nil, err
		}
		if err := c.sessions.ResetAgent(ctx, p.SessionID); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true}, nil

	default:
		return nil, &Error{Code: CodeMethodNotFound, Message: "method not found: " + req.Method}
	}
}

// decode unmarshals params into v and resolves the session ID. An
// omitted ID means the connection's own session; naming another
// connection's session is rejected.
func (c *conn) decode(raw json.RawMessage, v any, sessionID *string) error {
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, v); err != nil {
			return invalidParams("invalid params: " + err.Error())
		}
	}
	switch *sessionID {
	case "":
		*sessionID = c.sessionID
	case c.sessionID:
	default:
		return invalidParams("session " + *sessionID + " does not belong to this connection")
	}
	return nil
}
