package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/conclave/internal/llm"
	"github.com/nugget/conclave/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 1 << 20
)

// conn is one client WebSocket bound to one session. It implements
// session.Notifier so session output flows back as notifications.
type conn struct {
	ws       *websocket.Conn
	sessions Sessions
	logger   *slog.Logger

	sessionID string

	wmu sync.Mutex
	wg  sync.WaitGroup
}

// write sends one JSON frame. Writes from request handlers, notifiers
// and the pinger are serialised.
func (c *conn) write(v any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteJSON(v)
}

func (c *conn) notify(method string, params any) {
	if err := c.write(Notification{JSONRPC: version, Method: method, Params: params}); err != nil {
		c.logger.Debug("notification dropped", "method", method, "error", err)
	}
}

// Progress implements session.Notifier.
func (c *conn) Progress(sessionID string, p session.Progress) {
	c.notify("continuation.progress", map[string]any{
		"sessionId":     sessionID,
		"agentId":       p.AgentID,
		"iteration":     p.Iteration,
		"maxIterations": p.MaxIterations,
		"description":   p.Description,
		"progress":      p.Progress,
	})
}

// Stream implements session.Notifier.
func (c *conn) Stream(sessionID, agentID string, ev llm.StreamEvent) {
	params := map[string]any{
		"sessionId": sessionID,
		"agentId":   agentID,
		"kind":      ev.Kind.String(),
	}
	switch ev.Kind {
	case llm.KindToken:
		params["token"] = ev.Token
	case llm.KindToolCallStart:
		if ev.ToolCall != nil {
			params["tool"] = ev.ToolCall.Function.Name
		}
	case llm.KindToolCallDone:
		params["tool"] = ev.ToolName
		if ev.ToolError != "" {
			params["error"] = ev.ToolError
		}
	case llm.KindDone:
		// The reply carries the final content.
		return
	}
	c.notify("session.stream", params)
}

// Reply implements session.Notifier.
func (c *conn) Reply(sessionID string, r *session.Reply) {
	c.notify("session.reply", map[string]any{
		"sessionId":  sessionID,
		"content":    r.Content,
		"agentId":    r.AgentID,
		"iterations": r.Iterations,
		"stopReason": r.StopReason,
	})
}

// serve runs the read loop until the client disconnects or ctx ends.
// Each request is handled on its own goroutine so that session.info
// answers while a message is in flight; the session itself serialises
// message processing.
func (c *conn) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.wg.Wait()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.pinger(ctx)
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("read loop ended", "error", err)
			}
			return
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			_ = c.write(Response{JSONRPC: version, ID: json.RawMessage("null"), Error: &Error{Code: CodeParseError, Message: "parse error"}})
			continue
		}
		if req.JSONRPC != version || req.Method == "" {
			c.respond(req.ID, nil, &Error{Code: CodeInvalidRequest, Message: "invalid request"})
			continue
		}

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			result, err := c.dispatch(ctx, req)
			var rpcErr *Error
			if err != nil {
				rpcErr = errorFor(err)
			}
			c.respond(req.ID, result, rpcErr)
		}()
	}
}

func (c *conn) respond(id json.RawMessage, result any, rpcErr *Error) {
	if len(id) == 0 {
		return
	}
	resp := Response{JSONRPC: version, ID: id}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		if result == nil {
			result = map[string]any{}
		}
		resp.Result = result
	}
	if err := c.write(resp); err != nil {
		c.logger.Debug("response dropped", "error", err)
	}
}

func (c *conn) pinger(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.wmu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.wmu.Unlock()
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				c.logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}
