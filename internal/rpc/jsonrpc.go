package rpc

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nugget/conclave/internal/session"
)

const version = "2.0"

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Application error codes.
const (
	CodeSessionClosed  = -32001
	CodeUnknownAgent   = -32002
	CodeBackendFailure = -32003
)

// Request is an inbound JSON-RPC call. A request without an ID is a
// notification and gets no response.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response answers one Request. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Notification is a server-initiated message with no ID.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string { return e.Message }

func invalidParams(msg string) *Error {
	return &Error{Code: CodeInvalidParams, Message: msg}
}

// errorFor maps a session-layer error onto a JSON-RPC error object.
func errorFor(err error) *Error {
	var (
		rpcErr  *Error
		unknown *session.UnknownAgentError
		turnErr *session.TurnError
	)
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr
	case errors.Is(err, session.ErrSessionClosed):
		return &Error{Code: CodeSessionClosed, Message: err.Error()}
	case errors.Is(err, session.ErrSessionNotFound):
		return invalidParams(err.Error())
	case errors.As(err, &unknown):
		return &Error{
			Code:    CodeUnknownAgent,
			Message: err.Error(),
			Data:    map[string]any{"agentId": unknown.AgentID},
		}
	case errors.As(err, &turnErr):
		data := map[string]any{
			"agentId":     turnErr.AgentID,
			"partial":     turnErr.Partial,
			"interrupted": turnErr.Interrupted(),
		}
		if turnErr.Err != nil {
			data["kind"] = string(turnErr.Err.Kind)
			data["attempts"] = turnErr.Err.Attempts
		}
		return &Error{Code: CodeBackendFailure, Message: err.Error(), Data: data}
	case errors.Is(err, context.Canceled):
		return &Error{Code: CodeInternalError, Message: "request cancelled"}
	default:
		return &Error{Code: CodeInternalError, Message: err.Error()}
	}
}
