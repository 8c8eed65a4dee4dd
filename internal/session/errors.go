package session

import (
	"errors"
	"fmt"

	"github.com/nugget/conclave/internal/turn"
)

var (
	// ErrSessionNotFound is returned for IDs the manager never issued.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed is returned for any operation on a session that
	// has been closed, including operations queued when it closed.
	ErrSessionClosed = errors.New("session closed")
)

// UnknownAgentError is returned when an operation names an agent that
// is not in the directory.
type UnknownAgentError struct {
	AgentID string
}

func (e *UnknownAgentError) Error() string {
	return fmt.Sprintf("unknown agent %q", e.AgentID)
}

// TurnError reports a message that ended on a backend failure. Partial
// holds any content produced by earlier iterations of the loop.
type TurnError struct {
	SessionID string
	AgentID   string
	Partial   string
	Err       *turn.BackendError
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("session %s agent %s: %v", e.SessionID, e.AgentID, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }

// Interrupted reports whether the turn was cancelled by Interrupt
// rather than by a backend failure.
func (e *TurnError) Interrupted() bool {
	return e.Err != nil && e.Err.Kind == turn.KindCancelled
}
