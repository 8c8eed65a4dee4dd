package tools

import "fmt"

// ErrToolUnavailable is returned when a call targets a tool that is not
// in the effective registry, either because it does not exist or the
// agent was not granted it. It is a capability mismatch, not a
// transient failure.
type ErrToolUnavailable struct {
	ToolName string
}

func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available in this context", e.ToolName)
}
