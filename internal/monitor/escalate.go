package monitor

import (
	"context"
	"log/slog"
)

// LogEscalator writes escalations to the log. It is the fallback when
// no operator channel is configured.
type LogEscalator struct {
	logger *slog.Logger
}

// NewLogEscalator creates a LogEscalator.
func NewLogEscalator(logger *slog.Logger) *LogEscalator {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEscalator{logger: logger.With("component", "escalation")}
}

// Escalate logs e at error level.
func (l *LogEscalator) Escalate(ctx context.Context, e Escalation) error {
	l.logger.ErrorContext(ctx, "operator attention required",
		"session_id", e.Alert.SessionID,
		"agent", e.Alert.AgentID,
		"alert", e.Alert.Type,
		"alert_id", e.Alert.ID,
		"severity", e.Alert.Severity,
		"reason", e.Reason,
	)
	return nil
}
