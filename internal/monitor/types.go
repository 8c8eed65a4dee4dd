package monitor

import (
	"context"
	"time"

	"github.com/nugget/conclave/internal/session"
)

// AlertType names an anomaly pattern.
type AlertType string

const (
	AlertStall      AlertType = "stall"
	AlertErrorBurst AlertType = "error-burst"
	AlertToolLoop   AlertType = "tool-loop"
	AlertLatency    AlertType = "latency-degradation"
)

// Severity grades an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is an append-only record of one detected anomaly.
type Alert struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	AgentID   string         `json:"agent_id,omitempty"`
	Type      AlertType      `json:"type"`
	Severity  Severity       `json:"severity"`
	Evidence  map[string]any `json:"evidence,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Strategy is the recovery action taken for an alert.
type Strategy string

const (
	StrategyInterruptInject Strategy = "interrupt_inject"
	StrategyResetInject     Strategy = "reset_inject"
	StrategyInject          Strategy = "inject"
	StrategyEscalate        Strategy = "escalate"
)

// Outcome is the result of an intervention.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// InterventionRecord is an append-only record of one recovery attempt.
type InterventionRecord struct {
	ID        string    `json:"id"`
	AlertID   string    `json:"alert_id"`
	SessionID string    `json:"session_id"`
	Strategy  Strategy  `json:"strategy"`
	Outcome   Outcome   `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Escalation is handed to operators when automated recovery is not
// allowed or has not worked.
type Escalation struct {
	Alert  Alert     `json:"alert"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Escalator delivers escalations to a human-facing channel.
type Escalator interface {
	Escalate(ctx context.Context, e Escalation) error
}

// Controller is the set of session manager entry points interventions
// use. *session.Manager satisfies it.
type Controller interface {
	Interrupt(sessionID string) (bool, error)
	ResetAgent(ctx context.Context, sessionID string) error
	Inject(ctx context.Context, sessionID, text string) (*session.Reply, error)
}

// AuditStore persists alerts and interventions.
type AuditStore interface {
	RecordAlert(ctx context.Context, a Alert) error
	RecordIntervention(ctx context.Context, r InterventionRecord) error
}
