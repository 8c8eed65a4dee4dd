package monitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/nugget/conclave/internal/events"
	"github.com/nugget/conclave/internal/prompts"
)

// strategyFor maps an alert type to its automated recovery.
func strategyFor(t AlertType) Strategy {
	switch t {
	case AlertStall:
		return StrategyInterruptInject
	case AlertToolLoop:
		return StrategyResetInject
	case AlertErrorBurst:
		return StrategyInject
	default:
		return StrategyEscalate
	}
}

// raise records a and dispatches its intervention. Automated
// interventions beyond the per-session rate are escalated instead.
func (m *Monitor) raise(ctx context.Context, a Alert) {
	m.recordAlert(ctx, a)

	strategy := strategyFor(a.Type)
	reason := string(a.Type)
	if strategy != StrategyEscalate {
		m.mu.Lock()
		t, ok := m.sessions[a.SessionID]
		allowed := ok && len(t.interventions) < m.cfg.MaxInterventions
		if allowed {
			t.interventions = append(t.interventions, m.now())
		}
		m.mu.Unlock()
		if !ok {
			return
		}
		if !allowed {
			strategy = StrategyEscalate
			reason = fmt.Sprintf("intervention rate limit (%d per %s) exceeded", m.cfg.MaxInterventions, m.cfg.RateWindow)
		}
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ictx, cancel := context.WithTimeout(ctx, m.cfg.InterventionTimeout)
		defer cancel()

		rec := m.intervene(ictx, a, strategy, reason)
		m.recordIntervention(ictx, rec)
		if strategy != StrategyEscalate {
			m.afterOutcome(ictx, a, rec.Outcome)
		}
	}()
}

// intervene applies one strategy and reports how it went.
func (m *Monitor) intervene(ctx context.Context, a Alert, strategy Strategy, reason string) InterventionRecord {
	rec := InterventionRecord{
		ID:        newID(),
		AlertID:   a.ID,
		SessionID: a.SessionID,
		Strategy:  strategy,
	}

	var err error
	switch strategy {
	case StrategyInterruptInject:
		if _, err = m.ctrl.Interrupt(a.SessionID); err == nil {
			_, err = m.ctrl.Inject(ctx, a.SessionID, prompts.StallRecovery(intEvidence(a, "idle_seconds")))
		}
	case StrategyResetInject:
		if err = m.ctrl.ResetAgent(ctx, a.SessionID); err == nil {
			tool, _ := a.Evidence["tool"].(string)
			_, err = m.ctrl.Inject(ctx, a.SessionID, prompts.ToolLoopCorrection(tool, intEvidence(a, "count")))
		}
	case StrategyInject:
		_, err = m.ctrl.Inject(ctx, a.SessionID, prompts.ErrorBurstRecovery(intEvidence(a, "errors")))
	case StrategyEscalate:
		err = m.escalate(ctx, Escalation{Alert: a, Reason: reason, At: m.now()})
	default:
		err = fmt.Errorf("unknown strategy %q", strategy)
	}

	rec.CreatedAt = m.now()
	if err != nil {
		rec.Outcome = OutcomeFailure
		rec.Detail = err.Error()
		m.logger.Warn("intervention failed",
			"session_id", a.SessionID,
			"alert", a.Type,
			"strategy", strategy,
			"error", err,
		)
	} else {
		rec.Outcome = OutcomeSuccess
		rec.Detail = reason
		m.logger.Info("intervention applied", "session_id", a.SessionID, "alert", a.Type, "strategy", strategy)
	}
	return rec
}

// afterOutcome tracks consecutive failures and escalates once they
// reach the configured count.
func (m *Monitor) afterOutcome(ctx context.Context, a Alert, outcome Outcome) {
	m.mu.Lock()
	t, ok := m.sessions[a.SessionID]
	escalate := false
	failures := 0
	if ok {
		if outcome == OutcomeFailure {
			t.consecutiveFailures++
			failures = t.consecutiveFailures
			if failures >= m.cfg.EscalateAfterFailures {
				t.consecutiveFailures = 0
				escalate = true
			}
		} else {
			t.consecutiveFailures = 0
		}
	}
	m.mu.Unlock()

	if !escalate {
		return
	}
	reason := fmt.Sprintf("%d consecutive interventions failed", failures)
	rec := m.intervene(ctx, a, StrategyEscalate, reason)
	m.recordIntervention(ctx, rec)
}

// escalate hands e to every escalator.
func (m *Monitor) escalate(ctx context.Context, e Escalation) error {
	var errs []error
	for _, esc := range m.escalators {
		if err := esc.Escalate(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Monitor) recordAlert(ctx context.Context, a Alert) {
	m.mu.Lock()
	m.alerts = append(m.alerts, a)
	m.mu.Unlock()

	m.logger.Warn("anomaly detected",
		"session_id", a.SessionID,
		"agent", a.AgentID,
		"alert", a.Type,
		"severity", a.Severity,
		"evidence", a.Evidence,
	)
	m.bus.Emit(events.SourceMonitor, events.KindAlert, a.SessionID, a.AgentID, map[string]any{
		"id":       a.ID,
		"type":     string(a.Type),
		"severity": string(a.Severity),
	})
	if m.audit != nil {
		if err := m.audit.RecordAlert(ctx, a); err != nil {
			m.logger.Error("failed to persist alert", "id", a.ID, "error", err)
		}
	}
}

func (m *Monitor) recordIntervention(ctx context.Context, r InterventionRecord) {
	m.mu.Lock()
	m.interventions = append(m.interventions, r)
	m.mu.Unlock()

	m.bus.Emit(events.SourceMonitor, events.KindIntervention, r.SessionID, "", map[string]any{
		"id":       r.ID,
		"alert_id": r.AlertID,
		"strategy": string(r.Strategy),
		"outcome":  string(r.Outcome),
	})
	if m.audit != nil {
		// The intervention context may already be spent; persisting the
		// record must not depend on it.
		if err := m.audit.RecordIntervention(context.WithoutCancel(ctx), r); err != nil {
			m.logger.Error("failed to persist intervention", "id", r.ID, "error", err)
		}
	}
}

func intEvidence(a Alert, key string) int {
	n, _ := toInt64(a.Evidence[key])
	return int(n)
}
