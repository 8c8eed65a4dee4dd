package monitor

import (
	"context"
	"sort"
	"time"
)

// Sweep runs every detector over every tracked session and raises what
// it finds. Run calls it on each tick; it is exported for callers that
// drive the clock themselves.
func (m *Monitor) Sweep(ctx context.Context) {
	now := m.now()

	m.mu.Lock()
	var found []Alert
	for _, t := range m.sessions {
		t.prune(now, m.cfg)
		found = append(found, m.detect(t, now)...)
	}
	m.mu.Unlock()

	sort.SliceStable(found, func(i, j int) bool { return found[i].SessionID < found[j].SessionID })
	for _, a := range found {
		m.raise(ctx, a)
	}
}

// detect is called with m.mu held.
func (m *Monitor) detect(t *tracker, now time.Time) []Alert {
	var out []Alert
	newAlert := func(typ AlertType, sev Severity, evidence map[string]any) {
		out = append(out, Alert{
			ID:        newID(),
			SessionID: t.sessionID,
			AgentID:   t.agentID,
			Type:      typ,
			Severity:  sev,
			Evidence:  evidence,
			CreatedAt: now,
		})
	}

	// At most one stall per rate window. The recovery's own events count
	// as activity, so activity alone must not re-arm the detector.
	idle := now.Sub(t.lastActivity)
	if t.inFlight && idle >= m.cfg.StallThreshold &&
		(t.stallAlertAt.IsZero() || now.Sub(t.stallAlertAt) >= m.cfg.RateWindow) {
		t.stallAlertAt = now
		newAlert(AlertStall, SeverityWarning, map[string]any{
			"idle_seconds": int(idle / time.Second),
			"last_event":   t.lastKind,
		})
	}

	if len(t.errors) >= m.cfg.ErrorBurstThreshold && !t.burstAlerted {
		t.burstAlerted = true
		newAlert(AlertErrorBurst, SeverityCritical, map[string]any{
			"errors":         len(t.errors),
			"window_seconds": int(m.cfg.ErrorWindow / time.Second),
		})
	}

	counts := make(map[string]int, len(t.toolCalls))
	var order []toolCall
	for _, tc := range t.toolCalls {
		if counts[tc.sig] == 0 {
			order = append(order, tc)
		}
		counts[tc.sig]++
	}
	for sig := range t.loopAlerted {
		if counts[sig] < m.cfg.ToolLoopThreshold {
			delete(t.loopAlerted, sig)
		}
	}
	for _, tc := range order {
		n := counts[tc.sig]
		if n < m.cfg.ToolLoopThreshold || t.loopAlerted[tc.sig] {
			continue
		}
		t.loopAlerted[tc.sig] = true
		newAlert(AlertToolLoop, SeverityWarning, map[string]any{
			"tool":           tc.tool,
			"args":           tc.args,
			"count":          n,
			"window_seconds": int(m.cfg.ToolLoopWindow / time.Second),
		})
	}

	if len(t.latencies) >= m.cfg.LatencySamples {
		var sum time.Duration
		for _, d := range t.latencies {
			sum += d
		}
		mean := sum / time.Duration(len(t.latencies))
		switch {
		case mean >= m.cfg.LatencyThreshold && !t.latencyAlerted:
			t.latencyAlerted = true
			newAlert(AlertLatency, SeverityWarning, map[string]any{
				"mean_ms": mean.Milliseconds(),
				"samples": len(t.latencies),
			})
		case mean < m.cfg.LatencyThreshold:
			t.latencyAlerted = false
		}
	}
	return out
}
