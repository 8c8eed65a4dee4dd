package monitor

import "time"

type toolCall struct {
	sig  string
	tool string
	args string
	at   time.Time
}

// tracker is the monitor's view of one session. It is guarded by the
// Monitor's mutex.
type tracker struct {
	sessionID    string
	agentID      string
	lastActivity time.Time
	lastKind     string
	// inFlight is set between message_start and message_end.
	inFlight bool

	stallAlertAt   time.Time
	errors         []time.Time
	burstAlerted   bool
	toolCalls      []toolCall
	loopAlerted    map[string]bool
	latencies      []time.Duration
	latencyAlerted bool

	interventions       []time.Time
	consecutiveFailures int
}

func newTracker(sessionID string, now time.Time) *tracker {
	return &tracker{
		sessionID:    sessionID,
		lastActivity: now,
		loopAlerted:  make(map[string]bool),
	}
}

func (t *tracker) touch(kind string, now time.Time) {
	t.lastActivity = now
	t.lastKind = kind
}

// prune drops samples that have left their windows.
func (t *tracker) prune(now time.Time, cfg Config) {
	t.errors = pruneTimes(t.errors, now.Add(-cfg.ErrorWindow))
	if len(t.errors) < cfg.ErrorBurstThreshold {
		t.burstAlerted = false
	}

	cutoff := now.Add(-cfg.ToolLoopWindow)
	i := 0
	for i < len(t.toolCalls) && t.toolCalls[i].at.Before(cutoff) {
		i++
	}
	t.toolCalls = t.toolCalls[i:]

	t.interventions = pruneTimes(t.interventions, now.Add(-cfg.RateWindow))
}

func (t *tracker) recordLatency(d time.Duration, keep int) {
	t.latencies = append(t.latencies, d)
	if len(t.latencies) > keep {
		t.latencies = t.latencies[len(t.latencies)-keep:]
	}
}

func pruneTimes(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return ts[i:]
}
