// Package monitor watches session activity on the event bus, detects
// stalls, tool loops, error bursts and latency degradation, and applies
// recovery through the session manager or escalates to operators.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/conclave/internal/config"
	"github.com/nugget/conclave/internal/events"
)

// Config tunes detection and intervention.
type Config struct {
	SweepInterval         time.Duration
	StallThreshold        time.Duration
	ErrorBurstThreshold   int
	ErrorWindow           time.Duration
	ToolLoopThreshold     int
	ToolLoopWindow        time.Duration
	LatencySamples        int
	LatencyThreshold      time.Duration
	MaxInterventions      int
	RateWindow            time.Duration
	EscalateAfterFailures int
	// InterventionTimeout bounds one intervention, including waiting
	// for the session's turn slot.
	InterventionTimeout time.Duration
}

// ConfigFrom converts the loaded configuration.
func ConfigFrom(c config.MonitorConfig) Config {
	return Config{
		SweepInterval:         c.SweepInterval,
		StallThreshold:        c.StallThreshold,
		ErrorBurstThreshold:   c.ErrorBurstThreshold,
		ErrorWindow:           c.ErrorWindow,
		ToolLoopThreshold:     c.ToolLoopThreshold,
		ToolLoopWindow:        c.ToolLoopWindow,
		LatencySamples:        c.LatencySamples,
		LatencyThreshold:      c.LatencyThreshold,
		MaxInterventions:      c.MaxInterventions,
		RateWindow:            c.RateWindow,
		EscalateAfterFailures: c.EscalateAfterFailures,
	}
}

func (c Config) withDefaults() Config {
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Second
	}
	if c.StallThreshold <= 0 {
		c.StallThreshold = 30 * time.Second
	}
	if c.ErrorBurstThreshold <= 0 {
		c.ErrorBurstThreshold = 5
	}
	if c.ErrorWindow <= 0 {
		c.ErrorWindow = time.Minute
	}
	if c.ToolLoopThreshold <= 0 {
		c.ToolLoopThreshold = 3
	}
	if c.ToolLoopWindow <= 0 {
		c.ToolLoopWindow = time.Minute
	}
	if c.LatencySamples <= 0 {
		c.LatencySamples = 5
	}
	if c.LatencyThreshold <= 0 {
		c.LatencyThreshold = 45 * time.Second
	}
	if c.MaxInterventions <= 0 {
		c.MaxInterventions = 2
	}
	if c.RateWindow <= 0 {
		c.RateWindow = time.Minute
	}
	if c.EscalateAfterFailures <= 0 {
		c.EscalateAfterFailures = 2
	}
	if c.InterventionTimeout <= 0 {
		c.InterventionTimeout = 5 * time.Minute
	}
	return c
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithEscalator adds an escalation channel. Escalations go to every
// registered escalator.
func WithEscalator(e Escalator) Option {
	return func(m *Monitor) { m.escalators = append(m.escalators, e) }
}

// WithAuditStore persists alerts and interventions.
func WithAuditStore(s AuditStore) Option {
	return func(m *Monitor) { m.audit = s }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// Monitor tracks every session seen on the bus.
type Monitor struct {
	cfg        Config
	bus        *events.Bus
	ctrl       Controller
	escalators []Escalator
	audit      AuditStore
	logger     *slog.Logger
	now        func() time.Time

	mu            sync.Mutex
	sessions      map[string]*tracker
	alerts        []Alert
	interventions []InterventionRecord

	// wg tracks intervention goroutines.
	wg sync.WaitGroup
}

// New creates a Monitor. Without an escalator, escalations are only
// logged.
func New(cfg Config, bus *events.Bus, ctrl Controller, logger *slog.Logger, opts ...Option) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		cfg:      cfg.withDefaults(),
		bus:      bus,
		ctrl:     ctrl,
		logger:   logger.With("component", "monitor"),
		now:      time.Now,
		sessions: make(map[string]*tracker),
	}
	for _, o := range opts {
		o(m)
	}
	if len(m.escalators) == 0 {
		m.escalators = []Escalator{NewLogEscalator(logger)}
	}
	return m
}

// Run consumes bus events and sweeps on a ticker until ctx is done. It
// waits for running interventions before returning.
func (m *Monitor) Run(ctx context.Context) error {
	ch := m.bus.Subscribe(256)
	defer m.bus.Unsubscribe(ch)

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	defer m.wg.Wait()

	m.logger.Info("monitor started",
		"sweep_interval", m.cfg.SweepInterval,
		"stall_threshold", m.cfg.StallThreshold,
		"max_interventions", m.cfg.MaxInterventions,
	)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopped")
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(ev)
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Observe folds one event into the session's tracker.
func (m *Monitor) Observe(ev events.Event) {
	if ev.SessionID == "" || ev.Source == events.SourceMonitor {
		return
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.Kind == events.KindSessionClose {
		delete(m.sessions, ev.SessionID)
		return
	}
	t, ok := m.sessions[ev.SessionID]
	if !ok {
		t = newTracker(ev.SessionID, now)
		m.sessions[ev.SessionID] = t
	}
	if ev.AgentID != "" {
		t.agentID = ev.AgentID
	}
	t.touch(ev.Kind, now)

	switch ev.Kind {
	case events.KindMessageStart:
		t.inFlight = true
	case events.KindMessageEnd:
		t.inFlight = false
	case events.KindError:
		t.errors = append(t.errors, now)
	case events.KindToolCall:
		tool, _ := ev.Data["tool"].(string)
		args, _ := ev.Data["args"].(string)
		t.toolCalls = append(t.toolCalls, toolCall{sig: tool + "\x00" + args, tool: tool, args: args, at: now})
	case events.KindLLMResponse:
		if ms, ok := toInt64(ev.Data["elapsed_ms"]); ok {
			t.recordLatency(time.Duration(ms)*time.Millisecond, m.cfg.LatencySamples)
		}
	}
}

// Tracked returns the number of sessions being watched.
func (m *Monitor) Tracked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Alerts returns the most recent alerts, oldest first. limit <= 0
// returns all of them.
func (m *Monitor) Alerts(limit int) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return tail(m.alerts, limit)
}

// Interventions returns the most recent intervention records, oldest
// first. limit <= 0 returns all of them.
func (m *Monitor) Interventions(limit int) []InterventionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return tail(m.interventions, limit)
}

func tail[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		s = s[len(s)-limit:]
	}
	return append([]T(nil), s...)
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf("mon-%d", time.Now().UnixNano())
	}
	return id.String()
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}
