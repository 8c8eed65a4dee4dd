// Package connwatch tracks the reachability of the services a Conclave
// deployment depends on: reasoning backends and, when configured, the
// MQTT broker. The turn engine's single retry absorbs transient
// failures; connwatch covers outages that last seconds to minutes and
// feeds /health.
//
// A Watcher probes while its service is down using exponential backoff
// (2s, 4s, 8s, ... capped at 60s) and polls at a fixed interval once it
// is up. Transitions are logged and published on the event bus.
package connwatch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nugget/conclave/internal/events"
)

// ProbeFunc checks whether a service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// Backoff controls probe timing.
type Backoff struct {
	// InitialDelay is the first retry delay while down (default: 2s).
	InitialDelay time.Duration
	// MaxDelay caps the retry delay (default: 60s).
	MaxDelay time.Duration
	// Multiplier scales the delay after each failed probe (default: 2).
	Multiplier float64
	// PollInterval is the check interval while up (default: 60s).
	PollInterval time.Duration
	// ProbeTimeout bounds each probe (default: 10s).
	ProbeTimeout time.Duration
}

// DefaultBackoff returns the production probe schedule.
func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		PollInterval: 60 * time.Second,
		ProbeTimeout: 10 * time.Second,
	}
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.InitialDelay <= 0 {
		b.InitialDelay = d.InitialDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = d.MaxDelay
	}
	if b.Multiplier < 1 {
		b.Multiplier = d.Multiplier
	}
	if b.PollInterval <= 0 {
		b.PollInterval = d.PollInterval
	}
	if b.ProbeTimeout <= 0 {
		b.ProbeTimeout = d.ProbeTimeout
	}
	return b
}

// next returns the delay after cur.
func (b Backoff) next(cur time.Duration) time.Duration {
	n := time.Duration(float64(cur) * b.Multiplier)
	if n > b.MaxDelay {
		n = b.MaxDelay
	}
	return n
}

// Status is the health of one service as reported by /health.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	Since     time.Time `json:"since,omitzero"`
	LastCheck time.Time `json:"last_check,omitzero"`
	LastError string    `json:"last_error,omitempty"`
	Failures  int       `json:"consecutive_failures,omitempty"`
}

// Watcher monitors one service.
type Watcher struct {
	name    string
	probe   ProbeFunc
	backoff Backoff
	bus     *events.Bus
	logger  *slog.Logger
	done    chan struct{}

	mu     sync.Mutex
	status Status
}

// Status returns a snapshot of the service's health.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Ready reports whether the last probe succeeded.
func (w *Watcher) Ready() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status.Ready
}

// Done is closed when the watcher's goroutine exits.
func (w *Watcher) Done() <-chan struct{} { return w.done }

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	delay := w.backoff.InitialDelay
	for {
		err := w.check(ctx)
		if ctx.Err() != nil {
			return
		}

		wait := w.backoff.PollInterval
		if err != nil {
			wait = delay
			delay = w.backoff.next(delay)
		} else {
			delay = w.backoff.InitialDelay
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// check runs one probe and records the result, publishing a transition
// event when readiness changes. The very first successful probe counts
// as a transition; the first failure does not.
func (w *Watcher) check(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.backoff.ProbeTimeout)
	err := w.probe(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return ctx.Err()
	}

	now := time.Now()
	w.mu.Lock()
	wasReady := w.status.Ready
	first := w.status.LastCheck.IsZero()
	w.status.LastCheck = now
	if err != nil {
		w.status.Ready = false
		w.status.LastError = err.Error()
		w.status.Failures++
	} else {
		w.status.Ready = true
		w.status.LastError = ""
		w.status.Failures = 0
	}
	if wasReady != w.status.Ready || first {
		w.status.Since = now
	}
	failures := w.status.Failures
	w.mu.Unlock()

	switch {
	case err == nil && !wasReady:
		w.logger.Info("service ready", "service", w.name)
		w.bus.Emit(events.SourceHealth, events.KindServiceUp, "", "", map[string]any{"service": w.name})
	case err != nil && wasReady:
		w.logger.Warn("service unreachable", "service", w.name, "error", err)
		w.bus.Emit(events.SourceHealth, events.KindServiceDown, "", "", map[string]any{
			"service": w.name,
			"error":   err.Error(),
		})
	case err != nil:
		w.logger.Debug("service still unreachable", "service", w.name, "failures", failures, "error", err)
	}
	return err
}

// Manager owns the watchers of one process.
type Manager struct {
	bus    *events.Bus
	logger *slog.Logger
	wg     sync.WaitGroup

	mu       sync.RWMutex
	watchers map[string]*Watcher
}

// NewManager creates a Manager. bus may be nil.
func NewManager(bus *events.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		bus:      bus,
		logger:   logger.With("component", "connwatch"),
		watchers: make(map[string]*Watcher),
	}
}

// Watch starts probing a service in the background until ctx is
// cancelled. Watching a name twice replaces nothing and returns the
// existing watcher.
func (m *Manager) Watch(ctx context.Context, name string, probe ProbeFunc, b Backoff) *Watcher {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.watchers[name]; ok {
		return w
	}

	w := &Watcher{
		name:    name,
		probe:   probe,
		backoff: b.withDefaults(),
		bus:     m.bus,
		logger:  m.logger,
		done:    make(chan struct{}),
		status:  Status{Name: name},
	}
	m.watchers[name] = w

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		w.run(ctx)
	}()
	return w
}

// Status returns every watched service sorted by name.
func (m *Manager) Status() []Status {
	m.mu.RLock()
	out := make([]Status, 0, len(m.watchers))
	for _, w := range m.watchers {
		out = append(out, w.Status())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Ready reports whether every watched service is reachable. A Manager
// with no watchers is ready.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, w := range m.watchers {
		if !w.Ready() {
			return false
		}
	}
	return true
}

// Wait blocks until every watcher has exited.
func (m *Manager) Wait() { m.wg.Wait() }
