// Package continuation decides whether an agent's loop runs another
// iteration after a turn completes, and bounds how long it may keep
// going.
package continuation

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

// Phase is the position of one (session, agent) pair in the
// continuation state machine: Idle → Active → {Continuing, Terminated}.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseActive     Phase = "active"
	PhaseContinuing Phase = "continuing"
	PhaseTerminated Phase = "terminated"
)

// Reason explains a Decision.
type Reason string

const (
	ReasonSignalRequired    Reason = "signal_required"
	ReasonSignalTerminate   Reason = "signal_terminate"
	ReasonSignalContinue    Reason = "signal_continue"
	ReasonHeuristicContinue Reason = "heuristic_continue"
	ReasonHeuristicStop     Reason = "heuristic_stop"
	ReasonMaxIterations     Reason = "max_iterations"
	ReasonDeadline          Reason = "deadline"
)

// SafetyLimit reports whether the reason is a forced stop rather than
// the agent's own choice.
func (r Reason) SafetyLimit() bool {
	return r == ReasonMaxIterations || r == ReasonDeadline
}

// Limits bound one continuation loop.
type Limits struct {
	MaxIterations int
	Deadline      time.Duration
	RequireSignal bool
}

// DefaultsFor returns the limits implied by a model's tool-call
// capability. Models that batch several tool calls per response get
// fewer iterations and must ask to continue explicitly.
func DefaultsFor(multiTool bool) Limits {
	if multiTool {
		return Limits{MaxIterations: 3, Deadline: 10 * time.Minute, RequireSignal: true}
	}
	return Limits{MaxIterations: 10, Deadline: 10 * time.Minute, RequireSignal: false}
}

// State is the continuation state of one (session, agent) pair for one
// loop. It is owned by the session that runs the loop.
type State struct {
	Phase          Phase
	Iteration      int
	MaxIterations  int
	Deadline       time.Time
	RequireSignal  bool
	LastProgress   *Progress
	LastReason     Reason
	StartedAt      time.Time
	IterationStart time.Time
}

// Outcome is what the strategy needs to know about a finished turn.
type Outcome struct {
	Content   string
	ToolCalls int
}

// Decision is the result of Decide.
type Decision struct {
	Phase  Phase
	Reason Reason
	// Message is the synthetic follow-up to append when Phase is
	// PhaseContinuing.
	Message string
	Signal  *Signal
}

// Continue reports whether the loop should run another iteration.
func (d Decision) Continue() bool { return d.Phase == PhaseContinuing }

// ProgressUpdate is published on every Continuing transition.
type ProgressUpdate struct {
	Iteration     int
	MaxIterations int
	Progress      *Progress
	Description   string
}

// ProgressFunc observes progress updates. It is called synchronously
// from Decide and must not block.
type ProgressFunc func(ProgressUpdate)

// Option configures a Strategy.
type Option func(*Strategy)

// WithProgress registers a progress observer.
func WithProgress(fn ProgressFunc) Option {
	return func(s *Strategy) { s.onProgress = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Strategy) { s.now = now }
}

// Strategy makes continuation decisions. It holds no per-loop state and
// may be shared by every agent of a session.
type Strategy struct {
	logger     *slog.Logger
	now        func() time.Time
	onProgress ProgressFunc
}

// NewStrategy creates a Strategy.
func NewStrategy(logger *slog.Logger, opts ...Option) *Strategy {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Strategy{
		logger: logger.With("component", "continuation"),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Begin starts a fresh loop under limits and returns its Active state.
func (s *Strategy) Begin(limits Limits) *State {
	now := s.now()
	st := &State{
		Phase:          PhaseActive,
		MaxIterations:  limits.MaxIterations,
		RequireSignal:  limits.RequireSignal,
		StartedAt:      now,
		IterationStart: now,
	}
	if limits.Deadline > 0 {
		st.Deadline = now.Add(limits.Deadline)
	}
	return st
}

const genericContinue = "Please continue with the task. When everything is finished, say so."

var (
	continueCues = regexp.MustCompile(`(?i)\b(let me|next,? i'll|next i will|now i will|now i'll|i'll now)\b`)
	completeCues = regexp.MustCompile(`(?i)\b(done|complete|completed|finished)\b`)
)

// Decide consumes the outcome of the turn that just finished and moves
// st to Continuing or Terminated. A Terminated state stays terminated.
func (s *Strategy) Decide(st *State, out Outcome) Decision {
	if st.Phase == PhaseTerminated {
		return Decision{Phase: PhaseTerminated, Reason: st.LastReason}
	}
	st.Phase = PhaseActive

	d := s.evaluate(st, out)

	if d.Continue() {
		switch {
		case st.MaxIterations <= 0 || st.Iteration >= st.MaxIterations:
			d = Decision{Phase: PhaseTerminated, Reason: ReasonMaxIterations, Signal: d.Signal}
		case !st.Deadline.IsZero() && !s.now().Before(st.Deadline):
			d = Decision{Phase: PhaseTerminated, Reason: ReasonDeadline, Signal: d.Signal}
		}
	}

	st.Phase = d.Phase
	st.LastReason = d.Reason

	if !d.Continue() {
		if d.Reason.SafetyLimit() {
			s.logger.Info("continuation limit reached",
				"reason", d.Reason,
				"iter", st.Iteration,
				"max_iterations", st.MaxIterations,
				"elapsed", s.now().Sub(st.StartedAt).Round(time.Millisecond),
			)
		} else {
			s.logger.Debug("continuation terminated", "reason", d.Reason, "iter", st.Iteration)
		}
		return d
	}

	st.Iteration++
	st.IterationStart = s.now()
	if d.Signal != nil && d.Signal.Progress != nil {
		p := *d.Signal.Progress
		st.LastProgress = &p
	}

	s.logger.Debug("continuing", "reason", d.Reason, "iter", st.Iteration, "max_iterations", st.MaxIterations)

	if s.onProgress != nil {
		upd := ProgressUpdate{
			Iteration:     st.Iteration,
			MaxIterations: st.MaxIterations,
			Progress:      st.LastProgress,
			Description:   d.Message,
		}
		if d.Signal != nil && d.Signal.Reason != "" {
			upd.Description = d.Signal.Reason
		}
		s.onProgress(upd)
	}
	return d
}

func (s *Strategy) evaluate(st *State, out Outcome) Decision {
	sig, ok := ExtractSignal(out.Content)

	switch {
	case !ok && st.RequireSignal:
		return Decision{Phase: PhaseTerminated, Reason: ReasonSignalRequired}
	case ok && sig.Status == StatusTerminate:
		return Decision{Phase: PhaseTerminated, Reason: ReasonSignalTerminate, Signal: sig}
	case ok && sig.Status == StatusContinue:
		return Decision{
			Phase:   PhaseContinuing,
			Reason:  ReasonSignalContinue,
			Message: followUp(sig),
			Signal:  sig,
		}
	}

	completed := completeCues.MatchString(out.Content)
	if !completed && (out.ToolCalls > 0 || continueCues.MatchString(out.Content)) {
		return Decision{Phase: PhaseContinuing, Reason: ReasonHeuristicContinue, Message: genericContinue}
	}
	return Decision{Phase: PhaseTerminated, Reason: ReasonHeuristicStop}
}

// followUp builds the synthetic user message for a CONTINUE signal.
func followUp(sig *Signal) string {
	var b strings.Builder
	b.WriteString("Continue.")
	if na := sig.NextAction; na != nil && (na.Type != "" || na.Description != "") {
		b.WriteString(" Next action")
		if na.Type != "" {
			fmt.Fprintf(&b, " (%s)", na.Type)
		}
		if na.Description != "" {
			fmt.Fprintf(&b, ": %s", na.Description)
		}
		b.WriteString(".")
	}
	if p := sig.Progress; p != nil && p.TotalSteps > 0 {
		fmt.Fprintf(&b, " You are on step %d of %d.", p.CurrentStep, p.TotalSteps)
	}
	return b.String()
}
