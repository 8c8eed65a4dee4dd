package continuation

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStrategy(opts ...Option) (*Strategy, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clk.now)}, opts...)
	return NewStrategy(nil, opts...), clk
}

func TestDefaultsFor(t *testing.T) {
	single := DefaultsFor(false)
	if single.MaxIterations != 10 || single.RequireSignal {
		t.Errorf("single-tool defaults = %+v", single)
	}
	multi := DefaultsFor(true)
	if multi.MaxIterations != 3 || !multi.RequireSignal {
		t.Errorf("multi-tool defaults = %+v", multi)
	}
}

func TestDecide_Order(t *testing.T) {
	continueSig := FormatSignal(Signal{Status: StatusContinue, NextAction: &NextAction{Type: "tool", Description: "run tests"}})
	terminateSig := FormatSignal(Signal{Status: StatusTerminate, Reason: "done"})

	tests := []struct {
		name       string
		require    bool
		out        Outcome
		wantPhase  Phase
		wantReason Reason
	}{
		{
			// Scenario D
			name:       "required signal missing despite cues",
			require:    true,
			out:        Outcome{Content: "Let me look at the next file. Next I'll run the tests.", ToolCalls: 2},
			wantPhase:  PhaseTerminated,
			wantReason: ReasonSignalRequired,
		},
		{
			name:       "terminate signal",
			require:    true,
			out:        Outcome{Content: "Let me stop. " + terminateSig, ToolCalls: 1},
			wantPhase:  PhaseTerminated,
			wantReason: ReasonSignalTerminate,
		},
		{
			name:       "continue signal",
			require:    true,
			out:        Outcome{Content: "Step 1 finished. " + continueSig},
			wantPhase:  PhaseContinuing,
			wantReason: ReasonSignalContinue,
		},
		{
			name:       "heuristic tool call without completion",
			out:        Outcome{Content: "Read the file.", ToolCalls: 1},
			wantPhase:  PhaseContinuing,
			wantReason: ReasonHeuristicContinue,
		},
		{
			name:       "heuristic continuation cue",
			out:        Outcome{Content: "Now I will write the fix."},
			wantPhase:  PhaseContinuing,
			wantReason: ReasonHeuristicContinue,
		},
		{
			name:       "heuristic completion cue wins",
			out:        Outcome{Content: "Let me summarize: everything is done.", ToolCalls: 1},
			wantPhase:  PhaseTerminated,
			wantReason: ReasonHeuristicStop,
		},
		{
			name:       "plain answer stops",
			out:        Outcome{Content: "7 + 7 = 14"},
			wantPhase:  PhaseTerminated,
			wantReason: ReasonHeuristicStop,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestStrategy()
			st := s.Begin(Limits{MaxIterations: 5, RequireSignal: tt.require})
			d := s.Decide(st, tt.out)
			if d.Phase != tt.wantPhase || d.Reason != tt.wantReason {
				t.Fatalf("Decide = %s/%s, want %s/%s", d.Phase, d.Reason, tt.wantPhase, tt.wantReason)
			}
			if st.Phase != tt.wantPhase {
				t.Errorf("state phase = %s, want %s", st.Phase, tt.wantPhase)
			}
			if d.Continue() && d.Message == "" {
				t.Error("continuing decision must carry a follow-up message")
			}
		})
	}
}

func TestDecide_SignalFollowUpUsesNextAction(t *testing.T) {
	s, _ := newTestStrategy()
	st := s.Begin(Limits{MaxIterations: 3})
	d := s.Decide(st, Outcome{Content: FormatSignal(Signal{
		Status:     StatusContinue,
		NextAction: &NextAction{Type: "tool", Description: "run the integration suite"},
		Progress:   &Progress{CurrentStep: 1, TotalSteps: 3},
	})})

	want := "Continue. Next action (tool): run the integration suite. You are on step 1 of 3."
	if d.Message != want {
		t.Errorf("Message = %q, want %q", d.Message, want)
	}
}

func TestDecide_IterationNeverExceedsMax(t *testing.T) {
	for _, max := range []int{0, 1, 3, 10} {
		s, _ := newTestStrategy()
		st := s.Begin(Limits{MaxIterations: max})

		continues := 0
		for range max + 5 {
			d := s.Decide(st, Outcome{Content: `{"status":"CONTINUE"}`})
			if st.Iteration > max {
				t.Fatalf("max %d: iteration %d exceeds max", max, st.Iteration)
			}
			if !d.Continue() {
				if d.Reason != ReasonMaxIterations {
					t.Errorf("max %d: stop reason = %s, want max_iterations", max, d.Reason)
				}
				break
			}
			continues++
		}
		if continues != max {
			t.Errorf("max %d: continued %d times", max, continues)
		}
	}
}

func TestDecide_Deadline(t *testing.T) {
	s, clk := newTestStrategy()
	st := s.Begin(Limits{MaxIterations: 10, Deadline: time.Minute})

	if d := s.Decide(st, Outcome{Content: "Let me keep going."}); !d.Continue() {
		t.Fatalf("first decision = %+v, want continue", d)
	}
	clk.advance(2 * time.Minute)
	d := s.Decide(st, Outcome{Content: "Let me keep going."})
	if d.Continue() || d.Reason != ReasonDeadline {
		t.Fatalf("after deadline = %s/%s, want terminated/deadline", d.Phase, d.Reason)
	}
	if !d.Reason.SafetyLimit() {
		t.Error("deadline should count as a safety limit")
	}
}

func TestDecide_TerminatedIsSticky(t *testing.T) {
	s, _ := newTestStrategy()
	st := s.Begin(Limits{MaxIterations: 5})
	s.Decide(st, Outcome{Content: "All finished."})

	d := s.Decide(st, Outcome{Content: `{"status":"CONTINUE"}`})
	if d.Continue() || d.Reason != ReasonHeuristicStop {
		t.Errorf("terminated state resumed: %+v", d)
	}
}

func TestDecide_ProgressObserver(t *testing.T) {
	var updates []ProgressUpdate
	s, clk := newTestStrategy(WithProgress(func(u ProgressUpdate) { updates = append(updates, u) }))
	st := s.Begin(Limits{MaxIterations: 5})

	clk.advance(time.Second)
	s.Decide(st, Outcome{Content: FormatSignal(Signal{
		Status:   StatusContinue,
		Reason:   "tests written",
		Progress: &Progress{CurrentStep: 1, TotalSteps: 2, CompletionPercentage: 50},
	})})
	s.Decide(st, Outcome{Content: "Let me check one more thing."})
	s.Decide(st, Outcome{Content: "Finished."})

	if len(updates) != 2 {
		t.Fatalf("got %d progress updates, want 2", len(updates))
	}
	if updates[0].Iteration != 1 || updates[0].Description != "tests written" {
		t.Errorf("first update = %+v", updates[0])
	}
	if updates[0].Progress == nil || updates[0].Progress.CompletionPercentage != 50 {
		t.Errorf("first update progress = %+v", updates[0].Progress)
	}
	if updates[1].Iteration != 2 {
		t.Errorf("second update iteration = %d", updates[1].Iteration)
	}
	if !st.IterationStart.Equal(clk.t) {
		t.Errorf("IterationStart = %v, want %v", st.IterationStart, clk.t)
	}
}
