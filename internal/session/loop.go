package session

import (
	"context"
	"time"

	"github.com/nugget/conclave/internal/continuation"
	"github.com/nugget/conclave/internal/events"
	"github.com/nugget/conclave/internal/llm"
	"github.com/nugget/conclave/internal/turn"
)

// Stop reasons for loops that do not consult the continuation strategy.
const (
	StopHandoff = "handoff"
)

// runMessage brackets one inbound message with start and end events.
// The caller holds the session's turn slot.
func (m *Manager) runMessage(ctx context.Context, s *Session, agentID, text string) (*Reply, error) {
	m.bus.Emit(events.SourceSession, events.KindMessageStart, s.ID, agentID, nil)
	start := time.Now()

	reply, err := m.runLoop(ctx, s, agentID, text)

	iterations := 0
	if reply != nil {
		iterations = reply.Iterations
	}
	m.bus.Emit(events.SourceSession, events.KindMessageEnd, s.ID, agentID, map[string]any{
		"iterations": iterations,
		"ok":         err == nil,
	})
	m.logger.Debug("message done",
		"session_id", s.ID,
		"agent", agentID,
		"iterations", iterations,
		"elapsed", time.Since(start).Round(time.Millisecond),
		"error", err,
	)
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// runLoop is the only path that runs turns. It appends first, runs a
// turn, and while the agent auto-continues and the strategy says so,
// appends the strategy's follow-up and runs another. Every turn goes
// through RunTurn, so tool calls are always followed by another
// backend call whether the message came from a client, an activation,
// or a continuation.
func (m *Manager) runLoop(ctx context.Context, s *Session, agentID, first string) (*Reply, error) {
	profile, ok := m.agents.Lookup(agentID)
	if !ok {
		return nil, &UnknownAgentError{AgentID: agentID}
	}
	conv := s.conversation(profile)

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()
	s.setTurnCancel(cancel)
	defer s.setTurnCancel(nil)

	var st *continuation.State
	if profile.AutoContinue {
		st = s.strategy.Begin(profile.Limits)
	}
	s.beginLoop(agentID, st)

	req := turn.Request{
		SessionID: s.ID,
		AgentID:   agentID,
		Model:     profile.Model,
		Tools:     m.agentTools[agentID],
		Stream: func(ev llm.StreamEvent) {
			s.notifier.Stream(s.ID, agentID, ev)
		},
	}

	reply := &Reply{AgentID: agentID}
	msg := first
	for {
		if s.ctx.Err() != nil {
			return nil, ErrSessionClosed
		}
		conv.Append(llm.Message{Role: llm.RoleUser, Content: msg})

		started := time.Now()
		res := m.engine.RunTurn(loopCtx, conv, req)
		m.recordUsage(ctx, s, profile.Model, agentID, res, started)

		reply.Iterations++
		reply.ToolCalls += res.ToolCalls()

		if res.Err != nil {
			if s.ctx.Err() != nil {
				return nil, ErrSessionClosed
			}
			return nil, &TurnError{
				SessionID: s.ID,
				AgentID:   agentID,
				Partial:   joinContent(reply.Content, continuation.StripSignal(res.Content)),
				Err:       res.Err,
			}
		}
		reply.Content = joinContent(reply.Content, continuation.StripSignal(res.Content))

		if st == nil {
			reply.StopReason = string(res.FinishReason)
			return reply, nil
		}

		d := s.strategy.Decide(st, continuation.Outcome{Content: res.Content, ToolCalls: res.ToolCalls()})
		s.recordState(agentID, st)
		m.bus.Emit(events.SourceSession, events.KindContinuation, s.ID, agentID, map[string]any{
			"phase":     string(d.Phase),
			"reason":    string(d.Reason),
			"iteration": st.Iteration,
		})
		if !d.Continue() {
			reply.StopReason = string(d.Reason)
			return reply, nil
		}
		if s.pendingHandoff() {
			reply.StopReason = StopHandoff
			return reply, nil
		}
		msg = d.Message
	}
}

func (m *Manager) recordUsage(ctx context.Context, s *Session, model, agentID string, res *turn.Result, started time.Time) {
	if m.usage == nil || res.BackendCalls == 0 {
		return
	}
	u := Usage{
		SessionID:    s.ID,
		AgentID:      agentID,
		Model:        model,
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
		BackendCalls: res.BackendCalls,
		ToolCalls:    res.ToolCalls(),
		FinishReason: string(res.FinishReason),
		Elapsed:      time.Since(started),
		At:           started,
	}
	if err := m.usage.RecordUsage(context.WithoutCancel(ctx), u); err != nil {
		m.logger.Warn("failed to record turn usage", "session_id", s.ID, "agent", agentID, "error", err)
	}
}
