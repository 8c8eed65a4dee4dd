package session

import (
	"context"
	"sync"
	"time"

	"github.com/nugget/conclave/internal/agent"
	"github.com/nugget/conclave/internal/continuation"
	"github.com/nugget/conclave/internal/conversation"
	"github.com/nugget/conclave/internal/llm"
)

// Progress is sent to the client on every continuation iteration.
type Progress struct {
	AgentID       string                 `json:"agentId"`
	Iteration     int                    `json:"iteration"`
	MaxIterations int                    `json:"maxIterations"`
	Description   string                 `json:"description,omitempty"`
	Progress      *continuation.Progress `json:"progress,omitempty"`
}

// Notifier receives out-of-band output for one session's client. All
// methods are called synchronously from the session's loop and must
// not block for long.
type Notifier interface {
	// Progress reports a continuation iteration.
	Progress(sessionID string, p Progress)
	// Stream forwards backend tokens and tool activity.
	Stream(sessionID, agentID string, ev llm.StreamEvent)
	// Reply delivers the result of a message the client did not send,
	// such as a monitor injection.
	Reply(sessionID string, r *Reply)
}

type nopNotifier struct{}

func (nopNotifier) Progress(string, Progress)                {}
func (nopNotifier) Stream(string, string, llm.StreamEvent) {}
func (nopNotifier) Reply(string, *Reply)                    {}

// Reply is the aggregated result of one inbound message.
type Reply struct {
	Content    string   `json:"content"`
	AgentID    string   `json:"agentId"`
	Iterations int      `json:"iterations"`
	ToolCalls  int      `json:"toolCalls"`
	StopReason string   `json:"stopReason"`
	Handoffs   []string `json:"handoffs,omitempty"`
}

// SwitchResult is returned by SwitchAgent.
type SwitchResult struct {
	From string `json:"from"`
	// AgentID is the active agent afterwards, which differs from the
	// requested one when the activation handed off.
	AgentID string `json:"agentId"`
	// Activated is true when the target had unread mail and was run.
	Activated bool   `json:"activated"`
	Content   string `json:"content,omitempty"`
	Reply     *Reply `json:"-"`
}

// AgentInfo describes one agent's state within a session.
type AgentInfo struct {
	ID            string `json:"id"`
	Messages      int    `json:"messages"`
	Unread        int    `json:"unread"`
	Phase         string `json:"phase"`
	Iteration     int    `json:"iteration"`
	MaxIterations int    `json:"maxIterations"`
}

// Info is a snapshot of a session.
type Info struct {
	ID          string      `json:"sessionId"`
	ActiveAgent string      `json:"activeAgent"`
	CreatedAt   time.Time   `json:"createdAt"`
	Busy        bool        `json:"busy"`
	Agents      []AgentInfo `json:"agents"`
}

// Session is one client connection's orchestration state. It is only
// mutated by its Manager.
type Session struct {
	ID        string
	CreatedAt time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	notifier Notifier
	strategy *continuation.Strategy

	// sem serialises messages: holding the slot means owning the
	// conversations and continuation states.
	sem chan struct{}

	mu         sync.Mutex
	active     string
	loopAgent  string
	convs      map[string]*conversation.Context
	// states holds copies; the loop owns the live State.
	states     map[string]continuation.State
	turnCancel context.CancelFunc
	handoff    string
	closed     bool
}

// acquire waits for the session's turn slot.
func (s *Session) acquire(ctx context.Context) (func(), error) {
	select {
	case s.sem <- struct{}{}:
	case <-s.ctx.Done():
		return nil, ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if s.ctx.Err() != nil {
		<-s.sem
		return nil, ErrSessionClosed
	}
	return func() { <-s.sem }, nil
}

func (s *Session) busy() bool {
	return len(s.sem) > 0
}

func (s *Session) activeAgent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Session) setActive(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.active
	s.active = id
	return prev
}

// conversation returns the agent's history, creating it on first use.
func (s *Session) conversation(p *agent.Profile) *conversation.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[p.ID]
	if !ok {
		c = conversation.New(p.SystemPrompt)
		s.convs[p.ID] = c
	}
	return c
}

func (s *Session) beginLoop(agentID string, st *continuation.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loopAgent = agentID
	if st != nil {
		s.states[agentID] = *st
	}
}

// recordState publishes a copy of the loop's state after a decision.
func (s *Session) recordState(agentID string, st *continuation.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[agentID] = *st
}

func (s *Session) setTurnCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnCancel = cancel
}

// interrupt cancels the in-flight message loop, reporting whether
// there was one.
func (s *Session) interrupt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turnCancel == nil {
		return false
	}
	s.turnCancel()
	s.turnCancel = nil
	return true
}

func (s *Session) requestHandoff(target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handoff = target
}

func (s *Session) takeHandoff() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.handoff
	s.handoff = ""
	return t
}

func (s *Session) pendingHandoff() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handoff != ""
}

// reset clears one agent's history and continuation state.
func (s *Session) reset(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[agentID]; ok {
		c.Clear()
	}
	delete(s.states, agentID)
	if s.handoff != "" && s.loopAgent == agentID {
		s.handoff = ""
	}
}

func (s *Session) agentInfo(ids []string) []AgentInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AgentInfo, 0, len(ids))
	for _, id := range ids {
		ai := AgentInfo{ID: id, Phase: string(continuation.PhaseIdle)}
		if c, ok := s.convs[id]; ok {
			ai.Messages = c.Len()
		}
		if st, ok := s.states[id]; ok {
			ai.Phase = string(st.Phase)
			ai.Iteration = st.Iteration
			ai.MaxIterations = st.MaxIterations
		}
		out = append(out, ai)
	}
	return out
}
