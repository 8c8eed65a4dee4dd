// Package session manages client sessions: it serialises inbound
// messages per session, runs the active agent's turn and continuation
// loop, switches agents, and exposes the entry points the monitor uses
// to intervene.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/conclave/internal/agent"
	"github.com/nugget/conclave/internal/continuation"
	"github.com/nugget/conclave/internal/conversation"
	"github.com/nugget/conclave/internal/events"
	"github.com/nugget/conclave/internal/prompts"
	"github.com/nugget/conclave/internal/tools"
	"github.com/nugget/conclave/internal/turn"
)

// maxHandoffs bounds agent-to-agent handoffs triggered by one message.
const maxHandoffs = 3

// tombstoneTTL is how long a closed session's ID keeps answering
// ErrSessionClosed instead of ErrSessionNotFound.
const tombstoneTTL = 10 * time.Minute

// Mailbox is the part of the mailbox the manager needs.
type Mailbox interface {
	Unread(agentID string) int
}

// Usage describes one completed turn.
type Usage struct {
	SessionID    string
	AgentID      string
	Model        string
	InputTokens  int
	OutputTokens int
	BackendCalls int
	ToolCalls    int
	FinishReason string
	Elapsed      time.Duration
	At           time.Time
}

// UsageRecorder persists per-turn usage.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, u Usage) error
}

// Config wires a Manager. Usage is optional.
type Config struct {
	Engine  *turn.Engine
	Agents  *agent.Registry
	Tools   *tools.Registry
	Mailbox Mailbox
	Usage   UsageRecorder
	Bus     *events.Bus
	Logger  *slog.Logger
}

// Manager owns every open session.
type Manager struct {
	engine     *turn.Engine
	agents     *agent.Registry
	agentTools map[string]*tools.Registry
	mail       Mailbox
	usage      UsageRecorder
	bus        *events.Bus
	logger     *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   map[string]time.Time
}

// NewManager creates a Manager. It registers the handoff tool in
// cfg.Tools, so it must run before the registry is shared.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		engine:     cfg.Engine,
		agents:     cfg.Agents,
		agentTools: make(map[string]*tools.Registry),
		mail:       cfg.Mailbox,
		usage:      cfg.Usage,
		bus:        cfg.Bus,
		logger:     logger.With("component", "session"),
		sessions:   make(map[string]*Session),
		closed:     make(map[string]time.Time),
	}

	m.registerHandoffTool(cfg.Tools)
	for _, id := range cfg.Agents.IDs() {
		p, _ := cfg.Agents.Lookup(id)
		m.agentTools[id] = cfg.Tools.FilteredCopy(p.Tools)
	}
	return m
}

// Open creates a session whose active agent is the directory default.
// notifier may be nil.
func (m *Manager) Open(notifier Notifier) (*Session, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:        id.String(),
		CreatedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		notifier:  notifier,
		sem:       make(chan struct{}, 1),
		active:    m.agents.Default().ID,
		convs:     make(map[string]*conversation.Context),
		states:    make(map[string]continuation.State),
	}
	s.strategy = continuation.NewStrategy(m.logger.With("session_id", s.ID),
		continuation.WithProgress(func(u continuation.ProgressUpdate) { m.progress(s, u) }),
	)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.bus.Emit(events.SourceSession, events.KindSessionOpen, s.ID, s.active, nil)
	m.logger.Info("session opened", "session_id", s.ID, "agent", s.active)
	return s, nil
}

// Close cancels any in-flight work and forgets the session. Later
// operations on it return ErrSessionClosed.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		_, wasClosed := m.closed[id]
		m.mu.Unlock()
		if wasClosed {
			return ErrSessionClosed
		}
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	now := time.Now()
	m.closed[id] = now
	for cid, at := range m.closed {
		if now.Sub(at) > tombstoneTTL {
			delete(m.closed, cid)
		}
	}
	m.mu.Unlock()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	m.bus.Emit(events.SourceSession, events.KindSessionClose, id, s.activeAgent(), nil)
	m.logger.Info("session closed", "session_id", id)
	return nil
}

func (m *Manager) get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	if _, ok := m.closed[id]; ok {
		return nil, ErrSessionClosed
	}
	return nil, ErrSessionNotFound
}

// ActiveSessions returns the IDs of open sessions, sorted.
func (m *Manager) ActiveSessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SendMessage runs text through the active agent, waiting for any
// message already in flight on the session. Handoffs requested by the
// agent are carried out before returning.
func (m *Manager) SendMessage(ctx context.Context, id, text string) (*Reply, error) {
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	return m.handle(ctx, s, text)
}

func (m *Manager) handle(ctx context.Context, s *Session, text string) (*Reply, error) {
	reply, err := m.runMessage(ctx, s, s.activeAgent(), text)
	if err != nil {
		s.takeHandoff()
		return nil, err
	}
	if err := m.followHandoffs(ctx, s, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// followHandoffs carries out handoffs requested while producing reply,
// folding each target's activation into it. Requests beyond
// maxHandoffs are dropped so none outlive the current message.
func (m *Manager) followHandoffs(ctx context.Context, s *Session, reply *Reply) error {
	for hops := 0; hops < maxHandoffs; hops++ {
		target := s.takeHandoff()
		if target == "" {
			return nil
		}
		sw, err := m.switchTo(ctx, s, target)
		if err != nil {
			s.takeHandoff()
			return err
		}
		reply.Handoffs = append(reply.Handoffs, target)
		reply.AgentID = target
		if sw.Reply != nil {
			reply.Content = joinContent(reply.Content, sw.Reply.Content)
			reply.Iterations += sw.Reply.Iterations
			reply.ToolCalls += sw.Reply.ToolCalls
			reply.StopReason = sw.Reply.StopReason
		}
	}
	if t := s.takeHandoff(); t != "" {
		m.logger.Warn("handoff limit reached, dropping request", "session_id", s.ID, "target", t)
	}
	return nil
}

// SwitchAgent makes agentID the active agent. If it has unread mail it
// is activated with a normal turn and its reply is returned.
func (m *Manager) SwitchAgent(ctx context.Context, id, agentID string) (*SwitchResult, error) {
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}
	if !m.agents.Known(agentID) {
		return nil, &UnknownAgentError{AgentID: agentID}
	}
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	res, err := m.switchTo(ctx, s, agentID)
	if err != nil {
		s.takeHandoff()
		return nil, err
	}
	if res.Reply == nil {
		return res, nil
	}
	// The activation turn may itself hand off.
	if err := m.followHandoffs(ctx, s, res.Reply); err != nil {
		return nil, err
	}
	res.AgentID = res.Reply.AgentID
	res.Content = res.Reply.Content
	return res, nil
}

func (m *Manager) switchTo(ctx context.Context, s *Session, target string) (*SwitchResult, error) {
	from := s.setActive(target)
	res := &SwitchResult{From: from, AgentID: target}
	if from != target {
		m.bus.Emit(events.SourceSession, events.KindAgentSwitch, s.ID, target, map[string]any{
			"from": from,
			"to":   target,
		})
		m.logger.Info("agent switched", "session_id", s.ID, "from", from, "to", target)
	}

	unread := 0
	if m.mail != nil {
		unread = m.mail.Unread(target)
	}
	if unread == 0 {
		return res, nil
	}

	m.logger.Debug("activating agent with unread mail", "session_id", s.ID, "agent", target, "unread", unread)
	reply, err := m.runMessage(ctx, s, target, prompts.MailboxActivation(unread))
	if err != nil {
		return nil, err
	}
	res.Activated = true
	res.Content = reply.Content
	res.Reply = reply
	return res, nil
}

// Info returns a snapshot of the session.
func (m *Manager) Info(id string) (*Info, error) {
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}
	ids := m.agents.IDs()
	info := &Info{
		ID:          s.ID,
		ActiveAgent: s.activeAgent(),
		CreatedAt:   s.CreatedAt,
		Busy:        s.busy(),
		Agents:      s.agentInfo(ids),
	}
	if m.mail != nil {
		for i := range info.Agents {
			info.Agents[i].Unread = m.mail.Unread(info.Agents[i].ID)
		}
	}
	return info, nil
}

// ResetAgent clears the active agent's history and continuation state.
// Any in-flight turn is interrupted first so the reset does not wait
// behind a stuck loop.
func (m *Manager) ResetAgent(ctx context.Context, id string) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	s.interrupt()
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	agentID := s.activeAgent()
	s.reset(agentID)
	m.logger.Info("agent reset", "session_id", id, "agent", agentID)
	return nil
}

// Interrupt cancels the session's in-flight message, including any
// continuation iterations still to come. The message fails with an
// interrupted TurnError; the session stays open.
func (m *Manager) Interrupt(id string) (bool, error) {
	s, err := m.get(id)
	if err != nil {
		return false, err
	}
	ok := s.interrupt()
	if ok {
		m.logger.Info("turn interrupted", "session_id", id)
	}
	return ok, nil
}

// Inject delivers a system-originated message through the same path as
// a client message. The reply is also pushed to the session's notifier
// because no client request is waiting for it.
func (m *Manager) Inject(ctx context.Context, id, text string) (*Reply, error) {
	reply, err := m.SendMessage(ctx, id, text)
	if err != nil {
		return nil, err
	}
	if s, gerr := m.get(id); gerr == nil {
		s.notifier.Reply(id, reply)
	}
	return reply, nil
}

func (m *Manager) progress(s *Session, u continuation.ProgressUpdate) {
	s.mu.Lock()
	agentID := s.loopAgent
	s.mu.Unlock()

	s.notifier.Progress(s.ID, Progress{
		AgentID:       agentID,
		Iteration:     u.Iteration,
		MaxIterations: u.MaxIterations,
		Description:   u.Description,
		Progress:      u.Progress,
	})
}

func joinContent(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "\n\n" + b
	}
}
