// Package mailbox lets agents leave work for one another without the
// sender's turn waiting on the recipient. Each recipient has its own
// FIFO queue and lock; the set of recipients is fixed when the Mailbox
// is built from the agent directory.
package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/conclave/internal/events"
)

// Message is one piece of mail. Values returned by the Mailbox are
// copies; mutating them does not affect queued mail.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Subject   string    `json:"subject,omitempty"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	Read      bool      `json:"read"`
}

// ErrorKind classifies mailbox failures.
type ErrorKind string

// KindUnknownRecipient means the addressee is not in the directory.
const KindUnknownRecipient ErrorKind = "unknown_recipient"

// Error is returned by Send when mail cannot be delivered.
type Error struct {
	Kind  ErrorKind
	Agent string
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindUnknownRecipient:
		return fmt.Sprintf("mailbox: unknown recipient %q", e.Agent)
	default:
		return fmt.Sprintf("mailbox: %s (%s)", e.Kind, e.Agent)
	}
}

type queue struct {
	mu   sync.Mutex
	msgs []Message
}

// Mailbox is the process-wide mail exchange between agents.
type Mailbox struct {
	// queues is populated in New and never written again, so lookups
	// need no lock; each queue guards itself.
	queues map[string]*queue
	bus    *events.Bus
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Mailbox with one queue per agent ID. bus may be nil.
func New(agentIDs []string, bus *events.Bus, logger *slog.Logger) *Mailbox {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Mailbox{
		queues: make(map[string]*queue, len(agentIDs)),
		bus:    bus,
		logger: logger.With("component", "mailbox"),
		now:    time.Now,
	}
	for _, id := range agentIDs {
		m.queues[id] = &queue{}
	}
	return m
}

// Agents returns the addressable agent IDs in sorted order.
func (m *Mailbox) Agents() []string {
	ids := make([]string, 0, len(m.queues))
	for id := range m.queues {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Send enqueues mail for agent to and returns its ID. An unknown
// recipient yields *Error with KindUnknownRecipient and nothing is
// enqueued.
func (m *Mailbox) Send(ctx context.Context, from, to, subject, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	q, ok := m.queues[to]
	if !ok {
		return "", &Error{Kind: KindUnknownRecipient, Agent: to}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate mail id: %w", err)
	}
	msg := Message{
		ID:        id.String(),
		From:      from,
		To:        to,
		Subject:   subject,
		Body:      body,
		CreatedAt: m.now(),
	}

	q.mu.Lock()
	q.msgs = append(q.msgs, msg)
	depth := len(q.msgs)
	q.mu.Unlock()

	m.logger.Debug("mail enqueued", "id", msg.ID, "from", from, "to", to, "depth", depth)
	m.bus.Emit(events.SourceMailbox, events.KindMailSent, "", from, map[string]any{
		"id":   msg.ID,
		"from": from,
		"to":   to,
	})
	return msg.ID, nil
}

// CheckMail drains agentID's queue and returns the messages, oldest
// first, marked read. A second call without intervening Sends returns
// nothing.
func (m *Mailbox) CheckMail(agentID string) []Message {
	q, ok := m.queues[agentID]
	if !ok {
		return nil
	}
	q.mu.Lock()
	msgs := q.msgs
	q.msgs = nil
	q.mu.Unlock()

	for i := range msgs {
		msgs[i].Read = true
	}
	if len(msgs) > 0 {
		m.logger.Debug("mail delivered", "agent_id", agentID, "count", len(msgs))
	}
	return msgs
}

// Peek returns copies of agentID's unread mail without consuming it.
func (m *Mailbox) Peek(agentID string) []Message {
	q, ok := m.queues[agentID]
	if !ok {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Message(nil), q.msgs...)
}

// Unread returns the number of messages waiting for agentID.
func (m *Mailbox) Unread(agentID string) int {
	q, ok := m.queues[agentID]
	if !ok {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}
