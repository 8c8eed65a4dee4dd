// Package events carries session activity from the turn engine and the
// session manager to observers such as the monitor. Publishing never
// blocks: a subscriber that falls behind loses events. A nil *Bus is
// valid and discards everything, so components need no guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	SourceTurn    = "turn"
	SourceSession = "session"
	SourceMailbox = "mailbox"
	SourceMonitor = "monitor"
	SourceHealth  = "health"
)

// Kind constants describe the type of event within a source.
const (
	// KindLLMCall signals the start of a backend call.
	// Data: iter, model.
	KindLLMCall = "llm_call"
	// KindLLMResponse signals completion of a backend call.
	// Data: iter, model, tokens_in, tokens_out, tool_calls, elapsed_ms.
	KindLLMResponse = "llm_response"
	// KindToolCall signals the start of a tool execution.
	// Data: tool, args (canonical JSON of the arguments).
	KindToolCall = "tool_call"
	// KindToolDone signals completion of a tool execution.
	// Data: tool, ok, duration_ms.
	KindToolDone = "tool_done"
	// KindError signals a backend failure surfaced to the caller.
	// Data: kind, error.
	KindError = "error"

	// KindSessionOpen and KindSessionClose bracket a session's life.
	KindSessionOpen  = "session_open"
	KindSessionClose = "session_close"
	// KindMessageStart and KindMessageEnd bracket one inbound message,
	// including every continuation iteration it triggers.
	// Data (end): iterations, ok.
	KindMessageStart = "message_start"
	KindMessageEnd   = "message_end"
	// KindContinuation signals one continuation decision.
	// Data: phase, reason, iteration.
	KindContinuation = "continuation"
	// KindAgentSwitch signals a change of active agent.
	// Data: from, to.
	KindAgentSwitch = "agent_switch"

	// KindMailSent signals a message enqueued for another agent.
	// Data: id, from, to.
	KindMailSent = "mail_sent"

	// KindAlert and KindIntervention are published by the monitor.
	KindAlert        = "alert"
	KindIntervention = "intervention"

	// KindServiceUp and KindServiceDown are published by health watchers
	// on reachability transitions. Data: service, error (down only).
	KindServiceUp   = "service_up"
	KindServiceDown = "service_down"
)

// Event represents a single activity record published by a component.
// Events are values; subscribers must not mutate Data.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	SessionID string         `json:"session_id,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend lets Unsubscribe accept the receive-only channel the
	// caller holds.
	recvToSend map[<-chan Event]chan Event
	now        func() time.Time
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
		now:        time.Now,
	}
}

// Publish sends an event to all subscribers, stamping Timestamp when it
// is zero. If a subscriber's channel is full the event is dropped for
// that subscriber. Safe to call on a nil receiver.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = b.now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Emit is shorthand for publishing a session-scoped event.
func (b *Bus) Emit(source, kind, sessionID, agentID string, data map[string]any) {
	b.Publish(Event{
		Source:    source,
		Kind:      kind,
		SessionID: sessionID,
		AgentID:   agentID,
		Data:      data,
	})
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Unknown
// channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
