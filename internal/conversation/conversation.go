// Package conversation holds the per-agent message history the turn
// engine reads and appends to.
package conversation

import (
	"sync"

	"github.com/nugget/conclave/internal/llm"
)

// Context is the ordered message history owned by one agent within one
// session. It only grows, except for Clear. Appended messages are never
// modified; Messages returns a copy.
type Context struct {
	mu       sync.Mutex
	system   string
	messages []llm.Message
}

// New creates a Context seeded with a system prompt. An empty prompt
// leaves the history empty.
func New(systemPrompt string) *Context {
	c := &Context{system: systemPrompt}
	c.seed()
	return c
}

func (c *Context) seed() {
	c.messages = nil
	if c.system != "" {
		c.messages = append(c.messages, llm.Message{Role: llm.RoleSystem, Content: c.system})
	}
}

// Append adds messages to the end of the history.
func (c *Context) Append(msgs ...llm.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range msgs {
		if len(m.ToolCalls) > 0 {
			m.ToolCalls = append([]llm.ToolCall(nil), m.ToolCalls...)
		}
		c.messages = append(c.messages, m)
	}
}

// Messages returns a copy of the history.
func (c *Context) Messages() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.Message, len(c.messages))
	for i, m := range c.messages {
		if len(m.ToolCalls) > 0 {
			m.ToolCalls = append([]llm.ToolCall(nil), m.ToolCalls...)
		}
		out[i] = m
	}
	return out
}

// Len returns the number of messages, including the system prompt.
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// Last returns the most recent message and false when the history is empty.
func (c *Context) Last() (llm.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		return llm.Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// Clear discards everything except the system prompt.
func (c *Context) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seed()
}
