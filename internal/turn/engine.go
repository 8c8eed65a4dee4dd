// Package turn runs one logical turn of an agent: it calls the
// reasoning backend, executes requested tools in order, feeds their
// results back, and repeats until the backend stops asking for tools.
package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/conclave/internal/conversation"
	"github.com/nugget/conclave/internal/events"
	"github.com/nugget/conclave/internal/llm"
	"github.com/nugget/conclave/internal/prompts"
	"github.com/nugget/conclave/internal/tools"
)

// Finish reasons beyond the backend's own.
const (
	// FinishBudgetExhausted marks a turn that used its whole tool-call
	// budget and was answered by a final call with tools withheld.
	FinishBudgetExhausted llm.FinishReason = "budget_exhausted"
	// FinishError marks a turn that ended on a backend failure.
	FinishError llm.FinishReason = "error"
)

// Config bounds a turn.
type Config struct {
	MaxToolCalls int
	CallTimeout  time.Duration
	ToolTimeout  time.Duration
	RetryBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxToolCalls <= 0 {
		c.MaxToolCalls = 10
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 120 * time.Second
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = 30 * time.Second
	}
	if c.RetryBackoff < 0 {
		c.RetryBackoff = 0
	}
	return c
}

// Invoker executes tools by name. *tools.Registry satisfies it.
type Invoker interface {
	List() []map[string]any
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
}

// Request identifies who is running the turn and with what.
type Request struct {
	SessionID string
	AgentID   string
	Model     string
	// Tools is the agent's granted tool set. Nil runs the turn without
	// tools.
	Tools Invoker
	// Stream, when set, receives tokens and tool progress as they
	// happen.
	Stream llm.StreamCallback
}

// ToolTrace records one tool invocation.
type ToolTrace struct {
	CallID   string         `json:"call_id"`
	Name     string         `json:"name"`
	Args     map[string]any `json:"args,omitempty"`
	OK       bool           `json:"ok"`
	Result   string         `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// Result aggregates a turn.
type Result struct {
	Content      string
	ToolTrace    []ToolTrace
	FinishReason llm.FinishReason
	BackendCalls int
	InputTokens  int
	OutputTokens int
	// Err is set when the turn ended on a backend failure. Content and
	// ToolTrace hold whatever was produced before it.
	Err *BackendError
}

// ToolCalls returns the number of tools invoked during the turn.
func (r *Result) ToolCalls() int { return len(r.ToolTrace) }

// Engine runs turns. It holds no per-turn state and is shared by every
// session.
type Engine struct {
	llm    llm.Client
	cfg    Config
	bus    *events.Bus
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates an Engine. bus may be nil.
func New(client llm.Client, cfg Config, bus *events.Bus, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		llm:    client,
		cfg:    cfg.withDefaults(),
		bus:    bus,
		logger: logger.With("component", "turn"),
		sleep:  sleepCtx,
	}
}

// RunTurn drives conv to the end of one turn. The caller appends the
// inbound message first; RunTurn appends every assistant and tool
// message it produces. A response carrying tool calls is always
// followed by another backend call before RunTurn returns.
func (e *Engine) RunTurn(ctx context.Context, conv *conversation.Context, req Request) *Result {
	res := &Result{}
	ctx = tools.WithAgentID(tools.WithSessionID(ctx, req.SessionID), req.AgentID)
	log := e.logger.With("session_id", req.SessionID, "agent", req.AgentID, "model", req.Model)

	var toolDefs []map[string]any
	if req.Tools != nil {
		toolDefs = req.Tools.List()
	}

	var (
		afterTools bool
		nudged     bool
	)
	for iter := 0; ; iter++ {
		resp, berr := e.call(ctx, log, req, iter, conv.Messages(), toolDefs, res)
		if berr != nil {
			e.fail(log, req, res, berr)
			return res
		}

		if len(resp.Message.ToolCalls) == 0 {
			content := resp.Message.Content
			if afterTools && strings.TrimSpace(content) == "" {
				if !nudged {
					log.Warn("empty response after tool calls, nudging", "iter", iter)
					nudged = true
					conv.Append(llm.Message{Role: llm.RoleUser, Content: prompts.EmptyResponseNudge})
					continue
				}
				log.Warn("empty response after nudge, using fallback", "iter", iter)
				content = prompts.EmptyResponseFallback
			}
			conv.Append(llm.Message{Role: llm.RoleAssistant, Content: content})
			res.Content = content
			res.FinishReason = resp.FinishReason
			return res
		}

		conv.Append(resp.Message)
		e.runTools(ctx, log, conv, req, resp.Message.ToolCalls, res)
		afterTools = true

		if len(res.ToolTrace) >= e.cfg.MaxToolCalls {
			log.Info("tool call budget exhausted, forcing text response",
				"tool_calls", len(res.ToolTrace),
				"max_tool_calls", e.cfg.MaxToolCalls,
			)
			e.forceTextResponse(ctx, log, conv, req, iter+1, res)
			return res
		}
	}
}

// runTools executes calls in order and appends one tool message per
// call. Calls beyond the budget are answered with an error and not
// executed, so the backend still sees a result for every call ID.
func (e *Engine) runTools(ctx context.Context, log *slog.Logger, conv *conversation.Context, req Request, calls []llm.ToolCall, res *Result) {
	for _, tc := range calls {
		name := tc.Function.Name
		args := tc.Function.Arguments
		argsJSON, _ := json.Marshal(args)

		if len(res.ToolTrace) >= e.cfg.MaxToolCalls {
			conv.Append(llm.Message{
				Role:       llm.RoleTool,
				Content:    "Error: tool call budget exhausted; " + name + " was not run",
				ToolCallID: tc.ID,
			})
			continue
		}

		e.bus.Emit(events.SourceTurn, events.KindToolCall, req.SessionID, req.AgentID, map[string]any{
			"tool": name,
			"args": string(argsJSON),
		})
		if req.Stream != nil {
			call := tc
			req.Stream(llm.StreamEvent{Kind: llm.KindToolCallStart, ToolCall: &call})
		}

		log.Debug("tool exec", "tool", name, "args", string(argsJSON))
		start := time.Now()
		out, err := e.execute(ctx, req.Tools, name, args)
		elapsed := time.Since(start)

		trace := ToolTrace{CallID: tc.ID, Name: name, Args: args, Duration: elapsed}
		content := out
		if err != nil {
			trace.Error = err.Error()
			content = "Error: " + err.Error()
			log.Warn("tool exec failed", "tool", name, "error", err, "elapsed", elapsed.Round(time.Millisecond))
		} else {
			trace.OK = true
			trace.Result = out
			log.Debug("tool exec done", "tool", name, "result_len", len(out), "elapsed", elapsed.Round(time.Millisecond))
		}
		res.ToolTrace = append(res.ToolTrace, trace)

		e.bus.Emit(events.SourceTurn, events.KindToolDone, req.SessionID, req.AgentID, map[string]any{
			"tool":        name,
			"ok":          trace.OK,
			"duration_ms": elapsed.Milliseconds(),
		})
		if req.Stream != nil {
			req.Stream(llm.StreamEvent{Kind: llm.KindToolCallDone, ToolName: name, ToolResult: out, ToolError: trace.Error})
		}

		conv.Append(llm.Message{Role: llm.RoleTool, Content: content, ToolCallID: tc.ID})
	}
}

func (e *Engine) execute(ctx context.Context, inv Invoker, name string, args map[string]any) (string, error) {
	if inv == nil {
		return "", &tools.ErrToolUnavailable{ToolName: name}
	}
	toolCtx, cancel := context.WithTimeout(ctx, e.cfg.ToolTimeout)
	defer cancel()
	out, err := inv.Execute(toolCtx, name, args)
	if err != nil && toolCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return out, fmt.Errorf("%s timed out after %s", name, e.cfg.ToolTimeout)
	}
	return out, err
}

// forceTextResponse makes the final call of a budget-exhausted turn
// with tools withheld. Any tool calls in the reply are discarded.
func (e *Engine) forceTextResponse(ctx context.Context, log *slog.Logger, conv *conversation.Context, req Request, iter int, res *Result) {
	conv.Append(llm.Message{Role: llm.RoleUser, Content: prompts.BudgetExhausted})

	resp, berr := e.call(ctx, log, req, iter, conv.Messages(), nil, res)
	if berr != nil {
		e.fail(log, req, res, berr)
		return
	}
	content := resp.Message.Content
	if strings.TrimSpace(content) == "" {
		content = prompts.EmptyResponseFallback
	}
	conv.Append(llm.Message{Role: llm.RoleAssistant, Content: content})
	res.Content = content
	res.FinishReason = FinishBudgetExhausted
}

// call makes one backend call, retrying once for retryable failures.
func (e *Engine) call(ctx context.Context, log *slog.Logger, req Request, iter int, msgs []llm.Message, toolDefs []map[string]any, res *Result) (*llm.ChatResponse, *BackendError) {
	var lastErr error
	var kind ErrorKind
	for attempt := 1; attempt <= 2; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, &BackendError{Kind: KindCancelled, Attempts: attempt - 1, Err: err}
		}

		e.bus.Emit(events.SourceTurn, events.KindLLMCall, req.SessionID, req.AgentID, map[string]any{
			"iter":  iter,
			"model": req.Model,
		})
		log.Debug("llm call", "iter", iter, "attempt", attempt, "messages", len(msgs), "tools", len(toolDefs))

		start := time.Now()
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		resp, err := e.llm.ChatStream(callCtx, req.Model, msgs, toolDefs, req.Stream)
		cancel()
		elapsed := time.Since(start)
		res.BackendCalls++

		if err == nil && resp == nil {
			err = llm.ErrMalformedResponse
		}
		if err == nil {
			res.InputTokens += resp.InputTokens
			res.OutputTokens += resp.OutputTokens
			e.bus.Emit(events.SourceTurn, events.KindLLMResponse, req.SessionID, req.AgentID, map[string]any{
				"iter":       iter,
				"model":      resp.Model,
				"tokens_in":  resp.InputTokens,
				"tokens_out": resp.OutputTokens,
				"tool_calls": len(resp.Message.ToolCalls),
				"elapsed_ms": elapsed.Milliseconds(),
			})
			log.Debug("llm response",
				"iter", iter,
				"finish", resp.FinishReason,
				"tool_calls", len(resp.Message.ToolCalls),
				"input_tokens", resp.InputTokens,
				"output_tokens", resp.OutputTokens,
				"elapsed", elapsed.Round(time.Millisecond),
			)
			return resp, nil
		}

		lastErr = err
		kind = classify(ctx, err)
		if attempt == 2 || !kind.Retryable() {
			return nil, &BackendError{Kind: kind, Attempts: attempt, Err: err}
		}
		log.Warn("llm call failed, retrying",
			"iter", iter,
			"kind", kind,
			"error", err,
			"backoff", e.cfg.RetryBackoff,
		)
		if err := e.sleep(ctx, e.cfg.RetryBackoff); err != nil {
			return nil, &BackendError{Kind: KindCancelled, Attempts: attempt, Err: err}
		}
	}
	return nil, &BackendError{Kind: kind, Attempts: 2, Err: lastErr}
}

func (e *Engine) fail(log *slog.Logger, req Request, res *Result, berr *BackendError) {
	res.Err = berr
	res.FinishReason = FinishError
	e.bus.Emit(events.SourceTurn, events.KindError, req.SessionID, req.AgentID, map[string]any{
		"kind":  string(berr.Kind),
		"error": berr.Err.Error(),
	})
	if berr.Kind == KindCancelled {
		log.Info("turn cancelled", "backend_calls", res.BackendCalls)
		return
	}
	log.Error("turn failed", "kind", berr.Kind, "attempts", berr.Attempts, "error", berr.Err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
