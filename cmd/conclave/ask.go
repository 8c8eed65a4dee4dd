package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/nugget/conclave/internal/events"
	"github.com/nugget/conclave/internal/llm"
	"github.com/nugget/conclave/internal/session"
)

// runAsk handles "conclave ask [-agent id] <question>". It runs one
// in-process session without the server, audit store or monitor and
// prints progress to stderr and the answer to stdout.
func runAsk(ctx context.Context, stdout, stderr io.Writer, configPath string, args []string) error {
	var agentID string
	for len(args) > 0 && strings.HasPrefix(args[0], "-") {
		switch {
		case args[0] == "-agent" && len(args) > 1:
			agentID = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "-agent="):
			agentID = strings.TrimPrefix(args[0], "-agent=")
			args = args[1:]
		default:
			return fmt.Errorf("unknown ask flag: %s", args[0])
		}
	}
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return fmt.Errorf("usage: conclave ask [-agent id] <question>")
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := cfg.NewLogger(stderr)
	if err != nil {
		return err
	}

	c, err := buildCore(cfg, events.New(), nil, logger)
	if err != nil {
		return err
	}

	sess, err := c.sessions.Open(newAskNotifier(stderr))
	if err != nil {
		return err
	}
	defer c.sessions.Close(sess.ID)

	if agentID != "" && agentID != c.agents.Default().ID {
		if _, err := c.sessions.SwitchAgent(ctx, sess.ID, agentID); err != nil {
			return fmt.Errorf("ask: %w", err)
		}
	}

	reply, err := c.sessions.SendMessage(ctx, sess.ID, question)
	if err != nil {
		var te *session.TurnError
		if errors.As(err, &te) && te.Partial != "" {
			fmt.Fprintln(stdout, te.Partial)
		}
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, reply.Content)
	return nil
}

// askNotifier prints session progress as colored lines.
type askNotifier struct {
	w        io.Writer
	progress *color.Color
	tool     *color.Color
	failed   *color.Color
}

func newAskNotifier(w io.Writer) *askNotifier {
	return &askNotifier{
		w:        w,
		progress: color.New(color.FgCyan),
		tool:     color.New(color.FgYellow),
		failed:   color.New(color.FgRed),
	}
}

func (n *askNotifier) Progress(_ string, p session.Progress) {
	line := fmt.Sprintf("[%s] iteration %d/%d", p.AgentID, p.Iteration, p.MaxIterations)
	if p.Progress != nil && p.Progress.TotalSteps > 0 {
		line += fmt.Sprintf(" step %d/%d", p.Progress.CurrentStep, p.Progress.TotalSteps)
	}
	if p.Description != "" {
		line += ": " + p.Description
	}
	n.progress.Fprintln(n.w, line)
}

func (n *askNotifier) Stream(_ string, agentID string, ev llm.StreamEvent) {
	switch ev.Kind {
	case llm.KindToolCallStart:
		if ev.ToolCall != nil {
			n.tool.Fprintf(n.w, "[%s] → %s\n", agentID, ev.ToolCall.Function.Name)
		}
	case llm.KindToolCallDone:
		if ev.ToolError != "" {
			n.failed.Fprintf(n.w, "[%s] ✗ %s: %s\n", agentID, ev.ToolName, ev.ToolError)
		}
	}
}

func (n *askNotifier) Reply(_ string, r *session.Reply) {
	n.progress.Fprintf(n.w, "[%s] %s\n", r.AgentID, r.Content)
}
