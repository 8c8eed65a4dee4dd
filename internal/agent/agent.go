// Package agent defines the kinds of agent Conclave runs and resolves
// each one's capabilities (prompt, model, tools, continuation limits)
// once, when the registry is built.
package agent

import (
	"fmt"
	"sort"
	"time"

	"github.com/nugget/conclave/internal/config"
	"github.com/nugget/conclave/internal/continuation"
	"github.com/nugget/conclave/internal/prompts"
	"github.com/nugget/conclave/internal/tools"
)

// Kind enumerates the built-in agents.
type Kind int

const (
	KindAssistant Kind = iota
	KindPlanner
	KindTester
	KindDebugger
	KindExecutor
)

// Kinds lists every Kind in display order.
var Kinds = []Kind{KindAssistant, KindPlanner, KindTester, KindDebugger, KindExecutor}

// String returns the agent ID for the kind.
func (k Kind) String() string {
	switch k {
	case KindAssistant:
		return "assistant"
	case KindPlanner:
		return "planner"
	case KindTester:
		return "tester"
	case KindDebugger:
		return "debugger"
	case KindExecutor:
		return "executor"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps an agent ID to its Kind.
func ParseKind(id string) (Kind, bool) {
	for _, k := range Kinds {
		if k.String() == id {
			return k, true
		}
	}
	return 0, false
}

// capability is the static part of a kind's profile.
type capability struct {
	name         string
	description  string
	systemPrompt string
	// tools is the granted tool set; nil grants every registered tool.
	tools        []string
	autoContinue bool
}

var mailTools = []string{tools.ToolSendMail, tools.ToolCheckMail, tools.ToolPeekMail, tools.ToolHandoff}

var capabilities = map[Kind]capability{
	KindAssistant: {
		name:         "Assistant",
		description:  "General conversation and routing to specialists",
		systemPrompt: prompts.AssistantSystemPrompt,
		tools:        mailTools,
		autoContinue: false,
	},
	KindPlanner: {
		name:         "Planner",
		description:  "Breaks goals into steps and assigns them",
		systemPrompt: prompts.PlannerSystemPrompt,
		tools:        mailTools,
		autoContinue: true,
	},
	KindTester: {
		name:         "Tester",
		description:  "Designs and runs checks",
		systemPrompt: prompts.TesterSystemPrompt,
		autoContinue: true,
	},
	KindDebugger: {
		name:         "Debugger",
		description:  "Finds root causes of failures",
		systemPrompt: prompts.DebuggerSystemPrompt,
		autoContinue: true,
	},
	KindExecutor: {
		name:         "Executor",
		description:  "Carries out concrete steps with tools",
		systemPrompt: prompts.ExecutorSystemPrompt,
		autoContinue: true,
	},
}

// Profile is the resolved configuration of one agent. Profiles are
// shared and must not be modified.
type Profile struct {
	ID          string
	Kind        Kind
	Name        string
	Description string
	// SystemPrompt includes the continuation protocol when AutoContinue
	// is set.
	SystemPrompt string
	Model        string
	// Tools lists granted tool names; nil means all tools.
	Tools        []string
	AutoContinue bool
	MultiTool    bool
	Limits       continuation.Limits
}

// Registry is the directory of agents available to sessions.
type Registry struct {
	profiles map[string]*Profile
	ids      []string
}

// NewRegistry resolves a profile for every Kind from cfg. Entries in
// cfg.Agents must name a known agent.
func NewRegistry(cfg *config.Config) (*Registry, error) {
	for id := range cfg.Agents {
		if _, ok := ParseKind(id); !ok {
			return nil, fmt.Errorf("agents.%s: unknown agent", id)
		}
	}

	r := &Registry{profiles: make(map[string]*Profile, len(Kinds))}
	for _, k := range Kinds {
		p := resolve(k, cfg)
		r.profiles[p.ID] = p
		r.ids = append(r.ids, p.ID)
	}
	return r, nil
}

func resolve(k Kind, cfg *config.Config) *Profile {
	c := capabilities[k]
	id := k.String()
	override := cfg.Agents[id]

	model := cfg.Models.Default
	if override.Model != "" {
		model = override.Model
	}
	mc, _ := cfg.Model(model)

	limits := continuation.DefaultsFor(mc.MultiTool)
	if cfg.Continuation.MaxIterations > 0 {
		limits.MaxIterations = cfg.Continuation.MaxIterations
	}
	if cfg.Continuation.Deadline > 0 {
		limits.Deadline = cfg.Continuation.Deadline
	}
	if override.MaxIterations > 0 {
		limits.MaxIterations = override.MaxIterations
	}
	if override.Deadline > 0 {
		limits.Deadline = override.Deadline
	}
	if override.RequireSignal != nil {
		limits.RequireSignal = *override.RequireSignal
	}

	autoContinue := c.autoContinue
	if override.AutoContinue != nil {
		autoContinue = *override.AutoContinue
	}

	prompt := c.systemPrompt
	if override.SystemPrompt != "" {
		prompt = override.SystemPrompt
	}
	if autoContinue {
		prompt += prompts.ContinuationProtocol(limits.MaxIterations, limits.RequireSignal)
	}

	return &Profile{
		ID:           id,
		Kind:         k,
		Name:         c.name,
		Description:  c.description,
		SystemPrompt: prompt,
		Model:        model,
		Tools:        c.tools,
		AutoContinue: autoContinue,
		MultiTool:    mc.MultiTool,
		Limits:       limits,
	}
}

// Lookup returns the profile for id.
func (r *Registry) Lookup(id string) (*Profile, bool) {
	p, ok := r.profiles[id]
	return p, ok
}

// Known reports whether id names an agent.
func (r *Registry) Known(id string) bool {
	_, ok := r.profiles[id]
	return ok
}

// IDs returns agent IDs in Kind order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.ids...)
}

// Default returns the agent a new session starts with.
func (r *Registry) Default() *Profile {
	return r.profiles[KindAssistant.String()]
}

// Summary describes every agent, for the mail tools' benefit and for
// clients listing agents. Sorted by ID.
func (r *Registry) Summary() []map[string]any {
	out := make([]map[string]any, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, map[string]any{
			"id":             p.ID,
			"name":           p.Name,
			"description":    p.Description,
			"model":          p.Model,
			"auto_continue":  p.AutoContinue,
			"max_iterations": p.Limits.MaxIterations,
			"deadline":       p.Limits.Deadline.Round(time.Second).String(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i]["id"].(string) < out[j]["id"].(string) })
	return out
}
