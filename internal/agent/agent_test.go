package agent

import (
	"strings"
	"testing"
	"time"

	"github.com/nugget/conclave/internal/config"
)

func boolPtr(b bool) *bool { return &b }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Anthropic.APIKey = "k"
	return cfg
}

func TestKindRoundTrip(t *testing.T) {
	for _, k := range Kinds {
		got, ok := ParseKind(k.String())
		if !ok || got != k {
			t.Errorf("ParseKind(%q) = %v, %v", k.String(), got, ok)
		}
	}
	if _, ok := ParseKind("oracle"); ok {
		t.Error("ParseKind should reject unknown ids")
	}
}

func TestNewRegistry_Defaults(t *testing.T) {
	r, err := NewRegistry(testConfig())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	want := []string{"assistant", "planner", "tester", "debugger", "executor"}
	got := r.IDs()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("IDs() = %v, want %v", got, want)
	}
	if r.Default().ID != "assistant" {
		t.Errorf("Default() = %s", r.Default().ID)
	}
	if !r.Known("tester") || r.Known("ghost") {
		t.Error("Known() mismatch")
	}

	// Default model is single-tool: 10 iterations, signal optional.
	planner, _ := r.Lookup("planner")
	if planner.Limits.MaxIterations != 10 || planner.Limits.RequireSignal {
		t.Errorf("planner limits = %+v", planner.Limits)
	}
	if !planner.AutoContinue || !strings.Contains(planner.SystemPrompt, `"status": "CONTINUE"`) {
		t.Error("auto-continue agents should carry the continuation protocol")
	}

	assistant, _ := r.Lookup("assistant")
	if assistant.AutoContinue {
		t.Error("assistant should not auto-continue by default")
	}
	if strings.Contains(assistant.SystemPrompt, "Continuing your work") {
		t.Error("assistant prompt should not include the continuation protocol")
	}

	tester, _ := r.Lookup("tester")
	if tester.Tools != nil {
		t.Errorf("tester tools = %v, want all (nil)", tester.Tools)
	}
}

func TestNewRegistry_MultiToolModel(t *testing.T) {
	cfg := testConfig()
	cfg.Agents = map[string]config.AgentConfig{
		"debugger": {Model: "claude-sonnet-4-20250514"},
	}

	r, err := NewRegistry(cfg)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	dbg, _ := r.Lookup("debugger")
	if !dbg.MultiTool || dbg.Limits.MaxIterations != 3 || !dbg.Limits.RequireSignal {
		t.Errorf("debugger = multi %v limits %+v", dbg.MultiTool, dbg.Limits)
	}
	if !strings.Contains(dbg.SystemPrompt, "If you omit the block") {
		t.Error("required-signal agents should be told the block is mandatory")
	}
}

func TestNewRegistry_Overrides(t *testing.T) {
	cfg := testConfig()
	cfg.Continuation.MaxIterations = 6
	cfg.Agents = map[string]config.AgentConfig{
		"tester":    {MaxIterations: 2, RequireSignal: boolPtr(true), Deadline: time.Minute},
		"assistant": {AutoContinue: boolPtr(true), SystemPrompt: "custom"},
	}

	r, err := NewRegistry(cfg)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	tester, _ := r.Lookup("tester")
	if tester.Limits.MaxIterations != 2 || !tester.Limits.RequireSignal || tester.Limits.Deadline != time.Minute {
		t.Errorf("tester limits = %+v", tester.Limits)
	}
	planner, _ := r.Lookup("planner")
	if planner.Limits.MaxIterations != 6 {
		t.Errorf("planner max = %d, want global override 6", planner.Limits.MaxIterations)
	}
	assistant, _ := r.Lookup("assistant")
	if !assistant.AutoContinue || !strings.HasPrefix(assistant.SystemPrompt, "custom") {
		t.Errorf("assistant override not applied: %+v", assistant)
	}
}

func TestNewRegistry_UnknownAgent(t *testing.T) {
	cfg := testConfig()
	cfg.Agents = map[string]config.AgentConfig{"oracle": {}}
	if _, err := NewRegistry(cfg); err == nil {
		t.Fatal("expected error for unknown agent override")
	}
}
