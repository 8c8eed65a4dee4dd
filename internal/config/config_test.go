package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 9999\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 8080\n"), 0600)

	t.Chdir(dir)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("models:\n  default: m\nauth:\n  jwt_secret: ${CONCLAVE_TEST_SECRET}\n"), 0600)
	t.Setenv("CONCLAVE_TEST_SECRET", "secret123")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Auth.JWTSecret != "secret123" {
		t.Errorf("jwt_secret = %q, want %q", cfg.Auth.JWTSecret, "secret123")
	}
	if !cfg.Auth.Enabled() {
		t.Error("auth should be enabled when a secret is set")
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("models:\n  default: m\nmonitor:\n  stall_threshold: 10s\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"listen.port", cfg.Listen.Port, 8080},
		{"turn.max_tool_calls", cfg.Turn.MaxToolCalls, 10},
		{"turn.call_timeout", cfg.Turn.CallTimeout, 120 * time.Second},
		{"turn.retry_backoff", cfg.Turn.RetryBackoff, time.Second},
		{"monitor.stall_threshold", cfg.Monitor.StallThreshold, 10 * time.Second},
		{"monitor.sweep_interval", cfg.Monitor.SweepInterval, 5 * time.Second},
		{"monitor.max_interventions", cfg.Monitor.MaxInterventions, 2},
		{"monitor.rate_window", cfg.Monitor.RateWindow, time.Minute},
		{"mqtt.topic_prefix", cfg.MQTT.TopicPrefix, "conclave"},
		{"log_format", cfg.LogFormat, "text"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if cfg.MQTT.Configured() {
		t.Error("mqtt should not be configured without a broker")
	}
}

func TestLoad_TOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conclave.toml")
	os.WriteFile(path, []byte(`
log_level = "debug"

[models]
default = "qwen3:4b"

[[models.available]]
name = "qwen3:4b"
provider = "ollama"
supports_tools = true

[agents.tester]
model = "qwen3:4b"
max_iterations = 4
auto_continue = false

[turn]
tool_timeout = "5s"
`), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q", cfg.LogLevel)
	}
	tester, ok := cfg.Agents["tester"]
	if !ok {
		t.Fatal("agents.tester missing")
	}
	if tester.MaxIterations != 4 {
		t.Errorf("tester.max_iterations = %d, want 4", tester.MaxIterations)
	}
	if tester.AutoContinue == nil || *tester.AutoContinue {
		t.Errorf("tester.auto_continue = %v, want false", tester.AutoContinue)
	}
	if cfg.Turn.ToolTimeout != 5*time.Second {
		t.Errorf("turn.tool_timeout = %v, want 5s", cfg.Turn.ToolTimeout)
	}
	if m, ok := cfg.Model("qwen3:4b"); !ok || !m.SupportsTools {
		t.Errorf("Model(qwen3:4b) = %+v, %v", m, ok)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Listen.Port = 70000 }, "listen.port"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "unknown log level"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"no default model", func(c *Config) { c.Models.Default = "" }, "models.default"},
		{"anthropic without key", func(c *Config) { c.Anthropic.APIKey = "" }, "api_key"},
		{"unknown provider", func(c *Config) {
			c.Models.Available = append(c.Models.Available, ModelConfig{Name: "x", Provider: "openai"})
		}, "unknown provider"},
		{"negative agent iterations", func(c *Config) {
			c.Agents = map[string]AgentConfig{"planner": {MaxIterations: -1}}
		}, "agents.planner"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Anthropic.APIKey = "k"
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
