// Package config handles Conclave configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/conclave/config.yaml, /etc/conclave/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "conclave", "config.yaml"))
	}

	paths = append(paths, "/etc/conclave/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Conclave configuration.
type Config struct {
	Listen       ListenConfig           `yaml:"listen" toml:"listen"`
	Auth         AuthConfig             `yaml:"auth" toml:"auth"`
	Models       ModelsConfig           `yaml:"models" toml:"models"`
	Anthropic    AnthropicConfig        `yaml:"anthropic" toml:"anthropic"`
	Agents       map[string]AgentConfig `yaml:"agents" toml:"agents"`
	Turn         TurnConfig             `yaml:"turn" toml:"turn"`
	Continuation ContinuationConfig     `yaml:"continuation" toml:"continuation"`
	Monitor      MonitorConfig          `yaml:"monitor" toml:"monitor"`
	MQTT         MQTTConfig             `yaml:"mqtt" toml:"mqtt"`
	DataDir      string                 `yaml:"data_dir" toml:"data_dir"`
	LogLevel     string                 `yaml:"log_level" toml:"log_level"`
	LogFormat    string                 `yaml:"log_format" toml:"log_format"` // text or json
}

// ListenConfig defines the RPC server settings.
type ListenConfig struct {
	Address string `yaml:"address" toml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port" toml:"port"`
}

// Addr returns the host:port string for net/http.
func (l ListenConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Address, l.Port)
}

// AuthConfig enables bearer-token authentication on the RPC endpoint.
// Authentication is off when JWTSecret is empty.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" toml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl" toml:"token_ttl"`
}

// Enabled reports whether RPC connections must present a token.
func (a AuthConfig) Enabled() bool { return a.JWTSecret != "" }

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey   string `yaml:"api_key" toml:"api_key"`
	Endpoint string `yaml:"endpoint" toml:"endpoint"` // Override for proxies and tests
}

// ModelsConfig defines model routing settings.
type ModelsConfig struct {
	Default   string        `yaml:"default" toml:"default"`
	OllamaURL string        `yaml:"ollama_url" toml:"ollama_url"`
	Available []ModelConfig `yaml:"available" toml:"available"`
}

// ModelConfig defines a single model's capabilities.
type ModelConfig struct {
	Name          string `yaml:"name" toml:"name"`
	Provider      string `yaml:"provider" toml:"provider"` // ollama, anthropic
	SupportsTools bool   `yaml:"supports_tools" toml:"supports_tools"`
	// MultiTool marks models that may emit several tool calls per
	// response. Such models get a tighter continuation budget and must
	// emit an explicit continuation signal to keep going.
	MultiTool     bool `yaml:"multi_tool" toml:"multi_tool"`
	ContextWindow int  `yaml:"context_window" toml:"context_window"`
}

// AgentConfig overrides the built-in profile of one agent.
type AgentConfig struct {
	Model         string        `yaml:"model" toml:"model"`
	SystemPrompt  string        `yaml:"system_prompt" toml:"system_prompt"`
	MaxIterations int           `yaml:"max_iterations" toml:"max_iterations"`
	RequireSignal *bool         `yaml:"require_signal" toml:"require_signal"`
	AutoContinue  *bool         `yaml:"auto_continue" toml:"auto_continue"`
	Deadline      time.Duration `yaml:"deadline" toml:"deadline"`
}

// TurnConfig bounds a single turn of the turn engine.
type TurnConfig struct {
	MaxToolCalls int           `yaml:"max_tool_calls" toml:"max_tool_calls"`
	CallTimeout  time.Duration `yaml:"call_timeout" toml:"call_timeout"`
	ToolTimeout  time.Duration `yaml:"tool_timeout" toml:"tool_timeout"`
	RetryBackoff time.Duration `yaml:"retry_backoff" toml:"retry_backoff"`
}

// ContinuationConfig bounds an auto-continue loop. Zero MaxIterations
// means the limit is derived from the model capability.
type ContinuationConfig struct {
	MaxIterations int           `yaml:"max_iterations" toml:"max_iterations"`
	Deadline      time.Duration `yaml:"deadline" toml:"deadline"`
}

// MonitorConfig tunes anomaly detection and intervention.
type MonitorConfig struct {
	SweepInterval         time.Duration `yaml:"sweep_interval" toml:"sweep_interval"`
	StallThreshold        time.Duration `yaml:"stall_threshold" toml:"stall_threshold"`
	ErrorBurstThreshold   int           `yaml:"error_burst_threshold" toml:"error_burst_threshold"`
	ErrorWindow           time.Duration `yaml:"error_window" toml:"error_window"`
	ToolLoopThreshold     int           `yaml:"tool_loop_threshold" toml:"tool_loop_threshold"`
	ToolLoopWindow        time.Duration `yaml:"tool_loop_window" toml:"tool_loop_window"`
	LatencySamples        int           `yaml:"latency_samples" toml:"latency_samples"`
	LatencyThreshold      time.Duration `yaml:"latency_threshold" toml:"latency_threshold"`
	MaxInterventions      int           `yaml:"max_interventions" toml:"max_interventions"`
	RateWindow            time.Duration `yaml:"rate_window" toml:"rate_window"`
	EscalateAfterFailures int           `yaml:"escalate_after_failures" toml:"escalate_after_failures"`
}

// MQTTConfig defines the operator escalation broker. Escalations are
// only published when Broker is set.
type MQTTConfig struct {
	Broker      string `yaml:"broker" toml:"broker"` // e.g. mqtt://host:1883 or mqtts://host:8883
	ClientID    string `yaml:"client_id" toml:"client_id"`
	Username    string `yaml:"username" toml:"username"`
	Password    string `yaml:"password" toml:"password"`
	TopicPrefix string `yaml:"topic_prefix" toml:"topic_prefix"`
}

// Configured reports whether an MQTT broker is set.
func (m MQTTConfig) Configured() bool { return m.Broker != "" }

// Load reads configuration from a YAML or TOML file. Environment
// variables in the file are expanded before decoding. Defaults are
// applied and the result is validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{
		Models: ModelsConfig{
			Default: "qwen3:4b",
			Available: []ModelConfig{
				{
					Name:          "qwen3:4b",
					Provider:      "ollama",
					SupportsTools: true,
					ContextWindow: 4096,
				},
				{
					Name:          "claude-sonnet-4-20250514",
					Provider:      "anthropic",
					SupportsTools: true,
					MultiTool:     true,
					ContextWindow: 200000,
				},
			},
		},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Models.OllamaURL == "" {
		c.Models.OllamaURL = "http://localhost:11434"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}

	t := &c.Turn
	if t.MaxToolCalls == 0 {
		t.MaxToolCalls = 10
	}
	if t.CallTimeout == 0 {
		t.CallTimeout = 120 * time.Second
	}
	if t.ToolTimeout == 0 {
		t.ToolTimeout = 30 * time.Second
	}
	if t.RetryBackoff == 0 {
		t.RetryBackoff = time.Second
	}

	if c.Continuation.Deadline == 0 {
		c.Continuation.Deadline = 10 * time.Minute
	}

	m := &c.Monitor
	if m.SweepInterval == 0 {
		m.SweepInterval = 5 * time.Second
	}
	if m.StallThreshold == 0 {
		m.StallThreshold = 30 * time.Second
	}
	if m.ErrorBurstThreshold == 0 {
		m.ErrorBurstThreshold = 5
	}
	if m.ErrorWindow == 0 {
		m.ErrorWindow = 60 * time.Second
	}
	if m.ToolLoopThreshold == 0 {
		m.ToolLoopThreshold = 3
	}
	if m.ToolLoopWindow == 0 {
		m.ToolLoopWindow = 60 * time.Second
	}
	if m.LatencySamples == 0 {
		m.LatencySamples = 5
	}
	if m.LatencyThreshold == 0 {
		m.LatencyThreshold = 45 * time.Second
	}
	if m.MaxInterventions == 0 {
		m.MaxInterventions = 2
	}
	if m.RateWindow == 0 {
		m.RateWindow = time.Minute
	}
	if m.EscalateAfterFailures == 0 {
		m.EscalateAfterFailures = 2
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "conclave"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "conclave"
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", c.Listen.Port)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format %q (valid: text, json)", c.LogFormat)
	}
	if c.Models.Default == "" {
		return fmt.Errorf("models.default is required")
	}
	for _, m := range c.Models.Available {
		switch m.Provider {
		case "", "ollama", "anthropic":
		default:
			return fmt.Errorf("model %q: unknown provider %q", m.Name, m.Provider)
		}
		if m.Provider == "anthropic" && c.Anthropic.APIKey == "" {
			return fmt.Errorf("model %q uses anthropic but anthropic.api_key is empty", m.Name)
		}
	}
	if c.Turn.MaxToolCalls < 0 {
		return fmt.Errorf("turn.max_tool_calls must not be negative")
	}
	if c.Continuation.MaxIterations < 0 {
		return fmt.Errorf("continuation.max_iterations must not be negative")
	}
	for id, a := range c.Agents {
		if a.MaxIterations < 0 {
			return fmt.Errorf("agents.%s.max_iterations must not be negative", id)
		}
	}
	m := c.Monitor
	if m.ErrorBurstThreshold < 1 || m.ToolLoopThreshold < 1 || m.LatencySamples < 1 ||
		m.MaxInterventions < 1 || m.EscalateAfterFailures < 1 {
		return fmt.Errorf("monitor thresholds must be positive")
	}
	return nil
}

// Model returns the capability record for a model name.
func (c *Config) Model(name string) (ModelConfig, bool) {
	for _, m := range c.Models.Available {
		if m.Name == name {
			return m, true
		}
	}
	return ModelConfig{}, false
}
