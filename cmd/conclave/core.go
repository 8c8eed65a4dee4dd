package main

import (
	"log/slog"

	"github.com/nugget/conclave/internal/agent"
	"github.com/nugget/conclave/internal/config"
	"github.com/nugget/conclave/internal/events"
	"github.com/nugget/conclave/internal/llm"
	"github.com/nugget/conclave/internal/mailbox"
	"github.com/nugget/conclave/internal/session"
	"github.com/nugget/conclave/internal/tools"
	"github.com/nugget/conclave/internal/turn"
)

// core is the orchestration stack shared by serve and ask.
type core struct {
	backends  *llm.MultiClient
	agents    *agent.Registry
	mailbox   *mailbox.Mailbox
	sessions  *session.Manager
}

// buildCore wires backends, agents, tools, mailbox, turn engine and
// session manager. usage may be nil.
func buildCore(cfg *config.Config, bus *events.Bus, usage session.UsageRecorder, logger *slog.Logger) (*core, error) {
	agents, err := agent.NewRegistry(cfg)
	if err != nil {
		return nil, err
	}

	client := createLLMClient(cfg, logger)

	mb := mailbox.New(agents.IDs(), bus, logger)
	reg := tools.NewRegistry()
	tools.RegisterMailTools(reg, mb)

	engine := turn.New(client, turn.Config{
		MaxToolCalls: cfg.Turn.MaxToolCalls,
		CallTimeout:  cfg.Turn.CallTimeout,
		ToolTimeout:  cfg.Turn.ToolTimeout,
		RetryBackoff: cfg.Turn.RetryBackoff,
	}, bus, logger)

	sessions := session.NewManager(session.Config{
		Engine:  engine,
		Agents:  agents,
		Tools:   reg,
		Mailbox: mb,
		Usage:   usage,
		Bus:     bus,
		Logger:  logger,
	})

	return &core{
		backends:  client,
		agents:    agents,
		mailbox:   mb,
		sessions:  sessions,
	}, nil
}

// createLLMClient routes each configured model to its provider. Unknown
// models fall back to Ollama.
func createLLMClient(cfg *config.Config, logger *slog.Logger) *llm.MultiClient {
	ollama := llm.NewOllamaClient(cfg.Models.OllamaURL, logger)
	multi := llm.NewMultiClient(ollama)
	multi.AddProvider("ollama", ollama)

	if cfg.Anthropic.APIKey != "" {
		multi.AddProvider("anthropic", llm.NewAnthropicClient(cfg.Anthropic.APIKey, cfg.Anthropic.Endpoint, logger))
		logger.Info("Anthropic provider configured")
	}

	for _, m := range cfg.Models.Available {
		provider := m.Provider
		if provider == "" {
			provider = "ollama"
		}
		multi.AddModel(m.Name, provider)
	}

	logger.Info("LLM client initialized", "default_model", cfg.Models.Default, "providers", multi.Providers())
	return multi
}
