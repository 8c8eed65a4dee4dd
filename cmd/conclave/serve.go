package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/conclave/internal/audit"
	"github.com/nugget/conclave/internal/buildinfo"
	"github.com/nugget/conclave/internal/connwatch"
	"github.com/nugget/conclave/internal/events"
	"github.com/nugget/conclave/internal/monitor"
	"github.com/nugget/conclave/internal/mqtt"
	"github.com/nugget/conclave/internal/rpc"
	"github.com/nugget/conclave/internal/session"
)

// shutdownTimeout bounds the drain of HTTP and MQTT on exit.
const shutdownTimeout = 10 * time.Second

// runServe loads config, wires every component and blocks until SIGINT
// or SIGTERM (or ctx) ends it.
//
// Shutdown order:
//  1. The signal cancels the errgroup context
//  2. The RPC server stops accepting and its WebSocket sessions close
//  3. The monitor waits for running interventions
//  4. MQTT publishes "offline" and disconnects
//  5. The audit database is closed
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := cfg.NewLogger(stdout)
	if err != nil {
		return err
	}
	logger.Info("starting Conclave",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"branch", buildinfo.GitBranch,
		"built", buildinfo.BuildTime,
	)
	logger.Info("config loaded",
		"path", cfgPath,
		"addr", cfg.Listen.Addr(),
		"model", cfg.Models.Default,
		"ollama_url", cfg.Models.OllamaURL,
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// --- Audit store ---
	dbPath := filepath.Join(cfg.DataDir, "conclave.db")
	store, err := audit.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open audit database %s: %w", dbPath, err)
	}
	defer store.Close()
	logger.Info("audit database opened", "path", dbPath)

	bus := events.New()

	c, err := buildCore(cfg, bus, store, logger)
	if err != nil {
		return err
	}
	logger.Info("agents loaded", "agents", c.agents.IDs(), "default", c.agents.Default().ID)

	g, gctx := errgroup.WithContext(ctx)

	// --- Backend health ---
	health := connwatch.NewManager(bus, logger)
	for _, name := range c.backends.Providers() {
		p, _ := c.backends.Provider(name)
		health.Watch(gctx, name, p.Ping, connwatch.DefaultBackoff())
	}

	// --- Monitor and escalation ---
	monOpts := []monitor.Option{
		monitor.WithAuditStore(store),
		monitor.WithEscalator(monitor.NewLogEscalator(logger)),
	}
	var esc *mqtt.Escalator
	stats := &statsAdapter{sessions: c.sessions}
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return err
		}
		esc = mqtt.New(cfg.MQTT, instanceID, stats, logger)
		monOpts = append(monOpts, monitor.WithEscalator(esc))
		logger.Info("MQTT escalation enabled", "broker", cfg.MQTT.Broker, "prefix", cfg.MQTT.TopicPrefix)
	}
	mon := monitor.New(monitor.ConfigFrom(cfg.Monitor), bus, c.sessions, logger, monOpts...)
	stats.monitor = mon

	// --- RPC server ---
	srv := rpc.NewServer(rpc.Config{
		Addr:     cfg.Listen.Addr(),
		Sessions: c.sessions,
		Monitor:  mon,
		Health:   health,
		Auth:     rpc.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		Logger:   logger,
	})

	g.Go(func() error { return mon.Run(gctx) })
	g.Go(func() error { return srv.Start(gctx) })
	if esc != nil {
		g.Go(func() error { return esc.Start(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("RPC server shutdown", "error", err)
		}
		for _, id := range c.sessions.ActiveSessions() {
			_ = c.sessions.Close(id)
		}
		if esc != nil {
			if err := esc.Stop(shutdownCtx); err != nil {
				logger.Warn("MQTT disconnect", "error", err)
			}
		}
		return nil
	})

	err = g.Wait()
	health.Wait()
	if err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// statsAdapter feeds the MQTT status message.
type statsAdapter struct {
	sessions *session.Manager
	monitor  *monitor.Monitor
}

func (a *statsAdapter) ActiveSessions() int { return len(a.sessions.ActiveSessions()) }
func (a *statsAdapter) OpenAlerts() int {
	if a.monitor == nil {
		return 0
	}
	return len(a.monitor.Alerts(0))
}
