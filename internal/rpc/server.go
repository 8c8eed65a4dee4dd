// Package rpc exposes sessions to clients as JSON-RPC 2.0 over a
// WebSocket, plus a few plain HTTP endpoints for health and monitor
// inspection.
//
// Each WebSocket connection owns exactly one session: it is opened on
// connect, announced with a session.opened notification, and closed on
// disconnect.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/conclave/internal/buildinfo"
	"github.com/nugget/conclave/internal/connwatch"
	"github.com/nugget/conclave/internal/monitor"
	"github.com/nugget/conclave/internal/session"
)

// Sessions is the part of the session manager the server drives.
type Sessions interface {
	Open(n session.Notifier) (*session.Session, error)
	Close(id string) error
	SendMessage(ctx context.Context, id, text string) (*session.Reply, error)
	SwitchAgent(ctx context.Context, id, agentID string) (*session.SwitchResult, error)
	Info(id string) (*session.Info, error)
	ResetAgent(ctx context.Context, id string) error
}

// Monitor exposes the monitor's in-memory logs.
type Monitor interface {
	Alerts(limit int) []monitor.Alert
	Interventions(limit int) []monitor.InterventionRecord
}

// Health reports dependency reachability.
type Health interface {
	Status() []connwatch.Status
	Ready() bool
}

// Config wires a Server. Monitor, Health and Auth are optional.
type Config struct {
	Addr     string
	Sessions Sessions
	Monitor  Monitor
	Health   Health
	Auth     *Authenticator
	Logger   *slog.Logger
}

// Server is the RPC and HTTP front end.
type Server struct {
	addr     string
	sessions Sessions
	monitor  Monitor
	health   Health
	auth     *Authenticator
	logger   *slog.Logger
	upgrader websocket.Upgrader
	server   *http.Server
}

// NewServer creates a Server. Call Start to listen.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:     cfg.Addr,
		sessions: cfg.Sessions,
		monitor:  cfg.Monitor,
		health:   cfg.Health,
		auth:     cfg.Auth,
		logger:   logger.With("component", "rpc"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clients are programs, not browsers; access control is the token.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /rpc", s.handleRPC)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /v1/monitor/alerts", s.handleAlerts)
	mux.HandleFunc("GET /v1/monitor/interventions", s.handleInterventions)
	return s.withLogging(mux)
}

// Start listens until Shutdown is called. It returns nil on a clean
// shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.logger.Info("starting RPC server", "addr", s.addr, "auth", s.auth != nil)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server. Hijacked WebSocket connections
// are not tracked by net/http; they end when the base context passed
// to Start is cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	subject, err := s.auth.authenticate(r)
	if err != nil {
		s.logger.Warn("rpc connection rejected", "remote", r.RemoteAddr, "error", err)
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	c := &conn{ws: ws, sessions: s.sessions, logger: s.logger}
	sess, err := s.sessions.Open(c)
	if err != nil {
		s.logger.Error("open session failed", "error", err)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session unavailable"),
			time.Now().Add(writeWait))
		return
	}
	c.sessionID = sess.ID
	c.logger = s.logger.With("session_id", sess.ID, "remote", r.RemoteAddr)
	if subject != "" {
		c.logger = c.logger.With("subject", subject)
	}
	c.logger.Info("client connected")

	c.notify("session.opened", map[string]any{"sessionId": sess.ID})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		// Unblock the read loop on server shutdown.
		_ = ws.SetReadDeadline(time.Now())
	})
	defer stop()

	c.serve(ctx)

	if err := s.sessions.Close(sess.ID); err != nil && !errors.Is(err, session.ErrSessionClosed) {
		c.logger.Warn("close session failed", "error", err)
	}
	c.logger.Info("client disconnected")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write JSON response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "healthy"}
	status := http.StatusOK
	if s.health != nil {
		resp["services"] = s.health.Status()
		if !s.health.Ready() {
			resp["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, buildinfo.RuntimeInfo())
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return 50
	}
	return n
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := []monitor.Alert{}
	if s.monitor != nil {
		if a := s.monitor.Alerts(limitParam(r)); a != nil {
			alerts = a
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (s *Server) handleInterventions(w http.ResponseWriter, r *http.Request) {
	recs := []monitor.InterventionRecord{}
	if s.monitor != nil {
		if v := s.monitor.Interventions(limitParam(r)); v != nil {
			recs = v
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"interventions": recs})
}
