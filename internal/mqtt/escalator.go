package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/conclave/internal/buildinfo"
	"github.com/nugget/conclave/internal/config"
	"github.com/nugget/conclave/internal/monitor"
)

// ErrNotConnected is returned by Escalate before Start has created the
// connection.
var ErrNotConnected = errors.New("mqtt escalator not started")

// StatsSource provides the numbers in the periodic status message.
type StatsSource interface {
	ActiveSessions() int
	// OpenAlerts returns the number of alerts raised since start.
	OpenAlerts() int
}

// publisher is the part of *autopaho.ConnectionManager the escalator
// publishes through.
type publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Escalator publishes monitor escalations to an MQTT broker.
type Escalator struct {
	cfg            config.MQTTConfig
	instanceID     string
	stats          StatsSource
	statusInterval time.Duration
	logger         *slog.Logger

	mu sync.RWMutex
	cm *autopaho.ConnectionManager
	// pub is cm, or a fake in tests.
	pub publisher
}

// New creates an Escalator but does not connect. Call [Escalator.Start]
// to connect. stats may be nil, which disables status publishing.
func New(cfg config.MQTTConfig, instanceID string, stats StatsSource, logger *slog.Logger) *Escalator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Escalator{
		cfg:            cfg,
		instanceID:     instanceID,
		stats:          stats,
		statusInterval: time.Minute,
		logger:         logger.With("component", "mqtt"),
	}
}

// Start connects to the broker and publishes status snapshots until
// ctx is cancelled. Reconnection is automatic.
func (e *Escalator) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(e.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: e.cfg.Username,
		ConnectPassword: []byte(e.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   e.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			e.logger.Info("mqtt connected to broker", "broker", e.cfg.Broker)
			e.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			e.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: e.cfg.ClientID,
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	e.mu.Lock()
	e.cm = cm
	e.pub = cm
	e.mu.Unlock()

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		e.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	e.runStatusLoop(ctx)
	return nil
}

// Stop publishes "offline" and disconnects.
func (e *Escalator) Stop(ctx context.Context) error {
	e.mu.RLock()
	cm := e.cm
	e.mu.RUnlock()
	if cm == nil {
		return nil
	}
	e.publishAvailability(ctx, cm, "offline")
	return cm.Disconnect(ctx)
}

// Escalate publishes esc to <prefix>/escalations with QoS 1.
func (e *Escalator) Escalate(ctx context.Context, esc monitor.Escalation) error {
	e.mu.RLock()
	pub := e.pub
	e.mu.RUnlock()
	if pub == nil {
		return ErrNotConnected
	}

	payload, err := json.Marshal(e.escalationPayload(esc))
	if err != nil {
		return fmt.Errorf("marshal escalation: %w", err)
	}
	if _, err := pub.Publish(ctx, &paho.Publish{
		Topic:   e.escalationTopic(),
		Payload: payload,
		QoS:     1,
	}); err != nil {
		return fmt.Errorf("publish escalation: %w", err)
	}
	e.logger.Info("escalation published",
		"topic", e.escalationTopic(),
		"session_id", esc.Alert.SessionID,
		"alert", esc.Alert.Type,
	)
	return nil
}

type escalationMessage struct {
	Instance  string         `json:"instance"`
	Version   string         `json:"version"`
	SessionID string         `json:"session_id"`
	AgentID   string         `json:"agent_id,omitempty"`
	AlertID   string         `json:"alert_id"`
	AlertType string         `json:"alert_type"`
	Severity  string         `json:"severity"`
	Reason    string         `json:"reason"`
	Evidence  map[string]any `json:"evidence,omitempty"`
	At        string         `json:"at"`
}

func (e *Escalator) escalationPayload(esc monitor.Escalation) escalationMessage {
	at := esc.At
	if at.IsZero() {
		at = time.Now()
	}
	return escalationMessage{
		Instance:  e.instanceID,
		Version:   buildinfo.Version,
		SessionID: esc.Alert.SessionID,
		AgentID:   esc.Alert.AgentID,
		AlertID:   esc.Alert.ID,
		AlertType: string(esc.Alert.Type),
		Severity:  string(esc.Alert.Severity),
		Reason:    esc.Reason,
		Evidence:  esc.Alert.Evidence,
		At:        at.UTC().Format(time.RFC3339),
	}
}

func (e *Escalator) availabilityTopic() string { return e.cfg.TopicPrefix + "/availability" }
func (e *Escalator) escalationTopic() string   { return e.cfg.TopicPrefix + "/escalations" }
func (e *Escalator) statusTopic() string       { return e.cfg.TopicPrefix + "/status" }

func (e *Escalator) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   e.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		e.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
		return
	}
	e.logger.Info("mqtt availability published", "status", status)
}

func (e *Escalator) runStatusLoop(ctx context.Context) {
	if e.stats == nil {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(e.statusInterval)
	defer ticker.Stop()

	e.publishStatus(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.publishStatus(ctx)
		}
	}
}

func (e *Escalator) publishStatus(ctx context.Context) {
	e.mu.RLock()
	pub := e.pub
	e.mu.RUnlock()
	if pub == nil {
		return
	}

	payload, _ := json.Marshal(map[string]any{
		"instance":        e.instanceID,
		"version":         buildinfo.Version,
		"uptime":          buildinfo.Uptime().Truncate(time.Second).String(),
		"active_sessions": e.stats.ActiveSessions(),
		"alerts":          e.stats.OpenAlerts(),
	})
	if _, err := pub.Publish(ctx, &paho.Publish{
		Topic:   e.statusTopic(),
		Payload: payload,
		QoS:     0,
		Retain:  true,
	}); err != nil {
		e.logger.Debug("mqtt status publish failed", "error", err)
	}
}
