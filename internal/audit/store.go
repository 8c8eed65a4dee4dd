// Package audit persists monitor alerts, intervention records and
// per-turn usage in SQLite. Every table is append-only.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/conclave/internal/monitor"
)

// Store is the audit database. All methods are safe for concurrent use
// (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// NewStore opens or creates the audit database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS alerts (
		id         TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		session_id TEXT NOT NULL,
		agent_id   TEXT,
		type       TEXT NOT NULL,
		severity   TEXT NOT NULL,
		evidence   TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at);
	CREATE INDEX IF NOT EXISTS idx_alerts_session ON alerts(session_id);

	CREATE TABLE IF NOT EXISTS interventions (
		id         TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		alert_id   TEXT NOT NULL,
		session_id TEXT NOT NULL,
		strategy   TEXT NOT NULL,
		outcome    TEXT NOT NULL,
		detail     TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_interventions_created ON interventions(created_at);
	CREATE INDEX IF NOT EXISTS idx_interventions_alert ON interventions(alert_id);

	CREATE TABLE IF NOT EXISTS turn_usage (
		id            TEXT PRIMARY KEY,
		timestamp     TEXT NOT NULL,
		session_id    TEXT NOT NULL,
		agent_id      TEXT NOT NULL,
		model         TEXT NOT NULL,
		input_tokens  INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		backend_calls INTEGER NOT NULL,
		tool_calls    INTEGER NOT NULL,
		finish_reason TEXT NOT NULL,
		elapsed_ms    INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turn_usage_timestamp ON turn_usage(timestamp);
	CREATE INDEX IF NOT EXISTS idx_turn_usage_session ON turn_usage(session_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordAlert persists a.
func (s *Store) RecordAlert(ctx context.Context, a monitor.Alert) error {
	evidence, err := json.Marshal(a.Evidence)
	if err != nil {
		return fmt.Errorf("marshal alert evidence: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, created_at, session_id, agent_id, type, severity, evidence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.CreatedAt.UTC().Format(time.RFC3339Nano),
		a.SessionID,
		a.AgentID,
		string(a.Type),
		string(a.Severity),
		string(evidence),
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// RecordIntervention persists r.
func (s *Store) RecordIntervention(ctx context.Context, r monitor.InterventionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO interventions (id, created_at, alert_id, session_id, strategy, outcome, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID,
		r.CreatedAt.UTC().Format(time.RFC3339Nano),
		r.AlertID,
		r.SessionID,
		string(r.Strategy),
		string(r.Outcome),
		r.Detail,
	)
	if err != nil {
		return fmt.Errorf("insert intervention: %w", err)
	}
	return nil
}

// RecentAlerts returns up to limit alerts, newest first.
func (s *Store) RecentAlerts(ctx context.Context, limit int) ([]monitor.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, session_id, COALESCE(agent_id, ''), type, severity, COALESCE(evidence, '')
		 FROM alerts ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []monitor.Alert
	for rows.Next() {
		var (
			a                       monitor.Alert
			created, typ, sev, body string
		)
		if err := rows.Scan(&a.ID, &created, &a.SessionID, &a.AgentID, &typ, &sev, &body); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Type = monitor.AlertType(typ)
		a.Severity = monitor.Severity(sev)
		a.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		if body != "" && body != "null" {
			if err := json.Unmarshal([]byte(body), &a.Evidence); err != nil {
				return nil, fmt.Errorf("decode evidence for alert %s: %w", a.ID, err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// RecentInterventions returns up to limit intervention records, newest
// first.
func (s *Store) RecentInterventions(ctx context.Context, limit int) ([]monitor.InterventionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, alert_id, session_id, strategy, outcome, COALESCE(detail, '')
		 FROM interventions ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query interventions: %w", err)
	}
	defer rows.Close()

	var out []monitor.InterventionRecord
	for rows.Next() {
		var (
			r                          monitor.InterventionRecord
			created, strategy, outcome string
		)
		if err := rows.Scan(&r.ID, &created, &r.AlertID, &r.SessionID, &strategy, &outcome, &r.Detail); err != nil {
			return nil, fmt.Errorf("scan intervention: %w", err)
		}
		r.Strategy = monitor.Strategy(strategy)
		r.Outcome = monitor.Outcome(outcome)
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, r)
	}
	return out, rows.Err()
}
