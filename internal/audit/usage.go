package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/conclave/internal/session"
)

// Summary holds aggregated turn usage.
type Summary struct {
	Turns             int   `json:"turns"`
	TotalInputTokens  int64 `json:"input_tokens"`
	TotalOutputTokens int64 `json:"output_tokens"`
	TotalBackendCalls int64 `json:"backend_calls"`
	TotalToolCalls    int64 `json:"tool_calls"`
}

// RecordUsage persists the usage of one turn.
func (s *Store) RecordUsage(ctx context.Context, u session.Usage) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate usage record ID: %w", err)
	}
	if u.At.IsZero() {
		u.At = time.Now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO turn_usage
			(id, timestamp, session_id, agent_id, model, input_tokens, output_tokens,
			 backend_calls, tool_calls, finish_reason, elapsed_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(),
		u.At.UTC().Format(time.RFC3339),
		u.SessionID,
		u.AgentID,
		u.Model,
		u.InputTokens,
		u.OutputTokens,
		u.BackendCalls,
		u.ToolCalls,
		u.FinishReason,
		u.Elapsed.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert turn usage: %w", err)
	}
	return nil
}

// UsageSummary returns totals for turns within [start, end).
func (s *Store) UsageSummary(ctx context.Context, start, end time.Time) (*Summary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0),
		        COALESCE(SUM(backend_calls), 0), COALESCE(SUM(tool_calls), 0)
		 FROM turn_usage
		 WHERE timestamp >= ? AND timestamp < ?`,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)

	var sum Summary
	if err := row.Scan(&sum.Turns, &sum.TotalInputTokens, &sum.TotalOutputTokens, &sum.TotalBackendCalls, &sum.TotalToolCalls); err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	return &sum, nil
}

// UsageByAgent returns per-agent totals for turns within [start, end).
func (s *Store) UsageByAgent(ctx context.Context, start, end time.Time) (map[string]*Summary, error) {
	return s.usageGroupedBy(ctx, "agent_id", start, end)
}

// UsageByModel returns per-model totals for turns within [start, end).
func (s *Store) UsageByModel(ctx context.Context, start, end time.Time) (map[string]*Summary, error) {
	return s.usageGroupedBy(ctx, "model", start, end)
}

func (s *Store) usageGroupedBy(ctx context.Context, column string, start, end time.Time) (map[string]*Summary, error) {
	// column is one of our own constants, never user input.
	query := fmt.Sprintf(
		`SELECT %s, COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0),
		        COALESCE(SUM(backend_calls), 0), COALESCE(SUM(tool_calls), 0)
		 FROM turn_usage
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY %s`,
		column, column,
	)
	rows, err := s.db.QueryContext(ctx, query,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage by %s: %w", column, err)
	}
	defer rows.Close()

	result := make(map[string]*Summary)
	for rows.Next() {
		var key string
		var sum Summary
		if err := rows.Scan(&key, &sum.Turns, &sum.TotalInputTokens, &sum.TotalOutputTokens, &sum.TotalBackendCalls, &sum.TotalToolCalls); err != nil {
			return nil, fmt.Errorf("scan usage by %s: %w", column, err)
		}
		result[key] = &sum
	}
	return result, rows.Err()
}
