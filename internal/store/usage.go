// ABOUTME: SQLite implementation for agent token usage and ledger statistics
// ABOUTME: Stores per-run token counts and aggregates them with request outcomes

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SaveUsage stores a token usage record.
func (s *SQLiteStore) SaveUsage(ctx context.Context, usage *Usage) error {
	query := `
		INSERT INTO agent_usage (
			id, request_id, session_id, intent, turns,
			input_tokens, output_tokens, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		usage.ID,
		nullString(usage.RequestID),
		usage.SessionID,
		usage.Intent,
		usage.Turns,
		usage.InputTokens,
		usage.OutputTokens,
		usage.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting usage: %w", err)
	}

	s.logger.Debug("saved token usage",
		"id", usage.ID,
		"request_id", usage.RequestID,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
	)
	return nil
}

// GetRequestUsage retrieves all usage records for a request.
func (s *SQLiteStore) GetRequestUsage(ctx context.Context, requestID string) ([]*Usage, error) {
	query := `
		SELECT id, request_id, session_id, intent, turns,
		       input_tokens, output_tokens, created_at
		FROM agent_usage
		WHERE request_id = ?
		ORDER BY created_at ASC, rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("querying request usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var usages []*Usage
	for rows.Next() {
		usage, err := scanUsage(rows)
		if err != nil {
			return nil, err
		}
		usages = append(usages, usage)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage rows: %w", err)
	}

	return usages, nil
}

// GetStats returns aggregated request and token statistics with optional filters.
func (s *SQLiteStore) GetStats(ctx context.Context, filter StatsFilter) (*Stats, error) {
	where := " WHERE 1=1"
	args := []any{}

	if filter.Intent != nil {
		where += " AND intent = ?"
		args = append(args, *filter.Intent)
	}
	if filter.Since != nil {
		where += " AND created_at >= ?"
		args = append(args, filter.Since.UTC().Format(time.RFC3339))
	}
	if filter.Until != nil {
		where += " AND created_at < ?"
		args = append(args, filter.Until.UTC().Format(time.RFC3339))
	}

	var stats Stats
	var avgMs float64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN outcome != 'ok' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(duration_ms), 0)
		FROM requests`+where, args...).Scan(
		&stats.RequestCount,
		&stats.FailureCount,
		&avgMs,
	)
	if err != nil {
		return nil, fmt.Errorf("querying request stats: %w", err)
	}
	stats.AvgDuration = time.Duration(avgMs * float64(time.Millisecond))

	err = s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0)
		FROM agent_usage
		WHERE request_id IN (SELECT id FROM requests`+where+`)`, args...).Scan(
		&stats.InputTokens,
		&stats.OutputTokens,
	)
	if err != nil {
		return nil, fmt.Errorf("querying usage stats: %w", err)
	}

	return &stats, nil
}

// scanUsage scans a single usage row into a Usage struct.
func scanUsage(rows *sql.Rows) (*Usage, error) {
	var usage Usage
	var requestID sql.NullString
	var createdAtStr string

	err := rows.Scan(
		&usage.ID,
		&requestID,
		&usage.SessionID,
		&usage.Intent,
		&usage.Turns,
		&usage.InputTokens,
		&usage.OutputTokens,
		&createdAtStr,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning usage row: %w", err)
	}

	if requestID.Valid {
		usage.RequestID = requestID.String
	}

	usage.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &usage, nil
}
