// ABOUTME: SQLite implementation of the ledger Store using modernc.org/sqlite
// ABOUTME: Creates the schema on open and persists handled-request metadata

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if path == MemoryPath {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite ledger initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS requests (
			id TEXT PRIMARY KEY,
			transport TEXT NOT NULL,
			user_id TEXT NOT NULL,
			intent TEXT NOT NULL,
			outcome TEXT NOT NULL,
			prompt_chars INTEGER NOT NULL DEFAULT 0,
			reply_chars INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_requests_created
			ON requests(created_at);

		CREATE INDEX IF NOT EXISTS idx_requests_intent_outcome
			ON requests(intent, outcome);

		CREATE TABLE IF NOT EXISTS agent_usage (
			id TEXT PRIMARY KEY,
			request_id TEXT,
			session_id TEXT NOT NULL,
			intent TEXT NOT NULL,
			turns INTEGER NOT NULL DEFAULT 0,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_agent_usage_request
			ON agent_usage(request_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies column additions for ledgers created by older
// versions. Idempotent.
func (s *SQLiteStore) runMigrations() error {
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "agent_usage",
			column: "turns",
			apply:  `ALTER TABLE agent_usage ADD COLUMN turns INTEGER NOT NULL DEFAULT 0`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking %s.%s: %w", m.table, m.column, err)
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite ledger")
	return s.db.Close()
}

// SaveRequest stores a handled request.
func (s *SQLiteStore) SaveRequest(ctx context.Context, req *Request) error {
	query := `
		INSERT INTO requests (
			id, transport, user_id, intent, outcome,
			prompt_chars, reply_chars, duration_ms, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		req.ID,
		req.Transport,
		req.UserID,
		req.Intent,
		req.Outcome,
		req.PromptChars,
		req.ReplyChars,
		req.Duration.Milliseconds(),
		req.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting request: %w", err)
	}

	s.logger.Debug("saved request", "id", req.ID, "intent", req.Intent, "outcome", req.Outcome)
	return nil
}

const requestColumns = `
	r.id, r.transport, r.user_id, r.intent, r.outcome,
	r.prompt_chars, r.reply_chars, r.duration_ms, r.created_at,
	COALESCE(SUM(u.input_tokens), 0), COALESCE(SUM(u.output_tokens), 0)
`

// GetRequest retrieves a request by ID with its summed token usage.
// Returns ErrNotFound if the request doesn't exist.
func (s *SQLiteStore) GetRequest(ctx context.Context, id string) (*Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM requests r
		LEFT JOIN agent_usage u ON u.request_id = r.id
		WHERE r.id = ?
		GROUP BY r.id
	`

	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("querying request: %w", err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterating request rows: %w", err)
		}
		return nil, ErrNotFound
	}
	return scanRequest(rows)
}

// ListRequests returns the most recent requests, newest first.
func (s *SQLiteStore) ListRequests(ctx context.Context, limit int) ([]*Request, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + requestColumns + `
		FROM requests r
		LEFT JOIN agent_usage u ON u.request_id = r.id
		GROUP BY r.id
		ORDER BY r.created_at DESC, r.rowid DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var requests []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating request rows: %w", err)
	}

	return requests, nil
}

// scanRequest scans a single request row into a Request struct.
func scanRequest(rows *sql.Rows) (*Request, error) {
	var req Request
	var durationMs int64
	var createdAtStr string

	err := rows.Scan(
		&req.ID,
		&req.Transport,
		&req.UserID,
		&req.Intent,
		&req.Outcome,
		&req.PromptChars,
		&req.ReplyChars,
		&durationMs,
		&createdAtStr,
		&req.InputTokens,
		&req.OutputTokens,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning request row: %w", err)
	}

	req.Duration = time.Duration(durationMs) * time.Millisecond
	req.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &req, nil
}

// nullString converts empty strings to NULL for optional columns.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Ensure SQLiteStore implements Store interface.
var _ Store = (*SQLiteStore)(nil)
