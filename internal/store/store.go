// ABOUTME: Ledger data types and the store interface
// ABOUTME: Requests and agent usage records carry metadata only, never message content

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record doesn't exist
var ErrNotFound = errors.New("not found")

// Request is the ledger entry for one handled search request.
type Request struct {
	ID          string
	Transport   string
	UserID      string
	Intent      string
	Outcome     string // ok, rate_limited, unavailable, unknown
	PromptChars int
	ReplyChars  int
	Duration    time.Duration
	CreatedAt   time.Time

	// Summed from agent_usage when read back.
	InputTokens  int
	OutputTokens int
}

// Usage is the token consumption of one agent run.
type Usage struct {
	ID           string
	RequestID    string
	SessionID    string
	Intent       string
	Turns        int
	InputTokens  int
	OutputTokens int
	CreatedAt    time.Time
}

// StatsFilter narrows GetStats. Nil fields are not applied.
type StatsFilter struct {
	Intent *string
	Since  *time.Time
	Until  *time.Time
}

// Stats aggregates ledger rows.
type Stats struct {
	RequestCount int64
	FailureCount int64
	InputTokens  int64
	OutputTokens int64
	AvgDuration  time.Duration
}

// Store is the ledger persistence interface.
type Store interface {
	SaveRequest(ctx context.Context, req *Request) error
	GetRequest(ctx context.Context, id string) (*Request, error)
	ListRequests(ctx context.Context, limit int) ([]*Request, error)

	SaveUsage(ctx context.Context, usage *Usage) error
	GetRequestUsage(ctx context.Context, requestID string) ([]*Usage, error)

	GetStats(ctx context.Context, filter StatsFilter) (*Stats, error)

	Close() error
}
