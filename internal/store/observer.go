// ABOUTME: Adapts the ledger to router observer callbacks and agent usage reports
// ABOUTME: Write failures are logged and never affect request handling

package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/flyme/internal/agent"
	"github.com/2389/flyme/internal/router"
)

// Observer records router outcomes and agent usage into a Store.
type Observer struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewObserver creates an Observer writing to store.
func NewObserver(store Store, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{
		store:  store,
		logger: logger.With("component", "ledger"),
		now:    time.Now,
	}
}

// EventDropped implements router.Observer. Dropped events are not recorded.
func (o *Observer) EventDropped(reason string) {}

// RequestHandled implements router.Observer.
func (o *Observer) RequestHandled(ctx context.Context, out router.Outcome) {
	req := &Request{
		ID:          out.RequestID,
		Transport:   out.Transport,
		UserID:      out.UserID,
		Intent:      out.Intent.String(),
		Outcome:     agent.KindLabel(out.Err),
		PromptChars: out.PromptChars,
		ReplyChars:  out.ReplyChars,
		Duration:    out.Duration,
		CreatedAt:   o.now(),
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if err := o.store.SaveRequest(ctx, req); err != nil {
		o.logger.Error("failed to record request", "request_id", req.ID, "error", err)
	}
}

// RecordUsage stores one agent run's token usage. It matches
// agent.RunnerConfig.OnUsage.
func (o *Observer) RecordUsage(u agent.Usage) {
	usage := &Usage{
		ID:           uuid.New().String(),
		RequestID:    u.RequestID,
		SessionID:    u.SessionID,
		Intent:       u.Intent.String(),
		Turns:        u.Turns,
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		CreatedAt:    o.now(),
	}
	if err := o.store.SaveUsage(context.Background(), usage); err != nil {
		o.logger.Error("failed to record usage", "request_id", u.RequestID, "error", err)
	}
}

var _ router.Observer = (*Observer)(nil)
