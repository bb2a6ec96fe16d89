// ABOUTME: Tests for the ledger observer adapter
// ABOUTME: Verifies outcomes and usage land in the store and failures are swallowed

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/flyme/internal/agent"
	"github.com/2389/flyme/internal/intent"
	"github.com/2389/flyme/internal/router"
)

func TestObserver_RecordsOutcomeAndUsage(t *testing.T) {
	store := setupTestStore(t)
	obs := NewObserver(store, nil)
	ctx := context.Background()

	obs.RecordUsage(agent.Usage{
		RequestID:        "req-obs",
		SessionID:        "slack:U1",
		Intent:           intent.HotelSearch,
		Turns:            3,
		PromptTokens:     900,
		CompletionTokens: 90,
	})
	obs.RequestHandled(ctx, router.Outcome{
		RequestID:   "req-obs",
		Transport:   "slack",
		UserID:      "U1",
		Intent:      intent.HotelSearch,
		PromptChars: 500,
		ReplyChars:  300,
		Duration:    1500 * time.Millisecond,
	})

	got, err := store.GetRequest(ctx, "req-obs")
	require.NoError(t, err)
	assert.Equal(t, "hotel_search", got.Intent)
	assert.Equal(t, "ok", got.Outcome)
	assert.Equal(t, 900, got.InputTokens)
	assert.Equal(t, 90, got.OutputTokens)
}

func TestObserver_RecordsFailureKind(t *testing.T) {
	store := setupTestStore(t)
	obs := NewObserver(store, nil)
	ctx := context.Background()

	obs.RequestHandled(ctx, router.Outcome{
		RequestID: "req-fail",
		Intent:    intent.FlightSearch,
		Err:       &agent.Error{Kind: agent.ErrUnknown, Err: errors.New("boom")},
	})

	got, err := store.GetRequest(ctx, "req-fail")
	require.NoError(t, err)
	assert.Equal(t, "unknown", got.Outcome)
}

func TestObserver_AssignsMissingID(t *testing.T) {
	store := setupTestStore(t)
	obs := NewObserver(store, nil)

	obs.RequestHandled(context.Background(), router.Outcome{Intent: intent.FlightSearch})

	requests, err := store.ListRequests(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.NotEmpty(t, requests[0].ID)
}

func TestObserver_WriteFailureDoesNotPanic(t *testing.T) {
	store := setupTestStore(t)
	obs := NewObserver(store, nil)
	require.NoError(t, store.Close())

	assert.NotPanics(t, func() {
		obs.RequestHandled(context.Background(), router.Outcome{RequestID: "x"})
		obs.RecordUsage(agent.Usage{RequestID: "x"})
	})
}
