// ABOUTME: Tests for Prometheus metric recording
// ABOUTME: Verifies observer callbacks, usage recording and the exposition handler

package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/flyme/internal/agent"
	"github.com/2389/flyme/internal/intent"
	"github.com/2389/flyme/internal/router"
)

func TestMetrics_EventDropped(t *testing.T) {
	m := New()

	m.EventDropped(router.DropSelf)
	m.EventDropped(router.DropSelf)
	m.EventDropped(router.DropDuplicate)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsDroppedTotal.WithLabelValues(router.DropSelf)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDroppedTotal.WithLabelValues(router.DropDuplicate)))
}

func TestMetrics_RequestHandled(t *testing.T) {
	m := New()
	ctx := context.Background()

	m.RequestHandled(ctx, router.Outcome{Intent: intent.FlightSearch, Duration: 2 * time.Second, ReplyChars: 120})
	m.RequestHandled(ctx, router.Outcome{
		Intent: intent.HotelSearch,
		Err:    &agent.Error{Kind: agent.ErrRateLimited, Err: errors.New("429")},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("flight_search", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("hotel_search", "rate_limited")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.RequestDuration))
}

func TestMetrics_RecordUsage(t *testing.T) {
	m := New()

	m.RecordUsage(agent.Usage{Intent: intent.FlightSearch, Turns: 3, PromptTokens: 1200, CompletionTokens: 300})
	m.RecordUsage(agent.Usage{Intent: intent.FlightSearch, Turns: 1, PromptTokens: 800, CompletionTokens: 100})

	assert.Equal(t, 2000.0, testutil.ToFloat64(m.TokensTotal.WithLabelValues("flight_search", "prompt")))
	assert.Equal(t, 400.0, testutil.ToFloat64(m.TokensTotal.WithLabelValues("flight_search", "completion")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.TrackConversations(func() int { return 3 })
	m.EventDropped(router.DropEmpty)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `flyme_events_dropped_total{reason="empty"} 1`)
	assert.Contains(t, string(body), "flyme_conversations 3")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.EventDropped(router.DropSelf)

	assert.Equal(t, 0.0, testutil.ToFloat64(b.EventsDroppedTotal.WithLabelValues(router.DropSelf)))
}
