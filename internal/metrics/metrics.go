// ABOUTME: Prometheus metrics for request handling, dropped events and agent token usage
// ABOUTME: Implements router.Observer and the agent usage hook on a private registry

// Package metrics provides Prometheus metrics for flyme.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/flyme/internal/agent"
	"github.com/2389/flyme/internal/router"
)

// Metrics holds all Prometheus metrics for flyme
type Metrics struct {
	registry *prometheus.Registry

	// Router metrics
	EventsDroppedTotal *prometheus.CounterVec
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	ReplyChars         prometheus.Histogram

	// Agent metrics
	AgentTurns  *prometheus.HistogramVec
	TokensTotal *prometheus.CounterVec
}

// New creates all metrics on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{registry: reg}

	m.EventsDroppedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flyme_events_dropped_total",
			Help: "Inbound events ignored before handling, by reason",
		},
		[]string{"reason"},
	)

	m.RequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flyme_requests_total",
			Help: "Handled search requests by intent and outcome",
		},
		[]string{"intent", "outcome"},
	)

	m.RequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flyme_request_duration_seconds",
			Help:    "End-to-end handling time of a search request",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"intent"},
	)

	m.ReplyChars = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flyme_reply_chars",
			Help:    "Length of replies sent to users",
			Buckets: prometheus.ExponentialBuckets(50, 2, 8),
		},
	)

	m.AgentTurns = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flyme_agent_turns",
			Help:    "Chat completion round trips per agent run",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 10, 15, 20},
		},
		[]string{"intent"},
	)

	m.TokensTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flyme_agent_tokens_total",
			Help: "Tokens consumed by agent runs",
		},
		[]string{"intent", "kind"},
	)

	return m
}

// Registry returns the registry backing these metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// TrackConversations exposes the number of users with stored history.
func (m *Metrics) TrackConversations(users func() int) {
	promauto.With(m.registry).NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "flyme_conversations",
			Help: "Users with conversation history in memory",
		},
		func() float64 { return float64(users()) },
	)
}

// EventDropped implements router.Observer.
func (m *Metrics) EventDropped(reason string) {
	m.EventsDroppedTotal.WithLabelValues(reason).Inc()
}

// RequestHandled implements router.Observer.
func (m *Metrics) RequestHandled(ctx context.Context, o router.Outcome) {
	in := o.Intent.String()
	m.RequestsTotal.WithLabelValues(in, agent.KindLabel(o.Err)).Inc()
	m.RequestDuration.WithLabelValues(in).Observe(o.Duration.Seconds())
	m.ReplyChars.Observe(float64(o.ReplyChars))
}

// RecordUsage records the token consumption of one agent run. It matches
// agent.RunnerConfig.OnUsage.
func (m *Metrics) RecordUsage(u agent.Usage) {
	in := u.Intent.String()
	m.AgentTurns.WithLabelValues(in).Observe(float64(u.Turns))
	m.TokensTotal.WithLabelValues(in, "prompt").Add(float64(u.PromptTokens))
	m.TokensTotal.WithLabelValues(in, "completion").Add(float64(u.CompletionTokens))
}

var _ router.Observer = (*Metrics)(nil)
