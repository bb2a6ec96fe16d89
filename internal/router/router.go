// ABOUTME: EventRouter that filters inbound chat events and drives each accepted one to a reply
// ABOUTME: Dispatch table, dedupe, per-user ordering, history, prompt assembly and agent dispatch

package router

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/flyme/internal/agent"
	"github.com/2389/flyme/internal/conversation"
	"github.com/2389/flyme/internal/dedupe"
	"github.com/2389/flyme/internal/intent"
	"github.com/2389/flyme/internal/prompt"
)

// DefaultAckText is the interim reply sent before the agent runs.
const DefaultAckText = "I'm thinking..."

// DefaultMaxTurns bounds each agent run when no limit is configured.
const DefaultMaxTurns = 10

// Drop reasons reported to observers.
const (
	DropSelf        = "self"
	DropUnhandled   = "unhandled"
	DropChannelType = "channel_type"
	DropEmpty       = "empty"
	DropDuplicate   = "duplicate"
	DropDraining    = "draining"
)

// leadingMentions matches one or more leading <@ID> mention tokens.
var leadingMentions = regexp.MustCompile(`^(\s*<@[A-Z0-9]+>)+`)

// acceptor decides whether an event is handled and returns the request text.
type acceptor func(evt Event) (text string, reason string)

// Options configures a Router. Gateway, Store and Replier are required.
type Options struct {
	Gateway   Gateway
	Store     *conversation.Store
	Replier   Replier
	Profiles  ProfileLookup // optional
	Dedupe    *dedupe.Cache // optional
	Observers []Observer    // optional

	// Transport names the event source, e.g. "slack". Used in dedupe keys,
	// session IDs and outcomes.
	Transport string

	MaxTurns     int
	AgentTimeout time.Duration // 0 means no per-request deadline
	AckText      string

	Logger *slog.Logger
}

// Router is the EventRouter.
type Router struct {
	gateway   Gateway
	store     *conversation.Store
	replier   Replier
	profiles  ProfileLookup
	dedupe    *dedupe.Cache
	observers []Observer

	transport    string
	maxTurns     int
	agentTimeout time.Duration
	ackText      string

	handlers map[EventType]acceptor
	queue    *orderedQueue
	logger   *slog.Logger
}

// New creates a Router and registers its dispatch table.
func New(opts Options) (*Router, error) {
	if opts.Gateway == nil {
		return nil, errors.New("router: gateway is required")
	}
	if opts.Store == nil {
		return nil, errors.New("router: conversation store is required")
	}
	if opts.Replier == nil {
		return nil, errors.New("router: replier is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "router")

	r := &Router{
		gateway:      opts.Gateway,
		store:        opts.Store,
		replier:      opts.Replier,
		profiles:     opts.Profiles,
		dedupe:       opts.Dedupe,
		observers:    opts.Observers,
		transport:    opts.Transport,
		maxTurns:     opts.MaxTurns,
		agentTimeout: opts.AgentTimeout,
		ackText:      opts.AckText,
		queue:        newOrderedQueue(logger),
		logger:       logger,
	}
	if r.maxTurns <= 0 {
		r.maxTurns = DefaultMaxTurns
	}
	if r.ackText == "" {
		r.ackText = DefaultAckText
	}

	r.handlers = map[EventType]acceptor{
		EventMessage:       r.acceptDirectMessage,
		EventAppMention:    r.acceptMention,
		EventAppHomeOpened: r.acceptHomeOpened,
	}
	return r, nil
}

// Submit filters evt and, if accepted, queues it behind earlier events from
// the same user. It returns without waiting for the event to be handled.
// Ignored events return nil; ErrDraining is returned after Drain.
func (r *Router) Submit(ctx context.Context, evt Event) error {
	if evt.BotOriginated {
		r.dropped(DropSelf)
		return nil
	}

	accept, ok := r.handlers[evt.Type]
	if !ok {
		r.logger.Debug("ignoring unhandled event type", "type", evt.Type)
		r.dropped(DropUnhandled)
		return nil
	}

	text, reason := accept(evt)
	if reason != "" {
		r.dropped(reason)
		return nil
	}

	if r.dedupe != nil && evt.ID != "" && r.dedupe.Seen(dedupe.Key(r.transport, evt.ID)) {
		r.logger.Debug("duplicate event ignored", "event_id", evt.ID, "user", evt.UserID)
		r.dropped(DropDuplicate)
		return nil
	}

	r.logger.Info("event accepted",
		"type", evt.Type,
		"user", evt.UserID,
		"channel", evt.ChannelID,
		"text", truncate(text, 50),
	)

	// Handling outlives the listener's context so shutdown drains it.
	handleCtx := context.WithoutCancel(ctx)
	err := r.queue.submit(evt.UserID, func() {
		r.handle(handleCtx, evt, text)
	})
	if err != nil {
		r.dropped(DropDraining)
		return err
	}
	return nil
}

// Drain stops accepting events and waits until all accepted events are
// handled or ctx is done.
func (r *Router) Drain(ctx context.Context) error {
	r.queue.close()
	r.logger.Info("draining in-flight events")
	if err := r.queue.wait(ctx); err != nil {
		return err
	}
	r.logger.Info("router drained")
	return nil
}

func (r *Router) acceptDirectMessage(evt Event) (string, string) {
	if evt.ChannelType != ChannelIM {
		return "", DropChannelType
	}
	text := strings.TrimSpace(evt.Text)
	if text == "" {
		return "", DropEmpty
	}
	return text, ""
}

func (r *Router) acceptMention(evt Event) (string, string) {
	text := strings.TrimSpace(StripMention(evt.Text))
	if text == "" {
		return "", DropEmpty
	}
	return text, ""
}

func (r *Router) acceptHomeOpened(evt Event) (string, string) {
	r.logger.Debug("app home opened", "user", evt.UserID)
	return "", DropUnhandled
}

// StripMention removes leading <@ID> mention tokens from text.
func StripMention(text string) string {
	return leadingMentions.ReplaceAllString(text, "")
}

// handle runs the full request pipeline for one accepted event.
func (r *Router) handle(ctx context.Context, evt Event, text string) {
	start := time.Now()
	requestID := uuid.New().String()
	ctx = agent.WithRequestID(ctx, requestID)
	logger := r.logger.With("request_id", requestID, "user", evt.UserID)

	hint, _ := r.locationHint(ctx, evt.UserID)

	if err := r.replier.Reply(ctx, evt, r.ackText); err != nil {
		logger.Warn("failed to send acknowledgement", "error", err)
	}

	in := intent.Classify(text)
	logger.Debug("classified request", "intent", in.String())

	var (
		p     string
		reply string
		err   error
	)
	if r.gatewayAvailable() {
		r.store.Append(evt.UserID, conversation.NewTurn(conversation.RoleUser, text))
		p = prompt.Build(hint, r.store.RecentSummary(evt.UserID), text)
		reply, err = r.search(ctx, in, p, r.sessionID(evt.UserID))
	} else {
		// History is left untouched when the agent was never initialized.
		err = &agent.Error{Kind: agent.ErrUnavailable}
	}
	if err != nil {
		logger.Error("search failed",
			"intent", in.String(),
			"kind", agent.KindLabel(err),
			"error", err,
		)
		reply = agent.UserMessage(err, in)
	} else {
		r.store.Append(evt.UserID, conversation.NewTurn(conversation.RoleAssistant, reply))
	}

	if sendErr := r.replier.Reply(ctx, evt, reply); sendErr != nil {
		logger.Error("failed to send reply", "error", sendErr)
	}

	outcome := Outcome{
		RequestID:   requestID,
		Transport:   r.transport,
		UserID:      evt.UserID,
		Intent:      in,
		Err:         err,
		PromptChars: len(p),
		ReplyChars:  len(reply),
		Duration:    time.Since(start),
	}
	logger.Info("request handled",
		"intent", in.String(),
		"outcome", agent.KindLabel(err),
		"duration", outcome.Duration,
	)
	for _, o := range r.observers {
		o.RequestHandled(ctx, outcome)
	}
}

// search dispatches to the gateway by intent and classifies any failure.
func (r *Router) search(ctx context.Context, in intent.Intent, p, sessionID string) (string, error) {
	if r.agentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.agentTimeout)
		defer cancel()
	}

	var (
		reply string
		err   error
	)
	switch in {
	case intent.HotelSearch:
		reply, err = r.gateway.RunHotelSearch(ctx, p, sessionID, r.maxTurns)
	default:
		reply, err = r.gateway.RunFlightSearch(ctx, p, sessionID, r.maxTurns)
	}
	return reply, agent.Classify(err)
}

// gatewayAvailable reports false only when the gateway says it is not initialized.
func (r *Router) gatewayAvailable() bool {
	a, ok := r.gateway.(Availability)
	return !ok || a.Available()
}

// locationHint looks up the user's timezone. Lookup failures yield no hint.
func (r *Router) locationHint(ctx context.Context, userID string) (string, bool) {
	if r.profiles == nil {
		return "", false
	}
	profile, err := r.profiles.UserProfile(ctx, userID)
	if err != nil {
		r.logger.Debug("profile lookup failed", "user", userID, "error", err)
		return "", false
	}
	return profile.LocationHint()
}

func (r *Router) sessionID(userID string) string {
	if r.transport == "" {
		return userID
	}
	return r.transport + ":" + userID
}

func (r *Router) dropped(reason string) {
	for _, o := range r.observers {
		o.EventDropped(reason)
	}
}

// truncate shortens a string to the given max rune count, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
