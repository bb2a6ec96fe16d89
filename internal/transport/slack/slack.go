// ABOUTME: Slack Socket Mode transport feeding the event router
// ABOUTME: Maps Events API payloads to router events and replies via chat.postMessage

// Package slack connects flyme to Slack over Socket Mode.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	goslack "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/2389/flyme/internal/router"
	"github.com/2389/flyme/internal/transport"
)

// Name identifies this transport in dedupe keys, session IDs and the ledger.
const Name = "slack"

// api is the subset of the Slack Web API the transport calls.
type api interface {
	AuthTestContext(ctx context.Context) (*goslack.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...goslack.MsgOption) (string, string, error)
	GetUserInfoContext(ctx context.Context, user string) (*goslack.User, error)
}

// Config holds Slack credentials.
type Config struct {
	BotToken string
	AppToken string
	Debug    bool
}

// Transport is a Slack Socket Mode client.
type Transport struct {
	api       api
	socket    *socketmode.Client
	botUserID atomic.Value // string
	onReady   func(bool)
	logger    *slog.Logger
}

// New creates a Slack transport. It does not connect until Run.
func New(cfg Config, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	client := goslack.New(cfg.BotToken,
		goslack.OptionAppLevelToken(cfg.AppToken),
		goslack.OptionDebug(cfg.Debug),
	)
	return &Transport{
		api:    client,
		socket: socketmode.New(client, socketmode.OptionDebug(cfg.Debug)),
		logger: logger.With("component", "slack"),
	}
}

// OnConnectionChange registers a callback for connection state changes.
// Must be called before Run.
func (t *Transport) OnConnectionChange(fn func(connected bool)) {
	t.onReady = fn
}

// Run connects and feeds events to sink until ctx is done or the
// connection fails.
func (t *Transport) Run(ctx context.Context, sink transport.Submitter) error {
	auth, err := t.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test: %w", err)
	}
	t.botUserID.Store(auth.UserID)
	t.logger.Info("authenticated", "team", auth.Team, "bot_user", auth.UserID)

	runErr := make(chan error, 1)
	go func() {
		runErr <- t.socket.RunContext(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			t.awaitStop(runErr)
			t.setReady(false)
			return ctx.Err()
		case err := <-runErr:
			t.setReady(false)
			if err == nil || errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			return fmt.Errorf("slack socket mode: %w", err)
		case evt, ok := <-t.socket.Events:
			if !ok {
				return fmt.Errorf("slack socket mode: event channel closed")
			}
			t.handleSocketEvent(ctx, sink, evt)
		}
	}
}

// awaitStop waits for the socket loop to exit, discarding events it still
// delivers so it never blocks on a full channel.
func (t *Transport) awaitStop(runErr <-chan error) {
	for {
		select {
		case <-runErr:
			return
		case _, ok := <-t.socket.Events:
			if !ok {
				<-runErr
				return
			}
		}
	}
}

func (t *Transport) handleSocketEvent(ctx context.Context, sink transport.Submitter, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		t.logger.Info("connecting to slack")
	case socketmode.EventTypeConnected:
		t.logger.Info("connected to slack")
		t.setReady(true)
	case socketmode.EventTypeConnectionError, socketmode.EventTypeDisconnect:
		t.logger.Warn("slack connection lost", "type", evt.Type)
		t.setReady(false)
	case socketmode.EventTypeEventsAPI:
		if evt.Request != nil {
			t.socket.Ack(*evt.Request)
		}
		payload, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			t.logger.Debug("unexpected events api payload", "data", fmt.Sprintf("%T", evt.Data))
			return
		}
		t.dispatch(ctx, sink, payload)
	default:
		t.logger.Debug("ignoring socket mode event", "type", evt.Type)
	}
}

// dispatch translates one Events API payload and submits it.
func (t *Transport) dispatch(ctx context.Context, sink transport.Submitter, payload slackevents.EventsAPIEvent) {
	evt, ok := toEvent(payload, t.selfID())
	if !ok {
		return
	}
	if err := sink.Submit(ctx, evt); err != nil {
		if errors.Is(err, router.ErrDraining) {
			t.logger.Debug("event rejected while draining", "event_id", evt.ID)
			return
		}
		t.logger.Error("failed to submit event", "event_id", evt.ID, "error", err)
	}
}

// toEvent maps a callback payload to a router event. Non-callback payloads
// yield false.
func toEvent(payload slackevents.EventsAPIEvent, selfID string) (router.Event, bool) {
	if payload.Type != slackevents.CallbackEvent {
		return router.Event{}, false
	}

	switch ev := payload.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		return router.Event{
			ID:            messageID(ev.Channel, ev.TimeStamp),
			Type:          router.EventMessage,
			ChannelType:   ev.ChannelType,
			ChannelID:     ev.Channel,
			UserID:        ev.User,
			Text:          ev.Text,
			BotOriginated: ev.BotID != "" || ev.SubType == "bot_message" || (selfID != "" && ev.User == selfID),
		}, true
	case *slackevents.AppMentionEvent:
		return router.Event{
			ID:            messageID(ev.Channel, ev.TimeStamp),
			Type:          router.EventAppMention,
			ChannelID:     ev.Channel,
			UserID:        ev.User,
			Text:          ev.Text,
			BotOriginated: ev.BotID != "" || (selfID != "" && ev.User == selfID),
		}, true
	case *slackevents.AppHomeOpenedEvent:
		return router.Event{
			Type:      router.EventAppHomeOpened,
			ChannelID: ev.Channel,
			UserID:    ev.User,
		}, true
	default:
		return router.Event{Type: router.EventType(payload.InnerEvent.Type)}, true
	}
}

// messageID is the dedupe identifier of a Slack message.
func messageID(channel, ts string) string {
	if channel == "" || ts == "" {
		return ""
	}
	return channel + ":" + ts
}

// Reply posts text to the channel the event came from.
func (t *Transport) Reply(ctx context.Context, evt router.Event, text string) error {
	_, _, err := t.api.PostMessageContext(ctx, evt.ChannelID, goslack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("posting message to %s: %w", evt.ChannelID, err)
	}
	return nil
}

// UserProfile looks up the user's timezone through users.info.
func (t *Transport) UserProfile(ctx context.Context, userID string) (*router.Profile, error) {
	user, err := t.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("users.info %s: %w", userID, err)
	}
	return &router.Profile{
		TimezoneID:    user.TZ,
		TimezoneLabel: user.TZLabel,
	}, nil
}

func (t *Transport) selfID() string {
	id, _ := t.botUserID.Load().(string)
	return id
}

func (t *Transport) setReady(ready bool) {
	if t.onReady != nil {
		t.onReady(ready)
	}
}

var (
	_ router.Replier       = (*Transport)(nil)
	_ router.ProfileLookup = (*Transport)(nil)
)
