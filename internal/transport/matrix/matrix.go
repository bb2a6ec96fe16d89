// ABOUTME: Matrix transport feeding the event router
// ABOUTME: Password login, room sync, DM detection by member count and HTML replies

// Package matrix connects flyme to a Matrix homeserver.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/flyme/internal/router"
	"github.com/2389/flyme/internal/transport"
)

// Name identifies this transport in dedupe keys, session IDs and the ledger.
const Name = "matrix"

// networkTimeout bounds Matrix API calls made outside a request context.
const networkTimeout = 10 * time.Second

// api is the subset of the Matrix client-server API the transport calls.
type api interface {
	JoinedMembers(ctx context.Context, roomID id.RoomID) (*mautrix.RespJoinedMembers, error)
	SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON any, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error)
	JoinRoomByID(ctx context.Context, roomID id.RoomID) (*mautrix.RespJoinRoom, error)
}

// Config holds Matrix login and room settings.
type Config struct {
	Homeserver   string
	Username     string
	Password     string
	RecoveryKey  string
	AllowedRooms []string
	// DataDir holds the E2EE crypto database. Encryption is enabled when
	// both DataDir and RecoveryKey are set.
	DataDir string
}

// Transport is a Matrix client.
type Transport struct {
	config  Config
	client  *mautrix.Client
	api     api
	self    id.UserID
	crypto  *CryptoManager
	onReady func(bool)
	started time.Time
	logger  *slog.Logger

	// Joined member counts per room, invalidated on membership changes.
	members sync.Map // id.RoomID -> int
}

// New creates a Matrix transport. It does not contact the homeserver until Login.
func New(cfg Config, logger *slog.Logger) (*Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mautrix.NewClient(cfg.Homeserver, "", "")
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	return &Transport{
		config: cfg,
		client: client,
		api:    client,
		logger: logger.With("component", "matrix"),
	}, nil
}

// OnConnectionChange registers a callback for connection state changes.
// Must be called before Run.
func (t *Transport) OnConnectionChange(fn func(connected bool)) {
	t.onReady = fn
}

// Login authenticates with the homeserver and, when configured, sets up
// end-to-end encryption.
func (t *Transport) Login(ctx context.Context) error {
	resp, err := t.client.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: t.config.Username,
		},
		Password:                 t.config.Password,
		InitialDeviceDisplayName: "flyme",
		StoreCredentials:         true,
	})
	if err != nil {
		return fmt.Errorf("matrix login: %w", err)
	}
	t.self = resp.UserID
	t.logger.Info("logged in", "user_id", resp.UserID.String(), "device_id", resp.DeviceID.String())

	if t.config.RecoveryKey == "" || t.config.DataDir == "" {
		t.logger.Info("encryption disabled (no recovery key)")
		return nil
	}

	crypto, err := SetupCrypto(ctx, t.client, t.self.String(), t.config.RecoveryKey, t.config.DataDir, t.logger)
	if err != nil {
		return fmt.Errorf("setting up encryption: %w", err)
	}
	t.crypto = crypto
	return nil
}

// UserID returns the logged-in user ID.
func (t *Transport) UserID() string {
	return t.self.String()
}

// Close releases the crypto store, if any.
func (t *Transport) Close() error {
	if t.crypto != nil {
		return t.crypto.Close()
	}
	return nil
}

// Run syncs with the homeserver and feeds events to sink until ctx is done
// or the sync fails.
func (t *Transport) Run(ctx context.Context, sink transport.Submitter) error {
	if t.self == "" {
		return errors.New("matrix: Run called before Login")
	}

	syncer, ok := t.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", t.client.Syncer)
	}

	t.started = time.Now()
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		t.handleMessage(ctx, sink, evt)
	})
	syncer.OnEventType(event.StateMember, t.handleMembership)
	syncer.OnSync(func(ctx context.Context, resp *mautrix.RespSync, since string) bool {
		if since == "" {
			t.setReady(true)
		}
		return true
	})

	t.logger.Info("connecting to matrix homeserver", "homeserver", t.config.Homeserver)
	err := t.client.SyncWithContext(ctx)
	t.setReady(false)

	if ctx.Err() != nil {
		t.logger.Info("matrix sync stopped")
		return ctx.Err()
	}
	if err == nil {
		return nil
	}
	return fmt.Errorf("matrix sync failed: %w", err)
}

// handleMessage translates one room message and submits it.
func (t *Transport) handleMessage(ctx context.Context, sink transport.Submitter, evt *event.Event) {
	// Skip backlog delivered by the initial sync.
	if time.UnixMilli(evt.Timestamp).Before(t.started) {
		return
	}
	if !t.isRoomAllowed(evt.RoomID.String()) {
		t.logger.Debug("ignoring message from non-allowed room", "room", evt.RoomID.String())
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}

	members, err := t.memberCount(ctx, evt.RoomID)
	if err != nil {
		t.logger.Warn("failed to count room members", "room", evt.RoomID.String(), "error", err)
	}

	rev, ok := toEvent(evt, content, t.self, members)
	if !ok {
		return
	}
	if err := sink.Submit(ctx, rev); err != nil {
		if errors.Is(err, router.ErrDraining) {
			t.logger.Debug("event rejected while draining", "event_id", rev.ID)
			return
		}
		t.logger.Error("failed to submit event", "event_id", rev.ID, "error", err)
	}
}

// toEvent maps a Matrix text message to a router event. Rooms with exactly
// two joined members are direct messages. In larger rooms only messages
// mentioning the bot are kept, as mentions with the bot ID stripped.
func toEvent(evt *event.Event, content *event.MessageEventContent, self id.UserID, members int) (router.Event, bool) {
	out := router.Event{
		ID:            evt.ID.String(),
		ChannelID:     evt.RoomID.String(),
		UserID:        evt.Sender.String(),
		Text:          content.Body,
		BotOriginated: evt.Sender == self,
	}

	if members == 2 {
		out.Type = router.EventMessage
		out.ChannelType = router.ChannelIM
		return out, true
	}

	if !mentions(content, self) {
		return router.Event{}, false
	}
	out.Type = router.EventAppMention
	out.Text = stripMention(content.Body, self)
	return out, true
}

// mentions reports whether the message addresses self, either through
// intentional mentions metadata or by naming the user in the body.
func mentions(content *event.MessageEventContent, self id.UserID) bool {
	if content.Mentions != nil && slices.Contains(content.Mentions.UserIDs, self) {
		return true
	}
	if strings.Contains(content.Body, self.String()) {
		return true
	}
	localpart, _, err := self.Parse()
	return err == nil && localpart != "" && strings.HasPrefix(strings.ToLower(content.Body), strings.ToLower(localpart)+":")
}

// stripMention removes a leading "@user:server" or "localpart:" address.
func stripMention(body string, self id.UserID) string {
	text := strings.TrimSpace(body)
	if rest, ok := strings.CutPrefix(text, self.String()); ok {
		return strings.TrimLeft(rest, ": ")
	}
	if localpart, _, err := self.Parse(); err == nil && localpart != "" {
		if len(text) > len(localpart) && strings.EqualFold(text[:len(localpart)+1], localpart+":") {
			return strings.TrimSpace(text[len(localpart)+1:])
		}
	}
	return text
}

// handleMembership joins rooms the bot is invited to and drops cached
// member counts when membership changes.
func (t *Transport) handleMembership(ctx context.Context, evt *event.Event) {
	t.members.Delete(evt.RoomID)

	if evt.GetStateKey() != t.self.String() {
		return
	}
	member := evt.Content.AsMember()
	if member.Membership != event.MembershipInvite {
		return
	}

	joinCtx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	if _, err := t.api.JoinRoomByID(joinCtx, evt.RoomID); err != nil {
		t.logger.Warn("failed to join invited room", "room", evt.RoomID.String(), "error", err)
		return
	}
	t.logger.Info("joined room", "room", evt.RoomID.String(), "inviter", evt.Sender.String())
}

// memberCount returns the joined member count of a room, cached until the
// next membership change.
func (t *Transport) memberCount(ctx context.Context, roomID id.RoomID) (int, error) {
	if n, ok := t.members.Load(roomID); ok {
		return n.(int), nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	resp, err := t.api.JoinedMembers(reqCtx, roomID)
	if err != nil {
		return 0, err
	}
	n := len(resp.Joined)
	t.members.Store(roomID, n)
	return n, nil
}

// isRoomAllowed checks if the room is in the allowed list.
func (t *Transport) isRoomAllowed(roomID string) bool {
	if len(t.config.AllowedRooms) == 0 {
		return true
	}
	return slices.Contains(t.config.AllowedRooms, roomID)
}

// Reply sends text to the event's room as markdown rendered to HTML.
func (t *Transport) Reply(ctx context.Context, evt router.Event, text string) error {
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
	}
	if html, ok := renderMarkdown(text); ok {
		content.Format = event.FormatHTML
		content.FormattedBody = html
	}

	if _, err := t.api.SendMessageEvent(ctx, id.RoomID(evt.ChannelID), event.EventMessage, content); err != nil {
		return fmt.Errorf("sending message to %s: %w", evt.ChannelID, err)
	}
	return nil
}

// UserProfile reports no profile: Matrix exposes no timezone.
func (t *Transport) UserProfile(ctx context.Context, userID string) (*router.Profile, error) {
	return nil, nil
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
