// ABOUTME: Tests for the Matrix transport
// ABOUTME: Covers DM and mention mapping, room filters, membership handling and replies

package matrix

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/flyme/internal/router"
)

const botID = id.UserID("@flyme:example.org")

type sentMessage struct {
	Room    id.RoomID
	Content *event.MessageEventContent
}

type fakeAPI struct {
	mu          sync.Mutex
	members     map[id.RoomID]int
	memberCalls int
	sent        []sentMessage
	joined      []id.RoomID
	sendErr     error
}

func (f *fakeAPI) JoinedMembers(ctx context.Context, roomID id.RoomID) (*mautrix.RespJoinedMembers, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memberCalls++
	joined := make(map[id.UserID]mautrix.JoinedMember)
	for i := 0; i < f.members[roomID]; i++ {
		joined[id.UserID(string(rune('a'+i)))] = mautrix.JoinedMember{}
	}
	return &mautrix.RespJoinedMembers{Joined: joined}, nil
}

func (f *fakeAPI) SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON any, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{Room: roomID, Content: contentJSON.(*event.MessageEventContent)})
	return &mautrix.RespSendEvent{EventID: "$sent"}, f.sendErr
}

func (f *fakeAPI) JoinRoomByID(ctx context.Context, roomID id.RoomID) (*mautrix.RespJoinRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, roomID)
	return &mautrix.RespJoinRoom{RoomID: roomID}, nil
}

type fakeSink struct {
	events []router.Event
	err    error
}

func (f *fakeSink) Submit(ctx context.Context, evt router.Event) error {
	f.events = append(f.events, evt)
	return f.err
}

func testTransport(api *fakeAPI, cfg Config) *Transport {
	return &Transport{
		config:  cfg,
		api:     api,
		self:    botID,
		started: time.Now().Add(-time.Minute),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func textEvent(room id.RoomID, sender id.UserID, body string) *event.Event {
	return &event.Event{
		ID:        "$evt1",
		RoomID:    room,
		Sender:    sender,
		Type:      event.EventMessage,
		Timestamp: time.Now().UnixMilli(),
		Content: event.Content{Parsed: &event.MessageEventContent{
			MsgType: event.MsgText,
			Body:    body,
		}},
	}
}

func TestToEvent_TwoMemberRoomIsDM(t *testing.T) {
	evt := textEvent("!dm:example.org", "@alice:example.org", "flights to Tokyo")
	content := evt.Content.Parsed.(*event.MessageEventContent)

	out, ok := toEvent(evt, content, botID, 2)
	require.True(t, ok)
	assert.Equal(t, router.EventMessage, out.Type)
	assert.Equal(t, router.ChannelIM, out.ChannelType)
	assert.Equal(t, "$evt1", out.ID)
	assert.Equal(t, "!dm:example.org", out.ChannelID)
	assert.Equal(t, "@alice:example.org", out.UserID)
	assert.Equal(t, "flights to Tokyo", out.Text)
	assert.False(t, out.BotOriginated)
}

func TestToEvent_OwnMessageIsBotOriginated(t *testing.T) {
	evt := textEvent("!dm:example.org", botID, "I'm thinking...")
	out, ok := toEvent(evt, evt.Content.Parsed.(*event.MessageEventContent), botID, 2)

	require.True(t, ok)
	assert.True(t, out.BotOriginated)
}

func TestToEvent_GroupRoomNeedsMention(t *testing.T) {
	evt := textEvent("!group:example.org", "@alice:example.org", "anyone know a good hotel?")
	_, ok := toEvent(evt, evt.Content.Parsed.(*event.MessageEventContent), botID, 5)
	assert.False(t, ok)
}

func TestToEvent_GroupRoomMention(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		mentions *event.Mentions
		want     string
	}{
		{name: "full id", body: "@flyme:example.org: hotels in Rome", want: "hotels in Rome"},
		{name: "localpart", body: "flyme: flights to Oslo", want: "flights to Oslo"},
		{name: "localpart any case", body: "FlyMe: flights to Oslo", want: "flights to Oslo"},
		{
			name:     "intentional mention",
			body:     "hey can you find flights to Lima",
			mentions: &event.Mentions{UserIDs: []id.UserID{botID}},
			want:     "hey can you find flights to Lima",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt := textEvent("!group:example.org", "@alice:example.org", tt.body)
			content := evt.Content.Parsed.(*event.MessageEventContent)
			content.Mentions = tt.mentions

			out, ok := toEvent(evt, content, botID, 4)
			require.True(t, ok)
			assert.Equal(t, router.EventAppMention, out.Type)
			assert.Equal(t, tt.want, out.Text)
		})
	}
}

func TestHandleMessage_Submits(t *testing.T) {
	api := &fakeAPI{members: map[id.RoomID]int{"!dm:example.org": 2}}
	tr := testTransport(api, Config{})
	sink := &fakeSink{}

	tr.handleMessage(context.Background(), sink, textEvent("!dm:example.org", "@alice:example.org", "flights"))
	tr.handleMessage(context.Background(), sink, textEvent("!dm:example.org", "@alice:example.org", "hotels"))

	require.Len(t, sink.events, 2)
	assert.Equal(t, "hotels", sink.events[1].Text)
	assert.Equal(t, 1, api.memberCalls, "member count is cached")
}

func TestHandleMessage_Filters(t *testing.T) {
	api := &fakeAPI{members: map[id.RoomID]int{"!dm:example.org": 2, "!other:example.org": 2}}
	tr := testTransport(api, Config{AllowedRooms: []string{"!dm:example.org"}})
	sink := &fakeSink{}

	old := textEvent("!dm:example.org", "@alice:example.org", "old backlog")
	old.Timestamp = time.Now().Add(-time.Hour).UnixMilli()
	tr.handleMessage(context.Background(), sink, old)

	tr.handleMessage(context.Background(), sink, textEvent("!other:example.org", "@alice:example.org", "not allowed"))

	notice := textEvent("!dm:example.org", "@alice:example.org", "a notice")
	notice.Content.Parsed.(*event.MessageEventContent).MsgType = event.MsgNotice
	tr.handleMessage(context.Background(), sink, notice)

	assert.Empty(t, sink.events)
}

func TestHandleMessage_DrainingTolerated(t *testing.T) {
	api := &fakeAPI{members: map[id.RoomID]int{"!dm:example.org": 2}}
	tr := testTransport(api, Config{})
	sink := &fakeSink{err: router.ErrDraining}

	assert.NotPanics(t, func() {
		tr.handleMessage(context.Background(), sink, textEvent("!dm:example.org", "@alice:example.org", "flights"))
	})
}

func TestHandleMembership_JoinsInvitesAndInvalidatesCache(t *testing.T) {
	api := &fakeAPI{members: map[id.RoomID]int{"!room:example.org": 2}}
	tr := testTransport(api, Config{})

	_, err := tr.memberCount(context.Background(), "!room:example.org")
	require.NoError(t, err)

	stateKey := botID.String()
	tr.handleMembership(context.Background(), &event.Event{
		RoomID:   "!room:example.org",
		Sender:   "@alice:example.org",
		StateKey: &stateKey,
		Type:     event.StateMember,
		Content:  event.Content{Parsed: &event.MemberEventContent{Membership: event.MembershipInvite}},
	})

	assert.Equal(t, []id.RoomID{"!room:example.org"}, api.joined)

	_, err = tr.memberCount(context.Background(), "!room:example.org")
	require.NoError(t, err)
	assert.Equal(t, 2, api.memberCalls, "membership change drops cached count")
}

func TestHandleMembership_IgnoresOtherUsers(t *testing.T) {
	api := &fakeAPI{}
	tr := testTransport(api, Config{})

	stateKey := "@bob:example.org"
	tr.handleMembership(context.Background(), &event.Event{
		RoomID:   "!room:example.org",
		StateKey: &stateKey,
		Type:     event.StateMember,
		Content:  event.Content{Parsed: &event.MemberEventContent{Membership: event.MembershipInvite}},
	})

	assert.Empty(t, api.joined)
}

func TestReply_RendersMarkdown(t *testing.T) {
	api := &fakeAPI{}
	tr := testTransport(api, Config{})

	err := tr.Reply(context.Background(), router.Event{ChannelID: "!dm:example.org"}, "Found **3** flights")
	require.NoError(t, err)

	require.Len(t, api.sent, 1)
	msg := api.sent[0]
	assert.Equal(t, id.RoomID("!dm:example.org"), msg.Room)
	assert.Equal(t, "Found **3** flights", msg.Content.Body)
	assert.Equal(t, event.FormatHTML, msg.Content.Format)
	assert.Contains(t, msg.Content.FormattedBody, "<strong>3</strong>")
}

func TestReply_PlainTextHasNoFormattedBody(t *testing.T) {
	api := &fakeAPI{}
	tr := testTransport(api, Config{})

	require.NoError(t, tr.Reply(context.Background(), router.Event{ChannelID: "!dm:example.org"}, "I'm thinking..."))
	assert.Empty(t, api.sent[0].Content.FormattedBody)
}

func TestReply_Error(t *testing.T) {
	api := &fakeAPI{sendErr: errors.New("M_FORBIDDEN")}
	tr := testTransport(api, Config{})

	err := tr.Reply(context.Background(), router.Event{ChannelID: "!dm:example.org"}, "hi")
	assert.ErrorContains(t, err, "M_FORBIDDEN")
}

func TestUserProfile_None(t *testing.T) {
	tr := testTransport(&fakeAPI{}, Config{})

	profile, err := tr.UserProfile(context.Background(), "@alice:example.org")
	require.NoError(t, err)
	_, ok := profile.LocationHint()
	assert.False(t, ok)
}

func TestRun_RequiresLogin(t *testing.T) {
	tr := testTransport(&fakeAPI{}, Config{})
	tr.self = ""

	assert.Error(t, tr.Run(context.Background(), &fakeSink{}))
}
