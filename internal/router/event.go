// ABOUTME: Inbound event shape and the collaborator interfaces the router depends on
// ABOUTME: Transports produce Events and implement Replier and ProfileLookup

package router

import (
	"context"
	"time"

	"github.com/2389/flyme/internal/intent"
)

// EventType is the transport-level kind of an inbound event.
type EventType string

const (
	EventMessage       EventType = "message"
	EventAppMention    EventType = "app_mention"
	EventAppHomeOpened EventType = "app_home_opened"
)

// ChannelIM is the channel type of a direct conversation with the bot.
const ChannelIM = "im"

// Event is an inbound chat event, already translated from the transport's
// native payload.
type Event struct {
	// ID uniquely identifies the delivery on its transport and is used to
	// drop redeliveries. Empty disables deduplication for the event.
	ID          string
	Type        EventType
	ChannelType string
	ChannelID   string
	UserID      string
	Text        string

	// BotOriginated is set for events authored by this bot or any other bot.
	BotOriginated bool
}

// Profile is what the transport knows about a user's location.
type Profile struct {
	TimezoneID    string // e.g. "America/New_York"
	TimezoneLabel string // e.g. "Eastern Daylight Time"
}

// LocationHint renders the profile as a hint for the agent. The label wins
// over the ID; ok is false when neither is known.
func (p *Profile) LocationHint() (hint string, ok bool) {
	switch {
	case p == nil:
		return "", false
	case p.TimezoneLabel != "":
		return p.TimezoneLabel + " timezone", true
	case p.TimezoneID != "":
		return p.TimezoneID + " timezone", true
	default:
		return "", false
	}
}

// Replier sends text back to wherever evt came from.
type Replier interface {
	Reply(ctx context.Context, evt Event, text string) error
}

// ProfileLookup fetches a user's profile. A nil profile with a nil error
// means the transport has no profile data.
type ProfileLookup interface {
	UserProfile(ctx context.Context, userID string) (*Profile, error)
}

// Gateway runs searches on the external reasoning agent.
type Gateway interface {
	RunFlightSearch(ctx context.Context, prompt, sessionID string, maxTurns int) (string, error)
	RunHotelSearch(ctx context.Context, prompt, sessionID string, maxTurns int) (string, error)
}

// Availability is implemented by gateways that can report, before a run,
// whether they are initialized.
type Availability interface {
	Available() bool
}

// Outcome describes one handled request.
type Outcome struct {
	RequestID   string
	Transport   string
	UserID      string
	Intent      intent.Intent
	Err         error // classified agent error, nil on success
	PromptChars int
	ReplyChars  int
	Duration    time.Duration
}

// Observer is notified about dropped events and handled requests.
type Observer interface {
	EventDropped(reason string)
	RequestHandled(ctx context.Context, o Outcome)
}
