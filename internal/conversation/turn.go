// ABOUTME: Conversation turn types shared by the store and the router
// ABOUTME: A Turn is one immutable user or assistant message with its timestamp

package conversation

import "time"

// Role identifies who authored a turn.
type Role int

const (
	RoleUser Role = iota
	RoleAssistant
)

// String returns the capitalized label used when rendering summaries.
func (r Role) String() string {
	switch r {
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Assistant"
	default:
		return "Unknown"
	}
}

// Turn is one message in a conversation history. Turns are values; the
// store hands out copies so a Turn never changes after creation.
type Turn struct {
	Role      Role
	Content   string
	Timestamp time.Time
}

// NewTurn creates a turn stamped with the current time.
func NewTurn(role Role, content string) Turn {
	return Turn{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}
