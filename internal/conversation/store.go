// ABOUTME: Thread-safe per-user conversation history with a fixed turn window
// ABOUTME: Oldest turns are trimmed FIFO; idle users are evicted LRU when a user cap is set

package conversation

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// DefaultWindow is the number of turns kept per user when no window is configured.
const DefaultWindow = 5

// history is the per-user entry. element points at the user's position in
// the store's activity list.
type history struct {
	turns      []Turn
	lastActive time.Time
	element    *list.Element
}

// Store maps user identifiers to bounded conversation histories.
type Store struct {
	mu       sync.Mutex
	users    map[string]*history
	activity *list.List // user IDs, least recently active at front
	window   int
	maxUsers int
}

// NewStore creates a store keeping at most window turns per user. A window
// below 1 falls back to DefaultWindow. maxUsers <= 0 disables user eviction.
func NewStore(window, maxUsers int) *Store {
	if window < 1 {
		window = DefaultWindow
	}
	return &Store{
		users:    make(map[string]*history),
		activity: list.New(),
		window:   window,
		maxUsers: maxUsers,
	}
}

// Window returns the configured per-user turn limit.
func (s *Store) Window() int {
	return s.window
}

// Append adds a turn to the user's history, creating the history on first
// use, then trims the oldest turns so at most Window turns remain.
func (s *Store) Append(userID string, turn Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.users[userID]
	if !ok {
		if s.maxUsers > 0 && len(s.users) >= s.maxUsers {
			s.evictOldestLocked()
		}
		h = &history{element: s.activity.PushBack(userID)}
		s.users[userID] = h
	} else {
		s.activity.MoveToBack(h.element)
	}

	h.turns = append(h.turns, turn)
	if excess := len(h.turns) - s.window; excess > 0 {
		// Copy into a fresh slice so the dropped turns can be collected.
		trimmed := make([]Turn, s.window)
		copy(trimmed, h.turns[excess:])
		h.turns = trimmed
	}
	h.lastActive = time.Now()
}

// RecentSummary renders up to Window-1 turns preceding the most recent turn
// as "<Role>: <content>" lines, oldest first. It returns "" when the user has
// no turns before the current one.
func (s *Store) RecentSummary(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.users[userID]
	if !ok || len(h.turns) < 2 {
		return ""
	}

	prior := h.turns[:len(h.turns)-1]
	if limit := s.window - 1; len(prior) > limit {
		prior = prior[len(prior)-limit:]
	}

	var b strings.Builder
	for _, t := range prior {
		b.WriteString(t.Role.String())
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// History returns a copy of the user's turns in chronological order.
func (s *Store) History(userID string) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.users[userID]
	if !ok {
		return nil
	}
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of turns stored for the user.
func (s *Store) Len(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.users[userID]; ok {
		return len(h.turns)
	}
	return 0
}

// Users returns the number of users with a history.
func (s *Store) Users() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// evictOldestLocked drops the least recently active user. Must be called with mu held.
func (s *Store) evictOldestLocked() {
	front := s.activity.Front()
	if front == nil {
		return
	}
	userID, _ := front.Value.(string)
	s.activity.Remove(front)
	delete(s.users, userID)
}
