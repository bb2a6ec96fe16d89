// ABOUTME: Agent error taxonomy and the mapping from raw failures to it
// ABOUTME: Also maps each error kind to the fixed text users see in chat

package agent

import (
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/2389/flyme/internal/intent"
)

var (
	// ErrRateLimited means the upstream API rejected the request for rate limiting.
	ErrRateLimited = errors.New("agent rate limited")

	// ErrUnavailable means the agent has not been initialized.
	ErrUnavailable = errors.New("agent unavailable")

	// ErrUnknown covers every other agent failure.
	ErrUnknown = errors.New("agent failed")

	// ErrMaxTurns is the cause recorded when a run exhausts its turn budget.
	ErrMaxTurns = errors.New("max turns exceeded")
)

// Error is the error type returned by Runner. Kind is one of ErrRateLimited,
// ErrUnavailable or ErrUnknown; Err is the underlying cause, if any.
type Error struct {
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// User-facing replies. These are the only error texts that reach chat.
const (
	MessageRateLimited = "I'm receiving too many requests right now. Please try again in a moment."
	MessageUnavailable = "Sorry, the bot is not properly initialized. Please try again later."
	messageUnknownFmt  = "I encountered an error while searching for %s. Please try again."
)

// Classify wraps err in an *Error with the matching kind. It returns nil for
// a nil error and err unchanged when it is already classified.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return err
	}

	switch {
	case err == ErrUnavailable:
		return &Error{Kind: ErrUnavailable}
	case errors.Is(err, ErrUnavailable):
		return &Error{Kind: ErrUnavailable, Err: err}
	case isRateLimit(err):
		return &Error{Kind: ErrRateLimited, Err: err}
	default:
		return &Error{Kind: ErrUnknown, Err: err}
	}
}

// isRateLimit checks typed API errors first, then falls back to matching
// the error text.
func isRateLimit(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 {
			return true
		}
		if code, ok := apiErr.Code.(string); ok && code == "rate_limit_exceeded" {
			return true
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == 429 {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "rate limit")
}

// UserMessage returns the chat reply for a failed search. Unclassified
// errors are treated as ErrUnknown.
func UserMessage(err error, in intent.Intent) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return MessageRateLimited
	case errors.Is(err, ErrUnavailable):
		return MessageUnavailable
	default:
		return fmt.Sprintf(messageUnknownFmt, in.Noun())
	}
}

// KindLabel names the error kind for logs and metrics.
func KindLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "unknown"
	}
}
