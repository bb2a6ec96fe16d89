// ABOUTME: Shared contract between chat transports and the event router
// ABOUTME: Transports feed router.Event values to a Submitter

// Package transport holds the chat platform adapters.
//
// Each subpackage connects to one platform, translates its native events
// into router.Event values for router.Router.Submit, and implements the
// router's Replier and ProfileLookup collaborators:
//
//   - slack: Slack Socket Mode via github.com/slack-go/slack
//   - matrix: Matrix client-server API via maunium.net/go/mautrix, with optional E2EE
//
// A process runs exactly one transport, chosen by config.Transport.
package transport

import (
	"context"

	"github.com/2389/flyme/internal/router"
)

// Submitter accepts translated events. *router.Router implements it.
type Submitter interface {
	Submit(ctx context.Context, evt router.Event) error
}
