// Package router turns inbound chat events into agent searches and replies.
//
// # Overview
//
// A transport (Slack, Matrix) converts each native event into an Event and
// calls Submit. The router then:
//
//  1. Drops events the bot sent itself
//  2. Looks the event type up in its dispatch table; unknown types and
//     non-DM messages are ignored
//  3. Drops redeliveries of an event ID it has already seen
//  4. Queues the event behind any earlier events from the same user
//
// Each queued event is handled in order:
//
//  1. Resolve a location hint from the user's profile (best effort)
//  2. Send the "I'm thinking..." acknowledgement
//  3. Classify the intent (flight or hotel search)
//  4. Record the user turn and build the prompt from recent history
//  5. Run the search through the Gateway
//  6. Record the assistant turn (on success) and send the reply
//
// # Ordering
//
// Events from one user are handled strictly in submission order, so the
// conversation history matches what the user typed. Events from different
// users are handled concurrently. Submit never waits for handling.
//
// # Draining
//
// Drain stops intake and waits for every queued and in-flight event to
// finish. Handling runs on a context detached from the caller's cancellation,
// so a listener shutting down does not abort a search that is already
// running.
//
// # Errors
//
// Gateway failures are mapped to fixed user-facing strings by the agent
// package. Profile lookup and acknowledgement failures are logged and the
// request continues.
package router
