// ABOUTME: Package shutdown coordinates process lifecycle between a listener and a stop signal
// ABOUTME: Runs registered cleanup callbacks exactly once, in registration order

// Package shutdown coordinates graceful shutdown.
//
// A Coordinator races a long-lived listener against an external trigger
// (an OS signal or an explicit call to Trigger). Whichever finishes first
// cancels the other, after which the registered cleanup callbacks run once.
// Cleanup failures and panics are logged and joined but never stop the
// callbacks that follow.
package shutdown
