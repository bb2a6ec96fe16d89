// Package conversation keeps the bounded, in-memory conversation history
// for each chat user.
//
// # Overview
//
// Every user identifier maps to an ordered list of turns. A turn is one
// message, either from the user or from the assistant:
//
//	store := conversation.NewStore(conversation.DefaultWindow, 0)
//	store.Append("U123", conversation.NewTurn(conversation.RoleUser, "flights to Paris"))
//	summary := store.RecentSummary("U123")
//
// # Window
//
// Each history holds at most W turns (DefaultWindow is 5). When an append
// pushes a history past W, the oldest turns are dropped until exactly W
// remain. The turn that was just appended is never dropped.
//
// # Summary
//
// RecentSummary renders the turns before the most recent one as
// "<Role>: <content>" lines, oldest first. The most recent turn is the
// request currently being handled, so it is left out of the summary.
//
// # Eviction
//
// Histories live for the process lifetime. When maxUsers is positive the
// store evicts the least recently active user once a new user would push the
// number of tracked users past the limit.
//
// Nothing in this package performs I/O. All methods are safe for concurrent
// use.
package conversation
