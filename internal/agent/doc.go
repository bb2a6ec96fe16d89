// Package agent is the boundary between the chat front-end and the external
// reasoning agent that performs flight and hotel searches.
//
// # Overview
//
// The router hands the agent one fully assembled prompt per request. The
// agent answers with reply text or an error from a small taxonomy:
//
//   - ErrRateLimited: the upstream API throttled the request
//   - ErrUnavailable: the agent was never initialized
//   - ErrUnknown: anything else
//
// Every error returned by a Runner is an *Error whose Kind is one of the
// sentinels above, so callers use errors.Is:
//
//	reply, err := runner.RunFlightSearch(ctx, prompt, sessionID, 10)
//	if errors.Is(err, agent.ErrRateLimited) { ... }
//
// UserMessage turns any of these into the fixed, non-technical text shown in
// chat. Raw upstream error text is only ever logged.
//
// # Runner
//
// Runner talks to an OpenAI-compatible chat completion API. A run sends the
// static instructions as the system message and the prompt as the user
// message. If the model asks for tools, the registered tools are executed and
// their output fed back; the exchange is bounded by maxTurns model calls.
// Runner never retries on its own.
//
// # Rate-limit detection
//
// Classify prefers typed signals (HTTP 429 or the rate_limit_exceeded code on
// the API error) and falls back to matching "429" or "rate limit" in the
// error text. The text match can misfire on unrelated messages that happen to
// contain those strings.
package agent
