// Package dedupe suppresses repeated delivery of the same inbound chat event.
//
// Chat transports redeliver events when an acknowledgement is slow or a
// socket reconnects. The router records each event key in a Cache and drops
// any key it has already seen within the TTL. The cache is bounded: when
// full, the oldest key is evicted.
package dedupe
