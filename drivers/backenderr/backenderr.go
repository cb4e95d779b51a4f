// Package backenderr holds the small set of sentinel errors every
// backend driver and the root ratelimiter package agree on (spec.md
// §7). It exists only to let driver packages return these without
// importing the root package (which imports them).
package backenderr

import "errors"

var (
	// Transient marks a network/timeout failure. Feeds the circuit
	// breaker with weight 1.
	Transient = errors.New("ratelimiter: backend transient error")

	// Fatal marks a protocol/script error. Feeds the circuit breaker
	// with weight 2.
	Fatal = errors.New("ratelimiter: backend fatal error")

	// Unavailable is returned once every candidate backend has
	// failed.
	Unavailable = errors.New("ratelimiter: backend unavailable")

	// CircuitOpen names the circuit-open kind. No driver returns it:
	// multi skips a child whose circuit is open and returns
	// Unavailable once no candidate is left.
	CircuitOpen = errors.New("ratelimiter: circuit open")

	// Closed is returned by a backend that has been torn down.
	Closed = errors.New("ratelimiter: backend closed")
)
