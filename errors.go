package ratelimiter

import (
	"errors"

	"github.com/ratelimitcore/go-ratelimiter/drivers/backenderr"
)

// Error kinds returned by the core. Backend errors never escape the
// Limiter facade (see Check): they are only visible to backend and
// circuit-breaker implementations, and to tests exercising them
// directly.
var (
	// ErrBadConfig is raised from construction, and from Check only
	// when the policy itself is malformed (e.g. an unknown algorithm
	// or a malformed key selector). Unparsable rate specs are reported
	// by ParseRateSpec, not by Check. Never raised mid-flight for
	// reasons outside the caller's control.
	ErrBadConfig = errors.New("ratelimiter: bad config")

	// ErrBackendTransient marks a network/timeout failure. Feeds the
	// circuit breaker with weight 1.
	ErrBackendTransient = backenderr.Transient

	// ErrBackendFatal marks a protocol/script error. Feeds the circuit
	// breaker with weight 2 (see drivers/circuit).
	ErrBackendFatal = backenderr.Fatal

	// ErrBackendUnavailable is returned by the multi-backend once every
	// candidate backend has failed or been skipped. A single backend
	// used directly returns its own error kind instead.
	ErrBackendUnavailable = backenderr.Unavailable

	// ErrCircuitOpen names the circuit-open error kind. No backend in
	// this module returns it: the multi-backend skips a child whose
	// circuit is open and reports ErrBackendUnavailable when none is
	// left. The facade would treat it like any other backend error.
	ErrCircuitOpen = backenderr.CircuitOpen

	// ErrBackendClosed is returned by a backend that has been torn
	// down via Close.
	ErrBackendClosed = backenderr.Closed
)

// BadRateSpecError wraps ErrBadConfig with the offending spec string,
// so callers can report precisely what failed to parse.
type BadRateSpecError struct {
	Spec string
	Err  error
}

func (e *BadRateSpecError) Error() string {
	return "ratelimiter: bad rate spec " + quote(e.Spec) + ": " + e.Err.Error()
}

func (e *BadRateSpecError) Unwrap() error {
	return ErrBadConfig
}

func quote(s string) string {
	return "\"" + s + "\""
}
