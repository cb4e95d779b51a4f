// Package circuit implements the per-backend circuit breaker from
// spec.md §4.7: an atomic CLOSED/OPEN/HALF_OPEN state machine with a
// fixed-length failure window whose count restarts from zero each time
// the window elapses (failures are not aged out one by one). State
// transitions use atomic operations
// exclusively — no mutex — following the pattern common to breakers
// in this domain (see DESIGN.md for the grounding).
package circuit

import (
	"sync/atomic"
	"time"
)

// State is one of the three circuit states.
type State int32

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const (
	defaultFailureThreshold = 5
	defaultOpenDuration     = 30 * time.Second
	defaultFailureWindow    = 60 * time.Second
)

// Options configures a Breaker. Zero value yields spec.md's defaults.
type Options struct {
	// FailureThreshold is the number of weighted failures within
	// FailureWindow that trips the breaker from CLOSED to OPEN.
	FailureThreshold int64
	// OpenDuration is how long the breaker stays OPEN before allowing
	// one HALF_OPEN probe.
	OpenDuration time.Duration
	// FailureWindow is the fixed-length window failure counts are
	// measured over while CLOSED. The count resets to zero whenever the
	// window rolls over, so transient blips outside the threshold don't
	// accumulate forever; it is not a sliding window, and failures just
	// before a rollover do not carry into the next window.
	FailureWindow time.Duration
}

func (o Options) withDefaults() Options {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = defaultFailureThreshold
	}
	if o.OpenDuration <= 0 {
		o.OpenDuration = defaultOpenDuration
	}
	if o.FailureWindow <= 0 {
		o.FailureWindow = defaultFailureWindow
	}
	return o
}

// Breaker gates calls to a single backend. Safe for concurrent use;
// every field that participates in a state decision is an atomic.
type Breaker struct {
	opts Options

	state     atomic.Int32
	failures  atomic.Int64
	windowEnd atomic.Int64 // unix nanos; failures resets when now passes this
	openUntil atomic.Int64 // unix nanos
	probing   atomic.Bool  // true while a single HALF_OPEN probe is in flight
}

// New constructs a closed Breaker.
func New(opts Options) *Breaker {
	b := &Breaker{opts: opts.withDefaults()}
	b.windowEnd.Store(time.Now().Add(b.opts.FailureWindow).UnixNano())
	return b
}

// Allow reports whether a call may proceed, transitioning OPEN ->
// HALF_OPEN once OpenDuration has elapsed. In HALF_OPEN, only one
// concurrent probe is admitted; further callers are rejected until
// that probe resolves via OnSuccess/OnFailure.
func (b *Breaker) Allow() bool {
	switch State(b.state.Load()) {
	case Closed:
		return true
	case Open:
		if time.Now().UnixNano() < b.openUntil.Load() {
			return false
		}
		if b.state.CompareAndSwap(int32(Open), int32(HalfOpen)) {
			b.probing.Store(false)
		}
		return b.tryStartProbe()
	case HalfOpen:
		return b.tryStartProbe()
	default:
		return true
	}
}

func (b *Breaker) tryStartProbe() bool {
	return b.probing.CompareAndSwap(false, true)
}

// OnSuccess records a successful call. In HALF_OPEN this closes the
// breaker and resets counters; in CLOSED it only rolls the failure
// window over if it has expired — individual successes do not erase
// counted failures, only the window rollover does (spec.md §4.7
// counts failures, not a success/failure ratio).
func (b *Breaker) OnSuccess() {
	switch State(b.state.Load()) {
	case HalfOpen:
		b.state.Store(int32(Closed))
		b.failures.Store(0)
		b.windowEnd.Store(time.Now().Add(b.opts.FailureWindow).UnixNano())
		b.probing.Store(false)
	case Closed:
		b.rollWindowIfExpired()
	}
}

// OnFailure records a failure with the given weight (1 for transient,
// 2 for fatal, per spec.md §7). In HALF_OPEN any failure reopens the
// breaker immediately.
func (b *Breaker) OnFailure(weight int64) {
	now := time.Now()
	switch State(b.state.Load()) {
	case HalfOpen:
		b.openUntil.Store(now.Add(b.opts.OpenDuration).UnixNano())
		b.state.Store(int32(Open))
		b.probing.Store(false)
	case Closed:
		b.rollWindowIfExpired()
		failures := b.failures.Add(weight)
		if failures >= b.opts.FailureThreshold {
			b.openUntil.Store(now.Add(b.opts.OpenDuration).UnixNano())
			b.state.Store(int32(Open))
		}
	}
}

func (b *Breaker) rollWindowIfExpired() {
	now := time.Now().UnixNano()
	if now >= b.windowEnd.Load() {
		b.failures.Store(0)
		b.windowEnd.Store(now + b.opts.FailureWindow.Nanoseconds())
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	return State(b.state.Load())
}

// Reset forces the breaker back to CLOSED, clearing all counters.
func (b *Breaker) Reset() {
	b.state.Store(int32(Closed))
	b.failures.Store(0)
	b.windowEnd.Store(time.Now().Add(b.opts.FailureWindow).UnixNano())
	b.probing.Store(false)
}
