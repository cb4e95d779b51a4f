// Package health implements the periodic backend probe loop (spec.md
// §2 "Health probe" row): it calls each backend's Probe on an interval
// and feeds the result to that backend's circuit breaker, independent
// of whatever traffic the backend is actually serving.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/ratelimitcore/go-ratelimiter/drivers/circuit"
)

// State is the coarse health classification spec.md §3.1 defines for
// a backend.
type State int

const (
	Healthy State = iota
	Degraded
	Dead
)

func (s State) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// Health is one backend's current health snapshot.
type Health struct {
	State               State
	ConsecutiveFailures int
	LastProbeAt         time.Time
	LastFailureAt       time.Time
}

// Prober is a single probed backend: a name and a way to ping it. The
// circuit breaker its results feed is looked up by that name in the
// breakers map given to NewMonitor.
type Prober interface {
	Name() string
	Probe(ctx context.Context) error
}

// Monitor runs Probe on every registered Prober on a fixed interval
// and tracks each one's Health. Degraded is reported after one
// failure, Dead after three consecutive failures — thresholds chosen
// so a single blip doesn't flip multi-backend routing, but a backend
// that's actually down gets flagged before the circuit breaker's own
// failure_threshold would trip it on live traffic alone.
type Monitor struct {
	interval time.Duration
	targets  []Prober
	breakers map[string]*circuit.Breaker

	mu      sync.RWMutex
	health  map[string]Health
	stop    chan struct{}
	stopped chan struct{}
}

const degradeAfter = 1
const deadAfter = 3

// NewMonitor builds a Monitor over targets, probing every interval.
// breakers may be nil; when present, a failed probe calls
// breakers[name].OnFailure and a successful one calls OnSuccess, so
// an idle backend's circuit still reacts to it going down.
func NewMonitor(interval time.Duration, targets []Prober, breakers map[string]*circuit.Breaker) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	m := &Monitor{
		interval: interval,
		targets:  targets,
		breakers: breakers,
		health:   make(map[string]Health, len(targets)),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, t := range targets {
		m.health[t.Name()] = Health{State: Healthy}
	}
	return m
}

// Start runs the probe loop until ctx is done or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	defer close(m.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.probeAll(ctx)
		}
	}
}

// Stop halts the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	close(m.stop)
	<-m.stopped
}

func (m *Monitor) probeAll(ctx context.Context) {
	for _, t := range m.targets {
		m.probeOne(ctx, t)
	}
}

func (m *Monitor) probeOne(ctx context.Context, t Prober) {
	err := t.Probe(ctx)
	now := time.Now()

	m.mu.Lock()
	h := m.health[t.Name()]
	h.LastProbeAt = now
	if err != nil {
		h.ConsecutiveFailures++
		h.LastFailureAt = now
		switch {
		case h.ConsecutiveFailures >= deadAfter:
			h.State = Dead
		case h.ConsecutiveFailures >= degradeAfter:
			h.State = Degraded
		}
	} else {
		h.ConsecutiveFailures = 0
		h.State = Healthy
	}
	m.health[t.Name()] = h
	m.mu.Unlock()

	if breaker, ok := m.breakers[t.Name()]; ok {
		if err != nil {
			breaker.OnFailure(1)
		} else {
			breaker.OnSuccess()
		}
	}
}

// Snapshot returns a copy of every tracked backend's current Health,
// keyed by name — this is what Limiter.Health() exposes (spec.md
// §6.1).
func (m *Monitor) Snapshot() map[string]Health {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Health, len(m.health))
	for k, v := range m.health {
		out[k] = v
	}
	return out
}
