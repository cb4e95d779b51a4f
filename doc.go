/*
Package ratelimiter provides the core of a distributed rate limiting
library: a set of algorithms (fixed window, sliding window, token
bucket), a pluggable storage backend contract, and the reliability
layer (circuit breaker, health probing, multi-backend failover) that
sits between them.

# Architecture

The library is organized into several layers:
  - Core (this package): Policy, Decision, the key fingerprint, the
    rate-spec parser and the Limiter facade.
  - Algorithms (drivers/algorithm): thin orchestrators that turn a
    Policy into one call against the Backend contract.
  - Backends (drivers/store/memory, drivers/store/redis,
    drivers/store/multi): pluggable storage drivers implementing the
    Backend contract with the atomicity guarantees §4.3 of the design
    requires.
  - Reliability (drivers/circuit, drivers/health): per-backend circuit
    breaking and periodic health probing.

# Algorithms

  - Fixed window: a simple atomic counter per key per period. Cheap,
    but allows up to 2x burst at window boundaries.
  - Sliding window: an ordered log of admitted request timestamps.
    Strictly accurate, more expensive to store.
  - Token bucket: a continuously-refilling bucket. Admits bursts up to
    bucket capacity while maintaining a steady long-run rate.

# Storage

Algorithm state is read and mutated through a Backend. The library
ships three:

  - memory: an in-process, sharded-lock map with TTL expiry, an LRU
    cap and background cleanup. Single-node only; state is lost on
    restart.
  - redis: a remote backend that executes one Lua script per
    algorithm so each operation is atomic from the store's point of
    view, not just from the caller's.
  - multi: an ordered composite of other backends with health-aware
    failover. Does not add cross-backend atomicity: a failover can
    under-count in the new primary until existing windows expire.

# Host integration

The HTTP framework glue (request parsing, header injection, routing)
is explicitly out of this package's scope; see
drivers/middleware/gin for a thin example of wiring the Limiter
facade into an HTTP server.
*/
package ratelimiter
