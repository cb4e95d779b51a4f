// Package memory implements the in-process Backend: a sharded map
// with TTL expiry, an LRU cap and background cleanup (spec.md §4.4).
//
// Atomicity is achieved with one mutex per shard (striped locking,
// spec.md §4.3's option (a)): every read-modify-write for a key is
// serialized against every other operation on keys hashing to the
// same shard.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/ratelimitcore/go-ratelimiter/drivers/algorithm"
	"github.com/ratelimitcore/go-ratelimiter/drivers/backenderr"
)

const (
	defaultCleanupInterval = 30 * time.Second
	defaultMaxKeys         = 10000
	defaultMinRetain       = time.Second
	defaultShutdownGrace   = 2 * time.Second
	numShards              = 32

	// unboundedShardSize is what we hand to simplelru.NewLRU: we never
	// want it to evict on our behalf (its eviction has no notion of
	// min_retain), so we give each shard a budget larger than any
	// realistic max_keys/numShards and manage capacity ourselves in
	// the cleanup pass.
	unboundedShardSize = 1 << 28
)

// Options configures a Backend. Zero value yields spec.md's defaults.
type Options struct {
	CleanupInterval time.Duration
	MaxKeys         int
	MinRetain       time.Duration
	ShutdownGrace   time.Duration
}

func (o Options) withDefaults() Options {
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = defaultCleanupInterval
	}
	if o.MaxKeys <= 0 {
		o.MaxKeys = defaultMaxKeys
	}
	if o.MinRetain <= 0 {
		o.MinRetain = defaultMinRetain
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = defaultShutdownGrace
	}
	return o
}

type shard struct {
	mu    sync.Mutex
	cache *lru.LRU[string, *stateEntry]
}

// Backend is the in-process implementation of algorithm.Backend.
type Backend struct {
	opts   Options
	shards [numShards]*shard

	closed   chan struct{}
	closedMu sync.Mutex
	isClosed bool
	wg       sync.WaitGroup
}

// New constructs a memory Backend and starts its background cleanup
// goroutine. Call Close to stop it and release resources.
func New(opts Options) *Backend {
	opts = opts.withDefaults()
	b := &Backend{opts: opts, closed: make(chan struct{})}
	for i := range b.shards {
		c, _ := lru.NewLRU[string, *stateEntry](unboundedShardSize, nil)
		b.shards[i] = &shard{cache: c}
	}
	b.wg.Add(1)
	go b.cleanupLoop()
	return b
}

func (b *Backend) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return b.shards[h.Sum32()%numShards]
}

func (b *Backend) checkOpen() error {
	b.closedMu.Lock()
	defer b.closedMu.Unlock()
	if b.isClosed {
		return backenderr.Closed
	}
	return nil
}

// IncrFixed implements algorithm.Backend.
func (b *Backend) IncrFixed(ctx context.Context, key string, periodSeconds, windowStart, now int64) (int64, int64, error) {
	if err := b.checkOpen(); err != nil {
		return 0, 0, err
	}
	s := b.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.cache.Get(key)
	if !ok || now >= e.fixedExpiresAt {
		start := windowStart
		if start == 0 {
			start = now
		}
		e = &stateEntry{kind: kindFixed, fixedCount: 0, fixedWindowStart: start, fixedExpiresAt: start + periodSeconds}
		s.cache.Add(key, e)
	}
	e.fixedCount++
	return e.fixedCount, e.fixedExpiresAt, nil
}

// CheckSliding implements algorithm.Backend.
func (b *Backend) CheckSliding(ctx context.Context, key string, periodMs, limit, nowMs int64) (int64, int64, bool, error) {
	if err := b.checkOpen(); err != nil {
		return 0, 0, false, err
	}
	s := b.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.cache.Get(key)
	if !ok {
		e = &stateEntry{kind: kindSliding}
		s.cache.Add(key, e)
	}

	cutoff := nowMs - periodMs
	e.slidingLog = evictOlderThan(e.slidingLog, cutoff)

	count := int64(len(e.slidingLog))
	admitted := count < limit
	if admitted {
		e.slidingLog = append(e.slidingLog, logEntry{tsMs: nowMs, nonce: randomNonce()})
		count++
	}
	e.slidingPeriodMs = periodMs
	e.slidingExpiresAt = nowMs + periodMs
	resetAt := (nowMs + periodMs) / 1000
	return count, resetAt, admitted, nil
}

// CheckBucket implements algorithm.Backend.
func (b *Backend) CheckBucket(ctx context.Context, key string, capacity int64, refillRate float64, nowMs, cost int64) (float64, int64, bool, error) {
	if err := b.checkOpen(); err != nil {
		return 0, 0, false, err
	}
	s := b.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.cache.Get(key)
	if !ok {
		e = &stateEntry{kind: kindBucket, bucketTokens: float64(capacity), bucketLastRefillMs: nowMs}
		s.cache.Add(key, e)
	}

	tokens := refill(e.bucketTokens, e.bucketLastRefillMs, nowMs, capacity, refillRate)

	admitted := tokens >= float64(cost)
	if admitted {
		tokens -= float64(cost)
	}
	e.bucketTokens = tokens
	e.bucketLastRefillMs = nowMs

	ttlSeconds := int64(float64(capacity)/refillRate) + 1
	e.bucketExpiresAt = nowMs + ttlSeconds*1000

	resetAt := nowMs/1000 + int64(float64(capacity-int64(tokens))/refillRate)
	return tokens, resetAt, admitted, nil
}

// refill computes the post-refill token count, clamping to capacity
// and treating an idle gap longer than 2x the time to fill from empty
// as a reset-to-full rather than compounding float error (spec.md §9
// Open Question (c)).
func refill(tokens float64, lastRefillMs, nowMs, capacity int64, rate float64) float64 {
	deltaMs := nowMs - lastRefillMs
	if deltaMs <= 0 {
		if tokens > float64(capacity) {
			return float64(capacity)
		}
		return tokens
	}
	maxIdleMs := int64((float64(capacity) / rate) * 2 * 1000)
	if deltaMs > maxIdleMs {
		return float64(capacity)
	}
	tokens += float64(deltaMs) / 1000 * rate
	if tokens > float64(capacity) {
		tokens = float64(capacity)
	}
	return tokens
}

// Peek implements algorithm.Backend: read-only, never mutates state.
func (b *Backend) Peek(ctx context.Context, key string, algo string) (float64, int64, error) {
	if err := b.checkOpen(); err != nil {
		return 0, 0, err
	}
	s := b.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.cache.Peek(key)
	if !ok {
		return 0, 0, nil
	}
	switch e.kind {
	case kindFixed:
		return float64(e.fixedCount), e.fixedExpiresAt, nil
	case kindSliding:
		now := time.Now().UnixMilli()
		cutoff := now - e.slidingPeriodMs
		count := 0
		for _, le := range e.slidingLog {
			if le.tsMs >= cutoff {
				count++
			}
		}
		return float64(count), e.slidingExpiresAt / 1000, nil
	case kindBucket:
		return e.bucketTokens, e.bucketExpiresAt / 1000, nil
	default:
		return 0, 0, nil
	}
}

// Reset implements algorithm.Backend.
func (b *Backend) Reset(ctx context.Context, key string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	s := b.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(key)
	return nil
}

// Probe implements algorithm.Backend: the in-process backend is
// healthy unless it has been closed.
func (b *Backend) Probe(ctx context.Context) error {
	return b.checkOpen()
}

// Close stops the cleanup goroutine within ShutdownGrace. In-flight
// operations complete; operations issued afterward fail with
// backenderr.Closed.
func (b *Backend) Close() error {
	b.closedMu.Lock()
	if b.isClosed {
		b.closedMu.Unlock()
		return nil
	}
	b.isClosed = true
	b.closedMu.Unlock()

	close(b.closed)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(b.opts.ShutdownGrace):
	}
	return nil
}

func (b *Backend) cleanupLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.opts.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.closed:
			return
		case <-ticker.C:
			b.cleanupPass()
		}
	}
}

// cleanupPass removes expired entries and, for each shard holding more
// than its max_keys/numShards share, evicts least-recently-touched
// entries down to 0.9x that share — but never an entry whose expiry is further than
// min_retain away, unless nothing else qualifies (spec.md §4.4).
func (b *Backend) cleanupPass() {
	now := time.Now().UnixMilli()
	perShardCap := b.opts.MaxKeys / numShards
	if perShardCap < 1 {
		perShardCap = 1
	}
	minRetainMs := b.opts.MinRetain.Milliseconds()

	for _, s := range b.shards {
		s.mu.Lock()
		for _, key := range s.cache.Keys() {
			e, ok := s.cache.Peek(key)
			if ok && e.expiresAtMs() < now {
				s.cache.Remove(key)
			}
		}

		if s.cache.Len() > perShardCap {
			target := int(float64(perShardCap) * 0.9)
			evictLRUOverCap(s.cache, target, now, minRetainMs)
		}
		s.mu.Unlock()
	}
}

// evictLRUOverCap drops least-recently-touched entries until the
// cache is at or under target, skipping entries that are still
// "hot" (expire more than minRetainMs from now) as long as some
// eligible victim remains; once none do, it evicts the oldest anyway.
func evictLRUOverCap(cache *lru.LRU[string, *stateEntry], target int, now, minRetainMs int64) {
	keys := cache.Keys() // oldest to newest
	protected := make([]string, 0)
	for _, key := range keys {
		if cache.Len() <= target {
			return
		}
		e, ok := cache.Peek(key)
		if !ok {
			continue
		}
		if e.expiresAtMs() > now+minRetainMs {
			protected = append(protected, key)
			continue
		}
		cache.Remove(key)
	}
	// Nothing unprotected left to drop but still over cap: fall back
	// to dropping the oldest regardless of how fresh its window is.
	for _, key := range protected {
		if cache.Len() <= target {
			return
		}
		cache.Remove(key)
	}
}

func evictOlderThan(log []logEntry, cutoffMs int64) []logEntry {
	if len(log) == 0 {
		return log
	}
	idx := sort.Search(len(log), func(i int) bool { return log[i].tsMs >= cutoffMs })
	if idx == 0 {
		return log
	}
	return append(log[:0], log[idx:]...)
}

func randomNonce() string {
	var b [12]byte // 96 bits, per spec.md §9 Open Question (a)
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

var _ algorithm.Backend = (*Backend)(nil)
