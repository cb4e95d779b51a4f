// Package redis implements the remote Backend (spec.md §4.5): each
// algorithm operation is a single Lua script evaluation, so it is
// atomic from the store's point of view and not just the caller's.
package redis

import (
	"context"
	_ "embed"
	"errors"
	"io"
	"net"
	"strconv"
	"time"

	libredis "github.com/go-redis/redis"

	"github.com/ratelimitcore/go-ratelimiter/drivers/algorithm"
	"github.com/ratelimitcore/go-ratelimiter/drivers/backenderr"
)

// errClosed mirrors go-redis v6's internal/pool.ErrClosed, which is
// not exported from the top-level package.
var errClosed = errors.New("redis: client is closed")

//go:embed scripts/fixed_window.lua
var fixedWindowScript string

//go:embed scripts/sliding_window.lua
var slidingWindowScript string

//go:embed scripts/token_bucket.lua
var tokenBucketScript string

const defaultTimeout = 100 * time.Millisecond

// Options configures a Backend.
type Options struct {
	// Timeout bounds every single script evaluation. Default 100ms
	// per spec.md §4.5.
	Timeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	return o
}

// Backend is the remote implementation of algorithm.Backend, backed
// by a pooled go-redis client. Construct the client with whatever
// pool size your deployment needs (spec.md §6.3 remote.pool_size);
// this package only owns script loading and evaluation.
type Backend struct {
	client *libredis.Client
	opts   Options

	fixedSHA   string
	slidingSHA string
	bucketSHA  string
}

// New loads all three scripts into Redis's script cache (via SCRIPT
// LOAD) and returns a ready Backend. Loading up front means the hot
// path always uses EVALSHA and only falls back to EVAL on a cache
// miss (e.g. after a Redis restart flushed the script cache).
func New(client *libredis.Client, opts Options) (*Backend, error) {
	opts = opts.withDefaults()
	b := &Backend{client: client, opts: opts}

	var err error
	if b.fixedSHA, err = client.ScriptLoad(fixedWindowScript).Result(); err != nil {
		return nil, classify(err)
	}
	if b.slidingSHA, err = client.ScriptLoad(slidingWindowScript).Result(); err != nil {
		return nil, classify(err)
	}
	if b.bucketSHA, err = client.ScriptLoad(tokenBucketScript).Result(); err != nil {
		return nil, classify(err)
	}
	return b, nil
}

// classify maps a go-redis error onto the taxonomy spec.md §7 defines:
// network/timeout errors feed the circuit breaker at weight 1
// (Transient); protocol/script errors feed it at weight 2 (Fatal).
func classify(err error) error {
	if err == nil {
		return nil
	}
	if err == libredis.Nil {
		return nil
	}
	if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
		return backenderr.Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) || err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
		return backenderr.Transient
	}
	switch err.Error() {
	case errClosed.Error():
		return backenderr.Closed
	default:
		// go-redis surfaces script errors and protocol errors as plain
		// *errors.errorString with no distinguishing type; anything we
		// can't positively identify as transient is treated as fatal,
		// since re-trying a malformed script call would just repeat
		// the failure.
		return backenderr.Fatal
	}
}

// callWithTimeout runs fn on its own goroutine and bounds it by both
// b.opts.Timeout and ctx — whichever fires first wins. go-redis v6's
// client calls don't accept a context directly, so this is the only
// way to make a call cancellable: it cannot abort the in-flight
// socket read itself, but the caller gets control back and the result
// (if it ever arrives) is discarded.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()
	var zero T
	select {
	case r := <-done:
		return r.val, r.err
	case <-time.After(timeout):
		return zero, backenderr.Transient
	case <-ctx.Done():
		return zero, backenderr.Transient
	}
}

func (b *Backend) evalSha(ctx context.Context, sha, script string, keys []string, args ...interface{}) (interface{}, error) {
	res, err := callWithTimeout(ctx, b.opts.Timeout, func() (interface{}, error) {
		res, err := b.client.EvalSha(sha, keys, args...).Result()
		if err != nil && isNoScript(err) {
			res, err = b.client.Eval(script, keys, args...).Result()
		}
		return res, err
	})
	if err != nil {
		if err == backenderr.Transient {
			return nil, err
		}
		return nil, classify(err)
	}
	return res, nil
}

// withTimeout bounds a plain (non-script) client call by b.opts.Timeout
// and ctx the same way evalSha bounds a script evaluation.
func (b *Backend) withTimeout(ctx context.Context, fn func() error) error {
	_, err := callWithTimeout(ctx, b.opts.Timeout, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func isNoScript(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return len(s) >= 8 && s[:8] == "NOSCRIPT"
}

// IncrFixed implements algorithm.Backend.
func (b *Backend) IncrFixed(ctx context.Context, key string, period, windowStart, now int64) (int64, int64, error) {
	res, err := b.evalSha(ctx, b.fixedSHA, fixedWindowScript, []string{key}, period, windowStart, now)
	if err != nil {
		return 0, 0, err
	}
	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, backenderr.Fatal
	}
	count := toInt64(values[0])
	resetAt := toInt64(values[1])
	return count, resetAt, nil
}

// CheckSliding implements algorithm.Backend.
func (b *Backend) CheckSliding(ctx context.Context, key string, periodMs, limit, nowMs int64) (int64, int64, bool, error) {
	nonce := randomNonce()
	res, err := b.evalSha(ctx, b.slidingSHA, slidingWindowScript, []string{key}, periodMs, limit, nowMs, nonce)
	if err != nil {
		return 0, 0, false, err
	}
	values, ok := res.([]interface{})
	if !ok || len(values) != 3 {
		return 0, 0, false, backenderr.Fatal
	}
	count := toInt64(values[0])
	resetAt := toInt64(values[1])
	admitted := toInt64(values[2]) == 1
	return count, resetAt, admitted, nil
}

// CheckBucket implements algorithm.Backend.
func (b *Backend) CheckBucket(ctx context.Context, key string, capacity int64, refillRate float64, nowMs, cost int64) (float64, int64, bool, error) {
	res, err := b.evalSha(ctx, b.bucketSHA, tokenBucketScript, []string{key}, capacity, refillRate, nowMs, cost)
	if err != nil {
		return 0, 0, false, err
	}
	values, ok := res.([]interface{})
	if !ok || len(values) != 3 {
		return 0, 0, false, backenderr.Fatal
	}
	tokens := toFloat64(values[0])
	resetAt := toInt64(values[1])
	admitted := toInt64(values[2]) == 1
	return tokens, resetAt, admitted, nil
}

// Peek implements algorithm.Backend: a plain read with no script
// involved, so it cannot mutate state.
func (b *Backend) Peek(ctx context.Context, key string, algo string) (float64, int64, error) {
	type peeked struct {
		value   float64
		resetAt int64
	}
	p, err := callWithTimeout(ctx, b.opts.Timeout, func() (peeked, error) {
		switch algo {
		case "fw":
			count, err := b.client.Get(key).Int64()
			if err != nil && err != libredis.Nil {
				return peeked{}, err
			}
			ttl, err := b.client.TTL(key).Result()
			if err != nil {
				return peeked{}, err
			}
			return peeked{float64(count), time.Now().Add(ttl).Unix()}, nil
		case "sw":
			count, err := b.client.ZCard(key).Result()
			if err != nil {
				return peeked{}, err
			}
			ttl, err := b.client.TTL(key).Result()
			if err != nil {
				return peeked{}, err
			}
			return peeked{float64(count), time.Now().Add(ttl).Unix()}, nil
		case "tb":
			tokens, err := b.client.HGet(key, "tokens").Float64()
			if err != nil && err != libredis.Nil {
				return peeked{}, err
			}
			ttl, err := b.client.TTL(key).Result()
			if err != nil {
				return peeked{}, err
			}
			return peeked{tokens, time.Now().Add(ttl).Unix()}, nil
		default:
			return peeked{}, backenderr.Fatal
		}
	})
	if err != nil {
		if err == backenderr.Transient || err == backenderr.Fatal {
			return 0, 0, err
		}
		return 0, 0, classify(err)
	}
	return p.value, p.resetAt, nil
}

// Reset implements algorithm.Backend.
func (b *Backend) Reset(ctx context.Context, key string) error {
	err := b.withTimeout(ctx, func() error {
		return b.client.Del(key).Err()
	})
	if err != nil {
		if err == backenderr.Transient {
			return err
		}
		return classify(err)
	}
	return nil
}

// Probe implements algorithm.Backend.
func (b *Backend) Probe(ctx context.Context) error {
	err := b.withTimeout(ctx, func() error {
		return b.client.Ping().Err()
	})
	if err != nil {
		if err == backenderr.Transient {
			return err
		}
		return classify(err)
	}
	return nil
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}

var _ algorithm.Backend = (*Backend)(nil)

func toFloat64(v interface{}) float64 {
	switch t := v.(type) {
	case int64:
		return float64(t)
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}
