package ratelimiter

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// canonicalKeyThreshold keeps keys within spec.md §3.1's limit: a Key
// is guaranteed <= 256 bytes. We replace anything over
// canonicalKeyThreshold bytes with "h:" plus its SHA-256 hex digest,
// which is well under that cap.
const canonicalKeyThreshold = 200

// Selector extracts one component of a key from a caller-supplied
// context. Host glue registers selectors by name (e.g.
// "client-address", "authenticated-principal", "path"); the core
// never interprets the context itself.
type Selector func(ctx any) (string, bool)

// SelectorRegistry resolves named selectors for KeySpec values built
// with NewSelectorKey. A malformed or unregistered selector name is
// ErrBadConfig, not a runtime surprise at Check time.
type SelectorRegistry map[string]Selector

// KeySpec is one of three ways to derive the key fingerprint for a
// Check call: a literal string, a function of the call context, or an
// ordered list of named selectors composed into one string.
type KeySpec struct {
	literal   string
	isLiteral bool

	fn func(ctx any) string

	selectorNames []string
	registry      SelectorRegistry
}

// NewLiteralKey returns a KeySpec that always fingerprints to s,
// regardless of call context. Useful for a single global rate limit.
func NewLiteralKey(s string) KeySpec {
	return KeySpec{literal: s, isLiteral: true}
}

// NewFuncKey returns a KeySpec computed by fn against the call
// context passed to Check.
func NewFuncKey(fn func(ctx any) string) KeySpec {
	return KeySpec{fn: fn}
}

// NewSelectorKey returns a KeySpec composed from named selectors
// resolved against registry, in the given order. Two KeySpecs built
// from the same selector names whose selectors resolve to the same
// underlying values yield the same fingerprint, because composition
// happens after resolution, not before. The names themselves are part
// of the composed key ("name=value&..."), so different names never
// match.
func NewSelectorKey(registry SelectorRegistry, names ...string) KeySpec {
	return KeySpec{selectorNames: names, registry: registry}
}

// Fingerprint computes the canonical key for ctx. Returns
// ErrBadConfig if a KeySpec built from selectors names one that is
// not present in its registry.
func (k KeySpec) Fingerprint(ctx any) (string, error) {
	var raw string
	switch {
	case k.isLiteral:
		raw = k.literal
	case k.fn != nil:
		raw = k.fn(ctx)
	case len(k.selectorNames) > 0:
		parts := make([]string, 0, len(k.selectorNames))
		for _, name := range k.selectorNames {
			sel, ok := k.registry[name]
			if !ok {
				return "", &configError{"unknown key selector: " + name}
			}
			val, ok := sel(ctx)
			if !ok {
				val = ""
			}
			parts = append(parts, name+"="+val)
		}
		raw = strings.Join(parts, "&")
	default:
		return "", &configError{"key spec has no literal, func, or selectors"}
	}
	return canonicalizeKey(raw), nil
}

// canonicalizeKey hashes raw down to a bounded, printable identifier
// when it would otherwise exceed canonicalKeyThreshold bytes.
func canonicalizeKey(raw string) string {
	if len(raw) <= canonicalKeyThreshold {
		return raw
	}
	sum := sha256.Sum256([]byte(raw))
	return "h:" + hex.EncodeToString(sum[:])
}

// algoTag is the short tag used in storage keys for each algorithm,
// per spec.md §3.2's "<key-prefix>:<algorithm-tag>:<key-fingerprint>".
func algoTag(a Algorithm) string {
	switch a {
	case Fixed:
		return "fw"
	case Sliding:
		return "sw"
	case TokenBucket:
		return "tb"
	default:
		return "unk"
	}
}

// StorageKey builds the "<prefix>:<algo>:<fingerprint>" key every
// backend operation addresses.
func StorageKey(prefix string, a Algorithm, fingerprint string) string {
	if prefix == "" {
		prefix = "rl"
	}
	return prefix + ":" + algoTag(a) + ":" + fingerprint
}
