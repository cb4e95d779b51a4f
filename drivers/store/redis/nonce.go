package redis

import (
	"crypto/rand"
	"encoding/hex"
)

// randomNonce returns a 96-bit random value as hex, disambiguating
// sliding-log inserts that land on the same millisecond (spec.md §9
// Open Question (a)).
func randomNonce() string {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
