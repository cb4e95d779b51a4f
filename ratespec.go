package ratelimiter

import (
	"strconv"
	"strings"
	"time"
)

// ParseRateSpec parses a string of the form "<n>/<unit>" or
// "<n>/<k><unit>" (unit in {s, m, h, d}, k a small positive integer)
// into (limit, period). "10/s" is 10 per second; "10/30s" is 10 per 30
// seconds; "100/h" is 100 per hour.
//
// Fails with a *BadRateSpecError wrapping ErrBadConfig on any other
// shape, a non-positive n, an unknown unit, or an overflowing period.
func ParseRateSpec(spec string) (limit int, period time.Duration, err error) {
	fail := func(reason string) (int, time.Duration, error) {
		return 0, 0, &BadRateSpecError{Spec: spec, Err: errString(reason)}
	}

	parts := strings.SplitN(spec, "/", 2)
	if len(parts) != 2 {
		return fail("expected \"<count>/<unit>\"")
	}

	n, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || n <= 0 {
		return fail("count must be a positive integer")
	}

	unitSpec := strings.TrimSpace(parts[1])
	if unitSpec == "" {
		return fail("missing unit")
	}

	// Split the optional leading multiplier (e.g. "30s" -> k=30, unit='s')
	i := 0
	for i < len(unitSpec) && unitSpec[i] >= '0' && unitSpec[i] <= '9' {
		i++
	}
	k := 1
	if i > 0 {
		k, err = strconv.Atoi(unitSpec[:i])
		if err != nil || k <= 0 {
			return fail("unit multiplier must be a positive integer")
		}
	}
	unit := unitSpec[i:]
	if unit == "" {
		return fail("missing unit letter")
	}

	var unitSeconds int64
	switch unit {
	case "s":
		unitSeconds = 1
	case "m":
		unitSeconds = 60
	case "h":
		unitSeconds = 3600
	case "d":
		unitSeconds = 86400
	default:
		return fail("unit must be one of s, m, h, d")
	}

	totalSeconds := unitSeconds * int64(k)
	if totalSeconds <= 0 || totalSeconds > int64(time.Hour/time.Second)*24*365 {
		return fail("period out of range")
	}

	return n, time.Duration(totalSeconds) * time.Second, nil
}

// errString is a tiny helper so ParseRateSpec can build a
// *BadRateSpecError without importing the errors package twice for a
// one-off string error.
type errString string

func (e errString) Error() string { return string(e) }
