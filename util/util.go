// Package util contains misc internal utilities.
package util

import "time"

// Clamp bounds v to the interval [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SecsToDuration converts a duration in seconds to a time.Duration,
// preserving the fractional part.
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}
