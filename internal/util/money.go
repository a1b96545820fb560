// Package util holds shared rounding helpers for reported money amounts.
package util

import "math"

// RoundToTick rounds x to the nearest multiple of tick, halves away from
// zero. A non-positive tick returns x unchanged.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Round(x/tick) * tick
}

// RoundToCent rounds a dollar amount to the nearest cent, the granularity
// every reported income and forecast figure uses.
func RoundToCent(x float64) float64 {
	return RoundToTick(x, 0.01)
}
