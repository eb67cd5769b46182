package game

import (
	"math"
	"time"
)

// DefaultGrowthBase makes the multiplier grow 15% per second, matching the
// original flight animation.
const DefaultGrowthBase = 1.15

// Curve is the authoritative multiplier function: a pure, monotonically
// increasing map from elapsed time to displayed multiplier,
//
//	m(t) = base^seconds(t)
//
// truncated to two decimals. Server settlement and any client projection
// must evaluate this same function; only the server's evaluation counts.
type Curve struct {
	base float64
}

func NewCurve(base float64) Curve {
	if base <= 1 {
		base = DefaultGrowthBase
	}
	return Curve{base: base}
}

// ValueAt returns the multiplier after elapsed time. Never below 1.00.
func (c Curve) ValueAt(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return MinMultiplier
	}
	m := truncateMultiplier(math.Pow(c.base, elapsed.Seconds()))
	if m < MinMultiplier {
		return MinMultiplier
	}
	return m
}

// TimeForMultiplier is the exact inverse of ValueAt's continuous form:
// the elapsed time at which the curve reaches m. The orchestrator uses it
// to arm the crash timer once instead of polling the curve.
func (c Curve) TimeForMultiplier(m float64) time.Duration {
	if m <= MinMultiplier {
		return 0
	}
	seconds := math.Log(m) / math.Log(c.base)
	// Round up to the next nanosecond so the curve has reached m by the
	// returned instant, never a hair before it.
	return time.Duration(math.Ceil(seconds * float64(time.Second)))
}

// truncateMultiplier floors to cents. The small epsilon keeps values that
// are a hair under an exact cent (from pow/log round-trips) from dropping a
// full cent.
func truncateMultiplier(v float64) float64 {
	return math.Floor(v*100+1e-9) / 100
}
