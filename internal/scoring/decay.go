package scoring

import (
	"math"
	"time"
)

// ExponentialDecay returns 0.5^(age/halfLife). Negative ages (clock skew) and
// non-positive half-lives return 1.
func ExponentialDecay(age, halfLife time.Duration) float64 {
	if age <= 0 || halfLife <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(age)/float64(halfLife))
}

// RecencyScore is the exponential decay of t relative to now. A zero t has no
// recency and scores 0.
func RecencyScore(t, now time.Time, halfLife time.Duration) float64 {
	if t.IsZero() {
		return 0
	}
	return ExponentialDecay(now.Sub(t), halfLife)
}

// DecayWithFloor maps a decay value from [0,1] to [floor,1].
func DecayWithFloor(decay, floor float64) float64 {
	floor = Clamp01(floor)
	return floor + (1-floor)*Clamp01(decay)
}
