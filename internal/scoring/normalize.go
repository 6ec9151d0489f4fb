// Package scoring holds the pure numeric helpers used by retrieval ranking:
// clamping, weight normalization, rank fusion, decay and overflow-safe arithmetic.
//
// Nothing in this package returns NaN or an infinite value for finite callers;
// malformed inputs are replaced by neutral defaults instead of being propagated.
package scoring

import "math"

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Clamp01 clamps v to [0,1]. NaN maps to 0, +Inf to 1 and -Inf to 0.
func Clamp01(v float64) float64 {
	return ClampRange(v, 0, 1)
}

// ClampRange clamps v to [lo,hi]. NaN maps to lo.
func ClampRange(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Sanitize returns v when finite, otherwise fallback.
func Sanitize(v, fallback float64) float64 {
	if !IsFinite(v) {
		return fallback
	}
	return v
}

// sanitizeWeight maps NaN, infinite and negative weights to 0.
func sanitizeWeight(w float64) float64 {
	if !IsFinite(w) || w < 0 {
		return 0
	}
	return w
}

// Weights are the relative contributions of the three relevance signals.
type Weights struct {
	Semantic float64 `json:"semantic"`
	FTS      float64 `json:"fts"`
	Graph    float64 `json:"graph"`
}

// Sum returns the plain sum of the weights.
func (w Weights) Sum() float64 {
	return w.Semantic + w.FTS + w.Graph
}

// NormalizeWeights rescales w so the components sum to 1. Non-finite and negative
// components are treated as 0; an all-zero input yields an equal three-way split.
func NormalizeWeights(w Weights) Weights {
	w = Weights{
		Semantic: sanitizeWeight(w.Semantic),
		FTS:      sanitizeWeight(w.FTS),
		Graph:    sanitizeWeight(w.Graph),
	}

	sum := SafeAdd(SafeAdd(w.Semantic, w.FTS), w.Graph)
	if sum <= 0 {
		return Weights{Semantic: 1.0 / 3.0, FTS: 1.0 / 3.0, Graph: 1.0 / 3.0}
	}
	if math.IsInf(sum, 1) || sum >= math.MaxFloat64 {
		// Rescale first so the division below cannot underflow the small components.
		max := math.Max(w.Semantic, math.Max(w.FTS, w.Graph))
		w = Weights{Semantic: w.Semantic / max, FTS: w.FTS / max, Graph: w.Graph / max}
		sum = w.Sum()
	}
	return Weights{
		Semantic: w.Semantic / sum,
		FTS:      w.FTS / sum,
		Graph:    w.Graph / sum,
	}
}

// NormalizeWeightMap rescales a named weight set to sum to 1, sanitizing each
// weight first. When nothing positive remains every key receives an equal share.
func NormalizeWeightMap(weights map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(weights))
	if len(weights) == 0 {
		return out
	}

	var sum, max float64
	for k, w := range weights {
		w = sanitizeWeight(w)
		out[k] = w
		sum = SafeAdd(sum, w)
		if w > max {
			max = w
		}
	}

	if sum <= 0 {
		share := 1.0 / float64(len(out))
		for k := range out {
			out[k] = share
		}
		return out
	}
	if sum >= math.MaxFloat64 {
		sum = 0
		for k, w := range out {
			out[k] = w / max
			sum += out[k]
		}
	}
	for k, w := range out {
		out[k] = w / sum
	}
	return out
}

// MaxNormalize divides every score by the largest one so the top score becomes 1.
// Non-finite and negative scores become 0.
func MaxNormalize[K comparable](scores map[K]float64) map[K]float64 {
	out := make(map[K]float64, len(scores))
	var max float64
	for k, v := range scores {
		v = sanitizeWeight(v)
		out[k] = v
		if v > max {
			max = v
		}
	}
	if max <= 0 {
		return out
	}
	for k, v := range out {
		out[k] = v / max
	}
	return out
}

// SafeAdd adds a and b, saturating at ±MaxFloat64. A NaN operand is ignored.
func SafeAdd(a, b float64) float64 {
	if math.IsNaN(a) {
		a = 0
	}
	if math.IsNaN(b) {
		b = 0
	}
	return saturate(a + b)
}

// SafeMul multiplies a and b, saturating at ±MaxFloat64. NaN yields 0.
func SafeMul(a, b float64) float64 {
	r := a * b
	if math.IsNaN(r) {
		return 0
	}
	return saturate(r)
}

// SafeDiv divides n by d. A zero or non-finite denominator, or a non-finite
// result, returns fallback.
func SafeDiv(n, d, fallback float64) float64 {
	if d == 0 || !IsFinite(d) || math.IsNaN(n) {
		return fallback
	}
	r := n / d
	if !IsFinite(r) {
		return fallback
	}
	return r
}

func saturate(v float64) float64 {
	if v > math.MaxFloat64 {
		return math.MaxFloat64
	}
	if v < -math.MaxFloat64 {
		return -math.MaxFloat64
	}
	return v
}

// BM25Normalize converts a raw BM25 score to [0,1).
// formula: |x| / (1 + |x|)
func BM25Normalize(score float64) float64 {
	if math.IsNaN(score) {
		return 0
	}
	if score < 0 {
		score = -score
	}
	if math.IsInf(score, 1) {
		return 1
	}
	return score / (1 + score)
}
