package scoring

import "math"

// DefaultHybridAlpha is the semantic share used when alpha is not a number.
const DefaultHybridAlpha = 0.5

// validScore reports whether an optional score is present and usable.
func validScore(s *float64) bool {
	return s != nil && !math.IsNaN(*s)
}

// HybridScore blends semantic and lexical relevance as
// alpha*semantic + (1-alpha)*fts. Inputs and output are clamped to [0,1].
// When only one signal is usable it is returned as the full score; when
// neither is, the score is 0.
func HybridScore(semantic, fts *float64, alpha float64) float64 {
	hasSemantic := validScore(semantic)
	hasFTS := validScore(fts)

	switch {
	case hasSemantic && hasFTS:
		if math.IsNaN(alpha) {
			alpha = DefaultHybridAlpha
		}
		alpha = Clamp01(alpha)
		return Clamp01(alpha*Clamp01(*semantic) + (1-alpha)*Clamp01(*fts))
	case hasSemantic:
		return Clamp01(*semantic)
	case hasFTS:
		return Clamp01(*fts)
	}
	return 0
}

// Float returns a pointer to v, convenient for optional scores.
func Float(v float64) *float64 {
	return &v
}
