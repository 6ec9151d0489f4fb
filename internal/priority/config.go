// Package priority implements smart prioritization: an adaptive multiplier per
// candidate entry learned from historical retrieval outcomes, per-entry
// usefulness and similarity to past successful queries.
package priority

import "time"

// Config controls smart prioritization. Every field has a default in DefaultConfig.
type Config struct {
	// Enabled turns the whole service on. When false GetPriorityScores returns an empty map.
	Enabled bool `json:"enabled"`

	// LookbackDays bounds the outcome aggregation window.
	LookbackDays int `json:"lookback_days"`
	// MinSamples is the per-type sample count required before outcomes adjust type weights.
	MinSamples int64 `json:"min_samples"`
	// BaselineSuccessRate is the success rate that maps to a neutral type weight of 1.0.
	BaselineSuccessRate float64 `json:"baseline_success_rate"`
	// TypeSensitivity scales how strongly success rate moves the type weight.
	TypeSensitivity float64 `json:"type_sensitivity"`
	MinTypeWeight   float64 `json:"min_type_weight"`
	MaxTypeWeight   float64 `json:"max_type_weight"`

	// UsefulnessHalfLife is the recency decay half-life applied to LastSuccessAt.
	UsefulnessHalfLife time.Duration `json:"usefulness_half_life"`
	SuccessRatioWeight float64       `json:"success_ratio_weight"`
	RecencyWeight      float64       `json:"recency_weight"`
	// ColdStartUsefulness is used for entries without any metrics.
	ColdStartUsefulness float64 `json:"cold_start_usefulness"`
	MinUsefulness       float64 `json:"min_usefulness"`
	// PriorStrength is the number of virtual neutral observations added to the success ratio.
	PriorStrength float64 `json:"prior_strength"`

	FeedbackSensitivity      float64 `json:"feedback_sensitivity"`
	PenaltyFloor             float64 `json:"penalty_floor"`
	BoostCap                 float64 `json:"boost_cap"`
	MinRetrievalsForFeedback int64   `json:"min_retrievals_for_feedback"`

	ContextSimilarityEnabled   bool    `json:"context_similarity_enabled"`
	ContextSimilarityThreshold float64 `json:"context_similarity_threshold"`
	MaxContexts                int     `json:"max_contexts"`
	MaxContextBoost            float64 `json:"max_context_boost"`

	// ScoreInfluence is how far a composite score can move a final score (±).
	ScoreInfluence float64 `json:"score_influence"`
}

// DefaultConfig returns the default smart prioritization policy.
func DefaultConfig() Config {
	return Config{
		Enabled: true,

		LookbackDays:        30,
		MinSamples:          10,
		BaselineSuccessRate: 0.5,
		TypeSensitivity:     1.0,
		MinTypeWeight:       0.5,
		MaxTypeWeight:       1.5,

		UsefulnessHalfLife:  90 * 24 * time.Hour,
		SuccessRatioWeight:  0.7,
		RecencyWeight:       0.3,
		ColdStartUsefulness: 0.5,
		MinUsefulness:       0.05,
		PriorStrength:       2,

		FeedbackSensitivity:      1.0,
		PenaltyFloor:             0.5,
		BoostCap:                 1.5,
		MinRetrievalsForFeedback: 3,

		ContextSimilarityEnabled:   true,
		ContextSimilarityThreshold: 0.75,
		MaxContexts:                20,
		MaxContextBoost:            1.3,

		ScoreInfluence: 0.3,
	}
}
