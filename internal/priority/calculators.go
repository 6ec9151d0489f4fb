package priority

import (
	"time"

	"github.com/thebtf/engram-recall/internal/scoring"
	"github.com/thebtf/engram-recall/pkg/models"
)

// SuccessRate computes (success + 0.5*partial) / total. Zero or negative totals yield 0.
func SuccessRate(success, partial, total int64) float64 {
	if total <= 0 {
		return 0
	}
	if success < 0 {
		success = 0
	}
	if partial < 0 {
		partial = 0
	}
	return scoring.Clamp01((float64(success) + 0.5*float64(partial)) / float64(total))
}

// AggregateOutcomes fills success rates and the total sample count from raw per-type counters.
func AggregateOutcomes(counts []models.TypeOutcome) models.OutcomeAggregation {
	agg := models.OutcomeAggregation{ByType: make([]models.TypeOutcome, 0, len(counts))}
	for _, c := range counts {
		if c.TotalRetrievals < 0 {
			c.TotalRetrievals = 0
		}
		c.SuccessRate = SuccessRate(c.SuccessCount, c.PartialCount, c.TotalRetrievals)
		agg.TotalSamples += c.TotalRetrievals
		agg.ByType = append(agg.ByType, c)
	}
	return agg
}

// TypeWeights derives a base weight per entry type from an outcome aggregation.
// Types with fewer than cfg.MinSamples retrievals keep the neutral weight 1.0.
func TypeWeights(agg models.OutcomeAggregation, cfg Config) map[models.EntryType]float64 {
	weights := make(map[models.EntryType]float64, len(models.AllEntryTypes))
	for _, t := range models.AllEntryTypes {
		weights[t] = 1.0
	}

	for _, bt := range agg.ByType {
		if bt.TotalRetrievals < cfg.MinSamples || bt.TotalRetrievals <= 0 {
			continue
		}
		rate := scoring.Clamp01(bt.SuccessRate)
		w := 1 + (rate-cfg.BaselineSuccessRate)*cfg.TypeSensitivity
		weights[bt.EntryType] = scoring.ClampRange(scoring.Sanitize(w, 1), cfg.MinTypeWeight, cfg.MaxTypeWeight)
	}
	return weights
}

// smoothedSuccessRatio pulls the raw success ratio toward 0.5 by PriorStrength
// virtual observations so a single success does not dominate.
func smoothedSuccessRatio(m models.UsefulnessMetrics, cfg Config) float64 {
	prior := cfg.PriorStrength
	if prior < 0 || !scoring.IsFinite(prior) {
		prior = 0
	}
	retrievals := float64(max(m.RetrievalCount, 0))
	success := float64(min(max(m.SuccessCount, 0), max(m.RetrievalCount, 0)))
	return scoring.Clamp01(scoring.SafeDiv(success+0.5*prior, retrievals+prior, 0.5))
}

// UsefulnessScore combines an entry's smoothed success ratio with the recency of
// its last success. A nil metrics pointer is a cold entry.
func UsefulnessScore(m *models.UsefulnessMetrics, now time.Time, cfg Config) float64 {
	if m == nil || m.RetrievalCount <= 0 {
		return scoring.ClampRange(cfg.ColdStartUsefulness, cfg.MinUsefulness, 1)
	}

	ratio := smoothedSuccessRatio(*m, cfg)
	recency := scoring.RecencyScore(m.LastSuccessAt, now, cfg.UsefulnessHalfLife)

	weights := scoring.NormalizeWeightMap(map[string]float64{
		"ratio":   cfg.SuccessRatioWeight,
		"recency": cfg.RecencyWeight,
	})
	score := weights["ratio"]*ratio + weights["recency"]*recency
	return scoring.ClampRange(score, cfg.MinUsefulness, 1)
}

// FeedbackMultiplier turns an entry's success history into a bounded multiplier
// in [PenaltyFloor, BoostCap]. Entries with too few retrievals are neutral.
func FeedbackMultiplier(m *models.UsefulnessMetrics, cfg Config) float64 {
	if m == nil || m.RetrievalCount < cfg.MinRetrievalsForFeedback || m.RetrievalCount <= 0 {
		return 1.0
	}
	ratio := smoothedSuccessRatio(*m, cfg)
	mult := 1 + (ratio-0.5)*cfg.FeedbackSensitivity
	return scoring.ClampRange(scoring.Sanitize(mult, 1), cfg.PenaltyFloor, cfg.BoostCap)
}

// ContextBoost maps a similarity to a past successful context onto
// [1, MaxContextBoost]. Similarities below the threshold give no boost.
func ContextBoost(similarity float64, cfg Config) float64 {
	maxBoost := scoring.Sanitize(cfg.MaxContextBoost, 1)
	if maxBoost < 1 {
		maxBoost = 1
	}
	threshold := scoring.Clamp01(cfg.ContextSimilarityThreshold)
	if !scoring.IsFinite(similarity) || similarity < threshold {
		return 1.0
	}
	span := scoring.SafeDiv(similarity-threshold, 1-threshold, 1)
	return scoring.ClampRange(1+(maxBoost-1)*scoring.Clamp01(span), 1, maxBoost)
}
