package pipeline

import (
	"context"
	"time"
)

// Stage is one step of the retrieval pipeline.
type Stage interface {
	Name() string
	// Prerequisites lists stages that must have completed before Run.
	Prerequisites() []string
	Run(ctx context.Context, pc *Context) error
}

// checkPrerequisites returns a *StageOrderError for the first missing
// prerequisite of s.
func checkPrerequisites(s Stage, pc *Context) error {
	for _, p := range s.Prerequisites() {
		if !pc.HasCompleted(p) {
			return &StageOrderError{Stage: s.Name(), Missing: p}
		}
	}
	return nil
}

// Config holds the retrieval tuning knobs.
type Config struct {
	// Strategy applies to requests that leave Request.Strategy empty.
	Strategy            Strategy
	Weights             ScoreWeights
	HybridAlpha         float64
	ScopeDecay          float64
	ScopeDecayFloor     float64
	LiteralMatchScore   float64
	TagMatchScore       float64
	RelatedScore        float64
	NeutralPriority     float64
	RecencyHalfLife     time.Duration
	DefaultLimit        int
	RRFK                int
	RRFThreshold        int
	CandidateMultiplier int
	CandidateCap        int
	MaxPerTypeScope     int
}

// ScoreWeights weighs the components of the base score.
type ScoreWeights struct {
	Relevance float64
	TextMatch float64
	Priority  float64
	Recency   float64
}

// DefaultConfig returns the default retrieval tuning.
func DefaultConfig() Config {
	return Config{
		Strategy:            StrategyHybrid,
		HybridAlpha:         0.7,
		RRFK:                60,
		RRFThreshold:        50,
		CandidateMultiplier: 3,
		CandidateCap:        1000,
		MaxPerTypeScope:     500,
		ScopeDecay:          0.05,
		ScopeDecayFloor:     0.5,
		DefaultLimit:        20,
		Weights: ScoreWeights{
			Relevance: 0.5,
			TextMatch: 0.2,
			Priority:  0.15,
			Recency:   0.15,
		},
		RecencyHalfLife:   30 * 24 * time.Hour,
		LiteralMatchScore: 1.0,
		TagMatchScore:     0.15,
		RelatedScore:      0.3,
		NeutralPriority:   0.5,
	}
}
