package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// QuerySource identifies where a search sub-query came from.
type QuerySource string

const (
	SourceOriginal  QuerySource = "original"
	SourceExpansion QuerySource = "expansion"
	SourceHyDE      QuerySource = "hyde"
)

// ErrInvalidQueries is returned when a weighted query set is malformed.
var ErrInvalidQueries = errors.New("invalid weighted queries")

// SearchQuery is one weighted query vector used by semantic search.
type SearchQuery struct {
	Text      string      `json:"text"`
	Source    QuerySource `json:"source"`
	Embedding []float32   `json:"embedding,omitempty"`
	Weight    float64     `json:"weight"`
}

// ValidateQueries checks that exactly one original query with weight 1.0 is
// present and that every other weight lies in (0,1].
func ValidateQueries(queries []SearchQuery) error {
	originals := 0
	for i, q := range queries {
		if math.IsNaN(q.Weight) || q.Weight <= 0 || q.Weight > 1 {
			return fmt.Errorf("%w: query %d has weight %v", ErrInvalidQueries, i, q.Weight)
		}
		switch q.Source {
		case SourceOriginal:
			originals++
			if q.Weight != 1.0 {
				return fmt.Errorf("%w: original query must have weight 1.0", ErrInvalidQueries)
			}
		case SourceExpansion, SourceHyDE:
		default:
			return fmt.Errorf("%w: unknown source %q", ErrInvalidQueries, q.Source)
		}
	}
	if originals != 1 {
		return fmt.Errorf("%w: expected exactly one original query, got %d", ErrInvalidQueries, originals)
	}
	return nil
}

// Outcome is the recorded result of a retrieval.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailure Outcome = "failure"
)

// TypeOutcome aggregates retrieval outcomes for one entry type.
type TypeOutcome struct {
	EntryType       EntryType `json:"entry_type"`
	TotalRetrievals int64     `json:"total_retrievals"`
	SuccessCount    int64     `json:"success_count"`
	PartialCount    int64     `json:"partial_count"`
	SuccessRate     float64   `json:"success_rate"`
}

// OutcomeAggregation summarizes outcomes for an intent and scope over a lookback window.
type OutcomeAggregation struct {
	ByType       []TypeOutcome `json:"by_type"`
	TotalSamples int64         `json:"total_samples"`
}

// UsefulnessMetrics holds historical counters for a single entry.
type UsefulnessMetrics struct {
	LastSuccessAt  time.Time `json:"last_success_at,omitempty"`
	LastAccessAt   time.Time `json:"last_access_at,omitempty"`
	EntryID        string    `json:"entry_id"`
	RetrievalCount int64     `json:"retrieval_count"`
	SuccessCount   int64     `json:"success_count"`
}

// SuccessfulContext records a past query whose results were confirmed useful.
type SuccessfulContext struct {
	OccurredAt         time.Time `json:"occurred_at"`
	QueryEmbedding     []float32 `json:"query_embedding"`
	SuccessfulEntryIDs []string  `json:"successful_entry_ids"`
	SimilarityScore    float64   `json:"similarity_score"`
}

// SmartPriorityResult is the per-entry output of smart prioritization.
type SmartPriorityResult struct {
	EntryID                string    `json:"entry_id"`
	EntryType              EntryType `json:"entry_type"`
	TypeWeight             float64   `json:"type_weight"`
	UsefulnessScore        float64   `json:"usefulness_score"`
	FeedbackMultiplier     float64   `json:"feedback_multiplier"`
	ContextSimilarityBoost float64   `json:"context_similarity_boost"`
	CompositePriorityScore float64   `json:"composite_priority_score"`
}
