// Package pipeline implements staged retrieval: Filter selects scoped
// candidates, Semantic attaches vector similarity scores, and Score fuses every
// signal into the final ranking.
package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/thebtf/engram-recall/internal/intent"
	"github.com/thebtf/engram-recall/pkg/models"
)

// Stage names.
const (
	StageFilter   = "filter"
	StageSemantic = "semantic"
	StageScore    = "score"
)

// ErrStagePrerequisite is returned when a stage runs before the stages it
// depends on.
var ErrStagePrerequisite = errors.New("stage prerequisite not met")

// StageOrderError reports which prerequisite a stage was missing.
type StageOrderError struct {
	Stage   string
	Missing string
}

func (e *StageOrderError) Error() string {
	return fmt.Sprintf("stage %q requires %q to complete first", e.Stage, e.Missing)
}

func (e *StageOrderError) Unwrap() error { return ErrStagePrerequisite }

// Strategy selects which relevance signals a request uses.
type Strategy string

const (
	StrategyHybrid   Strategy = "hybrid"
	StrategySemantic Strategy = "semantic"
	StrategyLexical  Strategy = "lexical"
)

// ParseStrategy converts s to a Strategy; empty means hybrid.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyHybrid:
		return StrategyHybrid, nil
	case StrategySemantic, StrategyLexical:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown search strategy %q", s)
}

// Request holds the parameters of one retrieval.
type Request struct {
	Scope             models.Scope
	Text              string
	Intent            intent.Intent
	Strategy          Strategy
	Types             []models.EntryType   // empty means every type
	Queries           []models.SearchQuery // optional weighted sub-queries
	RelatedIDs        []string
	Limit             int
	SemanticThreshold float64
	Timeout           time.Duration // optional overall deadline
	Inherit           bool          // walk the scope chain upward
	SemanticEnabled   bool
}

// Candidate is an entry selected by the Filter stage with its match metadata.
type Candidate struct {
	Entry        models.Entry
	FTSScore     *float64 // nil when no lexical signal was computed
	Key          models.EntryKey
	ScopeIndex   int
	TagMatches   int
	LiteralMatch bool
	Related      bool
}

// Result is one ranked entry with its per-factor breakdown.
type Result struct {
	Entry              models.Entry                `json:"-"`
	SemanticScore      *float64                    `json:"semantic_score,omitempty"`
	FTSScore           *float64                    `json:"fts_score,omitempty"`
	SmartPriority      *models.SmartPriorityResult `json:"smart_priority,omitempty"`
	Key                models.EntryKey             `json:"key"`
	Fusion             string                      `json:"fusion"`
	FinalScore         float64                     `json:"final_score"`
	BaseScore          float64                     `json:"base_score"`
	Relevance          float64                     `json:"relevance"`
	TextMatch          float64                     `json:"text_match"`
	PriorityScore      float64                     `json:"priority_score"`
	RecencyScore       float64                     `json:"recency_score"`
	IntentWeight       float64                     `json:"intent_weight"`
	ScopeFactor        float64                     `json:"scope_factor"`
	PriorityMultiplier float64                     `json:"priority_multiplier"`
	ScopeIndex         int                         `json:"scope_index"`
}

// Diagnostics describes how a request was processed.
type Diagnostics struct {
	StageDurations       map[string]time.Duration `json:"stage_durations"`
	Intent               intent.Intent            `json:"intent"`
	Fusion               string                   `json:"fusion,omitempty"`
	SemanticSkipped      string                   `json:"semantic_skipped,omitempty"`
	SemanticDegraded     string                   `json:"semantic_degraded,omitempty"`
	ScopeChain           []string                 `json:"scope_chain"`
	CandidateCount       int                      `json:"candidate_count"`
	SemanticMatches      int                      `json:"semantic_matches"`
	SmartPriorityApplied bool                     `json:"smart_priority_applied"`
}

// Context is threaded through the stages of one request. Stages only add to
// it; completed stages are never removed.
type Context struct {
	SemanticScores map[models.EntryKey]float64
	RequestID      string
	Request        Request
	ScopeChain     models.ScopeChain
	Candidates     []*Candidate
	QueryEmbedding []float32
	Results        []Result
	Diagnostics    Diagnostics
	completed      []string
}

// NewContext creates the context for req.
func NewContext(req Request) *Context {
	return &Context{
		RequestID: uuid.NewString(),
		Request:   req,
		Diagnostics: Diagnostics{
			Intent:         req.Intent,
			StageDurations: make(map[string]time.Duration),
		},
	}
}

// MarkCompleted records that stage finished.
func (c *Context) MarkCompleted(stage string) {
	if !c.HasCompleted(stage) {
		c.completed = append(c.completed, stage)
	}
}

// HasCompleted reports whether stage finished.
func (c *Context) HasCompleted(stage string) bool {
	for _, s := range c.completed {
		if s == stage {
			return true
		}
	}
	return false
}

// CompletedStages returns the finished stages in completion order.
func (c *Context) CompletedStages() []string {
	out := make([]string, len(c.completed))
	copy(out, c.completed)
	return out
}

// candidateKeys returns the set of candidate keys.
func (c *Context) candidateKeys() map[models.EntryKey]*Candidate {
	keys := make(map[models.EntryKey]*Candidate, len(c.Candidates))
	for _, cand := range c.Candidates {
		keys[cand.Key] = cand
	}
	return keys
}

// requestTypes returns the requested types, defaulting to all.
func (c *Context) requestTypes() []models.EntryType {
	if len(c.Request.Types) == 0 {
		return models.AllEntryTypes
	}
	return c.Request.Types
}
