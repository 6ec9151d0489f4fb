package pipeline

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/engram-recall/internal/intent"
	"github.com/thebtf/engram-recall/internal/priority"
	"github.com/thebtf/engram-recall/internal/scoring"
	"github.com/thebtf/engram-recall/pkg/models"
)

// Fusion methods reported in results and diagnostics.
const (
	FusionHybrid = "hybrid"
	FusionRRF    = "rrf"
)

// IntentWeights supplies per-type weights for an intent.
type IntentWeights interface {
	Weight(in intent.Intent, t models.EntryType) float64
}

// PriorityScorer supplies smart priority results. *priority.Service
// implements it.
type PriorityScorer interface {
	Enabled() bool
	GetPriorityScores(ctx context.Context, candidates []priority.Candidate, intent string, queryEmbedding []float32, scopeID string) (map[models.EntryKey]models.SmartPriorityResult, error)
	Multiplier(r models.SmartPriorityResult) float64
}

// ScoreStage fuses every signal into a final score and ranks the candidates.
type ScoreStage struct {
	intents  IntentWeights
	priority PriorityScorer
	now      func() time.Time
	cfg      Config
}

// NewScoreStage creates a score stage. intents and scorer may be nil.
func NewScoreStage(intents IntentWeights, scorer PriorityScorer, cfg Config) *ScoreStage {
	return &ScoreStage{intents: intents, priority: scorer, cfg: cfg, now: time.Now}
}

func (s *ScoreStage) Name() string            { return StageScore }
func (s *ScoreStage) Prerequisites() []string { return []string{StageFilter} }

func (s *ScoreStage) Run(ctx context.Context, pc *Context) error {
	if err := checkPrerequisites(s, pc); err != nil {
		return err
	}

	smart, err := s.smartPriority(ctx, pc)
	if err != nil {
		return err
	}

	relevance, fusion := s.relevance(pc)
	weights := scoring.NormalizeWeightMap(map[string]float64{
		"relevance": s.cfg.Weights.Relevance,
		"text":      s.cfg.Weights.TextMatch,
		"priority":  s.cfg.Weights.Priority,
		"recency":   s.cfg.Weights.Recency,
	})
	now := s.now()

	results := make([]Result, 0, len(pc.Candidates))
	for _, c := range pc.Candidates {
		r := Result{
			Entry:              c.Entry,
			Key:                c.Key,
			ScopeIndex:         c.ScopeIndex,
			FTSScore:           c.FTSScore,
			Fusion:             fusion,
			Relevance:          relevance[c.Key],
			TextMatch:          s.textMatch(c),
			PriorityScore:      s.priorityScore(c.Entry),
			RecencyScore:       s.recency(c.Entry, now),
			IntentWeight:       s.intentWeight(pc.Request.Intent, c.Key.Type),
			ScopeFactor:        s.scopeFactor(c.ScopeIndex),
			PriorityMultiplier: 1.0,
		}
		if sem, ok := pc.SemanticScores[c.Key]; ok {
			r.SemanticScore = scoring.Float(sem)
		}

		base := weights["relevance"]*r.Relevance +
			weights["text"]*r.TextMatch +
			weights["priority"]*r.PriorityScore +
			weights["recency"]*r.RecencyScore
		r.BaseScore = scoring.Sanitize(base, 0)

		score := scoring.SafeMul(r.BaseScore, r.IntentWeight)
		score = scoring.SafeMul(score, r.ScopeFactor)
		if sp, ok := smart[c.Key]; ok {
			sp := sp
			r.SmartPriority = &sp
			r.PriorityMultiplier = scoring.Sanitize(s.priority.Multiplier(sp), 1.0)
			score = scoring.SafeMul(score, r.PriorityMultiplier)
		}
		r.FinalScore = math.Max(0, scoring.Sanitize(score, 0))
		results = append(results, r)
	}

	sortResults(results)

	limit := pc.Request.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	pc.Results = results
	pc.Diagnostics.Fusion = fusion
	pc.Diagnostics.SmartPriorityApplied = len(smart) > 0
	pc.MarkCompleted(StageScore)

	for _, r := range results {
		log.Debug().
			Str("request_id", pc.RequestID).
			Str("entry", r.Key.String()).
			Float64("final", r.FinalScore).
			Float64("relevance", r.Relevance).
			Float64("text", r.TextMatch).
			Float64("intent_weight", r.IntentWeight).
			Float64("priority_multiplier", r.PriorityMultiplier).
			Msg("Scored candidate")
	}
	return nil
}

// smartPriority returns per-candidate results, or nil when prioritization is
// off. Only context cancellation is returned as an error.
func (s *ScoreStage) smartPriority(ctx context.Context, pc *Context) (map[models.EntryKey]models.SmartPriorityResult, error) {
	if s.priority == nil || !s.priority.Enabled() || len(pc.Candidates) == 0 {
		return nil, nil
	}
	batch := make([]priority.Candidate, len(pc.Candidates))
	for i, c := range pc.Candidates {
		batch[i] = priority.Candidate{ID: c.Key.ID, Type: c.Key.Type}
	}
	scopeID := ""
	if len(pc.ScopeChain) > 0 && pc.ScopeChain[0].Type != models.ScopeGlobal {
		scopeID = pc.ScopeChain[0].String()
	}
	return s.priority.GetPriorityScores(ctx, batch, string(pc.Request.Intent), pc.QueryEmbedding, scopeID)
}

// relevance computes the fused semantic/lexical relevance of every candidate.
// Above RRFThreshold candidates, with both signals present, rank fusion
// replaces linear blending.
func (s *ScoreStage) relevance(pc *Context) (map[models.EntryKey]float64, string) {
	out := make(map[models.EntryKey]float64, len(pc.Candidates))

	var semList, ftsList []*Candidate
	for _, c := range pc.Candidates {
		if _, ok := pc.SemanticScores[c.Key]; ok {
			semList = append(semList, c)
		}
		if c.FTSScore != nil && *c.FTSScore > 0 {
			ftsList = append(ftsList, c)
		}
	}

	threshold := s.cfg.RRFThreshold
	if threshold > 0 && len(pc.Candidates) > threshold && len(semList) > 0 && len(ftsList) > 0 {
		rankBy(semList, func(c *Candidate) float64 { return pc.SemanticScores[c.Key] })
		rankBy(ftsList, func(c *Candidate) float64 { return *c.FTSScore })

		fused := scoring.FuseRanked(s.cfg.RRFK, keysOf(semList), keysOf(ftsList))
		maxScore := scoring.MaxRRF(2, s.cfg.RRFK)
		for _, f := range fused {
			out[f.Key] = scoring.Clamp01(scoring.SafeDiv(f.Score, maxScore, 0))
		}
		return out, FusionRRF
	}

	for _, c := range pc.Candidates {
		var sem *float64
		if v, ok := pc.SemanticScores[c.Key]; ok {
			sem = scoring.Float(v)
		}
		out[c.Key] = scoring.HybridScore(sem, c.FTSScore, s.cfg.HybridAlpha)
	}
	return out, FusionHybrid
}

func (s *ScoreStage) textMatch(c *Candidate) float64 {
	var v float64
	if c.LiteralMatch {
		v += s.cfg.LiteralMatchScore
	}
	v += float64(c.TagMatches) * s.cfg.TagMatchScore
	if c.Related {
		v += s.cfg.RelatedScore
	}
	return scoring.Clamp01(v)
}

func (s *ScoreStage) priorityScore(e models.Entry) float64 {
	if p, ok := models.PriorityOf(e); ok {
		return float64(p) / 100
	}
	return scoring.Clamp01(s.cfg.NeutralPriority)
}

func (s *ScoreStage) recency(e models.Entry, now time.Time) float64 {
	h := e.Header()
	t := h.UpdatedAt
	if t.IsZero() {
		t = h.CreatedAt
	}
	return scoring.RecencyScore(t, now, s.cfg.RecencyHalfLife)
}

func (s *ScoreStage) intentWeight(in intent.Intent, t models.EntryType) float64 {
	if s.intents == nil {
		return 1.0
	}
	w := s.intents.Weight(in, t)
	if !scoring.IsFinite(w) || w < 0 {
		return 1.0
	}
	return w
}

// scopeFactor decays with distance from the most specific scope.
func (s *ScoreStage) scopeFactor(scopeIndex int) float64 {
	floor := scoring.Clamp01(s.cfg.ScopeDecayFloor)
	return math.Max(floor, 1-scoring.Clamp01(s.cfg.ScopeDecay)*float64(scopeIndex))
}

// sortResults orders by final score, then more specific scope, then newer
// creation time, then key.
func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		if a.ScopeIndex != b.ScopeIndex {
			return a.ScopeIndex < b.ScopeIndex
		}
		ac, bc := a.Entry.Header().CreatedAt, b.Entry.Header().CreatedAt
		if !ac.Equal(bc) {
			return ac.After(bc)
		}
		return a.Key.String() < b.Key.String()
	})
}

func rankBy(list []*Candidate, score func(*Candidate) float64) {
	sort.SliceStable(list, func(i, j int) bool {
		si, sj := score(list[i]), score(list[j])
		if si != sj {
			return si > sj
		}
		return list[i].Key.String() < list[j].Key.String()
	})
}

func keysOf(list []*Candidate) []models.EntryKey {
	keys := make([]models.EntryKey, len(list))
	for i, c := range list {
		keys[i] = c.Key
	}
	return keys
}
