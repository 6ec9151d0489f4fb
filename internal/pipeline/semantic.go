package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/engram-recall/internal/embedding"
	"github.com/thebtf/engram-recall/internal/privacy"
	"github.com/thebtf/engram-recall/internal/scoring"
	"github.com/thebtf/engram-recall/internal/vector"
	"github.com/thebtf/engram-recall/pkg/models"
)

// Skip reasons recorded in Diagnostics.SemanticSkipped.
const (
	SkipNoQueryText   = "no_query_text"
	SkipLexical       = "lexical_strategy"
	SkipDisabled      = "semantic_disabled"
	SkipUnavailable   = "embedding_unavailable"
	SkipNoVectorIndex = "no_vector_index"
	SkipNoCandidates  = "no_candidates"
)

// Embedder is the embedding capability the semantic stage depends on.
// *embedding.Registry implements it with request coalescing.
type Embedder interface {
	IsAvailable() bool
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SemanticStage attaches vector similarity scores to the context.
type SemanticStage struct {
	embedder Embedder
	index    vector.Index
	cfg      Config
}

// NewSemanticStage creates a semantic stage. Either collaborator may be nil,
// which makes the stage a pass-through.
func NewSemanticStage(embedder Embedder, index vector.Index, cfg Config) *SemanticStage {
	return &SemanticStage{embedder: embedder, index: index, cfg: cfg}
}

func (s *SemanticStage) Name() string            { return StageSemantic }
func (s *SemanticStage) Prerequisites() []string { return []string{StageFilter} }

// Run never fails on embedding or vector index errors: it logs them, records
// the reason in diagnostics and leaves the context without semantic scores.
func (s *SemanticStage) Run(ctx context.Context, pc *Context) error {
	if reason := s.skipReason(pc); reason != "" {
		pc.Diagnostics.SemanticSkipped = reason
		if reason == SkipUnavailable {
			log.Info().Str("request_id", pc.RequestID).Msg("Embedding unavailable, semantic search skipped")
		}
		return nil
	}

	queries, err := s.queries(pc.Request)
	if err != nil {
		return err
	}

	scores, original, err := s.search(ctx, pc, queries)
	if err != nil {
		s.degrade(pc, err)
		return nil
	}

	pc.QueryEmbedding = original
	pc.SemanticScores = scores
	pc.Diagnostics.SemanticMatches = len(scores)
	pc.MarkCompleted(StageSemantic)
	return nil
}

func (s *SemanticStage) skipReason(pc *Context) string {
	req := pc.Request
	switch {
	case privacy.Clean(req.Text) == "" && len(req.Queries) == 0:
		return SkipNoQueryText
	case s.strategy(req) == StrategyLexical:
		return SkipLexical
	case !req.SemanticEnabled:
		return SkipDisabled
	case len(pc.Candidates) == 0:
		return SkipNoCandidates
	case s.index == nil:
		return SkipNoVectorIndex
	case s.embedder == nil || !s.embedder.IsAvailable():
		if hasAllEmbeddings(req.Queries) {
			return ""
		}
		return SkipUnavailable
	}
	return ""
}

// strategy falls back to the configured default when the request has none.
func (s *SemanticStage) strategy(req Request) Strategy {
	if req.Strategy == "" {
		return s.cfg.Strategy
	}
	return req.Strategy
}

// queries returns the weighted sub-queries of req, defaulting to the original
// text at weight 1.0.
func (s *SemanticStage) queries(req Request) ([]models.SearchQuery, error) {
	if len(req.Queries) == 0 {
		return []models.SearchQuery{{
			Text:   privacy.Clean(req.Text),
			Source: models.SourceOriginal,
			Weight: 1.0,
		}}, nil
	}
	if err := models.ValidateQueries(req.Queries); err != nil {
		return nil, err
	}
	out := make([]models.SearchQuery, len(req.Queries))
	copy(out, req.Queries)
	for i := range out {
		out[i].Text = privacy.Clean(out[i].Text)
	}
	return out, nil
}

// search embeds sub-queries lacking a vector, runs one vector search per
// sub-query and keeps, per candidate, the maximum of weight × score.
func (s *SemanticStage) search(ctx context.Context, pc *Context, queries []models.SearchQuery) (map[models.EntryKey]float64, []float32, error) {
	g, gctx := errgroup.WithContext(ctx)
	for i := range queries {
		if len(queries[i].Embedding) > 0 {
			continue
		}
		if queries[i].Text == "" {
			return nil, nil, fmt.Errorf("%s query has neither text nor embedding", queries[i].Source)
		}
		i := i
		g.Go(func() error {
			vec, err := s.embedder.Embed(gctx, queries[i].Text)
			if err != nil {
				return fmt.Errorf("embed %s query: %w", queries[i].Source, err)
			}
			queries[i].Embedding = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	limit := s.candidateLimit(pc.Request.Limit)
	types := pc.requestTypes()
	matches := make([][]vector.Match, len(queries))
	g, gctx = errgroup.WithContext(ctx)
	for i := range queries {
		i := i
		g.Go(func() error {
			m, err := s.index.SearchSimilar(gctx, queries[i].Embedding, types, limit)
			if err != nil {
				return fmt.Errorf("vector search: %w", err)
			}
			matches[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	candidates := pc.candidateKeys()
	threshold := scoring.Clamp01(pc.Request.SemanticThreshold)
	scores := make(map[models.EntryKey]float64)
	var original []float32
	for i, q := range queries {
		if q.Source == models.SourceOriginal {
			original = q.Embedding
		}
		for _, m := range matches[i] {
			if _, ok := candidates[m.Key]; !ok {
				continue
			}
			weighted := scoring.Clamp01(q.Weight * scoring.Clamp01(m.Score))
			if weighted < threshold || weighted == 0 {
				continue
			}
			if weighted > scores[m.Key] {
				scores[m.Key] = weighted
			}
		}
	}
	return scores, original, nil
}

// candidateLimit is min(limit × multiplier, cap).
func (s *SemanticStage) candidateLimit(limit int) int {
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	mult := s.cfg.CandidateMultiplier
	if mult <= 0 {
		mult = 3
	}
	capN := s.cfg.CandidateCap
	if capN <= 0 || capN > vector.MaxSearchLimit {
		capN = vector.MaxSearchLimit
	}
	return min(limit*mult, capN)
}

func (s *SemanticStage) degrade(pc *Context, err error) {
	pc.Diagnostics.SemanticDegraded = err.Error()
	pc.SemanticScores = nil

	evt := log.Warn()
	if errors.Is(err, embedding.ErrEmbeddingDisabled) || errors.Is(err, embedding.ErrRegistryClosed) {
		evt = log.Info()
	}
	evt.Err(err).
		Str("request_id", pc.RequestID).
		Bool("transient", embedding.IsTransient(err)).
		Msg("Semantic search degraded to lexical")
}

func hasAllEmbeddings(queries []models.SearchQuery) bool {
	if len(queries) == 0 {
		return false
	}
	for _, q := range queries {
		if len(q.Embedding) == 0 {
			return false
		}
	}
	return true
}
