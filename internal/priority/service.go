package priority

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/engram-recall/internal/scoring"
	"github.com/thebtf/engram-recall/pkg/models"
)

// DataAccess is the read-only query surface smart prioritization depends on.
type DataAccess interface {
	// GetOutcomesByIntentAndType aggregates retrieval outcomes for an intent and
	// scope over the last lookbackDays. An empty scopeID aggregates across scopes.
	GetOutcomesByIntentAndType(ctx context.Context, intent, scopeID string, lookbackDays int) (models.OutcomeAggregation, error)

	// GetUsefulnessMetrics returns metrics keyed by entry key ("type:id").
	// Entries without history are absent from the map.
	GetUsefulnessMetrics(ctx context.Context, entryKeys []string) (map[string]models.UsefulnessMetrics, error)

	// FindSimilarSuccessfulContexts returns past successful query contexts whose
	// embedding similarity to the given one is at least threshold, best first.
	// Their SuccessfulEntryIDs hold entry keys.
	FindSimilarSuccessfulContexts(ctx context.Context, embedding []float32, threshold float64, maxResults int) ([]models.SuccessfulContext, error)
}

// Candidate identifies an entry to prioritize.
type Candidate struct {
	ID   string
	Type models.EntryType
}

// Key returns the entry key history is recorded under.
func (c Candidate) Key() models.EntryKey {
	return models.EntryKey{Type: c.Type, ID: c.ID}
}

// Service computes smart priority scores. It is safe for concurrent use.
type Service struct {
	data DataAccess
	now  func() time.Time
	cfg  Config
}

// NewService creates a smart prioritization service. data may be nil, in which
// case every entry is treated as cold.
func NewService(data DataAccess, cfg Config) *Service {
	return &Service{
		data: data,
		cfg:  cfg,
		now:  time.Now,
	}
}

// Config returns the service configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// Enabled reports whether prioritization is active.
func (s *Service) Enabled() bool {
	return s != nil && s.cfg.Enabled
}

// GetPriorityScores returns one result per candidate. It returns an empty map
// when disabled. Data access failures degrade the affected factor to neutral;
// the only returned error is context cancellation.
func (s *Service) GetPriorityScores(
	ctx context.Context,
	candidates []Candidate,
	intent string,
	queryEmbedding []float32,
	scopeID string,
) (map[models.EntryKey]models.SmartPriorityResult, error) {
	results := make(map[models.EntryKey]models.SmartPriorityResult)
	if !s.Enabled() || len(candidates) == 0 {
		return results, nil
	}

	typeWeights := s.typeWeights(ctx, intent, scopeID)
	metrics := s.usefulness(ctx, candidates)
	boosts := s.contextBoosts(ctx, queryEmbedding)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.now()
	for _, c := range candidates {
		key := c.Key()
		var m *models.UsefulnessMetrics
		if found, ok := metrics[key.String()]; ok {
			m = &found
		}

		usefulness := UsefulnessScore(m, now, s.cfg)
		feedback := FeedbackMultiplier(m, s.cfg)
		boost := 1.0
		if b, ok := boosts[key.String()]; ok {
			boost = b
		}
		typeWeight, ok := typeWeights[c.Type]
		if !ok {
			typeWeight = 1.0
		}

		composite := s.composite(usefulness, feedback, boost, typeWeight)
		results[key] = models.SmartPriorityResult{
			EntryID:                c.ID,
			EntryType:              c.Type,
			TypeWeight:             typeWeight,
			UsefulnessScore:        usefulness,
			FeedbackMultiplier:     feedback,
			ContextSimilarityBoost: boost,
			CompositePriorityScore: composite,
		}
	}
	return results, nil
}

// composite multiplies the factors and clamps the product to (0,1].
func (s *Service) composite(usefulness, feedback, boost, typeWeight float64) float64 {
	maxBoost := s.cfg.MaxContextBoost
	if !scoring.IsFinite(maxBoost) || maxBoost < 1 {
		maxBoost = 1
	}
	v := scoring.SafeMul(usefulness, scoring.ClampRange(feedback, s.cfg.PenaltyFloor, s.cfg.BoostCap))
	v = scoring.SafeMul(v, scoring.ClampRange(boost, 1, maxBoost))
	v = scoring.SafeMul(v, scoring.ClampRange(typeWeight, s.cfg.MinTypeWeight, s.cfg.MaxTypeWeight))
	v = scoring.Clamp01(v)
	if v <= 0 {
		// Composite must stay positive; fall back to the smallest usefulness.
		v = scoring.ClampRange(s.cfg.MinUsefulness, 1e-6, 1)
	}
	return v
}

// Multiplier converts a composite score into a score multiplier centred on 1.0:
// a neutral composite of 0.5 leaves the score unchanged.
func (s *Service) Multiplier(r models.SmartPriorityResult) float64 {
	influence := scoring.Clamp01(s.cfg.ScoreInfluence)
	composite := scoring.Clamp01(r.CompositePriorityScore)
	return 1 + influence*(2*composite-1)
}

func (s *Service) typeWeights(ctx context.Context, intent, scopeID string) map[models.EntryType]float64 {
	if s.data == nil {
		return TypeWeights(models.OutcomeAggregation{}, s.cfg)
	}
	agg, err := s.data.GetOutcomesByIntentAndType(ctx, intent, scopeID, s.cfg.LookbackDays)
	if err != nil {
		log.Warn().Err(err).Str("intent", intent).Msg("Outcome aggregation unavailable, using neutral type weights")
		return TypeWeights(models.OutcomeAggregation{}, s.cfg)
	}
	if agg.TotalSamples == 0 {
		log.Debug().Str("intent", intent).Msg("No outcome history, cold start type weights")
	}
	return TypeWeights(agg, s.cfg)
}

func (s *Service) usefulness(ctx context.Context, candidates []Candidate) map[string]models.UsefulnessMetrics {
	if s.data == nil {
		return nil
	}
	keys := make([]string, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		k := c.Key().String()
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	metrics, err := s.data.GetUsefulnessMetrics(ctx, keys)
	if err != nil {
		log.Warn().Err(err).Int("candidates", len(keys)).Msg("Usefulness metrics unavailable, treating entries as cold")
		return nil
	}
	return metrics
}

func (s *Service) contextBoosts(ctx context.Context, embedding []float32) map[string]float64 {
	if s.data == nil || !s.cfg.ContextSimilarityEnabled || len(embedding) == 0 {
		return nil
	}
	contexts, err := s.data.FindSimilarSuccessfulContexts(ctx, embedding, s.cfg.ContextSimilarityThreshold, s.cfg.MaxContexts)
	if err != nil {
		log.Warn().Err(err).Msg("Successful context lookup failed, skipping context boost")
		return nil
	}

	boosts := make(map[string]float64)
	for _, sc := range contexts {
		b := ContextBoost(sc.SimilarityScore, s.cfg)
		if b <= 1 {
			continue
		}
		for _, key := range sc.SuccessfulEntryIDs {
			if b > boosts[key] {
				boosts[key] = b
			}
		}
	}
	return boosts
}
