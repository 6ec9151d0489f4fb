package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"

	"github.com/thebtf/engram-recall/internal/config"
	dbgorm "github.com/thebtf/engram-recall/internal/db/gorm"
	"github.com/thebtf/engram-recall/internal/embedding"
	"github.com/thebtf/engram-recall/internal/entries"
	"github.com/thebtf/engram-recall/internal/intent"
	"github.com/thebtf/engram-recall/internal/pipeline"
	"github.com/thebtf/engram-recall/internal/priority"
	"github.com/thebtf/engram-recall/internal/search"
	"github.com/thebtf/engram-recall/internal/vector"
)

const (
	providerNone = "none"
	driverNone   = "none"
	backendNone  = "none"
	backendPG    = "pgvector"
)

// app holds the wired retrieval components for one command invocation.
type app struct {
	cfg      *config.Config
	repo     *entries.Repository
	intents  *intent.Registry
	embedder *embedding.Registry
	store    *dbgorm.Store
	feedback *dbgorm.PriorityStore
	index    vector.Index
	orch     *pipeline.Orchestrator
	manager  *search.Manager
	closers  []func() error
	indexed  int
}

// newApp loads fixtures and intents and wires the pipeline. Optional
// collaborators that fail to start are logged and left out, so retrieval
// degrades instead of failing.
func newApp(ctx context.Context, cfg *config.Config, fixturesPath string) (*app, error) {
	a := &app{cfg: cfg, repo: entries.NewRepository()}

	if fixturesPath != "" {
		repo, err := entries.Load(fixturesPath)
		if err != nil {
			return nil, err
		}
		a.repo = repo
	}

	intents, err := intent.Load(cfg.IntentsPath)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.IntentsPath).Msg("Invalid intent weights, using defaults")
		intents = intent.NewRegistry()
	}
	a.intents = intents

	a.embedder = newEmbeddingRegistry(cfg.Embedding)
	a.closers = append(a.closers, a.embedder.Close)

	if err := a.openVectorIndex(ctx); err != nil {
		log.Warn().Err(err).Str("backend", cfg.Vector.Backend).Msg("Vector index unavailable, semantic stage disabled")
	}
	a.openStore()

	pcfg := pipelineConfig(cfg)
	var data priority.DataAccess
	if a.feedback != nil {
		data = a.feedback
	}
	scorer := priority.NewService(data, cfg.SmartPriority)

	a.orch = pipeline.NewOrchestrator(
		pipeline.NewFilterStage(a.repo, a.repo, pcfg),
		pipeline.NewSemanticStage(a.embedder, a.index, pcfg),
		pipeline.NewScoreStage(a.intents, scorer, pcfg),
		pipeline.NewMetrics(),
	)

	var fb search.FeedbackStore
	if a.feedback != nil {
		fb = a.feedback
	}
	a.manager = search.NewManager(a.orch, fb, a.embedder, searchOptions(cfg))
	return a, nil
}

func newEmbeddingRegistry(cfg config.EmbeddingConfig) *embedding.Registry {
	opts := embedding.Options{Timeout: cfg.Timeout}
	if cfg.RedisAddr != "" {
		opts.Cache = embedding.NewRedisCache(cfg.RedisAddr, cfg.CacheTTL)
	} else {
		opts.Cache = embedding.NewMemoryCache(cfg.CacheTTL, cfg.CacheSize)
	}
	if cfg.MaxTokens > 0 {
		budget, err := embedding.NewTokenBudget(cfg.MaxTokens)
		if err != nil {
			log.Warn().Err(err).Msg("Tokenizer unavailable, embedding input is not truncated")
		} else {
			opts.Budget = budget
		}
	}

	var embedder embedding.Embedder
	switch cfg.Provider {
	case providerNone, "":
	default:
		embedder = embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
	}
	return embedding.NewRegistry(embedder, opts)
}

// openVectorIndex builds the configured index and embeds every active entry
// into it. Without an available embedder the index stays empty.
func (a *app) openVectorIndex(ctx context.Context) error {
	var (
		idx    vector.Index
		writer vector.Writer
	)
	switch a.cfg.Vector.Backend {
	case backendNone:
		return nil
	case backendPG:
		pg, err := vector.NewPGIndex(ctx, vector.PGConfig{
			DSN:        a.cfg.Vector.DSN,
			Table:      a.cfg.Vector.Table,
			Dimensions: a.cfg.Embedding.Dimensions,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { pg.Close(); return nil })
		idx, writer = pg, pg
	case config.DefaultVectorBackend, "":
		mem := vector.NewMemoryIndex()
		idx, writer = mem, mem
	default:
		return fmt.Errorf("unknown vector backend %q", a.cfg.Vector.Backend)
	}

	n, err := entries.IndexAll(ctx, a.repo.All(), a.embedder, writer)
	if err != nil {
		return fmt.Errorf("index entries: %w", err)
	}
	a.indexed = n
	a.index = idx
	log.Debug().Int("indexed", n).Str("backend", a.cfg.Vector.Backend).Msg("Vector index ready")
	return nil
}

func (a *app) openStore() {
	if a.cfg.Store.Driver == driverNone {
		return
	}
	store, err := dbgorm.NewStore(dbgorm.Config{
		Driver:   a.cfg.Store.Driver,
		Path:     a.cfg.Store.DSN,
		MaxConns: a.cfg.Store.MaxConns,
		LogLevel: logger.Silent,
	})
	if err != nil {
		log.Warn().Err(err).Str("driver", a.cfg.Store.Driver).Msg("Feedback store unavailable, smart priority runs cold")
		return
	}
	a.store = store
	a.feedback = dbgorm.NewPriorityStore(store)
	a.closers = append(a.closers, store.Close)
}

// Close releases every opened resource in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("Close failed")
		}
	}
}

func pipelineConfig(cfg *config.Config) pipeline.Config {
	pcfg := pipeline.DefaultConfig()
	if s, err := pipeline.ParseStrategy(cfg.Retrieval.Strategy); err == nil {
		pcfg.Strategy = s
	} else {
		log.Warn().Err(err).Msg("Invalid strategy setting, using hybrid")
	}
	r := cfg.Retrieval
	pcfg.HybridAlpha = r.HybridAlpha
	pcfg.ScopeDecay = r.ScopeDecay
	pcfg.ScopeDecayFloor = r.ScopeDecayFloor
	pcfg.DefaultLimit = r.DefaultLimit
	pcfg.RRFK = r.RRFK
	pcfg.RRFThreshold = r.RRFThreshold
	pcfg.CandidateMultiplier = r.CandidateMultiplier
	pcfg.CandidateCap = r.CandidateCap
	pcfg.MaxPerTypeScope = r.MaxPerTypeScope
	pcfg.Weights = pipeline.ScoreWeights{
		Relevance: cfg.Scoring.Relevance,
		TextMatch: cfg.Scoring.TextMatch,
		Priority:  cfg.Scoring.Priority,
		Recency:   cfg.Scoring.Recency,
	}
	pcfg.RecencyHalfLife = cfg.Scoring.RecencyHalfLife
	return pcfg
}

func searchOptions(cfg *config.Config) search.Options {
	opts := search.DefaultOptions()
	if s, err := pipeline.ParseStrategy(cfg.Retrieval.Strategy); err == nil {
		opts.Strategy = s
	}
	opts.Timeout = cfg.Retrieval.Timeout
	opts.SemanticThreshold = cfg.Retrieval.SemanticThreshold
	opts.SemanticEnabled = cfg.Retrieval.SemanticEnabled
	if cfg.Retrieval.DefaultLimit > 0 {
		opts.DefaultLimit = cfg.Retrieval.DefaultLimit
	}
	if cfg.Retrieval.MaxLimit > 0 {
		opts.MaxLimit = cfg.Retrieval.MaxLimit
	}
	return opts
}
