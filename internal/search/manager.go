// Package search is the entry point for retrieval: it validates requests,
// runs the staged pipeline and shapes ranked results.
package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	dbgorm "github.com/thebtf/engram-recall/internal/db/gorm"
	"github.com/thebtf/engram-recall/internal/intent"
	"github.com/thebtf/engram-recall/internal/pipeline"
	"github.com/thebtf/engram-recall/pkg/models"
)

// ErrInvalidRequest is returned for malformed search parameters.
var ErrInvalidRequest = errors.New("invalid search request")

// Runner executes the retrieval pipeline. *pipeline.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Context, error)
}

// FeedbackStore persists access and outcome signals. Entries are identified
// by their key ("type:id"). *gorm.PriorityStore implements it.
type FeedbackStore interface {
	RecordAccess(ctx context.Context, entryKeys []string, at time.Time) error
	RecordOutcome(ctx context.Context, rec dbgorm.OutcomeRecord) error
	RecordSuccessfulContext(ctx context.Context, scopeID, queryText string, embedding []float32, entryKeys []string, at time.Time) error
}

// QueryEmbedder embeds feedback queries so they can seed context boosts.
type QueryEmbedder interface {
	IsAvailable() bool
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options tunes the manager's defaults.
type Options struct {
	Strategy          pipeline.Strategy
	Timeout           time.Duration
	SemanticThreshold float64
	DefaultLimit      int
	MaxLimit          int
	SemanticEnabled   bool
}

// DefaultOptions returns the default manager options.
func DefaultOptions() Options {
	return Options{
		Strategy:        pipeline.StrategyHybrid,
		DefaultLimit:    20,
		MaxLimit:        100,
		SemanticEnabled: true,
	}
}

// Manager runs validated searches through the pipeline.
type Manager struct {
	runner   Runner
	feedback FeedbackStore
	embedder QueryEmbedder
	now      func() time.Time
	opts     Options
}

// NewManager creates a new search manager. feedback and embedder may be nil.
func NewManager(runner Runner, feedback FeedbackStore, embedder QueryEmbedder, opts Options) *Manager {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 20
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = 100
	}
	return &Manager{
		runner:   runner,
		feedback: feedback,
		embedder: embedder,
		opts:     opts,
		now:      time.Now,
	}
}

// Params are the caller-facing search parameters.
type Params struct {
	Semantic          *bool // nil uses the manager default
	Scope             string
	Text              string
	Intent            string
	Strategy          string
	Format            string // "full" includes entry content
	Types             []string
	Queries           []models.SearchQuery
	RelatedIDs        []string
	Limit             int
	SemanticThreshold float64
	Timeout           time.Duration
	Inherit           bool
}

// Result is one ranked entry in a response.
type Result struct {
	SemanticScore *float64                    `json:"semantic_score,omitempty"`
	FTSScore      *float64                    `json:"fts_score,omitempty"`
	SmartPriority *models.SmartPriorityResult `json:"smart_priority,omitempty"`
	EntryID       string                      `json:"entry_id"`
	EntryType     models.EntryType            `json:"entry_type"`
	Title         string                      `json:"title,omitempty"`
	Content       string                      `json:"content,omitempty"`
	Scope         string                      `json:"scope"`
	FinalScore    float64                     `json:"final_score"`
	TextMatch     float64                     `json:"text_match"`
	IntentWeight  float64                     `json:"intent_weight"`
	ScopeIndex    int                         `json:"scope_index"`
}

// Response contains the ranked results of one search.
type Response struct {
	RequestID   string               `json:"request_id"`
	Query       string               `json:"query,omitempty"`
	Results     []Result             `json:"results"`
	Diagnostics pipeline.Diagnostics `json:"diagnostics"`
	TotalCount  int                  `json:"total_count"`
}

// Search validates params, runs the pipeline and returns ranked results.
func (m *Manager) Search(ctx context.Context, params Params) (*Response, error) {
	req, err := m.buildRequest(params)
	if err != nil {
		return nil, err
	}

	pc, err := m.runner.Run(ctx, req)
	if err != nil {
		return nil, err
	}

	resp := &Response{
		RequestID:   pc.RequestID,
		Query:       params.Text,
		Diagnostics: pc.Diagnostics,
		Results:     make([]Result, 0, len(pc.Results)),
	}
	for _, r := range pc.Results {
		resp.Results = append(resp.Results, toResult(r, params.Format))
	}
	resp.TotalCount = len(resp.Results)

	m.recordAccess(ctx, resp.Results)
	return resp, nil
}

// buildRequest validates params and applies defaults.
func (m *Manager) buildRequest(params Params) (pipeline.Request, error) {
	invalid := func(format string, args ...any) (pipeline.Request, error) {
		return pipeline.Request{}, fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
	}

	if params.Limit < 0 {
		return invalid("limit must not be negative, got %d", params.Limit)
	}
	limit := params.Limit
	if limit == 0 {
		limit = m.opts.DefaultLimit
	}
	if limit > m.opts.MaxLimit {
		limit = m.opts.MaxLimit
	}

	scope := models.GlobalScope
	if s := strings.TrimSpace(params.Scope); s != "" {
		parsed, err := models.ParseScope(s)
		if err != nil {
			return invalid("%v", err)
		}
		scope = parsed
	}

	types := make([]models.EntryType, 0, len(params.Types))
	for _, t := range params.Types {
		parsed, err := models.ParseEntryType(t)
		if err != nil {
			return invalid("%v", err)
		}
		types = append(types, parsed)
	}

	in, err := resolveIntent(params.Intent, params.Text)
	if err != nil {
		return invalid("%v", err)
	}

	strategy := m.opts.Strategy
	if params.Strategy != "" {
		parsed, err := pipeline.ParseStrategy(params.Strategy)
		if err != nil {
			return invalid("%v", err)
		}
		strategy = parsed
	}

	threshold := params.SemanticThreshold
	if threshold == 0 {
		threshold = m.opts.SemanticThreshold
	}
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return invalid("semantic threshold must be within [0,1], got %v", threshold)
	}

	if len(params.Queries) > 0 {
		if err := models.ValidateQueries(params.Queries); err != nil {
			return pipeline.Request{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
	}

	semantic := m.opts.SemanticEnabled
	if params.Semantic != nil {
		semantic = *params.Semantic
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = m.opts.Timeout
	}

	return pipeline.Request{
		Scope:             scope,
		Text:              params.Text,
		Intent:            in,
		Strategy:          strategy,
		Types:             types,
		Queries:           params.Queries,
		RelatedIDs:        params.RelatedIDs,
		Limit:             limit,
		SemanticThreshold: threshold,
		Timeout:           timeout,
		Inherit:           params.Inherit,
		SemanticEnabled:   semantic,
	}, nil
}

func (m *Manager) recordAccess(ctx context.Context, results []Result) {
	if m.feedback == nil || len(results) == 0 {
		return
	}
	keys := make([]string, len(results))
	for i, r := range results {
		keys[i] = models.EntryKey{Type: r.EntryType, ID: r.EntryID}.String()
	}
	if err := m.feedback.RecordAccess(ctx, keys, m.now()); err != nil {
		log.Warn().Err(err).Int("entries", len(keys)).Msg("Failed to record entry access")
	}
}

// EntryOutcome is the caller's verdict on one returned entry.
type EntryOutcome struct {
	EntryID   string           `json:"entry_id"`
	EntryType models.EntryType `json:"entry_type"`
	Outcome   models.Outcome   `json:"outcome"`
}

// Feedback reports how useful the results of a search were.
type Feedback struct {
	Query    string         `json:"query"`
	Intent   string         `json:"intent"`
	Scope    string         `json:"scope"`
	Outcomes []EntryOutcome `json:"outcomes"`
}

// RecordFeedback stores per-entry outcomes. When at least one entry succeeded
// and an embedder is available, the query is stored as a successful context.
func (m *Manager) RecordFeedback(ctx context.Context, fb Feedback) error {
	if m.feedback == nil {
		return fmt.Errorf("feedback store not configured")
	}
	in, err := resolveIntent(fb.Intent, fb.Query)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	for _, o := range fb.Outcomes {
		if !o.EntryType.IsValid() {
			return fmt.Errorf("%w: entry %s has unknown type %q", ErrInvalidRequest, o.EntryID, o.EntryType)
		}
		switch o.Outcome {
		case models.OutcomeSuccess, models.OutcomePartial, models.OutcomeFailure:
		default:
			return fmt.Errorf("%w: entry %s has unknown outcome %q", ErrInvalidRequest, o.EntryID, o.Outcome)
		}
	}
	scopeID := ""
	if strings.TrimSpace(fb.Scope) != "" {
		scope, err := models.ParseScope(fb.Scope)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		if scope.Type != models.ScopeGlobal {
			scopeID = scope.String()
		}
	}

	now := m.now()
	var succeeded []string
	for _, o := range fb.Outcomes {
		err := m.feedback.RecordOutcome(ctx, dbgorm.OutcomeRecord{
			At:        now,
			Intent:    string(in),
			ScopeID:   scopeID,
			EntryID:   o.EntryID,
			EntryType: o.EntryType,
			Outcome:   o.Outcome,
		})
		if err != nil {
			return fmt.Errorf("record outcome for %s: %w", o.EntryID, err)
		}
		if o.Outcome == models.OutcomeSuccess {
			succeeded = append(succeeded, models.EntryKey{Type: o.EntryType, ID: o.EntryID}.String())
		}
	}

	if len(succeeded) == 0 || m.embedder == nil || !m.embedder.IsAvailable() || strings.TrimSpace(fb.Query) == "" {
		return nil
	}
	vec, err := m.embedder.Embed(ctx, fb.Query)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to embed feedback query, successful context not stored")
		return nil
	}
	return m.feedback.RecordSuccessfulContext(ctx, scopeID, fb.Query, vec, succeeded, now)
}

func toResult(r pipeline.Result, format string) Result {
	h := r.Entry.Header()
	result := Result{
		SemanticScore: r.SemanticScore,
		FTSScore:      r.FTSScore,
		SmartPriority: r.SmartPriority,
		EntryID:       r.Key.ID,
		EntryType:     r.Key.Type,
		Title:         truncate(h.Title, 100),
		Scope:         h.Scope.String(),
		FinalScore:    r.FinalScore,
		TextMatch:     r.TextMatch,
		IntentWeight:  r.IntentWeight,
		ScopeIndex:    r.ScopeIndex,
	}
	if format == "full" {
		result.Content = h.Content
	}
	return result
}

// resolveIntent parses an explicit intent or classifies text when none is
// given. Search and feedback share it so outcomes land under the intent the
// search ran with.
func resolveIntent(explicit, text string) (intent.Intent, error) {
	if strings.TrimSpace(explicit) == "" {
		return intent.Classify(text), nil
	}
	return intent.Parse(explicit)
}

// truncate cuts s to at most maxLen bytes without splitting a rune.
func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
