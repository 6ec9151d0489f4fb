package search

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	dbgorm "github.com/thebtf/engram-recall/internal/db/gorm"
	"github.com/thebtf/engram-recall/internal/entries"
	"github.com/thebtf/engram-recall/internal/intent"
	"github.com/thebtf/engram-recall/internal/pipeline"
	"github.com/thebtf/engram-recall/pkg/models"
)

const fixtures = `
scopes:
  - scope: project:api
    parent: org:acme
guidelines:
  - id: wrap-errors
    scope: project:api
    title: Wrap errors
    content: Always wrap errors with fmt.Errorf and %w
    priority: 90
  - id: naming
    scope: org:acme
    title: Naming
    content: Use short receiver names
    priority: 40
knowledge:
  - id: pgx
    title: Postgres pooling
    content: Use pgxpool for connection pooling
tools:
  - id: golangci
    scope: project:api
    title: golangci-lint
    content: Run golangci-lint before pushing
    usage: golangci-lint run ./...
`

type recordingRunner struct {
	pc  *pipeline.Context
	err error
	req pipeline.Request
}

func (r *recordingRunner) Run(_ context.Context, req pipeline.Request) (*pipeline.Context, error) {
	r.req = req
	if r.err != nil {
		return nil, r.err
	}
	if r.pc != nil {
		return r.pc, nil
	}
	return pipeline.NewContext(req), nil
}

type fakeFeedback struct {
	accessErr error
	accessed  [][]string
	outcomes  []dbgorm.OutcomeRecord
	contexts  []string
	mu        sync.Mutex
}

func (f *fakeFeedback) RecordAccess(_ context.Context, ids []string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accessed = append(f.accessed, ids)
	return f.accessErr
}

func (f *fakeFeedback) RecordOutcome(_ context.Context, rec dbgorm.OutcomeRecord) error {
	if !rec.EntryType.IsValid() {
		return errors.New("invalid entry type")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, rec)
	return nil
}

func (f *fakeFeedback) RecordSuccessfulContext(_ context.Context, scopeID, queryText string, embedding []float32, entryIDs []string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contexts = append(f.contexts, scopeID+"|"+queryText+"|"+strings.Join(entryIDs, ","))
	return nil
}

type staticEmbedder struct{ err error }

func (staticEmbedder) IsAvailable() bool { return true }

func (s staticEmbedder) Embed(context.Context, string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []float32{0.6, 0.8}, nil
}

// ManagerSuite runs searches through the real pipeline over fixture entries.
type ManagerSuite struct {
	suite.Suite
	manager  *Manager
	feedback *fakeFeedback
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	repo, err := entries.Decode(strings.NewReader(fixtures))
	s.Require().NoError(err)

	cfg := pipeline.DefaultConfig()
	orch := pipeline.NewOrchestrator(
		pipeline.NewFilterStage(repo, repo, cfg),
		pipeline.NewSemanticStage(nil, nil, cfg),
		pipeline.NewScoreStage(intent.NewRegistry(), nil, cfg),
		nil,
	)
	s.feedback = &fakeFeedback{}
	s.manager = NewManager(orch, s.feedback, staticEmbedder{}, DefaultOptions())
}

func (s *ManagerSuite) TestSearchInheritsScopes() {
	resp, err := s.manager.Search(context.Background(), Params{
		Scope:   "project:api",
		Text:    "wrap errors",
		Inherit: true,
	})
	s.Require().NoError(err)

	s.Equal([]string{"project:api", "org:acme", "global"}, resp.Diagnostics.ScopeChain)
	s.Equal(4, resp.TotalCount)
	s.Equal("wrap-errors", resp.Results[0].EntryID)
	s.Equal(models.EntryTypeGuideline, resp.Results[0].EntryType)
	s.Equal("project:api", resp.Results[0].Scope)
	s.Equal(1.0, resp.Results[0].TextMatch)
	s.Empty(resp.Results[0].Content)
	s.NotEmpty(resp.RequestID)
	s.Equal(pipeline.SkipNoVectorIndex, resp.Diagnostics.SemanticSkipped)

	s.Require().Len(s.feedback.accessed, 1)
	s.Len(s.feedback.accessed[0], 4)
}

func (s *ManagerSuite) TestSearchWithoutInheritance() {
	resp, err := s.manager.Search(context.Background(), Params{Scope: "project:api", Text: "lint", Format: "full"})
	s.Require().NoError(err)
	s.Equal(2, resp.TotalCount)
	for _, r := range resp.Results {
		s.Equal("project:api", r.Scope)
		s.NotEmpty(r.Content)
	}
}

func (s *ManagerSuite) TestTypeFilter() {
	resp, err := s.manager.Search(context.Background(), Params{
		Scope: "project:api", Text: "errors", Inherit: true, Types: []string{"guidelines"},
	})
	s.Require().NoError(err)
	for _, r := range resp.Results {
		s.Equal(models.EntryTypeGuideline, r.EntryType)
	}
}

func (s *ManagerSuite) TestAccessErrorDoesNotFailSearch() {
	s.feedback.accessErr = errors.New("database is locked")
	resp, err := s.manager.Search(context.Background(), Params{Text: "postgres"})
	s.Require().NoError(err)
	s.Equal(1, resp.TotalCount)
}

func (s *ManagerSuite) TestRecordFeedback() {
	err := s.manager.RecordFeedback(context.Background(), Feedback{
		Query:  "how to wrap errors",
		Intent: "how-to",
		Scope:  "project:api",
		Outcomes: []EntryOutcome{
			{EntryID: "wrap-errors", EntryType: models.EntryTypeGuideline, Outcome: models.OutcomeSuccess},
			{EntryID: "naming", EntryType: models.EntryTypeGuideline, Outcome: models.OutcomeFailure},
		},
	})
	s.Require().NoError(err)

	s.Require().Len(s.feedback.outcomes, 2)
	s.Equal("how_to", s.feedback.outcomes[0].Intent)
	s.Equal("project:api", s.feedback.outcomes[0].ScopeID)
	s.Equal([]string{"project:api|how to wrap errors|guideline:wrap-errors"}, s.feedback.contexts)
}

func (s *ManagerSuite) TestRecordFeedbackClassifiesLikeSearch() {
	query := "why does the handler panic with a nil pointer"
	resp, err := s.manager.Search(context.Background(), Params{Text: query})
	s.Require().NoError(err)
	s.Equal(intent.Debug, resp.Diagnostics.Intent)

	err = s.manager.RecordFeedback(context.Background(), Feedback{
		Query:    query,
		Outcomes: []EntryOutcome{{EntryID: "pgx", EntryType: models.EntryTypeKnowledge, Outcome: models.OutcomeSuccess}},
	})
	s.Require().NoError(err)
	s.Require().Len(s.feedback.outcomes, 1)
	s.Equal(string(resp.Diagnostics.Intent), s.feedback.outcomes[0].Intent)
}

func (s *ManagerSuite) TestAccessKeysCarryEntryType() {
	_, err := s.manager.Search(context.Background(), Params{Scope: "project:api", Text: "lint"})
	s.Require().NoError(err)
	s.Require().Len(s.feedback.accessed, 1)
	s.ElementsMatch([]string{"tool:golangci", "guideline:wrap-errors"}, s.feedback.accessed[0])
}

func (s *ManagerSuite) TestRecordFeedbackWithoutSuccessSkipsContext() {
	err := s.manager.RecordFeedback(context.Background(), Feedback{
		Query:    "q",
		Outcomes: []EntryOutcome{{EntryID: "pgx", EntryType: models.EntryTypeKnowledge, Outcome: models.OutcomePartial}},
	})
	s.Require().NoError(err)
	s.Len(s.feedback.outcomes, 1)
	s.Equal("unknown", s.feedback.outcomes[0].Intent)
	s.Empty(s.feedback.contexts)
}

func (s *ManagerSuite) TestRecordFeedbackErrors() {
	err := s.manager.RecordFeedback(context.Background(), Feedback{Intent: "ponder"})
	s.ErrorIs(err, ErrInvalidRequest)

	err = s.manager.RecordFeedback(context.Background(), Feedback{
		Outcomes: []EntryOutcome{{EntryID: "x", EntryType: "widget", Outcome: models.OutcomeSuccess}},
	})
	s.ErrorIs(err, ErrInvalidRequest)

	err = s.manager.RecordFeedback(context.Background(), Feedback{
		Outcomes: []EntryOutcome{{EntryID: "x", EntryType: models.EntryTypeTool, Outcome: "great"}},
	})
	s.ErrorIs(err, ErrInvalidRequest)
	s.Empty(s.feedback.outcomes)

	noStore := NewManager(&recordingRunner{}, nil, nil, DefaultOptions())
	s.Error(noStore.RecordFeedback(context.Background(), Feedback{}))
}

func (s *ManagerSuite) TestSearchMany() {
	merged, err := s.manager.SearchMany(context.Background(), 3,
		Params{Scope: "project:api", Text: "errors", Inherit: true},
		Params{Text: "postgres pooling"},
	)
	s.Require().NoError(err)
	s.Require().NotEmpty(merged)
	s.LessOrEqual(len(merged), 3)
	for i := 1; i < len(merged); i++ {
		s.GreaterOrEqual(merged[i-1].FusedScore, merged[i].FusedScore)
	}

	_, err = s.manager.SearchMany(context.Background(), 3)
	s.ErrorIs(err, ErrInvalidRequest)

	_, err = s.manager.SearchMany(context.Background(), 3, Params{Limit: -1})
	s.ErrorIs(err, ErrInvalidRequest)
}

func TestBuildRequestDefaults(t *testing.T) {
	runner := &recordingRunner{}
	m := NewManager(runner, nil, nil, DefaultOptions())

	_, err := m.Search(context.Background(), Params{Text: "why does the build panic with nil pointer"})
	require.NoError(t, err)

	req := runner.req
	assert.Equal(t, 20, req.Limit)
	assert.Equal(t, models.GlobalScope, req.Scope)
	assert.Equal(t, intent.Debug, req.Intent)
	assert.Equal(t, pipeline.StrategyHybrid, req.Strategy)
	assert.True(t, req.SemanticEnabled)
	assert.Empty(t, req.Types)
}

func TestBuildRequestOverrides(t *testing.T) {
	runner := &recordingRunner{}
	opts := DefaultOptions()
	opts.Timeout = 2 * time.Second
	m := NewManager(runner, nil, nil, opts)
	off := false

	_, err := m.Search(context.Background(), Params{
		Scope:             "session:s1",
		Text:              "anything",
		Intent:            "configure",
		Strategy:          "lexical",
		Types:             []string{"tool", "knowledge"},
		Limit:             500,
		SemanticThreshold: 0.4,
		Semantic:          &off,
	})
	require.NoError(t, err)

	req := runner.req
	assert.Equal(t, 100, req.Limit)
	assert.Equal(t, models.Scope{Type: models.ScopeSession, ID: "s1"}, req.Scope)
	assert.Equal(t, intent.Configure, req.Intent)
	assert.Equal(t, pipeline.StrategyLexical, req.Strategy)
	assert.Equal(t, []models.EntryType{models.EntryTypeTool, models.EntryTypeKnowledge}, req.Types)
	assert.InDelta(t, 0.4, req.SemanticThreshold, 1e-9)
	assert.False(t, req.SemanticEnabled)
	assert.Equal(t, 2*time.Second, req.Timeout)
}

func TestBuildRequestValidation(t *testing.T) {
	tests := []struct {
		name   string
		params Params
	}{
		{name: "negative limit", params: Params{Limit: -1}},
		{name: "unknown type", params: Params{Types: []string{"widget"}}},
		{name: "bad scope", params: Params{Scope: "planet:earth"}},
		{name: "scope without id", params: Params{Scope: "project"}},
		{name: "unknown intent", params: Params{Intent: "ponder"}},
		{name: "unknown strategy", params: Params{Strategy: "fuzzy"}},
		{name: "threshold above one", params: Params{SemanticThreshold: 1.5}},
		{name: "threshold NaN", params: Params{SemanticThreshold: math.NaN()}},
		{name: "queries without original", params: Params{Queries: []models.SearchQuery{
			{Text: "x", Source: models.SourceExpansion, Weight: 0.5},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &recordingRunner{}
			m := NewManager(runner, nil, nil, DefaultOptions())
			_, err := m.Search(context.Background(), tt.params)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestSearchPropagatesPipelineErrors(t *testing.T) {
	stageErr := &pipeline.StageOrderError{Stage: pipeline.StageScore, Missing: pipeline.StageFilter}
	m := NewManager(&recordingRunner{err: stageErr}, nil, nil, DefaultOptions())
	_, err := m.Search(context.Background(), Params{Text: "x"})
	assert.ErrorIs(t, err, pipeline.ErrStagePrerequisite)
}

func TestMergeResults(t *testing.T) {
	a := []Result{
		{EntryID: "x", EntryType: models.EntryTypeTool, FinalScore: 0.9},
		{EntryID: "y", EntryType: models.EntryTypeTool, FinalScore: 0.5},
	}
	b := []Result{
		{EntryID: "y", EntryType: models.EntryTypeTool, FinalScore: 0.8},
		{EntryID: "z", EntryType: models.EntryTypeKnowledge, FinalScore: 0.7},
	}

	merged := MergeResults(DefaultRRFK, 0, a, b)
	require.Len(t, merged, 3)
	assert.Equal(t, "y", merged[0].EntryID)
	assert.Equal(t, 2, merged[0].Hits)
	assert.InDelta(t, 0.8, merged[0].FinalScore, 1e-9)
	assert.InDelta(t, 1.0/62+1.0/61, merged[0].FusedScore, 1e-12)
	assert.Equal(t, "x", merged[1].EntryID)

	assert.Len(t, MergeResults(DefaultRRFK, 1, a, b), 1)
	assert.Empty(t, MergeResults(DefaultRRFK, 0))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("  short ", 10))
	assert.Equal(t, "abc...", truncate("abcdef", 3))

	// "é" is two bytes; a cut inside it backs off to the rune start.
	got := truncate("caféine", 4)
	assert.Equal(t, "caf...", got)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "日...", truncate("日本語", 5))
}
