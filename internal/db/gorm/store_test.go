package gorm

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm/logger"

	"github.com/thebtf/engram-recall/internal/priority"
	"github.com/thebtf/engram-recall/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(Config{
		Path:     filepath.Join(t.TempDir(), "test.db"),
		MaxConns: 1,
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewStore(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Ping())
	assert.Equal(t, DriverSQLite, store.Driver())

	var journalMode string
	require.NoError(t, store.DB.Raw("PRAGMA journal_mode").Scan(&journalMode).Error)
	assert.Equal(t, "wal", journalMode)

	for _, table := range []string{"retrieval_outcomes", "entry_usefulness", "successful_contexts"} {
		assert.True(t, store.DB.Migrator().HasTable(table), "table %s should exist", table)
	}
}

func TestNewStore_Validation(t *testing.T) {
	_, err := NewStore(Config{})
	assert.Error(t, err)

	_, err = NewStore(Config{Driver: "mysql", Path: "x"})
	assert.ErrorContains(t, err, "unsupported driver")
}

func TestNewStore_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	for i := 0; i < 2; i++ {
		store, err := NewStore(Config{Path: path, LogLevel: logger.Silent})
		require.NoError(t, err)
		require.NoError(t, store.Close())
	}
}

type PriorityStoreSuite struct {
	suite.Suite
	store *PriorityStore
	ctx   context.Context
}

func TestPriorityStoreSuite(t *testing.T) {
	suite.Run(t, new(PriorityStoreSuite))
}

func (s *PriorityStoreSuite) SetupTest() {
	s.store = NewPriorityStore(newTestStore(s.T()))
	s.ctx = context.Background()
}

func (s *PriorityStoreSuite) record(intent, scope, id string, typ models.EntryType, outcome models.Outcome, at time.Time) {
	s.Require().NoError(s.store.RecordOutcome(s.ctx, OutcomeRecord{
		At:        at,
		Intent:    intent,
		ScopeID:   scope,
		EntryID:   id,
		EntryType: typ,
		Outcome:   outcome,
	}))
}

func (s *PriorityStoreSuite) TestGetOutcomesByIntentAndType_Aggregates() {
	now := time.Now()
	s.record("debug", "project:api", "g1", models.EntryTypeGuideline, models.OutcomeSuccess, now)
	s.record("debug", "project:api", "g2", models.EntryTypeGuideline, models.OutcomePartial, now)
	s.record("debug", "project:api", "g3", models.EntryTypeGuideline, models.OutcomeFailure, now)
	s.record("debug", "project:api", "k1", models.EntryTypeKnowledge, models.OutcomeSuccess, now)
	s.record("lookup", "project:api", "k2", models.EntryTypeKnowledge, models.OutcomeSuccess, now)
	s.record("debug", "project:web", "k3", models.EntryTypeKnowledge, models.OutcomeFailure, now)

	agg, err := s.store.GetOutcomesByIntentAndType(s.ctx, "debug", "project:api", 30)
	s.Require().NoError(err)
	s.Equal(int64(4), agg.TotalSamples)
	s.Require().Len(agg.ByType, 2)

	guideline := agg.ByType[0]
	s.Equal(models.EntryTypeGuideline, guideline.EntryType)
	s.Equal(int64(3), guideline.TotalRetrievals)
	s.Equal(int64(1), guideline.SuccessCount)
	s.Equal(int64(1), guideline.PartialCount)
	s.InDelta(0.5, guideline.SuccessRate, 1e-9)

	s.Equal(models.EntryTypeKnowledge, agg.ByType[1].EntryType)
	s.InDelta(1.0, agg.ByType[1].SuccessRate, 1e-9)
}

func (s *PriorityStoreSuite) TestGetOutcomesByIntentAndType_PartialCountsHalf() {
	now := time.Now()
	for i := 0; i < 10; i++ {
		s.record("debug", "", fmt.Sprintf("g%d", i), models.EntryTypeGuideline, models.OutcomePartial, now)
	}

	agg, err := s.store.GetOutcomesByIntentAndType(s.ctx, "debug", "", 30)
	s.Require().NoError(err)
	s.Require().Len(agg.ByType, 1)
	s.InDelta(0.5, agg.ByType[0].SuccessRate, 1e-9)

	weights := priority.TypeWeights(agg, priority.DefaultConfig())
	s.InDelta(1.0, weights[models.EntryTypeGuideline], 1e-9)
}

func (s *PriorityStoreSuite) TestGetOutcomesByIntentAndType_LookbackWindow() {
	s.record("debug", "", "g1", models.EntryTypeGuideline, models.OutcomeSuccess, time.Now().Add(-60*24*time.Hour))
	s.record("debug", "", "g2", models.EntryTypeGuideline, models.OutcomeSuccess, time.Now())

	agg, err := s.store.GetOutcomesByIntentAndType(s.ctx, "debug", "", 30)
	s.Require().NoError(err)
	s.Equal(int64(1), agg.TotalSamples)
}

func (s *PriorityStoreSuite) TestGetOutcomesByIntentAndType_Empty() {
	agg, err := s.store.GetOutcomesByIntentAndType(s.ctx, "debug", "", 30)
	s.Require().NoError(err)
	s.Empty(agg.ByType)
	s.Zero(agg.TotalSamples)
}

func (s *PriorityStoreSuite) TestRecordOutcome_RejectsInvalidInput() {
	err := s.store.RecordOutcome(s.ctx, OutcomeRecord{EntryID: "x", EntryType: "widget", Outcome: models.OutcomeSuccess})
	s.Error(err)

	err = s.store.RecordOutcome(s.ctx, OutcomeRecord{EntryID: "x", EntryType: models.EntryTypeTool, Outcome: "maybe"})
	s.Error(err)
}

func (s *PriorityStoreSuite) TestUsefulnessCounters() {
	accessAt := time.Now().Add(-time.Hour).Truncate(time.Millisecond)
	successAt := time.Now().Truncate(time.Millisecond)

	s.Require().NoError(s.store.RecordAccess(s.ctx, []string{"guideline:a", "guideline:b"}, accessAt))
	s.Require().NoError(s.store.RecordAccess(s.ctx, []string{"guideline:a"}, accessAt))
	s.record("debug", "", "a", models.EntryTypeGuideline, models.OutcomeSuccess, successAt)
	s.record("debug", "", "b", models.EntryTypeGuideline, models.OutcomeFailure, successAt)

	metrics, err := s.store.GetUsefulnessMetrics(s.ctx, []string{"guideline:a", "guideline:b", "guideline:missing"})
	s.Require().NoError(err)
	s.Len(metrics, 2)

	a := metrics["guideline:a"]
	s.Equal(int64(2), a.RetrievalCount)
	s.Equal(int64(1), a.SuccessCount)
	s.True(a.LastAccessAt.Equal(accessAt))
	s.True(a.LastSuccessAt.Equal(successAt))

	b := metrics["guideline:b"]
	s.Equal(int64(1), b.RetrievalCount)
	s.Zero(b.SuccessCount)
	s.True(b.LastSuccessAt.IsZero())

	_, ok := metrics["guideline:missing"]
	s.False(ok)
}

func (s *PriorityStoreSuite) TestUsefulnessSeparatesTypesSharingAnID() {
	now := time.Now()
	s.record("debug", "", "shared", models.EntryTypeTool, models.OutcomeSuccess, now)
	s.record("debug", "", "shared", models.EntryTypeTool, models.OutcomeSuccess, now)

	metrics, err := s.store.GetUsefulnessMetrics(s.ctx, []string{"tool:shared", "guideline:shared"})
	s.Require().NoError(err)
	s.Equal(int64(2), metrics["tool:shared"].SuccessCount)
	_, ok := metrics["guideline:shared"]
	s.False(ok)
}

func (s *PriorityStoreSuite) TestGetUsefulnessMetrics_ChunksLargeInput() {
	ids := make([]string, 0, maxInParams+10)
	for i := 0; i < maxInParams+10; i++ {
		ids = append(ids, fmt.Sprintf("entry-%d", i))
	}
	s.Require().NoError(s.store.RecordAccess(s.ctx, ids[len(ids)-1:], time.Now()))

	metrics, err := s.store.GetUsefulnessMetrics(s.ctx, ids)
	s.Require().NoError(err)
	s.Len(metrics, 1)
}

func (s *PriorityStoreSuite) TestFindSimilarSuccessfulContexts() {
	now := time.Now()
	s.Require().NoError(s.store.RecordSuccessfulContext(s.ctx, "", "close", []float32{1, 0, 0}, []string{"a"}, now))
	s.Require().NoError(s.store.RecordSuccessfulContext(s.ctx, "", "near", []float32{0.9, 0.1, 0}, []string{"b"}, now))
	s.Require().NoError(s.store.RecordSuccessfulContext(s.ctx, "", "far", []float32{0, 1, 0}, []string{"c"}, now))
	s.Require().NoError(s.store.RecordSuccessfulContext(s.ctx, "", "other dims", []float32{1, 0}, []string{"d"}, now))

	matches, err := s.store.FindSimilarSuccessfulContexts(s.ctx, []float32{1, 0, 0}, 0.8, 5)
	s.Require().NoError(err)
	s.Require().Len(matches, 2)
	s.Equal([]string{"a"}, matches[0].SuccessfulEntryIDs)
	s.InDelta(1.0, matches[0].SimilarityScore, 1e-6)
	s.Equal([]string{"b"}, matches[1].SuccessfulEntryIDs)

	limited, err := s.store.FindSimilarSuccessfulContexts(s.ctx, []float32{1, 0, 0}, 0.8, 1)
	s.Require().NoError(err)
	s.Len(limited, 1)

	none, err := s.store.FindSimilarSuccessfulContexts(s.ctx, nil, 0.8, 5)
	s.Require().NoError(err)
	s.Empty(none)
}

func TestChunkStrings(t *testing.T) {
	tests := []struct {
		name string
		ids  []string
		size int
		want int
	}{
		{name: "empty", ids: nil, size: 2, want: 0},
		{name: "exact", ids: []string{"a", "b"}, size: 2, want: 1},
		{name: "remainder", ids: []string{"a", "b", "c"}, size: 2, want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, chunkStrings(tt.ids, tt.size), tt.want)
		})
	}
}
