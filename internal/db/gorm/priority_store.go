package gorm

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/engram-recall/internal/priority"
	"github.com/thebtf/engram-recall/pkg/models"
	"github.com/thebtf/engram-recall/pkg/similarity"
)

// MaxContextsScanned bounds how many recent successful contexts are compared
// against a query embedding.
const MaxContextsScanned = 500

// OutcomeRecord is a single retrieval outcome to persist.
type OutcomeRecord struct {
	At        time.Time
	Intent    string
	ScopeID   string
	EntryID   string
	EntryType models.EntryType
	Outcome   models.Outcome
}

// PriorityStore serves the prioritization queries and records feedback.
type PriorityStore struct {
	db *gorm.DB
}

// NewPriorityStore creates a new priority store.
func NewPriorityStore(store *Store) *PriorityStore {
	return &PriorityStore{db: store.DB}
}

type typeOutcomeRow struct {
	EntryType string
	Total     int64
	Success   int64
	Partial   int64
}

// GetOutcomesByIntentAndType aggregates outcomes per entry type. An empty
// intent or scopeID disables that filter.
func (s *PriorityStore) GetOutcomesByIntentAndType(ctx context.Context, intent, scopeID string, lookbackDays int) (models.OutcomeAggregation, error) {
	q := s.db.WithContext(ctx).Model(&RetrievalOutcome{}).
		Select(`entry_type,
			COUNT(*) AS total,
			SUM(CASE WHEN outcome = 'success' THEN 1 ELSE 0 END) AS success,
			SUM(CASE WHEN outcome = 'partial' THEN 1 ELSE 0 END) AS partial`)
	if lookbackDays > 0 {
		since := time.Now().Add(-time.Duration(lookbackDays) * 24 * time.Hour).UnixMilli()
		q = q.Where("created_at_epoch >= ?", since)
	}
	if intent != "" {
		q = q.Where("intent = ?", intent)
	}
	if scopeID != "" {
		q = q.Where("scope_id = ?", scopeID)
	}

	var rows []typeOutcomeRow
	if err := q.Group("entry_type").Order("entry_type").Scan(&rows).Error; err != nil {
		return models.OutcomeAggregation{}, fmt.Errorf("aggregate outcomes: %w", err)
	}

	counts := make([]models.TypeOutcome, 0, len(rows))
	for _, r := range rows {
		counts = append(counts, models.TypeOutcome{
			EntryType:       models.EntryType(r.EntryType),
			TotalRetrievals: r.Total,
			SuccessCount:    r.Success,
			PartialCount:    r.Partial,
		})
	}
	return priority.AggregateOutcomes(counts), nil
}

// GetUsefulnessMetrics returns stored counters keyed by entry key ("type:id").
func (s *PriorityStore) GetUsefulnessMetrics(ctx context.Context, entryKeys []string) (map[string]models.UsefulnessMetrics, error) {
	result := make(map[string]models.UsefulnessMetrics, len(entryKeys))
	for _, chunk := range chunkStrings(entryKeys, maxInParams) {
		var rows []EntryUsefulness
		if err := s.db.WithContext(ctx).Where("entry_id IN ?", chunk).Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("load usefulness: %w", err)
		}
		for i := range rows {
			result[rows[i].EntryID] = toModelUsefulness(&rows[i])
		}
	}
	return result, nil
}

// FindSimilarSuccessfulContexts compares the query embedding with the most
// recent stored contexts and returns those at or above threshold, best first.
func (s *PriorityStore) FindSimilarSuccessfulContexts(ctx context.Context, embedding []float32, threshold float64, maxResults int) ([]models.SuccessfulContext, error) {
	if len(embedding) == 0 || maxResults <= 0 {
		return nil, nil
	}

	var rows []SuccessfulContext
	err := s.db.WithContext(ctx).
		Order("occurred_at_epoch DESC").
		Limit(MaxContextsScanned).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load successful contexts: %w", err)
	}

	matches := make([]models.SuccessfulContext, 0, maxResults)
	for _, row := range rows {
		if len(row.QueryEmbedding) != len(embedding) {
			continue
		}
		sim := similarity.CosineSimilarity(embedding, row.QueryEmbedding)
		if sim < threshold {
			continue
		}
		matches = append(matches, models.SuccessfulContext{
			OccurredAt:         time.UnixMilli(row.OccurredAtEpoch).UTC(),
			QueryEmbedding:     []float32(row.QueryEmbedding),
			SuccessfulEntryIDs: []string(row.SuccessfulEntryIDs),
			SimilarityScore:    sim,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].SimilarityScore > matches[j].SimilarityScore
	})
	if len(matches) > maxResults {
		matches = matches[:maxResults]
	}
	return matches, nil
}

// RecordAccess increments the retrieval counter of each entry key.
func (s *PriorityStore) RecordAccess(ctx context.Context, entryKeys []string, at time.Time) error {
	if len(entryKeys) == 0 {
		return nil
	}
	if at.IsZero() {
		at = time.Now()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, key := range entryKeys {
			if err := ensureUsefulnessRow(tx, key); err != nil {
				return err
			}
			err := tx.Model(&EntryUsefulness{}).
				Where("entry_id = ?", key).
				Updates(map[string]interface{}{
					"retrieval_count":      gorm.Expr("retrieval_count + ?", 1),
					"last_access_at_epoch": nullEpoch(at),
				}).Error
			if err != nil {
				return fmt.Errorf("record access %s: %w", key, err)
			}
		}
		return nil
	})
}

// RecordOutcome stores an outcome and, on success, bumps the entry's
// success counter.
func (s *PriorityStore) RecordOutcome(ctx context.Context, rec OutcomeRecord) error {
	if !rec.EntryType.IsValid() {
		return fmt.Errorf("invalid entry type %q", rec.EntryType)
	}
	switch rec.Outcome {
	case models.OutcomeSuccess, models.OutcomePartial, models.OutcomeFailure:
	default:
		return fmt.Errorf("invalid outcome %q", rec.Outcome)
	}
	if rec.At.IsZero() {
		rec.At = time.Now()
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := &RetrievalOutcome{
			Intent:         rec.Intent,
			ScopeID:        rec.ScopeID,
			EntryType:      rec.EntryType,
			EntryID:        rec.EntryID,
			Outcome:        rec.Outcome,
			CreatedAtEpoch: rec.At.UnixMilli(),
		}
		if err := tx.Create(row).Error; err != nil {
			return fmt.Errorf("insert outcome: %w", err)
		}
		if rec.Outcome != models.OutcomeSuccess {
			return nil
		}
		key := models.EntryKey{Type: rec.EntryType, ID: rec.EntryID}.String()
		if err := ensureUsefulnessRow(tx, key); err != nil {
			return err
		}
		return tx.Model(&EntryUsefulness{}).
			Where("entry_id = ?", key).
			Updates(map[string]interface{}{
				"success_count":         gorm.Expr("success_count + ?", 1),
				"last_success_at_epoch": nullEpoch(rec.At),
			}).Error
	})
}

// RecordSuccessfulContext stores a query embedding together with the keys of
// the entries that answered it.
func (s *PriorityStore) RecordSuccessfulContext(ctx context.Context, scopeID, queryText string, embedding []float32, entryKeys []string, at time.Time) error {
	if len(embedding) == 0 || len(entryKeys) == 0 {
		return nil
	}
	if at.IsZero() {
		at = time.Now()
	}
	row := &SuccessfulContext{
		ScopeID:            scopeID,
		QueryText:          queryText,
		QueryEmbedding:     models.JSONFloat32Array(embedding),
		SuccessfulEntryIDs: models.JSONStringArray(entryKeys),
		OccurredAtEpoch:    at.UnixMilli(),
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("insert successful context: %w", err)
	}
	return nil
}

func ensureUsefulnessRow(tx *gorm.DB, key string) error {
	err := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&EntryUsefulness{EntryID: key}).Error
	if err != nil {
		return fmt.Errorf("ensure usefulness row %s: %w", key, err)
	}
	return nil
}
