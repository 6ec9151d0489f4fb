package gorm

import (
	"database/sql"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/engram-recall/pkg/models"
)

// RetrievalOutcome records whether one retrieved entry helped answer a query.
type RetrievalOutcome struct {
	ID             int64            `gorm:"primaryKey;autoIncrement"`
	Intent         string           `gorm:"index:idx_outcomes_intent_scope,priority:1;not null"`
	ScopeID        string           `gorm:"index:idx_outcomes_intent_scope,priority:2"`
	EntryType      models.EntryType `gorm:"type:text;check:entry_type IN ('tool', 'guideline', 'knowledge', 'experience');not null"`
	EntryID        string           `gorm:"index;not null"`
	Outcome        models.Outcome   `gorm:"type:text;check:outcome IN ('success', 'partial', 'failure');not null"`
	CreatedAtEpoch int64            `gorm:"index:idx_outcomes_created,sort:desc;not null"`
}

func (RetrievalOutcome) TableName() string { return "retrieval_outcomes" }

// BeforeCreate hook to ensure timestamps are set.
func (o *RetrievalOutcome) BeforeCreate(tx *gorm.DB) error {
	if o.CreatedAtEpoch == 0 {
		o.CreatedAtEpoch = time.Now().UnixMilli()
	}
	return nil
}

// EntryUsefulness holds running counters for one entry. EntryID stores the
// entry key ("type:id") so entries of different types never share counters.
type EntryUsefulness struct {
	EntryID        string        `gorm:"primaryKey"`
	RetrievalCount int64         `gorm:"default:0;not null"`
	SuccessCount   int64         `gorm:"default:0;not null"`
	LastSuccessAt  sql.NullInt64 `gorm:"column:last_success_at_epoch"`
	LastAccessAt   sql.NullInt64 `gorm:"column:last_access_at_epoch"`
}

func (EntryUsefulness) TableName() string { return "entry_usefulness" }

// SuccessfulContext stores a query whose results were confirmed useful.
type SuccessfulContext struct {
	ID                 int64                   `gorm:"primaryKey;autoIncrement"`
	ScopeID            string                  `gorm:"index"`
	QueryText          string                  `gorm:"type:text"`
	QueryEmbedding     models.JSONFloat32Array `gorm:"type:text;not null"`
	SuccessfulEntryIDs models.JSONStringArray  `gorm:"type:text;not null"`
	OccurredAtEpoch    int64                   `gorm:"index:idx_contexts_occurred,sort:desc;not null"`
}

func (SuccessfulContext) TableName() string { return "successful_contexts" }

// BeforeCreate hook to ensure timestamps are set.
func (c *SuccessfulContext) BeforeCreate(tx *gorm.DB) error {
	if c.OccurredAtEpoch == 0 {
		c.OccurredAtEpoch = time.Now().UnixMilli()
	}
	return nil
}

func toModelUsefulness(u *EntryUsefulness) models.UsefulnessMetrics {
	return models.UsefulnessMetrics{
		EntryID:        u.EntryID,
		RetrievalCount: u.RetrievalCount,
		SuccessCount:   u.SuccessCount,
		LastSuccessAt:  epochTime(u.LastSuccessAt),
		LastAccessAt:   epochTime(u.LastAccessAt),
	}
}
