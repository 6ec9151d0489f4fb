package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: retrieval outcomes
		{
			ID: "001_retrieval_outcomes",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&RetrievalOutcome{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("retrieval_outcomes")
			},
		},

		// Migration 002: per-entry usefulness counters
		{
			ID: "002_entry_usefulness",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&EntryUsefulness{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("entry_usefulness")
			},
		},

		// Migration 003: successful query contexts
		{
			ID: "003_successful_contexts",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&SuccessfulContext{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("successful_contexts")
			},
		},

		// Migration 004: composite index for the usefulness-by-type aggregation
		{
			ID: "004_outcomes_type_index",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_outcomes_type_created
					ON retrieval_outcomes (entry_type, created_at_epoch)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec("DROP INDEX IF EXISTS idx_outcomes_type_created").Error
			},
		},
	})

	return m.Migrate()
}
