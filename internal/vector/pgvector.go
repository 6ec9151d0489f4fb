package vector

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/thebtf/engram-recall/internal/scoring"
	"github.com/thebtf/engram-recall/pkg/models"
)

// PGIndex stores entry embeddings in a Postgres table with a pgvector column.
type PGIndex struct {
	pool  *pgxpool.Pool
	table string
}

// PGConfig configures a PGIndex.
type PGConfig struct {
	DSN        string
	Table      string // default "entry_embeddings"
	Dimensions int
}

// NewPGIndex connects to Postgres and creates the embeddings table if needed.
func NewPGIndex(ctx context.Context, cfg PGConfig) (*PGIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("pgvector index requires positive dimensions")
	}
	if cfg.Table == "" {
		cfg.Table = "entry_embeddings"
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	idx := &PGIndex{pool: pool, table: pgx.Identifier{cfg.Table}.Sanitize()}
	if err := idx.ensureSchema(ctx, cfg.Dimensions); err != nil {
		pool.Close()
		return nil, err
	}
	return idx, nil
}

func (p *PGIndex) ensureSchema(ctx context.Context, dims int) error {
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			entry_type TEXT NOT NULL,
			entry_id   TEXT NOT NULL,
			embedding  vector(%d) NOT NULL,
			PRIMARY KEY (entry_type, entry_id)
		)`, p.table, dims),
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure vector schema: %w", err)
		}
	}
	return nil
}

func (p *PGIndex) Upsert(ctx context.Context, key models.EntryKey, vec []float32) error {
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (entry_type, entry_id, embedding) VALUES ($1, $2, $3)
		ON CONFLICT (entry_type, entry_id) DO UPDATE SET embedding = EXCLUDED.embedding`, p.table),
		string(key.Type), key.ID, pgvector.NewVector(vec))
	if err != nil {
		return fmt.Errorf("upsert embedding %s: %w", key, err)
	}
	return nil
}

func (p *PGIndex) Delete(ctx context.Context, key models.EntryKey) error {
	_, err := p.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE entry_type = $1 AND entry_id = $2", p.table),
		string(key.Type), key.ID)
	return err
}

// SearchSimilar orders rows by cosine distance and reports 1 - distance,
// clamped to [0,1].
func (p *PGIndex) SearchSimilar(ctx context.Context, vec []float32, types []models.EntryType, limit int) ([]Match, error) {
	limit = clampLimit(limit)
	typeNames := make([]string, 0, len(types))
	for _, t := range types {
		typeNames = append(typeNames, string(t))
	}

	query := fmt.Sprintf(`
		SELECT entry_type, entry_id, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE cardinality($2::text[]) = 0 OR entry_type = ANY($2)
		ORDER BY embedding <=> $1
		LIMIT $3`, p.table)

	rows, err := p.pool.Query(ctx, query, pgvector.NewVector(vec), typeNames, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			entryType, entryID string
			score              float64
		)
		if err := rows.Scan(&entryType, &entryID, &score); err != nil {
			return nil, fmt.Errorf("scan vector match: %w", err)
		}
		matches = append(matches, Match{
			Key:   models.EntryKey{Type: models.EntryType(entryType), ID: entryID},
			Score: scoring.Clamp01(score),
		})
	}
	return matches, rows.Err()
}

// Close releases the connection pool.
func (p *PGIndex) Close() {
	p.pool.Close()
}
