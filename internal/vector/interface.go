// Package vector provides the vector index capability used by semantic search
// and its in-memory and pgvector implementations.
package vector

import (
	"context"

	"github.com/thebtf/engram-recall/pkg/models"
)

// MaxSearchLimit caps the number of neighbours returned by one search.
const MaxSearchLimit = 1000

// Match is one nearest-neighbour result. Score is a similarity in [0,1].
type Match struct {
	Key   models.EntryKey
	Score float64
}

// Index searches entry embeddings by similarity.
type Index interface {
	// SearchSimilar returns up to limit entries of the given types, best first.
	// An empty types slice searches every type.
	SearchSimilar(ctx context.Context, vec []float32, types []models.EntryType, limit int) ([]Match, error)
}

// Writer stores entry embeddings.
type Writer interface {
	Upsert(ctx context.Context, key models.EntryKey, vec []float32) error
	Delete(ctx context.Context, key models.EntryKey) error
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxSearchLimit {
		return MaxSearchLimit
	}
	return limit
}
