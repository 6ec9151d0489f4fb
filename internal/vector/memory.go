package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/thebtf/engram-recall/internal/scoring"
	"github.com/thebtf/engram-recall/pkg/models"
	"github.com/thebtf/engram-recall/pkg/similarity"
)

// MemoryIndex is a brute-force cosine index held in memory.
type MemoryIndex struct {
	vectors map[models.EntryKey][]float32
	mu      sync.RWMutex
	dims    int
}

// NewMemoryIndex creates an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{vectors: make(map[models.EntryKey][]float32)}
}

// Upsert stores vec for key. All vectors must share one dimensionality.
func (m *MemoryIndex) Upsert(_ context.Context, key models.EntryKey, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("empty vector for %s", key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dims == 0 {
		m.dims = len(vec)
	} else if len(vec) != m.dims {
		return fmt.Errorf("vector for %s has %d dimensions, index has %d", key, len(vec), m.dims)
	}
	cp := make([]float32, len(vec))
	copy(cp, vec)
	m.vectors[key] = cp
	return nil
}

func (m *MemoryIndex) Delete(_ context.Context, key models.EntryKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vectors, key)
	return nil
}

// Len returns the number of stored vectors.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vectors)
}

// SearchSimilar ranks stored vectors by cosine similarity. Negative
// similarities are clamped to 0.
func (m *MemoryIndex) SearchSimilar(ctx context.Context, vec []float32, types []models.EntryType, limit int) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	allowed := make(map[models.EntryType]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}

	m.mu.RLock()
	matches := make([]Match, 0, len(m.vectors))
	for key, stored := range m.vectors {
		if len(allowed) > 0 && !allowed[key.Type] {
			continue
		}
		if len(stored) != len(vec) {
			continue
		}
		matches = append(matches, Match{
			Key:   key,
			Score: scoring.Clamp01(similarity.CosineSimilarity(vec, stored)),
		})
	}
	m.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Key.String() < matches[j].Key.String()
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}
