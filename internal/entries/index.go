package entries

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/engram-recall/internal/vector"
	"github.com/thebtf/engram-recall/pkg/models"
)

// indexConcurrency bounds in-flight embedding calls while indexing.
const indexConcurrency = 4

// Embedder produces vectors for entry text.
type Embedder interface {
	IsAvailable() bool
	Embed(ctx context.Context, text string) ([]float32, error)
}

// IndexAll embeds every active entry and writes it to w. It returns the
// number of entries indexed.
func IndexAll(ctx context.Context, entries []models.Entry, embedder Embedder, w vector.Writer) (int, error) {
	if embedder == nil || !embedder.IsAvailable() {
		log.Info().Msg("Embedding unavailable, vector index left empty")
		return 0, nil
	}

	vectors := make([][]float32, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(indexConcurrency)
	for i, e := range entries {
		if e.Header().Inactive {
			continue
		}
		i, e := i, e
		g.Go(func() error {
			vec, err := embedder.Embed(gctx, models.SearchableText(e))
			if err != nil {
				return fmt.Errorf("embed %s: %w", models.KeyOf(e), err)
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	indexed := 0
	for i, vec := range vectors {
		if vec == nil {
			continue
		}
		if err := w.Upsert(ctx, models.KeyOf(entries[i]), vec); err != nil {
			return indexed, err
		}
		indexed++
	}
	log.Debug().Int("entries", indexed).Msg("Vector index built")
	return indexed, nil
}
