package search

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/thebtf/engram-recall/internal/scoring"
	"github.com/thebtf/engram-recall/pkg/models"
)

// DefaultRRFK is the rank constant used when merging responses.
const DefaultRRFK = 60

// Merged is a result fused across several responses.
type Merged struct {
	Result
	FusedScore float64 `json:"fused_score"`
	// Hits counts the responses the entry appeared in.
	Hits int `json:"hits"`
}

// MergeResults fuses ranked result lists (best first) with Reciprocal Rank
// Fusion. Each entry keeps the result with the highest final score it had in
// any list. Returns at most limit results; limit <= 0 keeps all.
func MergeResults(k, limit int, lists ...[]Result) []Merged {
	best := make(map[models.EntryKey]Result)
	hits := make(map[models.EntryKey]int)
	keyed := make([][]models.EntryKey, len(lists))
	for i, list := range lists {
		keys := make([]models.EntryKey, len(list))
		for j, r := range list {
			key := models.EntryKey{Type: r.EntryType, ID: r.EntryID}
			keys[j] = key
			hits[key]++
			if prev, ok := best[key]; !ok || r.FinalScore > prev.FinalScore {
				best[key] = r
			}
		}
		keyed[i] = keys
	}

	fused := scoring.FuseRanked(k, keyed...)
	if limit > 0 && len(fused) > limit {
		fused = fused[:limit]
	}
	out := make([]Merged, len(fused))
	for i, f := range fused {
		out[i] = Merged{Result: best[f.Key], FusedScore: f.Score, Hits: hits[f.Key]}
	}
	return out
}

// SearchMany runs every params concurrently and merges the rankings. Any
// failing search fails the whole call.
func (m *Manager) SearchMany(ctx context.Context, limit int, params ...Params) ([]Merged, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("%w: no searches given", ErrInvalidRequest)
	}
	lists := make([][]Result, len(params))
	g, gctx := errgroup.WithContext(ctx)
	for i := range params {
		i := i
		g.Go(func() error {
			resp, err := m.Search(gctx, params[i])
			if err != nil {
				return fmt.Errorf("search %d: %w", i, err)
			}
			lists[i] = resp.Results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return MergeResults(DefaultRRFK, limit, lists...), nil
}
