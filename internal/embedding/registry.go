package embedding

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// DefaultTimeout bounds a single shared embedding call.
const DefaultTimeout = 10 * time.Second

// Options configures a Registry.
type Options struct {
	Cache   Cache         // optional result cache
	Budget  *TokenBudget  // optional input truncation
	Timeout time.Duration // per shared call, default DefaultTimeout
}

// Stats is a snapshot of registry counters.
type Stats struct {
	Calls     int64 `json:"calls"`      // calls made to the embedder
	Shared    int64 `json:"shared"`     // requests whose result was shared with another caller
	CacheHits int64 `json:"cache_hits"` // requests served from the cache
	Failures  int64 `json:"failures"`   // embedder calls that returned an error
	Pending   int64 `json:"pending"`    // requests currently waiting for a result
}

// Registry coalesces concurrent embedding requests for the same normalized
// text into one embedder call. Create one per process with NewRegistry and
// release it with Close. It is safe for concurrent use.
type Registry struct {
	embedder Embedder
	cache    Cache
	budget   *TokenBudget
	group    singleflight.Group
	timeout  time.Duration

	closed    atomic.Bool
	calls     atomic.Int64
	shared    atomic.Int64
	cacheHits atomic.Int64
	failures  atomic.Int64
	pending   atomic.Int64
}

// NewRegistry wraps embedder. A nil embedder yields a registry that is never
// available.
func NewRegistry(embedder Embedder, opts Options) *Registry {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Registry{
		embedder: embedder,
		cache:    opts.Cache,
		budget:   opts.Budget,
		timeout:  opts.Timeout,
	}
}

// IsAvailable reports whether the registry is open and the embedder usable.
func (r *Registry) IsAvailable() bool {
	return r != nil && !r.closed.Load() && r.embedder != nil && r.embedder.IsAvailable()
}

// Embed returns the embedding of text. Concurrent calls with the same
// normalized text share one embedder call and receive the same vector, which
// callers must treat as read-only. A caller whose ctx ends stops waiting
// without cancelling the shared call. Failed calls are not cached.
func (r *Registry) Embed(ctx context.Context, text string) ([]float32, error) {
	if r.closed.Load() {
		return nil, ErrRegistryClosed
	}
	if r.embedder == nil || !r.embedder.IsAvailable() {
		return nil, ErrEmbeddingDisabled
	}

	text = r.budget.Truncate(strings.TrimSpace(text))
	key := Fingerprint(text)

	if r.cache != nil {
		if vec, ok := r.cache.Get(ctx, key); ok {
			r.cacheHits.Add(1)
			return vec, nil
		}
	}

	r.pending.Add(1)
	defer r.pending.Add(-1)

	ch := r.group.DoChan(key, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		r.calls.Add(1)
		vec, err := r.embedder.Embed(callCtx, text)
		if err != nil {
			r.failures.Add(1)
			return nil, err
		}
		if len(vec) == 0 {
			r.failures.Add(1)
			return nil, fmt.Errorf("embedder returned empty vector")
		}
		if r.cache != nil {
			r.cache.Set(callCtx, key, vec)
		}
		return vec, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			r.shared.Add(1)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]float32), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats returns current counters.
func (r *Registry) Stats() Stats {
	return Stats{
		Calls:     r.calls.Load(),
		Shared:    r.shared.Load(),
		CacheHits: r.cacheHits.Load(),
		Failures:  r.failures.Load(),
		Pending:   r.pending.Load(),
	}
}

// Close rejects further requests and flushes the cache. In-flight calls
// complete normally.
func (r *Registry) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	if r.cache == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.cache.Flush(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to flush embedding cache")
		return err
	}
	return nil
}
