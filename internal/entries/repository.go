// Package entries provides a read-only, in-memory entry repository loaded
// from YAML fixtures.
package entries

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/thebtf/engram-recall/internal/pipeline"
	"github.com/thebtf/engram-recall/pkg/models"
)

// ScopeLink declares the parent of a scope.
type ScopeLink struct {
	Scope  models.Scope `yaml:"scope"`
	Parent models.Scope `yaml:"parent"`
}

// Fixture is the YAML document layout.
type Fixture struct {
	Scopes      []ScopeLink          `yaml:"scopes"`
	Tools       []*models.Tool       `yaml:"tools"`
	Guidelines  []*models.Guideline  `yaml:"guidelines"`
	Knowledge   []*models.Knowledge  `yaml:"knowledge"`
	Experiences []*models.Experience `yaml:"experiences"`
}

// Repository holds entries in memory. It is safe for concurrent use.
type Repository struct {
	parents map[models.Scope]models.Scope
	byKey   map[models.EntryKey]models.Entry
	order   []models.EntryKey
	mu      sync.RWMutex
}

// NewRepository creates an empty repository.
func NewRepository() *Repository {
	return &Repository{
		parents: make(map[models.Scope]models.Scope),
		byKey:   make(map[models.EntryKey]models.Entry),
	}
}

// Load reads a fixture file.
func Load(path string) (*Repository, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixtures: %w", err)
	}
	defer f.Close()

	repo, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return repo, nil
}

// Decode reads a fixture document from r.
func Decode(r io.Reader) (*Repository, error) {
	var fx Fixture
	if err := yaml.NewDecoder(r).Decode(&fx); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode fixtures: %w", err)
	}

	repo := NewRepository()
	for _, link := range fx.Scopes {
		if err := repo.SetParent(link.Scope, link.Parent); err != nil {
			return nil, err
		}
	}

	var all []models.Entry
	for _, e := range fx.Tools {
		all = append(all, e)
	}
	for _, e := range fx.Guidelines {
		all = append(all, e)
	}
	for _, e := range fx.Knowledge {
		all = append(all, e)
	}
	for _, e := range fx.Experiences {
		all = append(all, e)
	}
	if err := repo.Add(all...); err != nil {
		return nil, err
	}
	return repo, nil
}

// Add stores entries. An entry with an existing key replaces it.
func (r *Repository) Add(entries ...models.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range entries {
		h := e.Header()
		if h.ID == "" {
			return fmt.Errorf("%s entry without id", e.EntryType())
		}
		if h.Scope.Type == "" {
			h.Scope = models.GlobalScope
		}
		if !h.Scope.Type.IsValid() {
			return fmt.Errorf("entry %s: unknown scope type %q", h.ID, h.Scope.Type)
		}
		key := models.KeyOf(e)
		if _, exists := r.byKey[key]; !exists {
			r.order = append(r.order, key)
		}
		r.byKey[key] = e
	}
	return nil
}

// SetParent links scope to its parent. Links must point to a less specific
// scope, which also rules out cycles.
func (r *Repository) SetParent(scope, parent models.Scope) error {
	if parent.Type.Specificity() >= scope.Type.Specificity() {
		return fmt.Errorf("%w: parent %s of %s is not less specific", models.ErrInvalidScopeChain, parent, scope)
	}
	r.mu.Lock()
	r.parents[scope] = parent
	r.mu.Unlock()
	return nil
}

// Parent returns the declared parent of scope.
func (r *Repository) Parent(_ context.Context, scope models.Scope) (models.Scope, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parents[scope]
	return p, ok, nil
}

// List returns entries of one type in one scope, ordered by ID.
func (r *Repository) List(ctx context.Context, filter pipeline.ListFilter, page pipeline.Pagination) ([]models.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	var matched []models.Entry
	for _, key := range r.order {
		if key.Type != filter.Type {
			continue
		}
		e := r.byKey[key]
		h := e.Header()
		if h.Scope != filter.Scope || (h.Inactive && !filter.IncludeInactive) {
			continue
		}
		matched = append(matched, e)
	}
	r.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Header().ID < matched[j].Header().ID
	})

	if page.Offset > 0 {
		if page.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[page.Offset:]
	}
	if page.Limit > 0 && len(matched) > page.Limit {
		matched = matched[:page.Limit]
	}
	return matched, nil
}

// All returns every stored entry in insertion order.
func (r *Repository) All() []models.Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Entry, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.byKey[key])
	}
	return out
}

// Len returns the number of stored entries.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
