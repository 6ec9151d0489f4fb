package pipeline

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/engram-recall/internal/scoring"
	"github.com/thebtf/engram-recall/pkg/models"
	"github.com/thebtf/engram-recall/pkg/similarity"
)

// maxScopeDepth bounds scope chain resolution.
const maxScopeDepth = 8

// ListFilter selects entries of one type in one scope.
type ListFilter struct {
	Scope           models.Scope
	Type            models.EntryType
	IncludeInactive bool
}

// Pagination bounds a List call.
type Pagination struct {
	Offset int
	Limit  int
}

// Repository lists entries. Implementations are read-only.
type Repository interface {
	List(ctx context.Context, filter ListFilter, page Pagination) ([]models.Entry, error)
}

// ScopeResolver returns the parent of a scope, if any.
type ScopeResolver interface {
	Parent(ctx context.Context, scope models.Scope) (models.Scope, bool, error)
}

// FilterStage resolves the scope chain and selects candidate entries.
type FilterStage struct {
	repo     Repository
	resolver ScopeResolver
	cfg      Config
}

// NewFilterStage creates a filter stage. resolver may be nil, in which case an
// inheriting request walks straight from its scope to global.
func NewFilterStage(repo Repository, resolver ScopeResolver, cfg Config) *FilterStage {
	return &FilterStage{repo: repo, resolver: resolver, cfg: cfg}
}

func (f *FilterStage) Name() string            { return StageFilter }
func (f *FilterStage) Prerequisites() []string { return nil }

func (f *FilterStage) Run(ctx context.Context, pc *Context) error {
	chain, err := f.resolveChain(ctx, pc.Request)
	if err != nil {
		return err
	}
	pc.ScopeChain = chain
	pc.Diagnostics.ScopeChain = make([]string, len(chain))
	for i, s := range chain {
		pc.Diagnostics.ScopeChain[i] = s.String()
	}

	limit := f.cfg.MaxPerTypeScope
	if limit <= 0 {
		limit = 500
	}

	seen := make(map[models.EntryKey]bool)
	var candidates []*Candidate
	for scopeIndex, scope := range chain {
		for _, t := range pc.requestTypes() {
			entries, err := f.repo.List(ctx, ListFilter{Type: t, Scope: scope}, Pagination{Limit: limit})
			if err != nil {
				return fmt.Errorf("list %s entries in %s: %w", t, scope, err)
			}
			for _, e := range entries {
				if e == nil || e.Header().Inactive {
					continue
				}
				key := models.KeyOf(e)
				if seen[key] {
					continue
				}
				seen[key] = true
				candidates = append(candidates, &Candidate{
					Entry:      e,
					Key:        key,
					ScopeIndex: scopeIndex,
				})
			}
		}
	}

	annotateMatches(candidates, pc.Request)

	pc.Candidates = candidates
	pc.Diagnostics.CandidateCount = len(candidates)
	pc.MarkCompleted(StageFilter)

	log.Debug().
		Str("request_id", pc.RequestID).
		Int("candidates", len(candidates)).
		Int("scopes", len(chain)).
		Msg("Filter stage complete")
	return nil
}

// resolveChain builds the scope chain for req, most specific first.
func (f *FilterStage) resolveChain(ctx context.Context, req Request) (models.ScopeChain, error) {
	scope := req.Scope
	if scope.Type == "" {
		scope = models.GlobalScope
	}
	scopes := []models.Scope{scope}
	if req.Inherit && scope.Type != models.ScopeGlobal {
		current := scope
		for depth := 0; depth < maxScopeDepth && f.resolver != nil; depth++ {
			parent, ok, err := f.resolver.Parent(ctx, current)
			if err != nil {
				return nil, fmt.Errorf("resolve parent of %s: %w", current, err)
			}
			if !ok || parent.Type == models.ScopeGlobal {
				break
			}
			scopes = append(scopes, parent)
			current = parent
		}
		scopes = append(scopes, models.GlobalScope)
	}
	return models.NewScopeChain(scopes...)
}

// annotateMatches records literal, tag, related and lexical matches.
func annotateMatches(candidates []*Candidate, req Request) {
	related := make(map[string]bool, len(req.RelatedIDs))
	for _, id := range req.RelatedIDs {
		related[id] = true
	}
	for _, c := range candidates {
		c.Related = related[c.Key.ID]
	}

	query := strings.ToLower(strings.TrimSpace(req.Text))
	if query == "" {
		return
	}
	words := queryWords(query)

	docs := make([][]string, len(candidates))
	for i, c := range candidates {
		text := models.SearchableText(c.Entry)
		c.LiteralMatch = strings.Contains(strings.ToLower(text), query)
		for _, tag := range c.Entry.Header().Tags {
			if words[strings.ToLower(strings.TrimSpace(tag))] {
				c.TagMatches++
			}
		}
		docs[i] = similarity.Tokenize(text)
	}

	queryTerms := similarity.Tokenize(query)
	if len(queryTerms) == 0 {
		return
	}
	index := scoring.NewBM25Index(docs)
	for i, c := range candidates {
		fts := scoring.BM25Normalize(index.Score(i, queryTerms))
		c.FTSScore = &fts
	}
}

// queryWords splits a lower-cased query into a word set, keeping short words
// and hyphenated tokens so they can match tags.
func queryWords(query string) map[string]bool {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' && r != '.'
	})
	words := make(map[string]bool, len(fields))
	for _, w := range fields {
		words[strings.Trim(w, ".")] = true
	}
	return words
}
