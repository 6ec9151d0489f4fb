package models

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ScopeType is the visibility level of an entry.
type ScopeType string

const (
	ScopeSession ScopeType = "session"
	ScopeProject ScopeType = "project"
	ScopeOrg     ScopeType = "org"
	ScopeGlobal  ScopeType = "global"
)

// ErrInvalidScopeChain is returned when a scope chain violates its ordering rules.
var ErrInvalidScopeChain = errors.New("invalid scope chain")

// Specificity orders scope types; higher is more specific.
func (t ScopeType) Specificity() int {
	switch t {
	case ScopeSession:
		return 3
	case ScopeProject:
		return 2
	case ScopeOrg:
		return 1
	case ScopeGlobal:
		return 0
	}
	return -1
}

// IsValid reports whether t is a known scope type.
func (t ScopeType) IsValid() bool {
	return t.Specificity() >= 0
}

// Scope is a (type, id) pair. Global scopes have an empty ID.
type Scope struct {
	Type ScopeType `json:"type" yaml:"type"`
	ID   string    `json:"id,omitempty" yaml:"id"`
}

// GlobalScope is the terminal scope of every chain.
var GlobalScope = Scope{Type: ScopeGlobal}

func (s Scope) String() string {
	if s.Type == ScopeGlobal || s.ID == "" {
		return string(s.Type)
	}
	return string(s.Type) + ":" + s.ID
}

// ParseScope parses "type:id" or "global".
func ParseScope(s string) (Scope, error) {
	s = strings.TrimSpace(s)
	typ, id, _ := strings.Cut(s, ":")
	scope := Scope{Type: ScopeType(strings.ToLower(typ)), ID: id}
	if !scope.Type.IsValid() {
		return Scope{}, fmt.Errorf("unknown scope type %q", typ)
	}
	if scope.Type == ScopeGlobal {
		scope.ID = ""
	} else if scope.ID == "" {
		return Scope{}, fmt.Errorf("scope %q requires an id", typ)
	}
	return scope, nil
}

// ScopeChain is an ordered inheritance path from most to least specific scope.
type ScopeChain []Scope

// NewScopeChain validates and returns a chain. Duplicate scopes, scopes out of
// specificity order and a non-terminal global scope are rejected.
func NewScopeChain(scopes ...Scope) (ScopeChain, error) {
	scopes = append([]Scope(nil), scopes...)
	seen := make(map[Scope]bool, len(scopes))
	for i, s := range scopes {
		if !s.Type.IsValid() {
			return nil, fmt.Errorf("%w: unknown scope type %q", ErrInvalidScopeChain, s.Type)
		}
		if s.Type == ScopeGlobal {
			s.ID = ""
			scopes[i] = s
		}
		if seen[s] {
			return nil, fmt.Errorf("%w: duplicate scope %s", ErrInvalidScopeChain, s)
		}
		seen[s] = true
		if s.Type == ScopeGlobal && i != len(scopes)-1 {
			return nil, fmt.Errorf("%w: global scope must be terminal", ErrInvalidScopeChain)
		}
		if i > 0 && scopes[i-1].Type.Specificity() < s.Type.Specificity() {
			return nil, fmt.Errorf("%w: %s listed after less specific %s", ErrInvalidScopeChain, s, scopes[i-1])
		}
	}
	return ScopeChain(scopes), nil
}

// IndexOf returns the position of s in the chain, or -1.
func (c ScopeChain) IndexOf(s Scope) int {
	if s.Type == ScopeGlobal {
		s.ID = ""
	}
	for i, cs := range c {
		if cs == s {
			return i
		}
	}
	return -1
}

// Contains reports whether s is part of the chain.
func (c ScopeChain) Contains(s Scope) bool {
	return c.IndexOf(s) >= 0
}

// UnmarshalYAML accepts either "type:id" scalars or {type, id} mappings.
func (s *Scope) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		parsed, err := ParseScope(value.Value)
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	}
	var raw struct {
		Type ScopeType `yaml:"type"`
		ID   string    `yaml:"id"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseScope(string(raw.Type) + ":" + raw.ID)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
