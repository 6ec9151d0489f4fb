// Package models contains domain models for engram.
package models

import (
	"fmt"
	"strings"
	"time"
)

// EntryType discriminates the kinds of memory entries.
type EntryType string

const (
	EntryTypeTool       EntryType = "tool"
	EntryTypeGuideline  EntryType = "guideline"
	EntryTypeKnowledge  EntryType = "knowledge"
	EntryTypeExperience EntryType = "experience"
)

// AllEntryTypes lists every entry type in canonical order.
var AllEntryTypes = []EntryType{
	EntryTypeTool,
	EntryTypeGuideline,
	EntryTypeKnowledge,
	EntryTypeExperience,
}

// ParseEntryType converts a string (singular or plural) to an EntryType.
func ParseEntryType(s string) (EntryType, error) {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s") {
	case "tool":
		return EntryTypeTool, nil
	case "guideline":
		return EntryTypeGuideline, nil
	case "knowledge":
		return EntryTypeKnowledge, nil
	case "experience":
		return EntryTypeExperience, nil
	}
	return "", fmt.Errorf("unknown entry type %q", s)
}

// IsValid reports whether t is one of the known entry types.
func (t EntryType) IsValid() bool {
	switch t {
	case EntryTypeTool, EntryTypeGuideline, EntryTypeKnowledge, EntryTypeExperience:
		return true
	}
	return false
}

// EntryKey identifies an entry across types.
type EntryKey struct {
	Type EntryType `json:"type"`
	ID   string    `json:"id"`
}

func (k EntryKey) String() string {
	return string(k.Type) + ":" + k.ID
}

// EntryHeader holds the fields shared by every entry type.
type EntryHeader struct {
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
	Scope     Scope     `json:"scope" yaml:"scope"`
	ID        string    `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	Content   string    `json:"content" yaml:"content"`
	Tags      []string  `json:"tags,omitempty" yaml:"tags"`
	Inactive  bool      `json:"inactive,omitempty" yaml:"inactive"`
}

// Entry is the closed set of memory entry kinds.
// Only *Tool, *Guideline, *Knowledge and *Experience implement it.
type Entry interface {
	EntryType() EntryType
	Header() *EntryHeader
	sealed()
}

// Tool is a reusable tool or command description.
type Tool struct {
	EntryHeader `yaml:",inline"`
	Category    string `json:"category,omitempty" yaml:"category"`
	Usage       string `json:"usage,omitempty" yaml:"usage"`
}

// Guideline is a reusable rule with an explicit priority (0-100).
type Guideline struct {
	EntryHeader `yaml:",inline"`
	Category    string `json:"category,omitempty" yaml:"category"`
	Priority    int    `json:"priority" yaml:"priority"`
}

// Knowledge is a factual entry.
type Knowledge struct {
	EntryHeader `yaml:",inline"`
	Category    string  `json:"category,omitempty" yaml:"category"`
	Source      string  `json:"source,omitempty" yaml:"source"`
	Confidence  float64 `json:"confidence,omitempty" yaml:"confidence"`
}

// Experience is a recorded outcome of past work.
type Experience struct {
	EntryHeader `yaml:",inline"`
	Level       string  `json:"level,omitempty" yaml:"level"` // "case" or "strategy"
	Outcome     string  `json:"outcome,omitempty" yaml:"outcome"`
	Confidence  float64 `json:"confidence,omitempty" yaml:"confidence"`
}

func (*Tool) EntryType() EntryType       { return EntryTypeTool }
func (*Guideline) EntryType() EntryType  { return EntryTypeGuideline }
func (*Knowledge) EntryType() EntryType  { return EntryTypeKnowledge }
func (*Experience) EntryType() EntryType { return EntryTypeExperience }

func (e *Tool) Header() *EntryHeader       { return &e.EntryHeader }
func (e *Guideline) Header() *EntryHeader  { return &e.EntryHeader }
func (e *Knowledge) Header() *EntryHeader  { return &e.EntryHeader }
func (e *Experience) Header() *EntryHeader { return &e.EntryHeader }

func (*Tool) sealed()       {}
func (*Guideline) sealed()  {}
func (*Knowledge) sealed()  {}
func (*Experience) sealed() {}

// KeyOf returns the (type, id) key of an entry.
func KeyOf(e Entry) EntryKey {
	return EntryKey{Type: e.EntryType(), ID: e.Header().ID}
}

// PriorityOf returns the explicit priority of an entry, if its type carries one.
func PriorityOf(e Entry) (int, bool) {
	if g, ok := e.(*Guideline); ok {
		p := g.Priority
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		return p, true
	}
	return 0, false
}

// SearchableText returns the text used for lexical matching of an entry.
func SearchableText(e Entry) string {
	h := e.Header()
	parts := []string{h.Title, h.Content}
	switch v := e.(type) {
	case *Tool:
		parts = append(parts, v.Category, v.Usage)
	case *Guideline:
		parts = append(parts, v.Category)
	case *Knowledge:
		parts = append(parts, v.Category, v.Source)
	case *Experience:
		parts = append(parts, v.Outcome)
	}
	parts = append(parts, h.Tags...)

	var sb strings.Builder
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(p)
	}
	return sb.String()
}
