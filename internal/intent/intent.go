// Package intent classifies queries and maps each intent to per-type weights.
package intent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/thebtf/engram-recall/pkg/models"
)

// Intent is the inferred goal behind a query.
type Intent string

const (
	Lookup    Intent = "lookup"
	HowTo     Intent = "how_to"
	Debug     Intent = "debug"
	Explore   Intent = "explore"
	Configure Intent = "configure"
	Unknown   Intent = "unknown"
)

// All lists every intent, Unknown last.
var All = []Intent{Lookup, HowTo, Debug, Explore, Configure, Unknown}

// Parse converts s to an Intent. The empty string parses as Unknown.
func Parse(s string) (Intent, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Unknown, nil
	}
	s = strings.ReplaceAll(s, "-", "_")
	for _, i := range All {
		if string(i) == s {
			return i, nil
		}
	}
	return "", fmt.Errorf("unknown intent %q", s)
}

var (
	debugPatterns     = regexp.MustCompile(`(?i)\b(error|errors|fail(s|ed|ing|ure)?|bug|crash(es|ed)?|exception|broken|panic|stack\s*trace|debug|fix|not\s+working|timeout)\b`)
	configurePatterns = regexp.MustCompile(`(?i)\b(config|configure|configuration|setting|settings|setup|set\s+up|install|enable|disable|env|environment\s+variable|flag)\b`)
	howToPatterns     = regexp.MustCompile(`(?i)\b(how\s+(do|to|can|should)|steps?\s+to|guide|best\s+way|implement|procedure|workflow)\b`)
	lookupPatterns    = regexp.MustCompile(`(?i)\b(what\s+is|what\s+are|who|where|when|which|define|definition|meaning\s+of|list)\b`)
	explorePatterns   = regexp.MustCompile(`(?i)\b(overview|explore|ideas?|options|alternatives|compare|comparison|related|brainstorm|similar)\b`)
)

// Classify infers an intent from query text. Debug and configure cues win
// over generic how-to and lookup phrasing.
func Classify(text string) Intent {
	if strings.TrimSpace(text) == "" {
		return Unknown
	}
	switch {
	case debugPatterns.MatchString(text):
		return Debug
	case configurePatterns.MatchString(text):
		return Configure
	case howToPatterns.MatchString(text):
		return HowTo
	case lookupPatterns.MatchString(text):
		return Lookup
	case explorePatterns.MatchString(text):
		return Explore
	}
	return Unknown
}

// DefaultWeights returns the built-in per-type weights of every intent.
func DefaultWeights() map[Intent]map[models.EntryType]float64 {
	return map[Intent]map[models.EntryType]float64{
		Lookup: {
			models.EntryTypeKnowledge:  1.0,
			models.EntryTypeTool:       0.8,
			models.EntryTypeGuideline:  0.6,
			models.EntryTypeExperience: 0.6,
		},
		HowTo: {
			models.EntryTypeGuideline:  1.0,
			models.EntryTypeTool:       0.9,
			models.EntryTypeExperience: 0.8,
			models.EntryTypeKnowledge:  0.7,
		},
		Debug: {
			models.EntryTypeExperience: 1.0,
			models.EntryTypeKnowledge:  0.9,
			models.EntryTypeGuideline:  0.8,
			models.EntryTypeTool:       0.7,
		},
		Explore: {
			models.EntryTypeKnowledge:  1.0,
			models.EntryTypeExperience: 0.9,
			models.EntryTypeGuideline:  0.8,
			models.EntryTypeTool:       0.8,
		},
		Configure: {
			models.EntryTypeTool:       1.0,
			models.EntryTypeGuideline:  0.9,
			models.EntryTypeKnowledge:  0.8,
			models.EntryTypeExperience: 0.6,
		},
		Unknown: {
			models.EntryTypeTool:       1.0,
			models.EntryTypeGuideline:  1.0,
			models.EntryTypeKnowledge:  1.0,
			models.EntryTypeExperience: 1.0,
		},
	}
}
