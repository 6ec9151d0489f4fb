package similarity

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type SimilaritySuite struct {
	suite.Suite
}

func TestSimilaritySuite(t *testing.T) {
	suite.Run(t, new(SimilaritySuite))
}

func (s *SimilaritySuite) TestJaccardSimilarity() {
	tests := []struct {
		name     string
		set1     map[string]bool
		set2     map[string]bool
		expected float64
	}{
		{
			name:     "identical sets",
			set1:     map[string]bool{"a": true, "b": true, "c": true},
			set2:     map[string]bool{"a": true, "b": true, "c": true},
			expected: 1.0,
		},
		{
			name:     "no overlap",
			set1:     map[string]bool{"a": true, "b": true},
			set2:     map[string]bool{"c": true, "d": true},
			expected: 0.0,
		},
		{
			name:     "partial overlap",
			set1:     map[string]bool{"a": true, "b": true, "c": true},
			set2:     map[string]bool{"b": true, "c": true, "d": true},
			expected: 0.5, // intersection=2, union=4
		},
		{
			name:     "empty sets",
			set1:     map[string]bool{},
			set2:     map[string]bool{},
			expected: 1.0,
		},
		{
			name:     "one empty set",
			set1:     map[string]bool{"a": true},
			set2:     map[string]bool{},
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			assert.InDelta(s.T(), tt.expected, JaccardSimilarity(tt.set1, tt.set2), 0.001)
		})
	}
}

func (s *SimilaritySuite) TestTokenize_DropsStopWordsAndShortTokens() {
	tokens := Tokenize("How do I configure the JWT auth_token in Go?")
	s.Equal([]string{"configure", "jwt", "auth_token"}, tokens)
}

func (s *SimilaritySuite) TestExtractTerms_Deduplicates() {
	terms := ExtractTerms("retry retry backoff")
	s.Len(terms, 2)
	s.True(terms["retry"])
	s.True(terms["backoff"])
}

func (s *SimilaritySuite) TestTermCoverage() {
	query := ExtractTerms("database migration rollback")
	doc := ExtractTerms("how to run a database migration safely")
	assert.InDelta(s.T(), 2.0/3.0, TermCoverage(query, doc), 1e-9)
	s.Zero(TermCoverage(map[string]bool{}, doc))
}

func (s *SimilaritySuite) TestCosineSimilarity_TableDrivenCases() {
	tests := []struct {
		name     string
		a        []float32
		b        []float32
		expected float64
	}{
		{name: "identical vectors", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, expected: 1.0},
		{name: "opposite vectors", a: []float32{1, 2, 3}, b: []float32{-1, -2, -3}, expected: -1.0},
		{name: "orthogonal vectors", a: []float32{1, 0}, b: []float32{0, 1}, expected: 0.0},
		{name: "different lengths", a: []float32{1, 2, 3}, b: []float32{1, 2}, expected: 0.0},
		{name: "empty slices", a: []float32{}, b: []float32{}, expected: 0.0},
		{name: "zero vector", a: []float32{0, 0, 0}, b: []float32{1, 2, 3}, expected: 0.0},
		{name: "known numeric", a: []float32{1, 2, 3}, b: []float32{4, 5, 6}, expected: 32.0 / math.Sqrt(float64(1078))},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			assert.InDelta(s.T(), tt.expected, CosineSimilarity(tt.a, tt.b), 1e-6)
		})
	}
}
