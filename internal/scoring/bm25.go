package scoring

import "math"

// BM25 tuning constants (Robertson et al. defaults).
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

type bm25Doc struct {
	tf  map[string]int
	len int
}

// BM25Index is an Okapi BM25 index over a small, fixed document set.
// It is immutable after construction and safe for concurrent reads.
type BM25Index struct {
	docs   []bm25Doc
	df     map[string]int
	avgLen float64
}

// NewBM25Index builds an index from pre-tokenized documents.
func NewBM25Index(docs [][]string) *BM25Index {
	idx := &BM25Index{
		docs: make([]bm25Doc, len(docs)),
		df:   make(map[string]int),
	}

	total := 0
	for i, tokens := range docs {
		tf := make(map[string]int, len(tokens))
		for _, t := range tokens {
			tf[t]++
		}
		for t := range tf {
			idx.df[t]++
		}
		idx.docs[i] = bm25Doc{tf: tf, len: len(tokens)}
		total += len(tokens)
	}
	if len(docs) > 0 {
		idx.avgLen = float64(total) / float64(len(docs))
	}
	return idx
}

// Len returns the number of indexed documents.
func (idx *BM25Index) Len() int {
	return len(idx.docs)
}

// Score returns the raw BM25 score of document i for the query terms.
// Out-of-range documents and empty queries score 0.
func (idx *BM25Index) Score(i int, query []string) float64 {
	if i < 0 || i >= len(idx.docs) || len(query) == 0 || idx.avgLen == 0 {
		return 0
	}

	doc := idx.docs[i]
	n := float64(len(idx.docs))
	seen := make(map[string]bool, len(query))
	var score float64
	for _, term := range query {
		if seen[term] {
			continue
		}
		seen[term] = true

		f := float64(doc.tf[term])
		if f == 0 {
			continue
		}
		df := float64(idx.df[term])
		// Lucene IDF variant, never negative.
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		norm := f * (bm25K1 + 1) / (f + bm25K1*(1-bm25B+bm25B*float64(doc.len)/idx.avgLen))
		score += idf * norm
	}
	return Sanitize(score, 0)
}
