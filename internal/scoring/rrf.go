package scoring

import "sort"

// DefaultRRFK is the standard Reciprocal Rank Fusion smoothing constant.
const DefaultRRFK = 60

// ListRank is the 1-based position of an item in one ranked list.
// The zero value means the item does not appear in that list.
type ListRank struct {
	Rank  int
	Found bool
}

// Ranked returns a ListRank for an item present at rank r.
func Ranked(r int) ListRank {
	return ListRank{Rank: r, Found: true}
}

// Absent marks an item missing from a list.
var Absent = ListRank{}

func normalizeK(k int) int {
	if k <= 0 {
		return DefaultRRFK
	}
	return k
}

// ComputeRRF returns sum(1/(k+rank)) over the given ranks.
// Non-positive ranks are treated as rank 1; k <= 0 uses DefaultRRFK.
func ComputeRRF(ranks []int, k int) float64 {
	k = normalizeK(k)
	var score float64
	for _, r := range ranks {
		if r <= 0 {
			r = 1
		}
		score += 1.0 / float64(k+r)
	}
	return score
}

// ComputeCombinedRRF fuses one item's ranks across several lists. Lists in which
// the item is absent contribute 0.
func ComputeCombinedRRF(k int, ranks ...ListRank) float64 {
	present := make([]int, 0, len(ranks))
	for _, r := range ranks {
		if r.Found {
			present = append(present, r.Rank)
		}
	}
	return ComputeRRF(present, k)
}

// MaxRRF is the largest score an item can reach when ranked first in n lists.
func MaxRRF(n, k int) float64 {
	if n <= 0 {
		return 0
	}
	return float64(n) / float64(normalizeK(k)+1)
}

// Fused is an item with its accumulated fusion score.
type Fused[K comparable] struct {
	Key   K
	Score float64
}

// FuseRanked merges ranked lists (best first) with Reciprocal Rank Fusion.
// Duplicate keys inside one list keep their best rank. The result is sorted by
// fused score descending; ties keep first-seen order.
func FuseRanked[K comparable](k int, lists ...[]K) []Fused[K] {
	k = normalizeK(k)
	scores := make(map[K]float64)
	var order []K

	for _, list := range lists {
		seen := make(map[K]bool, len(list))
		for i, key := range list {
			if seen[key] {
				continue
			}
			seen[key] = true
			if _, exists := scores[key]; !exists {
				order = append(order, key)
			}
			scores[key] += 1.0 / float64(k+i+1)
		}
	}

	result := make([]Fused[K], 0, len(order))
	for _, key := range order {
		result = append(result, Fused[K]{Key: key, Score: scores[key]})
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Score > result[j].Score
	})
	return result
}
