package utils

import (
	"container/heap"
	"math"
	"sort"
)

// ScoredItem pairs an item with its score for top-k selection.
type ScoredItem[T any] struct {
	Item  T
	Score float64
	order int
}

// minHeap keeps the weakest of the current top-k at the root. Among equal
// scores the later item is weaker, so earlier items survive ties.
type minHeap[T any] []ScoredItem[T]

func (h minHeap[T]) Len() int { return len(h) }
func (h minHeap[T]) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	return h[i].order > h[j].order
}
func (h minHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *minHeap[T]) Push(x any) { *h = append(*h, x.(ScoredItem[T])) }

func (h *minHeap[T]) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// TopKByScore returns the k highest scoring items in descending order.
// Ties keep input order. NaN scores are skipped.
func TopKByScore[T any](items []ScoredItem[T], k int) []ScoredItem[T] {
	if k <= 0 || len(items) == 0 {
		return nil
	}
	h := make(minHeap[T], 0, k)
	for i, item := range items {
		if math.IsNaN(item.Score) {
			continue
		}
		item.order = i
		if h.Len() < k {
			heap.Push(&h, item)
			continue
		}
		if item.Score > h[0].Score {
			heap.Pop(&h)
			heap.Push(&h, item)
		}
	}
	result := []ScoredItem[T](h)
	sort.SliceStable(result, func(a, b int) bool {
		if result[a].Score != result[b].Score {
			return result[a].Score > result[b].Score
		}
		return result[a].order < result[b].order
	})
	return result
}

// TopKIndicesByScore returns the indices of the k highest scores, best first.
func TopKIndicesByScore(scores []float64, k int) []int {
	if k <= 0 || len(scores) == 0 {
		return nil
	}
	items := make([]ScoredItem[int], len(scores))
	for i, score := range scores {
		items[i] = ScoredItem[int]{Item: i, Score: score}
	}
	top := TopKByScore(items, k)
	indices := make([]int, len(top))
	for i, item := range top {
		indices[i] = item.Item
	}
	return indices
}

// ArgMax returns the index of the largest value, lowest index on ties,
// or -1 for an empty slice.
func ArgMax(values []float64) int {
	best := -1
	for i, v := range values {
		if best < 0 || v > values[best] {
			best = i
		}
	}
	return best
}
