package hnsw

import (
	"sort"

	"github.com/dkoess/semdex/pkg/core/types"
)

// sortCandidates orders a candidate slice by ascending distance with ties
// broken by ascending id.
func sortCandidates(cands []types.Candidate) {
	sort.Slice(cands, func(i, j int) bool { return cands[i].Less(cands[j]) })
}

// candidateHeap is a binary heap of search candidates stored by value, used
// for both the exploration frontier (min ordering) and the capped result set
// (max ordering). Equal distances order by id so traversal and results are
// deterministic.
//
// The same heap backs insertion and query beam search; it lives in a
// sync.Pool on the index to keep the hot path allocation-free.
type candidateHeap struct {
	max   bool
	items []types.Candidate
}

func newCandidateHeap(max bool, capacity int) *candidateHeap {
	return &candidateHeap{max: max, items: make([]types.Candidate, 0, capacity)}
}

func (h *candidateHeap) Len() int { return len(h.items) }

// Reset truncates the heap for reuse, keeping the backing array.
func (h *candidateHeap) Reset() { h.items = h.items[:0] }

// Peek returns the top element without removing it.
func (h *candidateHeap) Peek() types.Candidate { return h.items[0] }

func (h *candidateHeap) Push(c types.Candidate) {
	h.items = append(h.items, c)
	h.siftUp(len(h.items) - 1)
}

func (h *candidateHeap) Pop() types.Candidate {
	n := len(h.items)
	root := h.items[0]
	h.items[0] = h.items[n-1]
	h.items = h.items[:n-1]
	if len(h.items) > 0 {
		h.siftDown(0)
	}
	return root
}

// higher reports whether items[i] has priority over items[j]: nearest first
// for the frontier, farthest first for the capped result set. Ties always
// resolve by ascending id for the min heap and descending id for the max
// heap, so that shrinking the result set evicts the higher id.
func (h *candidateHeap) higher(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if h.max {
		if a.Distance != b.Distance {
			return a.Distance > b.Distance
		}
		return a.ID > b.ID
	}
	return a.Less(b)
}

func (h *candidateHeap) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !h.higher(i, parent) {
			return
		}
		h.items[i], h.items[parent] = h.items[parent], h.items[i]
		i = parent
	}
}

func (h *candidateHeap) siftDown(i int) {
	n := len(h.items)
	for {
		left := 2*i + 1
		if left >= n {
			return
		}
		best := left
		if right := left + 1; right < n && h.higher(right, left) {
			best = right
		}
		if !h.higher(best, i) {
			return
		}
		h.items[i], h.items[best] = h.items[best], h.items[i]
		i = best
	}
}

// drainAscending empties the heap into a slice ordered by ascending distance
// (ties by ascending id). Only valid for max heaps: popping yields worst
// first, so filling the slice back to front produces ascending order.
func (h *candidateHeap) drainAscending() []types.Candidate {
	out := make([]types.Candidate, len(h.items))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = h.Pop()
	}
	return out
}
