// Package merger selects the best k items of a result set without sorting
// all of it, using a bounded heap.
package merger

import (
	"container/heap"
	"sort"
)

// TopK returns the first k items of items under less, in order. When k is
// non-positive or covers every item the whole slice is sorted instead. items
// is not modified.
func TopK[T any](items []T, k int, less func(a, b T) bool) []T {
	if k <= 0 || k >= len(items) {
		result := make([]T, len(items))
		copy(result, items)
		sort.SliceStable(result, func(i, j int) bool {
			return less(result[i], result[j])
		})
		return result
	}
	h := &boundedHeap[T]{less: less}
	heap.Init(h)
	for _, item := range items {
		heap.Push(h, item)
		if h.Len() > k {
			heap.Pop(h)
		}
	}
	result := make([]T, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(T)
	}
	return result
}

// boundedHeap keeps the worst retained item at the root so it can be evicted
// first.
type boundedHeap[T any] struct {
	items []T
	less  func(a, b T) bool
}

func (h boundedHeap[T]) Len() int { return len(h.items) }

func (h boundedHeap[T]) Less(i, j int) bool {
	return h.less(h.items[j], h.items[i])
}

func (h boundedHeap[T]) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *boundedHeap[T]) Push(x interface{}) {
	h.items = append(h.items, x.(T))
}

func (h *boundedHeap[T]) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}
