// Skipmap shards entries over several independent maps, each iterating in ascending key order. Listing the whole
// store in order needs a way to merge those sources using constant memory instead of collecting and sorting them.
//
// This module implements a heap-based multi-way iterator that lazily yields from multiple underneath iterators.
// Keys pulled from multiple sequences are sorted by key and sequence priority; values pulled from lower priority
// sequences are discarded in case their key was already seen.

package scan

import (
	"container/heap"
	"errors"
	"iter"

	"github.com/nobletooth/skipmap/pkg/utils"
)

// heapElement represents a pulled item from sequences inside iterHeap.
type heapElement[K any, V any] struct {
	pair   utils.Pair[K, V]
	seqIdx int // Index of the producing sequence; lower indexes have higher priority.
}

// iterHeap holds the iteration state over multiple iterators.
type iterHeap[K any, V any] struct { // Implements heap.Interface.
	compare  utils.CompareFn[K]
	elements []*heapElement[K, V]
}

var _ heap.Interface = (*iterHeap[int, int])(nil)

func (ih *iterHeap[K, V]) Len() int {
	return len(ih.elements)
}

// Less orders by key, then by sequence priority for equal keys.
func (ih *iterHeap[K, V]) Less(i, j int) bool {
	e1, e2 := ih.elements[i], ih.elements[j]
	if cmp := ih.compare(e1.pair.Key, e2.pair.Key); cmp != 0 {
		return cmp < 0
	}
	return e1.seqIdx < e2.seqIdx
}

func (ih *iterHeap[K, V]) Swap(i, j int) {
	ih.elements[i], ih.elements[j] = ih.elements[j], ih.elements[i]
}

// Push will add the given element `x` to the heap if it matches the desired type.
func (ih *iterHeap[K, V]) Push(x any) {
	if element, ok := x.(*heapElement[K, V]); !ok {
		utils.RaiseInvariant("multi_head", "pushed_invalid_type", "An item with invalid type was pushed to heap.")
	} else if element == nil {
		utils.RaiseInvariant("multi_head", "pushed_nil_element", "A nil element was pushed to iteration heap.")
	} else if len(ih.elements) == cap(ih.elements) {
		utils.RaiseInvariant("multi_head", "exceeded_capacity",
			"An element was pushed while the capacity was full.", "cap", cap(ih.elements))
	} else {
		ih.elements = append(ih.elements, element)
	}
}

// Pop returns and removes the last element in the heap.
func (ih *iterHeap[K, V]) Pop() any {
	lastElement := ih.elements[len(ih.elements)-1]
	ih.elements = ih.elements[:len(ih.elements)-1]
	return lastElement
}

// MultiHead allows multi-way iteration over a list of increasing iterators with different priorities.
// Incoming items from sequences are merged together by key (K); for equal keys the earliest sequence wins and
// the others are discarded. Sequences are only pulled from while the result is being ranged over, so the result
// can be ranged over again as long as the underlying sequences can.
func MultiHead[K any, V any](cmp utils.CompareFn[K], sequences []iter.Seq[utils.Pair[K, V]]) (
	iter.Seq[utils.Pair[K, V]], error) {
	if cmp == nil {
		return nil, errors.New("expected a non-nil comparison function")
	}
	if len(sequences) == 0 {
		return nil, errors.New("expected a non-empty sequences")
	}

	return func(yield func(utils.Pair[K, V]) bool) {
		it := &iterHeap[K, V]{compare: cmp, elements: make([]*heapElement[K, V], 0, len(sequences))}
		pull := make([]func() (utils.Pair[K, V], bool), len(sequences))
		stop := make([]func(), len(sequences))
		defer func() { // Stop all underlying sequences once iteration is done.
			for _, stopFn := range stop {
				if stopFn != nil {
					stopFn()
				}
			}
		}()
		for seqIdx, seq := range sequences {
			pull[seqIdx], stop[seqIdx] = iter.Pull(seq)
			if first, hasAny := pull[seqIdx](); hasAny {
				heap.Push(it, &heapElement[K, V]{pair: first, seqIdx: seqIdx})
			}
		}

		// next pops the minimum element and refills the heap from the sequence that produced it.
		next := func() utils.Pair[K, V] {
			top := heap.Pop(it).(*heapElement[K, V])
			if pair, hasNext := pull[top.seqIdx](); hasNext {
				heap.Push(it, &heapElement[K, V]{pair: pair, seqIdx: top.seqIdx})
			}
			return top.pair
		}

		var last utils.Pair[K, V]
		for emitted := false; it.Len() > 0; {
			current := next()
			if emitted && cmp(current.Key, last.Key) == 0 {
				continue // A lower priority value of an already streamed key.
			}
			if !yield(current) {
				return
			}
			last, emitted = current, true
		}
	}, nil
}
