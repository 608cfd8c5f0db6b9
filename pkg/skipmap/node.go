// Package skipmap implements a single-threaded ordered map over integer keys on top of a skip list.
//
// A skip list maintains multiple forward-reference layers over a sorted linked list. Each node is given a random
// height when it is inserted and participates in every level below that height, forming express lanes that let
// a lookup skip over large ranges. Every operation starts at the head sentinel and descends level by level.
//
// Properties
// - Expected time complexity for TryGet/Add/Remove: O(log n)
// - Space complexity: O(n)
// - Probabilistic balancing controlled by promotion probability p (default 0.5)
// - Deterministic iteration order by ascending key using level 0 forward references
//
// Map has no internal synchronization. Callers sharing a Map across goroutines must guard every call,
// including iteration, with their own lock (see port.SkipMapStorage).
package skipmap

// MaxLevel bounds the height of every node; the head sentinel always has exactly MaxLevel levels.
const MaxLevel = 20

// node holds one key/value pair, or nothing for the head sentinel.
type node struct {
	key   int
	value int
	// forwards[i] is the next node at level i; its height is fixed at creation.
	forwards []*node
}

// newNode creates a data node participating in levels [0, height).
func newNode(key, value, height int) *node {
	return &node{key: key, value: value, forwards: make([]*node /*next per level*/, height)}
}

// newHead creates the head sentinel owning the entry point of every level.
func newHead() *node {
	return &node{forwards: make([]*node, MaxLevel)}
}

// height returns the number of levels the node participates in.
func (n *node) height() int {
	return len(n.forwards)
}
