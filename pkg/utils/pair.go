// Nothing to see here in this module. Couldn't find a better place for Pair.
// Ordered iteration over the skip map and the shard merge both stream Pairs.

package utils

type Pair[K any, V any] struct {
	Key   K
	Value V
}

// IntPair is the entry type stored by the skip map.
type IntPair = Pair[int /*key*/, int /*value*/]
