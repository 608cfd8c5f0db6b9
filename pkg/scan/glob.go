// Skipmap lists keys against Redis style glob patterns after merging its shards; the following module implements
// glob matching over the decimal form of integer keys.

package scan

import (
	"iter"
	"strconv"

	"github.com/nobletooth/skipmap/pkg/utils"
	"github.com/tidwall/match"
)

// MatchKeys filters the `pairs` stream down to the entries whose decimal key matches the glob `pattern`.
// `*` matches any run of characters, `?` a single character and `\` escapes the next one; every other
// character, brackets included, matches itself.
func MatchKeys(pattern string, pairs iter.Seq[utils.IntPair]) iter.Seq[utils.IntPair] {
	if pattern == "*" { // Fast path for listing everything.
		return pairs
	}
	return func(yield func(utils.IntPair) bool) {
		for pair := range pairs {
			if match.Match(strconv.Itoa(pair.Key), pattern) {
				if !yield(pair) {
					return
				}
			}
		}
	}
}
