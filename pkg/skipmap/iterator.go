package skipmap

import (
	"iter"

	"github.com/nobletooth/skipmap/pkg/utils"
)

// Iterate lazily yields every entry in ascending key order by following level 0.
// The map must not be mutated while the sequence is being consumed.
func (m *Map) Iterate() iter.Seq[utils.IntPair] {
	return func(yield func(utils.IntPair) bool) {
		for n := m.head.forwards[0]; n != nil; n = n.forwards[0] {
			if !yield(utils.IntPair{Key: n.key, Value: n.value}) {
				return
			}
		}
	}
}

// All is Iterate in key/value form, e.g. for `for k, v := range m.All()`.
func (m *Map) All() iter.Seq2[int, int] {
	return func(yield func(int, int) bool) {
		for pair := range m.Iterate() {
			if !yield(pair.Key, pair.Value) {
				return
			}
		}
	}
}

// Iterator is a restartable forward cursor over a Map. It starts positioned before the first entry.
type Iterator struct {
	m       *Map
	current *node // The head while positioned before the first entry; nil once exhausted.
}

// Iterator returns a cursor positioned before the first entry.
func (m *Map) Iterator() *Iterator {
	return &Iterator{m: m, current: m.head}
}

// Next advances to the next entry and reports whether there is one.
func (it *Iterator) Next() bool {
	if it.current == nil {
		return false
	}
	it.current = it.current.forwards[0]
	return it.current != nil
}

// Valid reports whether the cursor points at an entry.
func (it *Iterator) Valid() bool {
	return it.current != nil && it.current != it.m.head
}

// Key returns the current key; zero when the cursor is not Valid.
func (it *Iterator) Key() int {
	if !it.Valid() {
		return 0
	}
	return it.current.key
}

// Value returns the current value; zero when the cursor is not Valid.
func (it *Iterator) Value() int {
	if !it.Valid() {
		return 0
	}
	return it.current.value
}

// Reset moves the cursor back before the first entry.
func (it *Iterator) Reset() {
	it.current = it.m.head
}
