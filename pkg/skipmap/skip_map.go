package skipmap

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/nobletooth/skipmap/pkg/utils"
)

// DefaultPromotionProbability is the promotion probability used when none is given.
const DefaultPromotionProbability = 0.5

var (
	// ErrDuplicateKey is returned by Add when the key is already present; Map never overwrites values.
	ErrDuplicateKey = errors.New("key already exists")
	// ErrInvalidArgument is returned on invalid construction options or a malformed node.
	ErrInvalidArgument = errors.New("invalid argument")
)

type options struct {
	p      float64
	source rand.Source
}

// Option configures a Map at construction time.
type Option func(*options)

// WithPromotionProbability sets the probability p of promoting a node to the next level; must be in [0, 1].
func WithPromotionProbability(p float64) Option {
	return func(o *options) { o.p = p }
}

// WithSeed makes node heights reproducible across runs; meant for tests and tooling.
func WithSeed(seed int64) Option {
	return func(o *options) { o.source = rand.NewSource(seed) }
}

// WithRandSource draws node heights from the given source.
func WithRandSource(source rand.Source) Option {
	return func(o *options) { o.source = source }
}

// Map is an ordered map from int keys to int values backed by a skip list. It is not safe for concurrent use.
type Map struct {
	head   *node // Always present; never holds a key.
	count  int   // Number of data nodes reachable through level 0.
	levels *levelGenerator
}

// New creates an empty Map. Without options it uses p = DefaultPromotionProbability and a time seeded source.
func New(opts ...Option) (*Map, error) {
	o := options{p: DefaultPromotionProbability}
	for _, opt := range opts {
		opt(&o)
	}
	if math.IsNaN(o.p) || o.p < 0 || o.p > 1 {
		return nil, fmt.Errorf("%w: promotion probability %v is outside [0, 1]", ErrInvalidArgument, o.p)
	}
	if o.source == nil {
		o.source = rand.NewSource(time.Now().UnixNano())
	}
	return &Map{head: newHead(), levels: newLevelGenerator(o.p, o.source)}, nil
}

// TryGet returns the value stored for `key` and whether the key is present.
func (m *Map) TryGet(key int) (int, bool) {
	current := m.head
	for {
		level, err := nextStep(current.forwards, key)
		if err != nil || level == noStep {
			return 0, false
		}
		current = current.forwards[level]
		if current.key == key {
			return current.value, true
		}
	}
}

// Contains reports whether `key` is present.
func (m *Map) Contains(key int) bool {
	_, found := m.TryGet(key)
	return found
}

// Add inserts a new key/value pair. It returns ErrDuplicateKey and leaves the map untouched if `key` exists.
func (m *Map) Add(key, value int) error {
	backlook := m.newBacklook()
	existing, _, err := m.descend(key, backlook)
	if err != nil {
		return fmt.Errorf("failed to locate insertion point: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("%w: %d", ErrDuplicateKey, key)
	}

	// Splice the new node in after its predecessor on every level it participates in.
	inserted := newNode(key, value, m.levels.chooseHeight())
	for level := 0; level < inserted.height(); level++ {
		inserted.forwards[level] = backlook[level].forwards[level]
		backlook[level].forwards[level] = inserted
	}
	m.count++
	return nil
}

// Remove deletes `key` and reports whether it was present. Removing an absent key is a no-op.
func (m *Map) Remove(key int) bool {
	if m.count == 0 {
		return false
	}

	backlook := m.newBacklook()
	target, matchLevel, err := m.descend(key, backlook)
	if err != nil || target == nil {
		return false
	}

	// The descent stopped at the level the target was reached on. Below it, shorter nodes may sit between
	// that predecessor and the target, so walk forward on each lower level until the target is next.
	predecessor := backlook[matchLevel]
	for level := matchLevel - 1; level >= 0; level-- {
		for next := predecessor.forwards[level]; next != target; next = predecessor.forwards[level] {
			if !utils.CheckInvariant(next != nil && next.key < key, "skipmap", "unreachable_target",
				"Target node is missing from a level it participates in.", "key", key, "level", level) {
				return false
			}
			predecessor = next
		}
		backlook[level] = predecessor
	}
	for level := matchLevel + 1; level < target.height(); level++ {
		if !utils.CheckInvariant(backlook[level].forwards[level] == target, "skipmap", "stale_predecessor",
			"Target was reached below its top level.", "key", key, "level", level) {
			return false
		}
	}

	for level := 0; level < target.height(); level++ {
		backlook[level].forwards[level] = target.forwards[level]
	}
	m.count--
	return true
}

// Count returns the number of entries.
func (m *Map) Count() int {
	utils.CheckInvariant(m.count >= 0, "skipmap", "negative_count", "Entry counter went negative.",
		"count", m.count)
	return m.count
}

// Clear removes every entry. It must not be called while an Iterator or sequence is in use.
func (m *Map) Clear() {
	clear(m.head.forwards)
	m.count = 0
}

// Heights returns a histogram of node heights; element h-1 counts the nodes of height h.
func (m *Map) Heights() []int {
	histogram := make([]int, MaxLevel)
	for n := m.head.forwards[0]; n != nil; n = n.forwards[0] {
		histogram[n.height()-1]++
	}
	return histogram
}
