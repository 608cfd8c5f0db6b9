package skipmap

import (
	"fmt"

	"github.com/nobletooth/skipmap/pkg/utils"
)

// noStep is returned by nextStep when no forward reference can be followed.
const noStep = -1

// nextStep scans `forwards` from the highest level down and returns the first level whose successor exists and
// has a key not greater than `key`. It returns noStep when there is no such level.
func nextStep(forwards []*node, key int) (int, error) {
	if forwards == nil {
		utils.RaiseInvariant("skipmap", "nil_forwards", "Traversal reached a node without forward references.",
			"key", key)
		return noStep, fmt.Errorf("%w: nil forward references while looking for %d", ErrInvalidArgument, key)
	}
	for level := len(forwards) - 1; level >= 0; level-- {
		if next := forwards[level]; next != nil && next.key <= key {
			return level, nil
		}
	}
	return noStep, nil
}

// newBacklook returns a predecessor array pointing every level at the head.
func (m *Map) newBacklook() []*node {
	backlook := make([]*node, MaxLevel)
	for level := range backlook {
		backlook[level] = m.head
	}
	return backlook
}

// descend walks from the head towards `key` and fills `backlook` with the last node visited on each level before
// passing the key. If a node holding `key` is met, the descent stops and returns it alongside the level it was
// reached on; backlook is then only complete for that level and above.
func (m *Map) descend(key int, backlook []*node) ( /*match*/ *node /*matchLevel*/, int, error) {
	current := m.head
	for {
		level, err := nextStep(current.forwards, key)
		if err != nil {
			return nil, noStep, err
		}
		if level == noStep {
			break
		}
		// The current node precedes the key on every level from the taken step up to its own height.
		for i := level; i < current.height(); i++ {
			backlook[i] = current
		}
		current = current.forwards[level]
		if current.key == key {
			return current, level, nil
		}
	}
	// No successor at any level is <= key, so the final node precedes the key on all of its levels.
	for i := 0; i < current.height(); i++ {
		backlook[i] = current
	}
	return nil, noStep, nil
}
