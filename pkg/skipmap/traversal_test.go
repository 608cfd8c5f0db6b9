package skipmap

import (
	"testing"

	"github.com/nobletooth/skipmap/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextStep(t *testing.T) {
	low, mid, high := newNode(10, 0, 1), newNode(20, 0, 2), newNode(30, 0, 3)
	forwards := []*node{low, mid, high}

	for _, testCase := range []struct {
		name      string
		forwards  []*node
		key       int
		wantLevel int
	}{
		{name: "highest_level_wins", forwards: forwards, key: 30, wantLevel: 2},
		{name: "descends_past_larger_keys", forwards: forwards, key: 25, wantLevel: 1},
		{name: "lowest_level", forwards: forwards, key: 10, wantLevel: 0},
		{name: "every_successor_is_larger", forwards: forwards, key: 9, wantLevel: noStep},
		{name: "skips_missing_successors", forwards: []*node{low, nil, nil}, key: 100, wantLevel: 0},
		{name: "no_successors", forwards: make([]*node, MaxLevel), key: 0, wantLevel: noStep},
		{name: "empty_forwards", forwards: []*node{}, key: 0, wantLevel: noStep},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			level, err := nextStep(testCase.forwards, testCase.key)
			require.NoError(t, err)
			assert.Equal(t, testCase.wantLevel, level)
		})
	}
}

func TestNextStep_NilForwards(t *testing.T) {
	before := utils.GetMetricValue("skipmap", "nil_forwards")
	level, err := nextStep(nil, 1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, noStep, level)
	assert.Equal(t, before+1, utils.GetMetricValue("skipmap", "nil_forwards"))
}

func TestMap_MalformedNode(t *testing.T) {
	m := newTestMap(t)
	addNewKey(t, m, 1, 1)
	scriptHeights(t, m, 1)
	addNewKey(t, m, 2, 2)
	// Break the structure on purpose: node 2 loses its forward references.
	m.head.forwards[0].forwards[0].forwards = nil

	_, found := m.TryGet(3)
	assert.False(t, found)
	assert.ErrorIs(t, m.Add(3, 3), ErrInvalidArgument)
	assert.False(t, m.Remove(3))
	assert.Equal(t, 2, m.Count())
}

func TestDescend_Backlook(t *testing.T) {
	m := newTestMap(t)
	scriptHeights(t, m, 3, 1, 2)
	for _, key := range []int{10, 20, 30} {
		addNewKey(t, m, key, key)
	}
	ten := m.head.forwards[0]
	twenty := ten.forwards[0]
	thirty := twenty.forwards[0]

	t.Run("insertion_point", func(t *testing.T) {
		backlook := m.newBacklook()
		match, _, err := m.descend(25, backlook)
		require.NoError(t, err)
		assert.Nil(t, match)
		assert.Same(t, twenty, backlook[0])
		assert.Same(t, ten, backlook[1])
		assert.Same(t, ten, backlook[2])
		assert.Same(t, m.head, backlook[3])
	})
	t.Run("before_first_key", func(t *testing.T) {
		backlook := m.newBacklook()
		match, _, err := m.descend(5, backlook)
		require.NoError(t, err)
		assert.Nil(t, match)
		for level := range MaxLevel {
			assert.Same(t, m.head, backlook[level])
		}
	})
	t.Run("match_stops_at_top_level", func(t *testing.T) {
		backlook := m.newBacklook()
		match, level, err := m.descend(30, backlook)
		require.NoError(t, err)
		assert.Same(t, thirty, match)
		assert.Equal(t, 1, level)
		assert.Same(t, ten, backlook[1])
	})
}
