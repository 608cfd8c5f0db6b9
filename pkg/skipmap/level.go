package skipmap

import (
	"math/rand"
)

// levelGenerator draws node heights. Heights follow P(height >= k) = p^(k-1), independent of insertion order.
type levelGenerator struct {
	p    float64        // Probability that a node is promoted to the next level.
	draw func() float64 // Uniform in [0, 1).
}

func newLevelGenerator(p float64, source rand.Source) *levelGenerator {
	return &levelGenerator{p: p, draw: rand.New(source).Float64}
}

// chooseHeight returns the first height h in [1, MaxLevel] for which p^h < r, where r is drawn uniformly from [0, 1).
func (g *levelGenerator) chooseHeight() int {
	r := g.draw()
	threshold := g.p // p^height
	for height := 1; height <= MaxLevel; height++ {
		if threshold < r {
			return height
		}
		threshold *= g.p
	}
	return MaxLevel
}
