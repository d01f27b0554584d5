package optimizer

import "tvbacktest/internal/strategy"

// Grid lazily enumerates the cartesian product of a parameter space in
// declaration order, the last parameter varying fastest. It can be restarted
// with Reset. A space with no parameters yields a single empty set, which
// evaluates the strategy's defaults.
type Grid struct {
	space strategy.ParamSpace
	limit int
	pos   int
}

// NewGrid returns a grid over space truncated to at most maxVariants sets.
// maxVariants <= 0 means no cap.
func NewGrid(space strategy.ParamSpace, maxVariants int) *Grid {
	total := space.Size()
	if len(space) == 0 {
		total = 1
	}
	if maxVariants > 0 && total > maxVariants {
		total = maxVariants
	}
	return &Grid{space: space, limit: total}
}

// Len returns the number of sets the grid yields.
func (g *Grid) Len() int { return g.limit }

// Next returns the next parameter set, or false once the grid is exhausted.
func (g *Grid) Next() (strategy.Params, bool) {
	if g.pos >= g.limit {
		return nil, false
	}
	p := make(strategy.Params, len(g.space))
	idx := g.pos
	for k := len(g.space) - 1; k >= 0; k-- {
		vals := g.space[k].Values
		p[g.space[k].Name] = vals[idx%len(vals)]
		idx /= len(vals)
	}
	g.pos++
	return p, true
}

// Reset rewinds the grid to its first set.
func (g *Grid) Reset() { g.pos = 0 }
