package physics

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/fluidsim/internal/fluid"
)

// grid is a uniform spatial hash over [-bound, bound]^3. Particles outside
// the box are clamped into the edge cells, which keeps every pair closer
// than one cell size in adjacent cells.
type grid struct {
	cell, bound float64
	dim         int
	start       []int32 // start[c]..start[c+1] indexes into order
	order       []int32
	keys        []int32
	fill        []int32
}

func (g *grid) cellOf(v float64) int {
	c := int(math.Floor((v + g.bound) / g.cell))
	if c < 0 {
		return 0
	}
	if c >= g.dim {
		return g.dim - 1
	}
	return c
}

func (g *grid) key(x, y, z int) int {
	return (x*g.dim+y)*g.dim + z
}

// build buckets particle indices with a counting sort, so each cell lists
// its particles in ascending index order.
func (g *grid) build(ps []fluid.Particle, cell, bound float64) {
	g.bound = bound
	d := math.Ceil(2 * bound / cell)
	switch {
	case !(d >= 1):
		g.dim = 1
	case d <= MaxGridDim:
		g.dim = int(d)
	default:
		// Cells wider than the smoothing radius still hold every neighbour
		// within the 27-cell visit.
		g.dim = MaxGridDim
		cell = 2 * bound / MaxGridDim
	}
	g.cell = cell
	cells := g.dim * g.dim * g.dim

	if cap(g.start) < cells+1 {
		g.start = make([]int32, cells+1)
	}
	g.start = g.start[:cells+1]
	for i := range g.start {
		g.start[i] = 0
	}
	if cap(g.keys) < len(ps) {
		g.keys = make([]int32, len(ps))
		g.order = make([]int32, len(ps))
	}
	g.keys, g.order = g.keys[:len(ps)], g.order[:len(ps)]

	for i := range ps {
		k := g.key(g.cellOf(ps[i].Pos.X), g.cellOf(ps[i].Pos.Y), g.cellOf(ps[i].Pos.Z))
		g.keys[i] = int32(k)
		g.start[k+1]++
	}
	for c := 0; c < cells; c++ {
		g.start[c+1] += g.start[c]
	}
	if cap(g.fill) < cells {
		g.fill = make([]int32, cells)
	}
	fill := g.fill[:cells]
	for i := range fill {
		fill[i] = 0
	}
	for i, k := range g.keys {
		g.order[g.start[k]+fill[k]] = int32(i)
		fill[k]++
	}
}

// visit calls fn for every particle in the 27 cells around pos, in a fixed
// order.
func (g *grid) visit(pos r3.Vec, fn func(j int)) {
	cx, cy, cz := g.cellOf(pos.X), g.cellOf(pos.Y), g.cellOf(pos.Z)
	for x := cx - 1; x <= cx+1; x++ {
		if x < 0 || x >= g.dim {
			continue
		}
		for y := cy - 1; y <= cy+1; y++ {
			if y < 0 || y >= g.dim {
				continue
			}
			for z := cz - 1; z <= cz+1; z++ {
				if z < 0 || z >= g.dim {
					continue
				}
				k := g.key(x, y, z)
				for _, j := range g.order[g.start[k]:g.start[k+1]] {
					fn(int(j))
				}
			}
		}
	}
}
