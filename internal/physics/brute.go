package physics

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/fluidsim/internal/dynamo"
	"github.com/san-kum/fluidsim/internal/fluid"
)

// BruteForce evaluates the SPH force law over all pairs.
type BruteForce struct {
	Params
	MinChunk int
}

func NewBruteForce(p Params) *BruteForce {
	return &BruteForce{Params: p, MinChunk: 32}
}

func (b *BruteForce) Name() string { return "brute" }

func (b *BruteForce) Compute(ps []fluid.Particle, out *Forces) {
	n := len(ps)
	out.Reset(n)
	k := newKernels(b.H)

	dynamo.ParallelFor(n, b.MinChunk, func(start, end int) {
		for i := start; i < end; i++ {
			rho := 0.0
			for j := range ps {
				rho += b.Mass * k.density(r3.Norm2(r3.Sub(ps[j].Pos, ps[i].Pos)))
			}
			out.Rho[i] = rho
			out.Pressure[i] = b.GasConst * (rho - b.RestDens)
		}
	})

	dynamo.ParallelFor(n, b.MinChunk, func(start, end int) {
		for i := start; i < end; i++ {
			var f r3.Vec
			for j := range ps {
				if i == j {
					continue
				}
				if pf, ok := k.pairForce(b.Params, &ps[i], &ps[j], out.Rho[i], out.Rho[j], out.Pressure[i], out.Pressure[j]); ok {
					f = r3.Add(f, pf)
				}
			}
			finish(b.Params, out, i, f)
		}
	})
}
