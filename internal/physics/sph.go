package physics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/fluidsim/internal/dynamo"
	"github.com/san-kum/fluidsim/internal/fluid"
)

// Params holds the fluid constants. Names follow the dyn.fluid variables.
type Params struct {
	H        float64 // smoothing radius
	RestDens float64
	GasConst float64
	Mass     float64
	Visc     float64
	Gravity  r3.Vec
	Bound    float64 // half-width of the simulation box
}

func DefaultParams() Params {
	return Params{
		H:        16,
		RestDens: 0.002,
		GasConst: 2000,
		Mass:     1,
		Visc:     0.5,
		Gravity:  r3.Vec{Y: -9.81},
		Bound:    300,
	}
}

// MaxGridDim bounds the neighbour grid to MaxGridDim^3 cells, which puts a
// floor of 2*BOUND/MaxGridDim under H.
const MaxGridDim = 128

func (p Params) Validate() error {
	for name, v := range p.GetParams() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be finite, got %g", dynamo.ErrConfiguration, name, v)
		}
	}
	if p.H <= 0 {
		return fmt.Errorf("%w: H must be positive, got %g", dynamo.ErrConfiguration, p.H)
	}
	if p.Mass <= 0 {
		return fmt.Errorf("%w: MASS must be positive, got %g", dynamo.ErrConfiguration, p.Mass)
	}
	if p.Bound <= 0 {
		return fmt.Errorf("%w: BOUND must be positive, got %g", dynamo.ErrConfiguration, p.Bound)
	}
	if dim := 2 * p.Bound / p.H; dim > MaxGridDim {
		return fmt.Errorf("%w: 2*BOUND/H is %g, must be at most %d (H >= %g for BOUND %g)",
			dynamo.ErrConfiguration, dim, MaxGridDim, 2*p.Bound/MaxGridDim, p.Bound)
	}
	return nil
}

// kernels because math is hard
type kernels struct {
	h, h2     float64
	poly6     float64
	spikyGrad float64
	viscLap   float64
}

func newKernels(h float64) kernels {
	return kernels{
		h:         h,
		h2:        h * h,
		poly6:     315.0 / (64.0 * math.Pi * math.Pow(h, 9)),
		spikyGrad: -45.0 / (math.Pi * math.Pow(h, 6)),
		viscLap:   45.0 / (math.Pi * math.Pow(h, 6)),
	}
}

func (k kernels) density(r2 float64) float64 {
	if r2 > k.h2 {
		return 0
	}
	d := k.h2 - r2
	return k.poly6 * d * d * d
}

// pairForce is the pressure and viscosity force particle j exerts on i.
func (k kernels) pairForce(p Params, pi, pj *fluid.Particle, rhoI, rhoJ, presI, presJ float64) (r3.Vec, bool) {
	d := r3.Sub(pi.Pos, pj.Pos)
	r := r3.Norm(d)
	if r <= 0 || r > k.h || rhoJ == 0 {
		return r3.Vec{}, false
	}
	hr := k.h - r

	fp := -p.Mass * (presI + presJ) / (2 * rhoJ) * k.spikyGrad * hr * hr
	f := r3.Scale(fp/r, d)

	fv := p.Visc * p.Mass * k.viscLap * hr / rhoJ
	f = r3.Add(f, r3.Scale(fv, r3.Sub(pj.Vel, pi.Vel)))
	return f, true
}

// SPH implements Smoothed Particle Hydrodynamics.
// Neighbours come from a uniform grid with cell size H.
type SPH struct {
	Params
	MinChunk int

	grid grid
}

func NewSPH(p Params) *SPH {
	return &SPH{Params: p, MinChunk: 64}
}

func (s *SPH) Name() string { return "sph" }

func (s *SPH) Compute(ps []fluid.Particle, out *Forces) {
	n := len(ps)
	out.Reset(n)
	if n == 0 {
		return
	}
	k := newKernels(s.H)
	s.grid.build(ps, s.H, s.Bound)

	// density & pressure
	dynamo.ParallelFor(n, s.MinChunk, func(start, end int) {
		for i := start; i < end; i++ {
			rho := 0.0
			s.grid.visit(ps[i].Pos, func(j int) {
				rho += s.Mass * k.density(r3.Norm2(r3.Sub(ps[j].Pos, ps[i].Pos)))
			})
			out.Rho[i] = rho
			out.Pressure[i] = s.GasConst * (rho - s.RestDens)
		}
	})

	// forces
	dynamo.ParallelFor(n, s.MinChunk, func(start, end int) {
		for i := start; i < end; i++ {
			var f r3.Vec
			s.grid.visit(ps[i].Pos, func(j int) {
				if i == j {
					return
				}
				if pf, ok := k.pairForce(s.Params, &ps[i], &ps[j], out.Rho[i], out.Rho[j], out.Pressure[i], out.Pressure[j]); ok {
					f = r3.Add(f, pf)
				}
			})
			finish(s.Params, out, i, f)
		}
	})
}

func finish(p Params, out *Forces, i int, f r3.Vec) {
	f = r3.Add(f, r3.Scale(out.Rho[i], p.Gravity))
	out.Force[i] = f
	if out.Rho[i] > 0 {
		out.Accel[i] = r3.Scale(1/out.Rho[i], f)
	}
}

var paramNames = []string{"H", "REST_DENS", "GAS_CONST", "MASS", "VISC", "G[0]", "G[1]", "G[2]", "BOUND"}

// ParamNames lists the tunable parameter names in a stable order.
func ParamNames() []string {
	names := make([]string, len(paramNames))
	copy(names, paramNames)
	return names
}

// Parameters returns a copy of the live parameters.
func (p *Params) Parameters() Params { return *p }

func (p *Params) GetParams() map[string]float64 {
	return map[string]float64{
		"H": p.H, "REST_DENS": p.RestDens, "GAS_CONST": p.GasConst, "MASS": p.Mass, "VISC": p.Visc,
		"G[0]": p.Gravity.X, "G[1]": p.Gravity.Y, "G[2]": p.Gravity.Z, "BOUND": p.Bound,
	}
}

func (p *Params) SetParam(name string, v float64) error {
	next, err := p.with(name, v)
	if err != nil {
		return err
	}
	*p = next
	return nil
}

// CheckParam reports whether SetParam(name, v) would succeed, without
// changing anything.
func (p *Params) CheckParam(name string, v float64) error {
	_, err := p.with(name, v)
	return err
}

func (p *Params) with(name string, v float64) (Params, error) {
	next := *p
	switch name {
	case "H":
		next.H = v
	case "REST_DENS":
		next.RestDens = v
	case "GAS_CONST":
		next.GasConst = v
	case "MASS":
		next.Mass = v
	case "VISC":
		next.Visc = v
	case "G[0]":
		next.Gravity.X = v
	case "G[1]":
		next.Gravity.Y = v
	case "G[2]":
		next.Gravity.Z = v
	case "BOUND":
		next.Bound = v
	default:
		return next, fmt.Errorf("%w: unknown parameter %q", dynamo.ErrUnknownVariable, name)
	}
	return next, next.Validate()
}
