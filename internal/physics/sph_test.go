package physics

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/fluidsim/internal/dynamo"
	"github.com/san-kum/fluidsim/internal/fluid"
)

func randomCloud(n int, seed int64, spread float64) []fluid.Particle {
	rng := rand.New(rand.NewSource(seed))
	ps := make([]fluid.Particle, n)
	for i := range ps {
		ps[i] = fluid.NewParticle(
			(rng.Float64()-0.5)*spread,
			(rng.Float64()-0.5)*spread,
			(rng.Float64()-0.5)*spread,
		)
		ps[i].Vel = r3.Vec{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}
	}
	return ps
}

func TestSPHMatchesBruteForce(t *testing.T) {
	ps := randomCloud(400, 1, 120)
	// a few particles outside the box exercise edge-cell clamping
	ps[0].Pos = r3.Vec{X: 310, Y: 0, Z: 0}
	ps[1].Pos = r3.Vec{X: 305, Y: 2, Z: 1}

	p := DefaultParams()
	grid, brute := NewForces(0), NewForces(0)
	NewSPH(p).Compute(ps, grid)
	NewBruteForce(p).Compute(ps, brute)

	for i := range ps {
		if !closeTo(grid.Rho[i], brute.Rho[i]) {
			t.Fatalf("rho[%d]: grid %g, brute %g", i, grid.Rho[i], brute.Rho[i])
		}
		if !vecClose(grid.Accel[i], brute.Accel[i]) {
			t.Fatalf("accel[%d]: grid %v, brute %v", i, grid.Accel[i], brute.Accel[i])
		}
	}
}

func closeTo(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

func vecClose(a, b r3.Vec) bool {
	return closeTo(a.X, b.X) && closeTo(a.Y, b.Y) && closeTo(a.Z, b.Z)
}

func TestSPHDeterministicAcrossWorkers(t *testing.T) {
	defer func(w int) { dynamo.Workers = w }(dynamo.Workers)

	ps := randomCloud(600, 2, 100)
	solver := NewSPH(DefaultParams())
	solver.MinChunk = 8

	dynamo.Workers = 1
	serial := NewForces(0)
	solver.Compute(ps, serial)

	for _, w := range []int{2, 5, 16} {
		dynamo.Workers = w
		par := NewForces(0)
		solver.Compute(ps, par)
		for i := range ps {
			if par.Accel[i] != serial.Accel[i] || par.Rho[i] != serial.Rho[i] {
				t.Fatalf("workers=%d particle %d differs: %v vs %v", w, i, par.Accel[i], serial.Accel[i])
			}
		}
	}
}

func TestSPHDoesNotMutateInput(t *testing.T) {
	ps := randomCloud(50, 3, 40)
	before := make([]fluid.Particle, len(ps))
	copy(before, ps)

	NewSPH(DefaultParams()).Compute(ps, NewForces(0))
	for i := range ps {
		if ps[i] != before[i] {
			t.Fatalf("particle %d mutated", i)
		}
	}
}

func TestSPHSingleParticleFallsWithGravity(t *testing.T) {
	ps := []fluid.Particle{fluid.NewParticle(0, 0, 0)}
	out := NewForces(0)
	NewSPH(DefaultParams()).Compute(ps, out)

	if out.Rho[0] <= 0 {
		t.Fatalf("self density must be positive, got %g", out.Rho[0])
	}
	if !vecClose(out.Accel[0], r3.Vec{Y: -9.81}) {
		t.Errorf("expected gravity acceleration, got %v", out.Accel[0])
	}
}

func TestSPHPressureRepels(t *testing.T) {
	p := DefaultParams()
	p.Gravity = r3.Vec{}
	p.RestDens = 0
	p.Visc = 0

	ps := []fluid.Particle{fluid.NewParticle(0, 0, 0), fluid.NewParticle(4, 0, 0)}
	out := NewForces(0)
	NewSPH(p).Compute(ps, out)

	if out.Accel[0].X >= 0 || out.Accel[1].X <= 0 {
		t.Errorf("expected particles pushed apart, got %v and %v", out.Accel[0], out.Accel[1])
	}
	if !closeTo(out.Accel[0].X, -out.Accel[1].X) {
		t.Errorf("expected symmetric forces, got %v and %v", out.Accel[0], out.Accel[1])
	}
}

func TestSPHOutOfRangeNeighbours(t *testing.T) {
	p := DefaultParams()
	p.Gravity = r3.Vec{}
	ps := []fluid.Particle{fluid.NewParticle(0, 0, 0), fluid.NewParticle(p.H*1.5, 0, 0)}
	out := NewForces(0)
	NewSPH(p).Compute(ps, out)

	if out.Accel[0] != (r3.Vec{}) {
		t.Errorf("particles beyond H must not interact, got %v", out.Accel[0])
	}
}

func TestSPHEmpty(t *testing.T) {
	out := NewForces(3)
	NewSPH(DefaultParams()).Compute(nil, out)
	if out.Len() != 0 {
		t.Errorf("expected empty forces, got %d", out.Len())
	}
}

func TestSetParam(t *testing.T) {
	s := NewSPH(DefaultParams())
	var c Configurable = s

	if err := c.SetParam("VISC", 2); err != nil {
		t.Fatal(err)
	}
	if s.Visc != 2 {
		t.Errorf("VISC not applied")
	}
	if err := c.SetParam("G[1]", -1); err != nil {
		t.Fatal(err)
	}
	if c.GetParams()["G[1]"] != -1 {
		t.Errorf("G[1] not reported")
	}

	tests := []struct {
		name  string
		value float64
	}{
		{"H", 0},
		{"H", 0.01},
		{"H", math.NaN()},
		{"VISC", math.Inf(1)},
		{"G[1]", math.NaN()},
		{"MASS", -1},
		{"BOUND", 0},
		{"BOUND", 1e6},
		{"NOPE", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := s.Params
			if err := c.CheckParam(tt.name, tt.value); err == nil {
				t.Errorf("CheckParam(%s, %g): expected error", tt.name, tt.value)
			}
			if err := c.SetParam(tt.name, tt.value); err == nil {
				t.Errorf("SetParam(%s, %g): expected error", tt.name, tt.value)
			}
			if s.Params != before || c.Parameters() != before {
				t.Error("failed SetParam must not change parameters")
			}
		})
	}

	if len(ParamNames()) != len(s.GetParams()) {
		t.Error("ParamNames out of sync with GetParams")
	}
}

func TestGridClampsDimension(t *testing.T) {
	ps := randomCloud(200, 5, 40)
	var g grid
	g.build(ps, 1e-6, 300)
	if g.dim != MaxGridDim {
		t.Fatalf("expected dim clamped to %d, got %d", MaxGridDim, g.dim)
	}

	// Every particle still sees itself and its close pairs.
	for i := range ps {
		seen := false
		g.visit(ps[i].Pos, func(j int) {
			if j == i {
				seen = true
			}
		})
		if !seen {
			t.Fatalf("particle %d missing from its own neighbourhood", i)
		}
	}

	// Rebuilding with a normal cell size reuses the buffers.
	g.build(ps, 16, 300)
	if g.dim != 38 {
		t.Errorf("expected dim 38, got %d", g.dim)
	}
}

func TestValidateGridLimit(t *testing.T) {
	p := DefaultParams()
	p.H = 2 * p.Bound / MaxGridDim
	if err := p.Validate(); err != nil {
		t.Errorf("H at the grid limit should be valid: %v", err)
	}
	p.H /= 2
	if err := p.Validate(); !errors.Is(err, dynamo.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration below the grid limit, got %v", err)
	}
}
