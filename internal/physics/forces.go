package physics

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/fluidsim/internal/fluid"
)

// Forces is the per-frame output of a Solver.
type Forces struct {
	Force    []r3.Vec
	Accel    []r3.Vec
	Rho      []float64
	Pressure []float64
}

func NewForces(n int) *Forces {
	f := &Forces{}
	f.Reset(n)
	return f
}

// Reset sizes the buffers for n particles and zeroes them.
func (f *Forces) Reset(n int) {
	f.Force = resizeVec(f.Force, n)
	f.Accel = resizeVec(f.Accel, n)
	f.Rho = resizeFloat(f.Rho, n)
	f.Pressure = resizeFloat(f.Pressure, n)
}

func (f *Forces) Len() int { return len(f.Accel) }

func resizeVec(v []r3.Vec, n int) []r3.Vec {
	if cap(v) < n {
		return make([]r3.Vec, n)
	}
	v = v[:n]
	for i := range v {
		v[i] = r3.Vec{}
	}
	return v
}

func resizeFloat(v []float64, n int) []float64 {
	if cap(v) < n {
		return make([]float64, n)
	}
	v = v[:n]
	for i := range v {
		v[i] = 0
	}
	return v
}

// Solver computes per-particle accelerations from a read-only snapshot. It
// cannot fail: non-finite results surface in the integrator.
type Solver interface {
	Name() string
	Compute(ps []fluid.Particle, out *Forces)
}

type Configurable interface {
	Parameters() Params
	GetParams() map[string]float64
	SetParam(name string, value float64) error
	CheckParam(name string, value float64) error
}
