// Package integrators advances the particle store by one frame from the
// accelerations computed by a physics.Solver.
//
// Both schemes are explicit and stable while the CFL number
// max|v|*dt/H stays below about 0.4.
package integrators

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/fluidsim/internal/dynamo"
	"github.com/san-kum/fluidsim/internal/fluid"
	"github.com/san-kum/fluidsim/internal/physics"
)

type Integrator interface {
	Name() string
	Step(store *fluid.Store, f *physics.Forces, clock *dynamo.Clock, dt float64) error
	SetBoundary(b Boundary)
}

// Boundary keeps particles inside [-Bound+Eps, Bound-Eps] on every axis.
// Velocity components are multiplied by Damping on contact.
type Boundary struct {
	Bound   float64
	Eps     float64
	Damping float64
}

func DefaultBoundary() Boundary {
	return Boundary{Bound: 300, Eps: 1, Damping: -0.5}
}

func (b Boundary) apply(p *fluid.Particle) {
	if b.Bound <= 0 {
		return
	}
	lo, hi := -b.Bound+b.Eps, b.Bound-b.Eps
	for k := 0; k < 3; k++ {
		x := fluid.Component(p.Pos, k)
		switch {
		case x < lo:
			p.Pos = fluid.SetComponent(p.Pos, k, lo)
			p.Vel = fluid.SetComponent(p.Vel, k, fluid.Component(p.Vel, k)*b.Damping)
		case x > hi:
			p.Pos = fluid.SetComponent(p.Pos, k, hi)
			p.Vel = fluid.SetComponent(p.Vel, k, fluid.Component(p.Vel, k)*b.Damping)
		}
	}
}

// stepper moves a single particle given its acceleration.
type stepper func(p *fluid.Particle, a r3.Vec, dt float64)

type scheme struct {
	name     string
	move     stepper
	Boundary Boundary
	scratch  []fluid.Particle
}

func (s *scheme) Name() string          { return s.name }
func (s *scheme) SetBoundary(b Boundary) { s.Boundary = b }

// Step writes the new state to a scratch buffer and commits it only if every
// particle is finite, so a failed step leaves the store and clock untouched.
func (s *scheme) Step(store *fluid.Store, f *physics.Forces, clock *dynamo.Clock, dt float64) error {
	n := store.Size()
	if f.Len() != n {
		return fmt.Errorf("%w: forces for %d particles, store has %d", dynamo.ErrConfiguration, f.Len(), n)
	}
	if dt <= 0 {
		return fmt.Errorf("%w: dt must be positive, got %g", dynamo.ErrConfiguration, dt)
	}

	s.scratch = store.Snapshot(s.scratch)
	for i := range s.scratch {
		p := &s.scratch[i]
		s.move(p, f.Accel[i], dt)
		s.Boundary.apply(p)
		p.Force, p.Rho, p.Pressure = f.Force[i], f.Rho[i], f.Pressure[i]
		if !p.IsValid() {
			return &dynamo.SimulationError{
				Frame:    clock.Frame + 1,
				Time:     clock.Time + dt,
				Particle: i,
				Wrapped:  dynamo.ErrNumericalInstability,
			}
		}
	}

	copy(store.Particles(), s.scratch)
	clock.Advance(dt)
	return nil
}

// NewSymplecticEuler updates velocity first, then position with the new
// velocity.
func NewSymplecticEuler(b Boundary) Integrator {
	return &scheme{
		name:     "symplectic",
		Boundary: b,
		move: func(p *fluid.Particle, a r3.Vec, dt float64) {
			p.Vel = r3.Add(p.Vel, r3.Scale(dt, a))
			p.Pos = r3.Add(p.Pos, r3.Scale(dt, p.Vel))
		},
	}
}

// NewEuler moves position with the old velocity, then updates velocity.
func NewEuler(b Boundary) Integrator {
	return &scheme{
		name:     "euler",
		Boundary: b,
		move: func(p *fluid.Particle, a r3.Vec, dt float64) {
			p.Pos = r3.Add(p.Pos, r3.Scale(dt, p.Vel))
			p.Vel = r3.Add(p.Vel, r3.Scale(dt, a))
		},
	}
}

// CFL returns max|v|*dt/h for the given particles.
func CFL(ps []fluid.Particle, dt, h float64) float64 {
	if h <= 0 {
		return 0
	}
	maxV := 0.0
	for i := range ps {
		if v := r3.Norm(ps[i].Vel); v > maxV {
			maxV = v
		}
	}
	return maxV * dt / h
}
