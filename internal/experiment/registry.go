package experiment

import (
	"fmt"
	"sort"

	"github.com/san-kum/fluidsim/internal/integrators"
	"github.com/san-kum/fluidsim/internal/physics"
)

// Registry maps solver and integrator names to constructors.
type Registry struct {
	solvers     map[string]func(physics.Params) physics.Solver
	integrators map[string]func(integrators.Boundary) integrators.Integrator
}

func NewRegistry() *Registry {
	r := &Registry{
		solvers:     make(map[string]func(physics.Params) physics.Solver),
		integrators: make(map[string]func(integrators.Boundary) integrators.Integrator),
	}

	r.solvers["sph"] = func(p physics.Params) physics.Solver { return physics.NewSPH(p) }
	r.solvers["brute"] = func(p physics.Params) physics.Solver { return physics.NewBruteForce(p) }

	r.integrators["symplectic"] = integrators.NewSymplecticEuler
	r.integrators["euler"] = integrators.NewEuler

	return r
}

func (r *Registry) GetSolver(name string, p physics.Params) (physics.Solver, error) {
	fn, ok := r.solvers[name]
	if !ok {
		return nil, fmt.Errorf("unknown solver: %s (available: %v)", name, r.ListSolvers())
	}
	return fn(p), nil
}

func (r *Registry) GetIntegrator(name string, b integrators.Boundary) (integrators.Integrator, error) {
	fn, ok := r.integrators[name]
	if !ok {
		return nil, fmt.Errorf("unknown integrator: %s (available: %v)", name, r.ListIntegrators())
	}
	return fn(b), nil
}

func (r *Registry) ListSolvers() []string {
	return sortedKeys(r.solvers)
}

func (r *Registry) ListIntegrators() []string {
	return sortedKeys(r.integrators)
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
