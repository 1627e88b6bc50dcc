package sim

import (
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/fluidsim/internal/dynamo"
	"github.com/san-kum/fluidsim/internal/fluid"
	"github.com/san-kum/fluidsim/internal/physics"
	"github.com/san-kum/fluidsim/internal/scenario"
	"github.com/san-kum/fluidsim/internal/vars"
)

// registerBindings builds the capability table of exposed variables. All
// accessors assume the caller holds e.mu.
func (e *Engine) registerBindings() error {
	r := e.registry
	r.MustRegister(
		&vars.Binding{
			Name:   "dyn.fluid.NUM_PARTICLES",
			Kind:   vars.Int,
			PreRun: true,
			Get:    func() float64 { return float64(e.store.Size()) },
			Set:    func(v float64) error { return e.store.Resize(int(v)) },
		},
		&vars.Binding{
			Name: "dyn.fluid.ISO_RADIUS",
			Get:  func() float64 { return e.cfg.IsoRadius },
			Set:  func(v float64) error { e.cfg.IsoRadius = v; return nil },
		},
		&vars.Binding{
			Name: "dyn.fluid.EPS",
			Get:  func() float64 { return e.cfg.Boundary.Eps },
			Set:  func(v float64) error { e.cfg.Boundary.Eps = v; return nil },
		},
		&vars.Binding{
			Name: "dyn.fluid.BOUND_DAMPING",
			Get:  func() float64 { return e.cfg.Boundary.Damping },
			Set:  func(v float64) error { e.cfg.Boundary.Damping = v; return nil },
		},
		&vars.Binding{
			Name:  "exec.sim_time",
			Units: "s",
			Get:   func() float64 { return e.clock.Time },
		},
		&vars.Binding{
			Name: "exec.frame",
			Kind: vars.Int,
			Get:  func() float64 { return float64(e.clock.Frame) },
		},
		&vars.Binding{
			Name:   "exec.software_frame",
			Units:  "s",
			PreRun: true,
			Get:    func() float64 { return e.clock.Dt },
			Set: func(v float64) error {
				next := e.clock
				next.Dt = v
				if err := next.Validate(); err != nil {
					return err
				}
				e.clock, e.cfg.Dt = next, v
				return nil
			},
		},
		&vars.Binding{
			Name:  "exec.terminate_time",
			Units: "s",
			Get:   func() float64 { return e.clock.TerminateTime },
			Set: func(v float64) error {
				next := e.clock
				next.TerminateTime = v
				if err := next.Validate(); err != nil {
					return err
				}
				e.clock.TerminateTime, e.cfg.TerminateTime = v, v
				return nil
			},
		},
		&vars.Binding{
			Name: "exec.mode",
			Kind: vars.Int,
			Get:  func() float64 { return float64(e.state) },
		},
		&vars.Binding{
			Name:   "exec.realtime",
			Kind:   vars.Int,
			PreRun: true,
			Get:    func() float64 { return boolFloat(e.cfg.RealTime) },
			Set:    func(v float64) error { e.cfg.RealTime = v != 0; return nil },
		},
		&vars.Binding{
			Name:   "scenario.mode",
			Kind:   vars.Int,
			PreRun: true,
			Get:    func() float64 { return float64(e.cfg.Scenario.Mode) },
			Set: func(v float64) error {
				mode, err := scenario.ParseMode(strconv.Itoa(int(v)))
				if err != nil {
					return err
				}
				e.cfg.Scenario.Mode = mode
				return nil
			},
		},
		&vars.Binding{
			Name:   "scenario.count",
			Kind:   vars.Int,
			PreRun: true,
			Get:    func() float64 { return float64(e.cfg.Scenario.Count) },
			Set: func(v float64) error {
				if v < 0 || v > fluid.MaxParticles {
					return fmt.Errorf("%w: scenario.count %g", dynamo.ErrConfiguration, v)
				}
				e.cfg.Scenario.Count = int(v)
				return nil
			},
		},
	)

	if c, ok := e.solver.(physics.Configurable); ok {
		for _, name := range physics.ParamNames() {
			name := name
			b := &vars.Binding{
				Name:  "dyn.fluid." + name,
				Get:   func() float64 { return c.GetParams()[name] },
				Check: func(v float64) error { return c.CheckParam(name, v) },
				Set: func(v float64) error {
					if err := c.SetParam(name, v); err != nil {
						return err
					}
					if name == "BOUND" {
						e.cfg.Boundary.Bound = v
					}
					return nil
				},
			}
			if err := r.Register(b); err != nil {
				return err
			}
		}
	}

	for _, m := range e.metrics {
		m := m
		if err := r.Register(&vars.Binding{
			Name: "dyn.fluid.metrics." + m.Name(),
			Get:  m.Value,
		}); err != nil {
			return err
		}
	}

	return r.RegisterFamily(&vars.Family{
		Prefix: "dyn.fluid.particlesArr",
		Fields: map[string]vars.Field{
			"pos":      e.vecField(func(p *fluid.Particle) *r3.Vec { return &p.Pos }, true),
			"velocity": e.vecField(func(p *fluid.Particle) *r3.Vec { return &p.Vel }, true),
			"force":    e.vecField(func(p *fluid.Particle) *r3.Vec { return &p.Force }, false),
			"rho":      e.scalarField(func(p *fluid.Particle) float64 { return p.Rho }),
			"pressure": e.scalarField(func(p *fluid.Particle) float64 { return p.Pressure }),
		},
	})
}

func (e *Engine) particle(i int) (*fluid.Particle, error) {
	ps := e.store.Particles()
	if i < 0 || i >= len(ps) {
		return nil, fmt.Errorf("%w: particlesArr[%d] (NUM_PARTICLES %d)", dynamo.ErrIndexOutOfRange, i, len(ps))
	}
	return &ps[i], nil
}

func (e *Engine) vecField(sel func(*fluid.Particle) *r3.Vec, writable bool) vars.Field {
	f := vars.Field{
		Components: 3,
		Get: func(i, k int) (float64, error) {
			p, err := e.particle(i)
			if err != nil {
				return 0, err
			}
			return fluid.Component(*sel(p), k), nil
		},
	}
	if writable {
		f.Set = func(i, k int, v float64) error {
			p, err := e.particle(i)
			if err != nil {
				return err
			}
			vec := sel(p)
			*vec = fluid.SetComponent(*vec, k, v)
			return nil
		}
	}
	return f
}

func (e *Engine) scalarField(get func(*fluid.Particle) float64) vars.Field {
	return vars.Field{
		Get: func(i, _ int) (float64, error) {
			p, err := e.particle(i)
			if err != nil {
				return 0, err
			}
			return get(p), nil
		},
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Lookup resolves a variable name against the engine's registry.
func (e *Engine) Lookup(name string) (*vars.Binding, error) {
	return e.registry.Lookup(strings.TrimSpace(name))
}

// Names lists the exposed variables, with one template per particle field.
func (e *Engine) Names() []string {
	return e.registry.Names()
}
