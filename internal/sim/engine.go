package sim

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/san-kum/fluidsim/internal/dynamo"
	"github.com/san-kum/fluidsim/internal/fluid"
	"github.com/san-kum/fluidsim/internal/integrators"
	"github.com/san-kum/fluidsim/internal/metrics"
	"github.com/san-kum/fluidsim/internal/physics"
	"github.com/san-kum/fluidsim/internal/scenario"
	"github.com/san-kum/fluidsim/internal/vars"
)

// Engine owns the particle store and clock and advances them frame by frame.
// Everything another goroutine sees goes through Read, Write and Snapshot.
type Engine struct {
	mu        sync.RWMutex
	cfg       Config
	store     *fluid.Store
	clock     dynamo.Clock
	solver    physics.Solver
	integ     integrators.Integrator
	forces    *physics.Forces
	snap      []fluid.Particle
	metrics   []metrics.Metric
	observers []Observer
	registry  *vars.Registry
	ready     bool
	state     State
	reason    string
	err       error

	pendingMu sync.Mutex
	pending   []pendingWrite

	stop   chan string
	done   chan struct{}
	logger *log.Logger
}

type pendingWrite struct {
	binding *vars.Binding
	value   float64
}

// New builds an engine with the default lattice as initial particle state.
func New(cfg Config, solver physics.Solver, integ integrators.Integrator, logger *log.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}

	edge := int(math.Ceil(math.Cbrt(float64(cfg.NumParticles))))
	store, err := fluid.NewLattice(cfg.NumParticles, edge, edge, cfg.ParticleDist)
	if err != nil {
		return nil, err
	}

	clock, _ := dynamo.NewClock(cfg.Dt, cfg.TerminateTime)
	integ.SetBoundary(cfg.Boundary)

	e := &Engine{
		cfg:      cfg,
		store:    store,
		clock:    clock,
		solver:   solver,
		integ:    integ,
		forces:   physics.NewForces(0),
		registry: vars.NewRegistry(),
		stop:     make(chan string, 1),
		done:     make(chan struct{}),
		logger:   logger.WithPrefix("engine"),
	}
	e.metrics = metrics.Defaults(e.params)
	if err := e.registerBindings(); err != nil {
		return nil, err
	}
	return e, nil
}

// params returns the solver's live parameters, falling back to the
// configured ones for solvers that are not tunable. Callers hold e.mu.
func (e *Engine) params() physics.Params {
	if c, ok := e.solver.(physics.Configurable); ok {
		return c.Parameters()
	}
	return e.cfg.Params
}

func (e *Engine) AddObserver(o Observer)   { e.observers = append(e.observers, o) }
func (e *Engine) Registry() *vars.Registry { return e.registry }
func (e *Engine) Done() <-chan struct{}    { return e.done }

// Setup applies the scenario and fixes the particle count. Run calls it if
// it has not been called yet.
func (e *Engine) Setup() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setupLocked()
}

func (e *Engine) setupLocked() error {
	if e.ready {
		return nil
	}
	if err := e.clock.Validate(); err != nil {
		return err
	}
	if err := scenario.Apply(e.cfg.Scenario, e.store); err != nil {
		return fmt.Errorf("scenario %s: %w", scenario.ModeName(e.cfg.Scenario.Mode), err)
	}
	e.store.Freeze()
	e.ready = true
	e.logger.Info("setup complete",
		"particles", e.store.Size(),
		"scenario", scenario.ModeName(e.cfg.Scenario.Mode),
		"solver", e.solver.Name(),
		"integrator", e.integ.Name())
	return nil
}

// Run advances frames until the terminate time, a Terminate call, context
// cancellation or a numerical failure.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.state != Idle {
		e.mu.Unlock()
		return fmt.Errorf("%w: engine already %s", dynamo.ErrConfiguration, e.state)
	}
	if err := e.setupLocked(); err != nil {
		e.state, e.reason, e.err = Failed, "setup failed", err
		e.mu.Unlock()
		close(e.done)
		return err
	}
	e.state = Running
	realtime := e.cfg.RealTime
	dt := e.clock.Dt
	e.mu.Unlock()
	defer close(e.done)

	var tick <-chan time.Time
	if realtime {
		ticker := time.NewTicker(time.Duration(dt * float64(time.Second)))
		defer ticker.Stop()
		tick = ticker.C
	}

	e.logger.Info("run started", "dt", dt, "realtime", realtime, "terminate", e.cfg.TerminateTime)
	for {
		select {
		case <-ctx.Done():
			e.finish(Terminated, "canceled", nil)
			return ctx.Err()
		case reason := <-e.stop:
			e.finish(Terminated, reason, nil)
			return nil
		default:
		}

		e.applyPending()
		if e.expired() {
			e.finish(Terminated, "terminate time reached", nil)
			return nil
		}

		clock, err := e.frame()
		if err != nil {
			e.finish(Failed, "numerical instability", err)
			return err
		}
		for _, obs := range e.observers {
			obs.OnFrame(clock)
		}
		if e.expired() {
			e.finish(Terminated, "terminate time reached", nil)
			return nil
		}

		if tick != nil {
			select {
			case <-ctx.Done():
				e.finish(Terminated, "canceled", nil)
				return ctx.Err()
			case reason := <-e.stop:
				e.finish(Terminated, reason, nil)
				return nil
			case <-tick:
			}
		}
	}
}

// frame runs the solver on a private snapshot, then integrates under the lock.
func (e *Engine) frame() (dynamo.Clock, error) {
	e.mu.RLock()
	e.snap = e.store.Snapshot(e.snap)
	e.mu.RUnlock()

	e.solver.Compute(e.snap, e.forces)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.integ.Step(e.store, e.forces, &e.clock, e.clock.Dt); err != nil {
		return e.clock, err
	}
	ps := e.store.Particles()
	for _, m := range e.metrics {
		m.Observe(ps, e.clock)
	}
	return e.clock, nil
}

func (e *Engine) expired() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.clock.Expired()
}

func (e *Engine) finish(state State, reason string, err error) {
	e.mu.Lock()
	e.state, e.reason, e.err = state, reason, err
	clock := e.clock
	e.mu.Unlock()

	if err != nil {
		e.logger.Error("run stopped", "reason", reason, "frame", clock.Frame, "time", clock.Time, "err", err)
		return
	}
	e.logger.Info("run stopped", "reason", reason, "frame", clock.Frame, "time", clock.Time)
}

// Terminate asks the loop to stop before its next frame.
func (e *Engine) Terminate(reason string) {
	select {
	case e.stop <- reason:
	default:
	}
}

// Read runs fn under the read lock. fn must only copy values out.
func (e *Engine) Read(fn func()) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn()
}

// Write applies a binding write immediately before the run starts and
// queues it for the start of the next frame while running. Values a queued
// write could not apply are refused here.
func (e *Engine) Write(b *vars.Binding, v float64) error {
	if !b.Writable() {
		return fmt.Errorf("%w: %s", dynamo.ErrReadOnly, b.Name)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s must be finite, got %g", dynamo.ErrConfiguration, b.Name, v)
	}

	e.mu.Lock()
	state := e.state
	if state == Idle {
		err := b.Set(v)
		e.mu.Unlock()
		return err
	}
	_, err := b.Value()
	if err == nil && b.Check != nil {
		err = b.Check(v)
	}
	e.mu.Unlock()
	if err != nil {
		return err
	}

	if b.PreRun {
		return fmt.Errorf("%w: %s cannot change after the run has started", dynamo.ErrConfiguration, b.Name)
	}
	if state != Running {
		return fmt.Errorf("%w: run is %s", dynamo.ErrConfiguration, state)
	}

	e.pendingMu.Lock()
	e.pending = append(e.pending, pendingWrite{binding: b, value: v})
	e.pendingMu.Unlock()
	return nil
}

// applyPending is the safe point where queued client writes land.
func (e *Engine) applyPending() {
	e.pendingMu.Lock()
	writes := e.pending
	e.pending = nil
	e.pendingMu.Unlock()
	if len(writes) == 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, w := range writes {
		if err := w.binding.Set(w.value); err != nil {
			e.logger.Warn("write rejected", "var", w.binding.Name, "value", w.value, "err", err)
			continue
		}
		e.logger.Debug("write applied", "var", w.binding.Name, "value", w.value, "frame", e.clock.Frame)
	}
	e.integ.SetBoundary(e.cfg.Boundary)
}

func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Status{State: e.state, Reason: e.reason, Err: e.err, Clock: e.clock}
}

func (e *Engine) Clock() dynamo.Clock {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.clock
}

// Snapshot returns a copy of the particles.
func (e *Engine) Snapshot() []fluid.Particle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Snapshot(nil)
}

// Metrics returns the current metric values by name.
func (e *Engine) Metrics() map[string]float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]float64, len(e.metrics))
	for _, m := range e.metrics {
		out[m.Name()] = m.Value()
	}
	return out
}
