package sim

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/fluidsim/internal/dynamo"
	"github.com/san-kum/fluidsim/internal/fluid"
	"github.com/san-kum/fluidsim/internal/integrators"
	"github.com/san-kum/fluidsim/internal/physics"
	"github.com/san-kum/fluidsim/internal/scenario"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := New(cfg, physics.NewSPH(cfg.Params), integrators.NewSymplecticEuler(cfg.Boundary), quietLogger())
	require.NoError(t, err)
	return e
}

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.NumParticles = 64
	cfg.TerminateTime = 0.1
	return cfg
}

type frameCounter struct{ frames []int64 }

func (f *frameCounter) OnFrame(c dynamo.Clock) { f.frames = append(f.frames, c.Frame) }

func TestEngineRunsToTerminateTime(t *testing.T) {
	e := newTestEngine(t, smallConfig())
	fc := &frameCounter{}
	e.AddObserver(fc)

	require.NoError(t, e.Run(context.Background()))

	st := e.Status()
	assert.Equal(t, Terminated, st.State)
	assert.Equal(t, "terminate time reached", st.Reason)
	assert.EqualValues(t, 10, st.Clock.Frame)
	assert.InDelta(t, 0.1, st.Clock.Time, 1e-9)
	assert.Len(t, fc.frames, 10)
	assert.EqualValues(t, 1, fc.frames[0])

	select {
	case <-e.Done():
	default:
		t.Fatal("done channel not closed after Run returned")
	}
}

func TestEngineDeterministic(t *testing.T) {
	cfg := smallConfig()
	cfg.Scenario = scenario.Descriptor{Mode: scenario.ModeParaboloid}

	a := newTestEngine(t, cfg)
	b := newTestEngine(t, cfg)
	require.NoError(t, a.Run(context.Background()))
	require.NoError(t, b.Run(context.Background()))

	pa, pb := a.Snapshot(), b.Snapshot()
	require.Len(t, pb, len(pa))
	for i := range pa {
		if pa[i] != pb[i] {
			t.Fatalf("particle %d differs: %+v vs %+v", i, pa[i], pb[i])
		}
	}
}

func TestEngineNumParticlesBinding(t *testing.T) {
	e := newTestEngine(t, smallConfig())

	b, err := e.Lookup("dyn.fluid.NUM_PARTICLES")
	require.NoError(t, err)

	var v float64
	e.Read(func() { v = b.Get() })
	assert.Equal(t, 64.0, v)
	assert.Equal(t, "64", b.Format(v))

	require.NoError(t, e.Write(b, 27))
	e.Read(func() { v = b.Get() })
	assert.Equal(t, 27.0, v)
	assert.Len(t, e.Snapshot(), 27)
}

func TestEnginePreRunWriteRejectedWhileRunning(t *testing.T) {
	cfg := smallConfig()
	cfg.TerminateTime = 0
	cfg.RealTime = true
	e := newTestEngine(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return e.Status().State == Running }, time.Second, time.Millisecond)

	b, err := e.Lookup("dyn.fluid.NUM_PARTICLES")
	require.NoError(t, err)
	err = e.Write(b, 10)
	assert.ErrorIs(t, err, dynamo.ErrConfiguration)
	assert.Len(t, e.Snapshot(), 64)

	ro, err := e.Lookup("exec.sim_time")
	require.NoError(t, err)
	assert.ErrorIs(t, e.Write(ro, 1), dynamo.ErrReadOnly)

	oob, err := e.Lookup("dyn.fluid.particlesArr[64].pos[0]")
	require.NoError(t, err)
	assert.ErrorIs(t, e.Write(oob, 1), dynamo.ErrIndexOutOfRange)

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.Equal(t, "canceled", e.Status().Reason)
}

func TestEngineStagedTerminateTime(t *testing.T) {
	cfg := smallConfig()
	cfg.TerminateTime = 0
	cfg.RealTime = true
	e := newTestEngine(t, cfg)

	errc := make(chan error, 1)
	go func() { errc <- e.Run(context.Background()) }()
	require.Eventually(t, func() bool { return e.Clock().Frame >= 2 }, 2*time.Second, time.Millisecond)

	b, err := e.Lookup("exec.terminate_time")
	require.NoError(t, err)
	require.NoError(t, e.Write(b, 0.01))

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop after terminate_time write")
	}
	st := e.Status()
	assert.Equal(t, Terminated, st.State)
	assert.Equal(t, 0.01, st.Clock.TerminateTime)
}

func TestEngineTerminate(t *testing.T) {
	cfg := smallConfig()
	cfg.TerminateTime = 0
	cfg.RealTime = true
	e := newTestEngine(t, cfg)

	errc := make(chan error, 1)
	go func() { errc <- e.Run(context.Background()) }()
	require.Eventually(t, func() bool { return e.Status().State == Running }, time.Second, time.Millisecond)

	e.Terminate("client request")
	require.NoError(t, <-errc)
	assert.Equal(t, "client request", e.Status().Reason)

	assert.ErrorIs(t, e.Run(context.Background()), dynamo.ErrConfiguration)
}

func TestEngineWriteBeforeRun(t *testing.T) {
	e := newTestEngine(t, smallConfig())

	b, err := e.Lookup("dyn.fluid.particlesArr[3].velocity[1]")
	require.NoError(t, err)
	require.NoError(t, e.Write(b, 2.5))
	assert.Equal(t, 2.5, e.Snapshot()[3].Vel.Y)

	visc, err := e.Lookup("dyn.fluid.VISC")
	require.NoError(t, err)
	require.NoError(t, e.Write(visc, 0.25))
	var v float64
	e.Read(func() { v = visc.Get() })
	assert.Equal(t, 0.25, v)

	h, err := e.Lookup("dyn.fluid.H")
	require.NoError(t, err)
	assert.ErrorIs(t, e.Write(h, -1), dynamo.ErrConfiguration)
}

func TestEngineRunningWriteRejectsUnusableValues(t *testing.T) {
	cfg := smallConfig()
	cfg.TerminateTime = 0
	cfg.RealTime = true
	e := newTestEngine(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- e.Run(ctx) }()
	require.Eventually(t, func() bool { return e.Status().State == Running }, time.Second, time.Millisecond)

	h, err := e.Lookup("dyn.fluid.H")
	require.NoError(t, err)
	assert.ErrorIs(t, e.Write(h, 0.01), dynamo.ErrConfiguration)
	assert.ErrorIs(t, e.Write(h, math.Inf(1)), dynamo.ErrConfiguration)

	bound, err := e.Lookup("dyn.fluid.BOUND")
	require.NoError(t, err)
	assert.ErrorIs(t, e.Write(bound, 1e9), dynamo.ErrConfiguration)

	pos, err := e.Lookup("dyn.fluid.particlesArr[0].pos[0]")
	require.NoError(t, err)
	assert.ErrorIs(t, e.Write(pos, math.NaN()), dynamo.ErrConfiguration)

	frame := e.Clock().Frame
	require.Eventually(t, func() bool { return e.Clock().Frame >= frame+2 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, Running, e.Status().State)

	var v float64
	e.Read(func() { v = h.Get() })
	assert.Equal(t, cfg.Params.H, v)

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}

func TestEngineMaxParticles(t *testing.T) {
	for _, n := range []int{65000, fluid.MaxParticles} {
		cfg := smallConfig()
		cfg.NumParticles = n
		e, err := New(cfg, physics.NewSPH(cfg.Params), integrators.NewSymplecticEuler(cfg.Boundary), quietLogger())
		require.NoError(t, err, "n=%d", n)
		assert.Len(t, e.Snapshot(), n)
	}
}

func TestEngineRingsAreFlat(t *testing.T) {
	cfg := smallConfig()
	cfg.Scenario = scenario.Descriptor{Mode: scenario.ModeRings, Count: 800}
	e := newTestEngine(t, cfg)
	require.NoError(t, e.Setup())

	ps := e.Snapshot()
	require.Len(t, ps, 800)
	for i, p := range ps {
		if p.Pos.Z != 0 {
			t.Fatalf("particle %d has z=%g", i, p.Pos.Z)
		}
	}
}

// nanSolver produces a non-finite acceleration for one particle.
type nanSolver struct{}

func (nanSolver) Name() string { return "nan" }

func (nanSolver) Compute(ps []fluid.Particle, out *physics.Forces) {
	out.Reset(len(ps))
	out.Accel[len(ps)/2].X = math.NaN()
}

func TestEngineInstabilityFails(t *testing.T) {
	cfg := smallConfig()
	e, err := New(cfg, nanSolver{}, integrators.NewSymplecticEuler(cfg.Boundary), quietLogger())
	require.NoError(t, err)
	before := e.Snapshot()

	err = e.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, dynamo.ErrNumericalInstability))

	var simErr *dynamo.SimulationError
	require.ErrorAs(t, err, &simErr)
	assert.Equal(t, 32, simErr.Particle)
	assert.EqualValues(t, 1, simErr.Frame)

	st := e.Status()
	assert.Equal(t, Failed, st.State)
	assert.EqualValues(t, 0, st.Clock.Frame)
	assert.Equal(t, before, e.Snapshot())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero dt", func(c *Config) { c.Dt = 0 }},
		{"negative terminate", func(c *Config) { c.TerminateTime = -1 }},
		{"negative particles", func(c *Config) { c.NumParticles = -1 }},
		{"zero smoothing length", func(c *Config) { c.Params.H = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), dynamo.ErrConfiguration)
		})
	}
}
