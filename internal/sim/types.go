package sim

import (
	"fmt"

	"github.com/san-kum/fluidsim/internal/dynamo"
	"github.com/san-kum/fluidsim/internal/integrators"
	"github.com/san-kum/fluidsim/internal/physics"
	"github.com/san-kum/fluidsim/internal/scenario"
)

// State is the engine lifecycle, exposed as exec.mode.
type State int

const (
	Idle State = iota
	Running
	Terminated
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Terminated:
		return "terminated"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Status describes how the run ended.
type Status struct {
	State  State
	Reason string
	Err    error
	Clock  dynamo.Clock
}

// Observer is called on the simulation goroutine after every frame, outside
// the engine lock.
type Observer interface {
	OnFrame(clock dynamo.Clock)
}

type Config struct {
	Dt            float64
	TerminateTime float64
	RealTime      bool

	NumParticles int
	ParticleDist float64
	IsoRadius    float64

	Scenario scenario.Descriptor
	Params   physics.Params
	Boundary integrators.Boundary
}

func DefaultConfig() Config {
	return Config{
		Dt:            0.01,
		TerminateTime: 0,
		NumParticles:  1000,
		ParticleDist:  8,
		IsoRadius:     32,
		Scenario:      scenario.Descriptor{Mode: scenario.ModeNone},
		Params:        physics.DefaultParams(),
		Boundary:      integrators.DefaultBoundary(),
	}
}

func (c Config) Validate() error {
	if _, err := dynamo.NewClock(c.Dt, c.TerminateTime); err != nil {
		return err
	}
	if err := c.Params.Validate(); err != nil {
		return err
	}
	if c.NumParticles < 0 {
		return fmt.Errorf("%w: NUM_PARTICLES must be non-negative, got %d", dynamo.ErrConfiguration, c.NumParticles)
	}
	return nil
}
