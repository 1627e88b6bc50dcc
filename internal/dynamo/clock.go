package dynamo

import (
	"fmt"
	"math"
)

// Clock is the simulation clock. Only the engine's integration path advances it.
type Clock struct {
	Time          float64
	Frame         int64
	Dt            float64
	TerminateTime float64
}

func NewClock(dt, terminate float64) (Clock, error) {
	c := Clock{Dt: dt, TerminateTime: terminate}
	if err := c.Validate(); err != nil {
		return Clock{}, err
	}
	return c, nil
}

func (c Clock) Validate() error {
	if c.Dt <= 0 || math.IsNaN(c.Dt) || math.IsInf(c.Dt, 0) {
		return fmt.Errorf("%w: software frame must be positive, got %g", ErrConfiguration, c.Dt)
	}
	if c.TerminateTime < 0 || math.IsNaN(c.TerminateTime) {
		return fmt.Errorf("%w: terminate time must be non-negative, got %g", ErrConfiguration, c.TerminateTime)
	}
	return nil
}

// Advance moves the clock forward by dt and counts one frame.
func (c *Clock) Advance(dt float64) {
	c.Time += dt
	c.Frame++
}

// Expired reports whether sim-time has reached the terminate time.
// A zero terminate time means run until stopped.
func (c Clock) Expired() bool {
	if c.TerminateTime <= 0 {
		return false
	}
	// Tolerate accumulated rounding so 500 frames of 0.01 end at t=5.
	return c.Time >= c.TerminateTime-c.Dt*1e-6
}
