// Package metrics reduces particle snapshots to scalar diagnostics. Each
// metric is exposed as a read-only dyn.fluid.metrics.<name> variable and
// written to the run metadata.
package metrics

import (
	"github.com/san-kum/fluidsim/internal/dynamo"
	"github.com/san-kum/fluidsim/internal/fluid"
	"github.com/san-kum/fluidsim/internal/physics"
)

type Metric interface {
	Name() string
	Observe(ps []fluid.Particle, clock dynamo.Clock)
	Value() float64
	Reset()
}

// ParamFunc returns the fluid parameters in force for the frame being
// observed. It is called under the engine lock.
type ParamFunc func() physics.Params

// Fixed returns a ParamFunc for parameters that never change.
func Fixed(p physics.Params) ParamFunc {
	return func() physics.Params { return p }
}

// Defaults returns the metrics every run records.
func Defaults(params ParamFunc) []Metric {
	return []Metric{
		NewKineticEnergy(params),
		NewMaxSpeed(),
		NewMeanDensity(),
		NewStability(params, 0.4),
	}
}
