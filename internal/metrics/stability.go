package metrics

import (
	"github.com/san-kum/fluidsim/internal/dynamo"
	"github.com/san-kum/fluidsim/internal/fluid"
	"github.com/san-kum/fluidsim/internal/integrators"
)

// Stability is the fraction of frames whose CFL number stayed under the
// limit. The frame's dt comes from the clock, H from the live parameters.
type Stability struct {
	name       string
	params     ParamFunc
	limit      float64
	violations int
	samples    int
}

func NewStability(params ParamFunc, limit float64) *Stability {
	return &Stability{
		name:   "stability",
		params: params,
		limit:  limit,
	}
}

func (s *Stability) Name() string {
	return s.name
}

func (s *Stability) Observe(ps []fluid.Particle, clock dynamo.Clock) {
	s.samples++
	if integrators.CFL(ps, clock.Dt, s.params().H) > s.limit {
		s.violations++
	}
}

func (s *Stability) Value() float64 {
	if s.samples == 0 {
		return 1.0
	}
	return 1.0 - float64(s.violations)/float64(s.samples)
}

func (s *Stability) Reset() {
	s.violations = 0
	s.samples = 0
}
