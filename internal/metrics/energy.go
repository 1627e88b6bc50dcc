package metrics

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/fluidsim/internal/dynamo"
	"github.com/san-kum/fluidsim/internal/fluid"
)

// KineticEnergy reports the total kinetic energy of the latest frame.
type KineticEnergy struct {
	name   string
	params ParamFunc
	energy float64
}

func NewKineticEnergy(params ParamFunc) *KineticEnergy {
	return &KineticEnergy{name: "kinetic_energy", params: params}
}

func (e *KineticEnergy) Name() string { return e.name }

func (e *KineticEnergy) Observe(ps []fluid.Particle, _ dynamo.Clock) {
	mass := e.params().Mass
	total := 0.0
	for i := range ps {
		total += 0.5 * mass * r3.Norm2(ps[i].Vel)
	}
	e.energy = total
}

func (e *KineticEnergy) Value() float64 { return e.energy }
func (e *KineticEnergy) Reset()         { e.energy = 0 }

// MaxSpeed tracks the largest particle speed seen since Reset.
type MaxSpeed struct {
	name string
	max  float64
}

func NewMaxSpeed() *MaxSpeed { return &MaxSpeed{name: "max_speed"} }

func (m *MaxSpeed) Name() string { return m.name }

func (m *MaxSpeed) Observe(ps []fluid.Particle, _ dynamo.Clock) {
	for i := range ps {
		if v := r3.Norm(ps[i].Vel); v > m.max {
			m.max = v
		}
	}
}

func (m *MaxSpeed) Value() float64 { return m.max }
func (m *MaxSpeed) Reset()         { m.max = 0 }

// MeanDensity reports the average SPH density of the latest frame.
type MeanDensity struct {
	name string
	mean float64
}

func NewMeanDensity() *MeanDensity { return &MeanDensity{name: "mean_density"} }

func (m *MeanDensity) Name() string { return m.name }

func (m *MeanDensity) Observe(ps []fluid.Particle, _ dynamo.Clock) {
	if len(ps) == 0 {
		m.mean = 0
		return
	}
	sum := 0.0
	for i := range ps {
		sum += ps[i].Rho
	}
	m.mean = sum / float64(len(ps))
}

func (m *MeanDensity) Value() float64 { return m.mean }
func (m *MeanDensity) Reset()         { m.mean = 0 }
