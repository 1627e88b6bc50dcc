package fluid

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Particle is one fluid particle. Force, Rho and Pressure are derived by the
// interaction solver each frame.
type Particle struct {
	Pos      r3.Vec
	Vel      r3.Vec
	Force    r3.Vec
	Rho      float64
	Pressure float64
}

func NewParticle(x, y, z float64) Particle {
	return Particle{Pos: r3.Vec{X: x, Y: y, Z: z}}
}

// IsValid reports whether position and velocity are finite.
func (p Particle) IsValid() bool {
	return finite(p.Pos) && finite(p.Vel)
}

func finite(v r3.Vec) bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Component returns the k-th component of v (0=x, 1=y, 2=z).
func Component(v r3.Vec, k int) float64 {
	switch k {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

// SetComponent returns v with its k-th component replaced.
func SetComponent(v r3.Vec, k int, val float64) r3.Vec {
	switch k {
	case 0:
		v.X = val
	case 1:
		v.Y = val
	default:
		v.Z = val
	}
	return v
}
