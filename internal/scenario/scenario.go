// Package scenario applies named initial-condition layouts to a particle
// store before the run starts.
//
// Every layout is an ordered list of [Rule]s. Rules are applied to each index
// in list order and later rules overwrite the fields written by earlier ones.
package scenario

import (
	"fmt"
	"math"

	"github.com/aquilax/go-perlin"

	"github.com/san-kum/fluidsim/internal/dynamo"
	"github.com/san-kum/fluidsim/internal/fluid"
)

const (
	ModeNone       = -1
	ModeParaboloid = 0
	ModeCosine     = 1
	ModeRings      = 2
	ModeLattice    = 3
)

var modeNames = map[int]string{
	ModeNone:       "none",
	ModeParaboloid: "paraboloid",
	ModeCosine:     "cosine",
	ModeRings:      "rings",
	ModeLattice:    "lattice",
}

func ModeName(mode int) string {
	if name, ok := modeNames[mode]; ok {
		return name
	}
	return modeNames[ModeNone]
}

// ParseMode accepts either a mode number or its name.
func ParseMode(s string) (int, error) {
	for mode, name := range modeNames {
		if name == s || fmt.Sprint(mode) == s {
			return mode, nil
		}
	}
	return ModeNone, fmt.Errorf("%w: unknown mode %q", dynamo.ErrInvalidScenario, s)
}

// Descriptor selects a layout. It is consumed once by Apply.
type Descriptor struct {
	Mode   int
	Count  int // overrides NUM_PARTICLES when > 0
	Params map[string]float64
}

func (d Descriptor) param(name string, def float64) float64 {
	if v, ok := d.Params[name]; ok {
		return v
	}
	return def
}

// Rule writes position fields for the indices its predicate accepts.
type Rule struct {
	Name      string
	Applies   func(i int) bool
	Transform func(i int, p *fluid.Particle)
}

func always(int) bool { return true }

// Apply resizes the store if the descriptor overrides the count, then runs the
// layout's rules over every particle. Velocities are left untouched.
func Apply(d Descriptor, store *fluid.Store) error {
	if d.Count > 0 && d.Count != store.Size() {
		if err := store.Resize(d.Count); err != nil {
			return err
		}
	}

	rules, err := Rules(d, store.Size())
	if err != nil {
		return err
	}
	ps := store.Particles()
	for i := range ps {
		for _, r := range rules {
			if r.Applies(i) {
				r.Transform(i, &ps[i])
			}
		}
	}
	return nil
}

// Rules returns the ordered rule list for a layout over n particles.
func Rules(d Descriptor, n int) ([]Rule, error) {
	switch d.Mode {
	case ModeParaboloid:
		return paraboloid(d, n), nil
	case ModeCosine:
		return cosine(d), nil
	case ModeRings:
		return rings(d, n)
	case ModeLattice:
		return lattice(d, n), nil
	default:
		return nil, nil
	}
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func paraboloid(d Descriptor, n int) []Rule {
	scale := d.param("scale", 4)
	root := math.Sqrt(float64(n))
	return []Rule{{
		Name:    "paraboloid",
		Applies: always,
		Transform: func(i int, p *fluid.Particle) {
			tx := float64(i)/root - root/2
			tz := math.Mod(float64(i), root) - root/2
			p.Pos.X = tx * scale
			p.Pos.Z = tz * scale
			p.Pos.Y = tx*tx + tz*tz
		},
	}}
}

func cosine(d Descriptor) []Rule {
	amp := d.param("amplitude", 15)
	return []Rule{{
		Name:    "cosine",
		Applies: always,
		Transform: func(i int, p *fluid.Particle) {
			t := float64(i) / 2
			p.Pos.Y = amp * math.Cos(radians(t))
		},
	}}
}

func ring(radius, divisor float64) func(i int, p *fluid.Particle) {
	step := 360 / divisor
	return func(i int, p *fluid.Particle) {
		theta := radians(step * float64(i))
		p.Pos.X = radius * math.Cos(theta)
		p.Pos.Y = radius * math.Sin(theta)
		p.Pos.Z = 0
	}
}

// rings lays out three concentric circles. The band thresholds are compared
// as reals exactly as the input scripts write them.
func rings(d Descriptor, n int) ([]Rule, error) {
	if n < 2 {
		return nil, fmt.Errorf("%w: rings layout needs at least 2 particles, got %d", dynamo.ErrInvalidScenario, n)
	}
	fn := float64(n)
	half, mid, inner := fn/2, 3*fn/8, fn/8
	if half == 0 || mid == 0 || inner == 0 {
		return nil, fmt.Errorf("%w: zero ring divisor for n=%d", dynamo.ErrInvalidScenario, n)
	}

	return []Rule{
		{
			Name:      "outer",
			Applies:   always,
			Transform: ring(d.param("outer_radius", 100), half),
		},
		{
			Name: "middle",
			Applies: func(i int) bool {
				fi := float64(i)
				return fi > fn/2 && fi <= 0.75*fn
			},
			Transform: ring(d.param("middle_radius", 70), mid),
		},
		{
			Name: "inner",
			Applies: func(i int) bool {
				return float64(i) > 0.875*fn
			},
			Transform: ring(d.param("inner_radius", 40), inner),
		},
	}, nil
}

// lattice places particles on a cube grid and perturbs them with Perlin noise.
// The noise is seeded, so the layout is reproducible.
func lattice(d Descriptor, n int) []Rule {
	spacing := d.param("spacing", 16)
	jitter := d.param("jitter", 0)
	edge := int(math.Ceil(math.Cbrt(float64(n))))
	if edge < 1 {
		edge = 1
	}
	noise := perlin.NewPerlin(2, 2, 3, int64(d.param("seed", 1)))

	return []Rule{
		{
			Name:    "grid",
			Applies: always,
			Transform: func(i int, p *fluid.Particle) {
				p.Pos.X = spacing * float64(i%edge)
				p.Pos.Y = spacing * float64((i/edge)%edge)
				p.Pos.Z = spacing * float64(i/(edge*edge))
			},
		},
		{
			Name:    "jitter",
			Applies: func(int) bool { return jitter != 0 },
			Transform: func(i int, p *fluid.Particle) {
				x, y, z := p.Pos.X/spacing, p.Pos.Y/spacing, p.Pos.Z/spacing
				p.Pos.X += jitter * noise.Noise3D(x+0.5, y, z)
				p.Pos.Y += jitter * noise.Noise3D(x, y+0.5, z)
				p.Pos.Z += jitter * noise.Noise3D(x, y, z+0.5)
			},
		},
	}
}
