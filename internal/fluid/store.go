package fluid

import (
	"fmt"

	"github.com/san-kum/fluidsim/internal/dynamo"
)

// MaxParticles bounds NUM_PARTICLES.
const MaxParticles = 1 << 16

type Store struct {
	particles []Particle
	frozen    bool
}

func NewStore(n int) (*Store, error) {
	s := &Store{}
	if err := s.Resize(n); err != nil {
		return nil, err
	}
	return s, nil
}

// NewLattice builds the default initial block: the first n sites of an
// edge x edge x depth lattice spaced dist apart, filled column by column.
func NewLattice(n, edge, depth int, dist float64) (*Store, error) {
	if n > edge*edge*depth {
		return nil, fmt.Errorf("%w: %d particles do not fit a %dx%dx%d lattice", dynamo.ErrConfiguration, n, edge, edge, depth)
	}
	s, err := NewStore(n)
	if err != nil {
		return nil, err
	}
	idx := 0
	for i := 0; i < edge && idx < n; i++ {
		for j := 0; j < edge && idx < n; j++ {
			for k := 0; k < depth && idx < n; k++ {
				s.particles[idx] = NewParticle(dist*float64(i), dist*float64(j), dist*float64(k))
				idx++
			}
		}
	}
	return s, nil
}

func (s *Store) Size() int { return len(s.particles) }

func (s *Store) Get(i int) (Particle, error) {
	if i < 0 || i >= len(s.particles) {
		return Particle{}, fmt.Errorf("%w: get %d (size %d)", dynamo.ErrIndexOutOfRange, i, len(s.particles))
	}
	return s.particles[i], nil
}

func (s *Store) Set(i int, p Particle) error {
	if i < 0 || i >= len(s.particles) {
		return fmt.Errorf("%w: set %d (size %d)", dynamo.ErrIndexOutOfRange, i, len(s.particles))
	}
	s.particles[i] = p
	return nil
}

// Resize changes the particle count. Existing slots keep their state and new
// slots start at the origin. Fails once the store is frozen.
func (s *Store) Resize(n int) error {
	if s.frozen {
		return fmt.Errorf("%w: NUM_PARTICLES cannot change after the run has started", dynamo.ErrConfiguration)
	}
	if n < 0 || n > MaxParticles {
		return fmt.Errorf("%w: NUM_PARTICLES %d outside [0, %d]", dynamo.ErrConfiguration, n, MaxParticles)
	}
	if n <= cap(s.particles) {
		old := len(s.particles)
		s.particles = s.particles[:n]
		for i := old; i < n; i++ {
			s.particles[i] = Particle{}
		}
		return nil
	}
	grown := make([]Particle, n)
	copy(grown, s.particles)
	s.particles = grown
	return nil
}

// Freeze fixes the size for the rest of the run.
func (s *Store) Freeze()      { s.frozen = true }
func (s *Store) Frozen() bool { return s.frozen }

// Particles exposes the backing slice for the integrator. Callers must hold
// the engine lock and must not retain it.
func (s *Store) Particles() []Particle { return s.particles }

// Snapshot copies the store into dst, reusing its capacity.
func (s *Store) Snapshot(dst []Particle) []Particle {
	if cap(dst) < len(s.particles) {
		dst = make([]Particle, len(s.particles))
	}
	dst = dst[:len(s.particles)]
	copy(dst, s.particles)
	return dst
}

// Positions flattens positions as x0,y0,z0,x1,...
func (s *Store) Positions() []float64 {
	out := make([]float64, 0, 3*len(s.particles))
	for _, p := range s.particles {
		out = append(out, p.Pos.X, p.Pos.Y, p.Pos.Z)
	}
	return out
}

// Validate returns the index of the first non-finite particle, or -1.
func (s *Store) Validate() int {
	for i := range s.particles {
		if !s.particles[i].IsValid() {
			return i
		}
	}
	return -1
}
