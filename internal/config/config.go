package config

import (
	"fmt"
	"os"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/fluidsim/internal/dynamo"
	"github.com/san-kum/fluidsim/internal/integrators"
	"github.com/san-kum/fluidsim/internal/physics"
	"github.com/san-kum/fluidsim/internal/scenario"
	"github.com/san-kum/fluidsim/internal/sim"
	"github.com/san-kum/fluidsim/internal/varserver"
)

const (
	DefaultDt        = 0.01
	DefaultParticles = 1000
	DefaultPort      = 0
	DefaultCycle     = 0.1
)

type Config struct {
	Solver        string         `yaml:"solver"`
	Integrator    string         `yaml:"integrator"`
	Dt            float64        `yaml:"software_frame"`
	TerminateTime float64        `yaml:"terminate_time"`
	RealTime      bool           `yaml:"realtime"`
	LogLevel      string         `yaml:"log_level"`
	Fluid         FluidConfig    `yaml:"fluid"`
	Scenario      ScenarioConfig `yaml:"scenario"`
	Server        ServerConfig   `yaml:"server"`
	Record        RecordConfig   `yaml:"record"`
}

type FluidConfig struct {
	NumParticles int        `yaml:"num_particles"`
	ParticleDist float64    `yaml:"particle_dist"`
	IsoRadius    float64    `yaml:"iso_radius"`
	H            float64    `yaml:"h"`
	RestDens     float64    `yaml:"rest_dens"`
	GasConst     float64    `yaml:"gas_const"`
	Mass         float64    `yaml:"mass"`
	Visc         float64    `yaml:"visc"`
	Gravity      [3]float64 `yaml:"gravity"`
	Bound        float64    `yaml:"bound"`
	Eps          float64    `yaml:"eps"`
	BoundDamping float64    `yaml:"bound_damping"`
}

type ScenarioConfig struct {
	Mode   string             `yaml:"mode"`
	Count  int                `yaml:"count"`
	Params map[string]float64 `yaml:"params,omitempty"`
}

type ServerConfig struct {
	Port   int     `yaml:"port"`
	Mode   string  `yaml:"mode"`
	WSPort int     `yaml:"ws_port"`
	Cycle  float64 `yaml:"cycle"`
}

// RecordConfig selects variables written to a CSV log every Every frames.
// An empty Dir disables recording.
type RecordConfig struct {
	Dir   string   `yaml:"dir"`
	Vars  []string `yaml:"vars"`
	Every int      `yaml:"every"`
}

func DefaultConfig() *Config {
	p := physics.DefaultParams()
	b := integrators.DefaultBoundary()
	return &Config{
		Solver:     "sph",
		Integrator: "symplectic",
		Dt:         DefaultDt,
		LogLevel:   "info",
		Fluid: FluidConfig{
			NumParticles: DefaultParticles,
			ParticleDist: 8,
			IsoRadius:    32,
			H:            p.H,
			RestDens:     p.RestDens,
			GasConst:     p.GasConst,
			Mass:         p.Mass,
			Visc:         p.Visc,
			Gravity:      [3]float64{p.Gravity.X, p.Gravity.Y, p.Gravity.Z},
			Bound:        p.Bound,
			Eps:          b.Eps,
			BoundDamping: b.Damping,
		},
		Scenario: ScenarioConfig{Mode: "none"},
		Server: ServerConfig{
			Port:   DefaultPort,
			Mode:   "ascii",
			WSPort: -1,
			Cycle:  DefaultCycle,
		},
		Record: RecordConfig{
			Vars: []string{
				"exec.sim_time",
				"dyn.fluid.metrics.kinetic_energy",
				"dyn.fluid.metrics.max_speed",
				"dyn.fluid.metrics.mean_density",
			},
			Every: 1,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", dynamo.ErrConfiguration, path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks everything that can be checked before the engine and
// server exist.
func (c *Config) Validate() error {
	if _, err := c.SimConfig(); err != nil {
		return err
	}
	if _, err := c.ServerConfig(); err != nil {
		return err
	}
	if c.Record.Every < 0 {
		return fmt.Errorf("%w: record.every must be non-negative", dynamo.ErrConfiguration)
	}
	return nil
}

func (c *Config) SimConfig() (sim.Config, error) {
	mode, err := scenario.ParseMode(c.Scenario.Mode)
	if err != nil {
		return sim.Config{}, err
	}
	f := c.Fluid
	cfg := sim.Config{
		Dt:            c.Dt,
		TerminateTime: c.TerminateTime,
		RealTime:      c.RealTime,
		NumParticles:  f.NumParticles,
		ParticleDist:  f.ParticleDist,
		IsoRadius:     f.IsoRadius,
		Scenario: scenario.Descriptor{
			Mode:   mode,
			Count:  c.Scenario.Count,
			Params: c.Scenario.Params,
		},
		Params: physics.Params{
			H:        f.H,
			RestDens: f.RestDens,
			GasConst: f.GasConst,
			Mass:     f.Mass,
			Visc:     f.Visc,
			Gravity:  r3.Vec{X: f.Gravity[0], Y: f.Gravity[1], Z: f.Gravity[2]},
			Bound:    f.Bound,
		},
		Boundary: integrators.Boundary{Bound: f.Bound, Eps: f.Eps, Damping: f.BoundDamping},
	}
	if err := cfg.Validate(); err != nil {
		return sim.Config{}, err
	}
	return cfg, nil
}

func (c *Config) ServerConfig() (varserver.Config, error) {
	mode, err := varserver.ParseMode(c.Server.Mode)
	if err != nil {
		return varserver.Config{}, err
	}
	cfg := varserver.DefaultConfig()
	cfg.Port = c.Server.Port
	cfg.WSPort = c.Server.WSPort
	cfg.Mode = mode
	if c.Server.Cycle > 0 {
		cfg.Cycle = time.Duration(c.Server.Cycle * float64(time.Second))
	}
	if err := cfg.Validate(); err != nil {
		return varserver.Config{}, err
	}
	return cfg, nil
}
