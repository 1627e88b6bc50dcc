package config

import (
	"sort"

	"github.com/san-kum/fluidsim/internal/scenario"
)

func preset(fn func(c *Config)) *Config {
	c := DefaultConfig()
	fn(c)
	return c
}

// Presets are keyed by scenario, then preset name.
var Presets = map[string]map[string]*Config{
	"none": {
		"lattice": preset(func(c *Config) {
			c.TerminateTime = 10
		}),
		"realtime": preset(func(c *Config) {
			c.RealTime = true
			c.TerminateTime = 30
		}),
	},
	"paraboloid": {
		"bowl": preset(func(c *Config) {
			c.Scenario.Mode = scenario.ModeName(scenario.ModeParaboloid)
			c.Fluid.NumParticles = 900
			c.TerminateTime = 10
		}),
	},
	"cosine": {
		"wave": preset(func(c *Config) {
			c.Scenario.Mode = scenario.ModeName(scenario.ModeCosine)
			c.TerminateTime = 10
		}),
		"swell": preset(func(c *Config) {
			c.Scenario.Mode = scenario.ModeName(scenario.ModeCosine)
			c.Scenario.Params = map[string]float64{"amplitude": 40}
			c.TerminateTime = 10
		}),
	},
	"rings": {
		"concentric": preset(func(c *Config) {
			c.Scenario.Mode = scenario.ModeName(scenario.ModeRings)
			c.Scenario.Count = 800
			c.TerminateTime = 10
		}),
		// Variable server regression run: fixed port, real time, 5 s.
		"varserv": preset(func(c *Config) {
			c.Scenario.Mode = scenario.ModeName(scenario.ModeRings)
			c.Scenario.Count = 800
			c.RealTime = true
			c.TerminateTime = 5
			c.Server.Port = 40000
		}),
	},
	"lattice": {
		"jitter": preset(func(c *Config) {
			c.Scenario.Mode = scenario.ModeName(scenario.ModeLattice)
			c.Scenario.Params = map[string]float64{"jitter": 2, "seed": 7}
			c.TerminateTime = 10
		}),
	},
}

// GetPreset returns a copy so callers may override fields.
func GetPreset(scenarioName, name string) *Config {
	byName, ok := Presets[scenarioName]
	if !ok {
		return nil
	}
	cfg, ok := byName[name]
	if !ok {
		return nil
	}
	cp := *cfg
	cp.Record.Vars = append([]string(nil), cfg.Record.Vars...)
	if cfg.Scenario.Params != nil {
		cp.Scenario.Params = make(map[string]float64, len(cfg.Scenario.Params))
		for k, v := range cfg.Scenario.Params {
			cp.Scenario.Params[k] = v
		}
	}
	return &cp
}

func ListPresets(scenarioName string) []string {
	byName, ok := Presets[scenarioName]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func ListScenarios() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
