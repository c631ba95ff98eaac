package config

import (
	"fmt"
	"sort"
)

// Profile is a named set of dwell-time and scaling parameters.
type Profile struct {
	Description string
	TimeStage1  float64
	TimeStage2  float64
	ScaleFactor float64
	// UniformMFPT, when set, switches the profile to a uniform
	// translation time.
	UniformMFPT float64
}

var Presets = map[string]Profile{
	"ecoli": {
		Description: "E. coli dwell times, codon-specific translation",
		TimeStage1:  DefaultTimeStage1,
		TimeStage2:  DefaultTimeStage2,
		ScaleFactor: DefaultScaleFactor,
	},
	"ecoli-uniform": {
		Description: "E. coli dwell times, 50 ms per codon",
		TimeStage1:  DefaultTimeStage1,
		TimeStage2:  DefaultTimeStage2,
		ScaleFactor: DefaultScaleFactor,
		UniformMFPT: 0.05,
	},
	"smoke": {
		Description: "short stages for pipeline checks",
		TimeStage1:  DefaultTimeStage1,
		TimeStage2:  DefaultTimeStage2,
		ScaleFactor: 1e9,
		UniformMFPT: 0.05,
	},
}

func GetPreset(name string) (Profile, bool) {
	p, ok := Presets[name]
	return p, ok
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Config) ApplyPreset(name string) error {
	p, ok := GetPreset(name)
	if !ok {
		return fmt.Errorf("config: unknown preset %q", name)
	}
	c.Preset = name
	c.TimeStage1 = p.TimeStage1
	c.TimeStage2 = p.TimeStage2
	c.ScaleFactor = p.ScaleFactor
	if p.UniformMFPT > 0 {
		c.UniformTA = 1
		c.UniformMFPT = p.UniformMFPT
	}
	return nil
}
