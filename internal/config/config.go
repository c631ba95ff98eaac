package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/ribosim/internal/forcefield"
)

const (
	DefaultTPN         = 20
	DefaultPPN         = 1
	DefaultNumTraj     = 100
	DefaultTemperature = 310.0
	DefaultLogFile     = "info.log"
	DefaultTimeStage1  = 0.68e-3
	DefaultTimeStage2  = 8.38e-3
	DefaultXEject      = 60.0
	DefaultScaleFactor = 4375901.0
	DefaultNStepsSave  = 5000
	DefaultTimestep    = 0.015
	DefaultFriction    = 0.05
	DefaultSleepTime   = 5.0
)

// Config is the control file of a run. It is read once and not modified
// after Validate.
type Config struct {
	Preset string `yaml:"preset,omitempty"`

	UseGPU bool `yaml:"use_gpu"`
	TPN    int  `yaml:"tpn"`
	PPN    int  `yaml:"ppn"`
	// Devices pins accelerator indices; empty reads CUDA_VISIBLE_DEVICES
	// or PBS_GPUFILE.
	Devices []int `yaml:"devices,omitempty"`

	StartTrajID int     `yaml:"start_traj_id"`
	NumTraj     int     `yaml:"num_traj"`
	TempProd    float64 `yaml:"temp_prod"`
	Restart     int     `yaml:"restart"`
	LogFile     string  `yaml:"log_file"`
	Seed        int64   `yaml:"seed"`

	ProtPSF        string `yaml:"prot_psf"`
	ProtParam      string `yaml:"prot_param"`
	RiboPSF        string `yaml:"ribo_psf"`
	RiboParam      string `yaml:"ribo_param"`
	StartingStrucs string `yaml:"starting_strucs"`

	StartLength int `yaml:"start_nascent_chain_length"`
	TotalLength int `yaml:"total_nascent_chain_length"`

	MRNASeq     string  `yaml:"mrna_seq"`
	TransTimes  string  `yaml:"trans_times"`
	UniformTA   int     `yaml:"uniform_ta"`
	UniformMFPT float64 `yaml:"uniform_mfpt"`

	RiboFreeMask string `yaml:"ribo_free_mask"`
	// TimeStage1 and TimeStage2 are the mean dwell times (s) before bond
	// formation and before translocation.
	TimeStage1 float64 `yaml:"time_stage_1"`
	TimeStage2 float64 `yaml:"time_stage_2"`

	RibosomeTraffic int     `yaml:"ribosome_traffic"`
	InitiationRate  float64 `yaml:"initiation_rate"`
	TrafficCommand  string  `yaml:"traffic_command"`

	XEject      float64 `yaml:"x_eject"`
	ScaleFactor float64 `yaml:"scale_factor"`

	SphericalRestraintMask   string     `yaml:"spherical_restraint_mask"`
	SphericalRestraintCenter [3]float64 `yaml:"spherical_restraint_center"`
	SphericalRestraintRadius float64    `yaml:"spherical_restraint_radius"`

	NStepsSave          int64   `yaml:"nsteps_save"`
	Timestep            float64 `yaml:"timestep"`
	Friction            float64 `yaml:"friction"`
	NonbondCutoff       float64 `yaml:"nonbond_cutoff"`
	SwitchCutoff        float64 `yaml:"switch_cutoff"`
	ConstraintTolerance float64 `yaml:"constraint_tolerance"`
	SleepTime           float64 `yaml:"sleep_time"`

	OutputDir string `yaml:"output_dir"`
	TrajDir   string `yaml:"traj_dir"`
	Ledger    string `yaml:"ledger"`

	Engine  EngineConfig             `yaml:"engine"`
	Stop    StopConfig               `yaml:"stop"`
	Builder forcefield.BuilderConfig `yaml:"builder"`
}

type EngineConfig struct {
	// MaxConstructAttempts of 0 retries context construction until it
	// succeeds.
	MaxConstructAttempts int `yaml:"max_construct_attempts"`
	MinimizeMaxIter      int `yaml:"minimize_max_iter"`
	// MinimizeWindow is the number of trailing chain residues left mobile
	// while a new residue is relaxed.
	MinimizeWindow int `yaml:"minimize_window"`
}

// StopConfig holds the predicates ending the terminal stages.
type StopConfig struct {
	Eject               string `yaml:"eject"`
	Dissociate          string `yaml:"dissociate"`
	DissociateIntervals int    `yaml:"dissociate_intervals"`
}

func DefaultConfig() *Config {
	return &Config{
		TPN:                      DefaultTPN,
		PPN:                      DefaultPPN,
		StartTrajID:              1,
		NumTraj:                  DefaultNumTraj,
		TempProd:                 DefaultTemperature,
		LogFile:                  DefaultLogFile,
		Seed:                     1,
		StartLength:              1,
		TimeStage1:               DefaultTimeStage1,
		TimeStage2:               DefaultTimeStage2,
		TrafficCommand:           "ribosome_traffic",
		XEject:                   DefaultXEject,
		ScaleFactor:              DefaultScaleFactor,
		SphericalRestraintRadius: 100,
		NStepsSave:               DefaultNStepsSave,
		Timestep:                 DefaultTimestep,
		Friction:                 DefaultFriction,
		NonbondCutoff:            20,
		SwitchCutoff:             18,
		ConstraintTolerance:      1e-6,
		SleepTime:                DefaultSleepTime,
		OutputDir:                "output",
		TrajDir:                  "traj",
		Ledger:                   "ribosim.db",
		Engine: EngineConfig{
			MinimizeWindow: 15,
		},
		Stop: StopConfig{
			Dissociate:          "min_separation >= 20",
			DissociateIntervals: 10,
		},
		Builder: forcefield.DefaultBuilderConfig(),
	}
}

// Load overlays the file at path on the defaults. A preset named in the
// file is applied first, so explicit keys in the file still win.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var head struct {
		Preset string `yaml:"preset"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if head.Preset != "" {
		if err := cfg.ApplyPreset(head.Preset); err != nil {
			return nil, err
		}
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
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

// Slots is the number of trajectories run at once.
func (c *Config) Slots() int {
	if c.PPN <= 0 {
		return 0
	}
	return c.TPN / c.PPN
}

func (c *Config) TrajIDs() []int {
	ids := make([]int, c.NumTraj)
	for i := range ids {
		ids[i] = c.StartTrajID + i
	}
	return ids
}

// EjectWhen is the ejection predicate, derived from x_eject unless set
// explicitly.
func (c *Config) EjectWhen() string {
	if c.Stop.Eject != "" {
		return c.Stop.Eject
	}
	return fmt.Sprintf("chain_min_x >= %g", c.XEject)
}
