package stage

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/ribosim/internal/dynamo"
)

const (
	PhaseMinimize = "minimize"
	PhaseStep     = "step"
)

// CrashReport describes a stage that failed inside the engine. It is the
// failure variant of a stage outcome and carries everything needed for a
// post-mortem.
type CrashReport struct {
	Length         int                `yaml:"length"`
	Stage          dynamo.Stage       `yaml:"-"`
	StageName      string             `yaml:"stage"`
	Phase          string             `yaml:"phase"`
	Step           int64              `yaml:"step"`
	Message        string             `yaml:"error"`
	GroupEnergies  map[string]float64 `yaml:"group_energies,omitempty"`
	GroupMaxForces map[string]float64 `yaml:"group_max_forces,omitempty"`
	Kinetic        float64            `yaml:"kinetic_energy"`
	Snapshot       string             `yaml:"snapshot,omitempty"`

	Err error `yaml:"-"`
}

func (c *CrashReport) Error() string {
	if c.Phase == PhaseMinimize {
		return fmt.Sprintf("stage %s at length %d: minimization failed: %s", c.Stage, c.Length, c.Message)
	}
	return fmt.Sprintf("stage %s at length %d: crashed at step %d: %s", c.Stage, c.Length, c.Step, c.Message)
}

func (c *CrashReport) Unwrap() error { return c.Err }

// Save writes the report as YAML.
func (c *CrashReport) Save(path string) error {
	c.StageName = c.Stage.String()
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal crash report: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func LoadCrashReport(path string) (*CrashReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c CrashReport
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse crash report: %w", err)
	}
	c.Stage, _ = dynamo.ParseStage(c.StageName)
	return &c, nil
}

// FinalSnapshotName is the snapshot written when a stage completes.
func FinalSnapshotName(length int, st dynamo.Stage) string {
	if st.Terminal() {
		return fmt.Sprintf("rnc_l%d_%s_final.cor", length, st)
	}
	return fmt.Sprintf("rnc_l%d_stage_%d_final.cor", length, int(st))
}

func MinimizeCrashName(length int, st dynamo.Stage) string {
	return fmt.Sprintf("rnc_l%d_crashed_min%d.cor", length, int(st))
}

func StepCrashName(length int, st dynamo.Stage, step int64) string {
	return fmt.Sprintf("rnc_l%d_crashed_step_%d_stage_%d.cor", length, step, int(st))
}

// ProteinSnapshotName is the chain-only artifact written after dissociation.
func ProteinSnapshotName(length int) string {
	return fmt.Sprintf("prot_l%d_dissociation_final.cor", length)
}

func ProteinTopologyName(length int) string {
	return fmt.Sprintf("prot_l%d.psf", length)
}

// ReportName maps a crash snapshot name to its YAML report.
func ReportName(snapshot string) string {
	return strings.TrimSuffix(snapshot, ".cor") + ".yaml"
}
