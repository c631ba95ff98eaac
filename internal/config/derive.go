package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/san-kum/ribosim/internal/elongation"
	"github.com/san-kum/ribosim/internal/forcefield"
	"github.com/san-kum/ribosim/internal/restart"
	"github.com/san-kum/ribosim/internal/scheduler"
	"github.com/san-kum/ribosim/internal/stage"
	"github.com/san-kum/ribosim/internal/topology"
)

func (c *Config) Layout() restart.Layout {
	return restart.Layout{OutputDir: c.OutputDir, TrajDir: c.TrajDir, Initial: c.StartingStrucs}
}

// StageConfig is the runner configuration of one trajectory writing its
// snapshots to dir.
func (c *Config) StageConfig(dir string) stage.Config {
	sc := stage.DefaultConfig()
	sc.Temperature = c.TempProd
	sc.Friction = c.Friction
	sc.Timestep = c.Timestep
	sc.ConstraintTolerance = c.ConstraintTolerance
	sc.ReportInterval = c.NStepsSave
	sc.MaxConstructAttempts = c.Engine.MaxConstructAttempts
	if c.Engine.MinimizeMaxIter > 0 {
		sc.MinimizeMaxIter = c.Engine.MinimizeMaxIter
	}
	sc.ChainSegment = c.Builder.Sites.Chain
	sc.LigandSegment = c.Builder.Sites.Ligand
	sc.Dir = dir
	return sc
}

func (c *Config) Timing() elongation.Timing {
	return elongation.Timing{
		PeptidylTransfer: c.TimeStage1,
		Translocation:    c.TimeStage2,
		ScaleFactor:      c.ScaleFactor,
		Timestep:         c.Timestep,
	}
}

func (c *Config) CycleConfig() elongation.Config {
	ec := elongation.DefaultConfig()
	ec.Timing = c.Timing()
	ec.TargetLength = c.TotalLength
	ec.FreeMask = c.RiboFreeMask
	ec.RestraintMask = c.SphericalRestraintMask
	ec.MinimizeWindow = c.Engine.MinimizeWindow
	ec.RunSeed = c.Seed
	ec.EjectWhen = c.EjectWhen()
	ec.DissociateWhen = c.Stop.Dissociate
	ec.DissociateIntervals = c.Stop.DissociateIntervals
	return ec
}

// BuilderConfig folds the restraint keys of the control file into the
// builder settings.
func (c *Config) BuilderConfig() forcefield.BuilderConfig {
	bc := c.Builder
	bc.Restraints.XEject = c.XEject
	bc.Restraints.SphereRadius = c.SphericalRestraintRadius
	bc.Restraints.SphereCenter = topology.Vec3(c.SphericalRestraintCenter)
	return bc
}

func (c *Config) ForceFieldOptions() forcefield.Options {
	return forcefield.Options{Cutoff: c.NonbondCutoff, SwitchDistance: c.SwitchCutoff}
}

func (c *Config) DeviceOptions() scheduler.DeviceOptions {
	return scheduler.DeviceOptions{
		Accelerator: c.UseGPU,
		Threads:     c.PPN,
		Slots:       c.Slots(),
		Indices:     c.Devices,
	}
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.SleepTime * float64(time.Second))
}

// Head is the run description written above the status table.
func (c *Config) Head(start time.Time) string {
	var b strings.Builder
	line := func(format string, args ...any) { fmt.Fprintf(&b, format+"\n", args...) }

	line("Continuous Synthesis for CG Model")
	line("Start at %s", start.Format(time.ANSIC))
	line("Total number of processors: %d", c.TPN)
	line("Number of processors for each trajectory: %d", c.PPN)
	line("Trajectories start at: %d", c.StartTrajID)
	line("Number of trajectories: %d", c.NumTraj)
	line("Temperature of production simulation: %g K", c.TempProd)
	line("Log file name: %s", c.LogFile)
	line("Protein psf file: %s", c.ProtPSF)
	line("Protein prm file: %s", c.ProtParam)
	line("Ribosome psf file: %s", c.RiboPSF)
	line("Ribosome prm file: %s", c.RiboParam)
	if c.UniformTA == 0 {
		line("Codon translation times will be used.")
		line("File for mRNA sequence of nascent chain: %s", c.MRNASeq)
		line("File for codon translation times: %s", c.TransTimes)
	} else {
		line("Uniform translation time will be used.")
		line("Mean translation time: %g s", c.UniformMFPT)
	}
	line("Free part of ribosome: %s", c.RiboFreeMask)
	line("Experimental dwell time for peptide bond formation: %g s", c.TimeStage1)
	line("Experimental dwell time for tRNA translocation: %g s", c.TimeStage2)
	line("x threshold for ejection: %g Angstrom", c.XEject)
	if c.SphericalRestraintMask != "" {
		line("Molecules %s will be restrained within the sphere centered at %v with radius of %.4f Angstrom",
			c.SphericalRestraintMask, c.SphericalRestraintCenter, c.SphericalRestraintRadius)
	} else {
		line("No spherical restraint applied")
	}
	if c.RibosomeTraffic == 1 {
		line("Ribosome traffic effect will be considered")
		line("Translation-initiation rate: %g s-1", c.InitiationRate)
	} else {
		line("Ribosome traffic effect will not be considered")
	}
	if c.Restart == 0 {
		line("No restart requested")
	} else {
		line("Restart requested")
	}
	line("Starting structure: %s", c.StartingStrucs)
	line("File save steps: %d", c.NStepsSave)
	line("Time step: %g ps", c.Timestep)
	line("Scaling factor: %s", strconv.FormatFloat(c.ScaleFactor, 'f', -1, 64))
	line("Total nascent chain length: %d", c.TotalLength)
	line("")
	return b.String()
}

// TrafficWorkDir is where the traffic estimator writes its inputs.
func (c *Config) TrafficWorkDir() string {
	if c.MRNASeq == "" {
		return ""
	}
	return filepath.Dir(c.MRNASeq)
}
