package config

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/san-kum/ribosim/internal/mask"
	"github.com/san-kum/ribosim/internal/stage"
)

// ValidationError names one rejected control parameter.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

type field struct{ name, value string }

// Validate checks the control parameters and returns every problem found,
// joined.
func (c *Config) Validate() error {
	var errs []error
	bad := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if c.TPN <= 0 || c.PPN <= 0 {
		bad("tpn", "tpn (%d) and ppn (%d) must be positive", c.TPN, c.PPN)
	} else if c.TPN%c.PPN != 0 {
		bad("tpn", "tpn (%d) is not a multiple of ppn (%d)", c.TPN, c.PPN)
	}
	if c.NumTraj <= 0 {
		bad("num_traj", "no trajectory number specified")
	}
	for _, f := range []field{
		{"prot_psf", c.ProtPSF},
		{"prot_param", c.ProtParam},
		{"ribo_psf", c.RiboPSF},
		{"ribo_param", c.RiboParam},
		{"starting_strucs", c.StartingStrucs},
	} {
		if f.value == "" {
			bad(f.name, "not specified")
		}
	}
	if c.StartLength <= 0 {
		bad("start_nascent_chain_length", "must be positive, got %d", c.StartLength)
	}
	if c.TotalLength < c.StartLength {
		bad("total_nascent_chain_length", "%d is below the start length %d", c.TotalLength, c.StartLength)
	}
	if c.Restart != 0 && c.Restart != 1 {
		bad("restart", "can only be 0 (no restart) or 1 (restart), got %d", c.Restart)
	}

	switch c.UniformTA {
	case 0:
		if c.MRNASeq == "" {
			bad("mrna_seq", "required when uniform_ta = 0")
		}
		if c.TransTimes == "" {
			bad("trans_times", "required when uniform_ta = 0")
		}
	case 1:
		if c.UniformMFPT <= 0 {
			bad("uniform_mfpt", "required when uniform_ta = 1")
		}
	default:
		bad("uniform_ta", "can only be 0 or 1, got %d", c.UniformTA)
	}
	switch c.RibosomeTraffic {
	case 0:
	case 1:
		if c.UniformTA == 1 {
			bad("ribosome_traffic", "cannot be used with a uniform translation time")
		}
		if c.InitiationRate <= 0 {
			bad("initiation_rate", "wrong value %g", c.InitiationRate)
		}
		if c.TrafficCommand == "" {
			bad("traffic_command", "required when ribosome_traffic = 1")
		}
	default:
		bad("ribosome_traffic", "can only be 0 or 1, got %d", c.RibosomeTraffic)
	}

	if c.TimeStage1 <= 0 || c.TimeStage2 <= 0 {
		bad("time_stage_1", "dwell times must be positive")
	}
	if c.ScaleFactor <= 0 {
		bad("scale_factor", "must be positive")
	}
	if c.Timestep <= 0 {
		bad("timestep", "must be positive")
	}
	if c.NStepsSave <= 0 {
		bad("nsteps_save", "must be positive")
	}
	if c.SleepTime <= 0 {
		bad("sleep_time", "must be positive")
	}
	if c.SwitchCutoff > c.NonbondCutoff {
		bad("switch_cutoff", "%g exceeds nonbond_cutoff %g", c.SwitchCutoff, c.NonbondCutoff)
	}

	for _, f := range []field{
		{"ribo_free_mask", c.RiboFreeMask},
		{"spherical_restraint_mask", c.SphericalRestraintMask},
	} {
		if _, err := mask.Parse(f.value); err != nil {
			errs = append(errs, &ValidationError{Field: f.name, Reason: "malformed mask", Err: err})
		}
	}
	for _, f := range []field{
		{"stop.eject", c.EjectWhen()},
		{"stop.dissociate", c.Stop.Dissociate},
	} {
		if _, err := stage.CompilePredicate(f.value); err != nil {
			errs = append(errs, &ValidationError{Field: f.name, Reason: "bad predicate", Err: err})
		}
	}
	return errors.Join(errs...)
}

// ClampLength caps the total chain length at the protein length. It
// reports whether the value changed.
func (c *Config) ClampLength(residues int) bool {
	if c.TotalLength <= residues {
		return false
	}
	slog.Default().With("component", "config").Warn("total_nascent_chain_length exceeds the protein length",
		"total_nascent_chain_length", c.TotalLength, "protein_length", residues)
	c.TotalLength = residues
	return true
}
