// Package elongation grows one nascent chain residue by residue. Every
// residue runs tRNA binding, peptide-bond formation and translocation;
// the last residue is followed by ejection and dissociation.
package elongation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/san-kum/ribosim/internal/dynamo"
	"github.com/san-kum/ribosim/internal/forcefield"
	"github.com/san-kum/ribosim/internal/ledger"
	"github.com/san-kum/ribosim/internal/mask"
	"github.com/san-kum/ribosim/internal/stage"
	"github.com/san-kum/ribosim/internal/topology"
	"github.com/san-kum/ribosim/internal/tracelog"
	"github.com/san-kum/ribosim/internal/translation"
)

// Config holds the per-run settings of the cycle.
type Config struct {
	Timing Timing
	// TargetLength is the last residue to add. The terminal stages run
	// only when it equals the protein length.
	TargetLength  int
	FreeMask      string
	RestraintMask string
	// MinimizeWindow keeps only the last residues of the chain mobile
	// while the new residue is relaxed.
	MinimizeWindow int
	RunSeed        int64

	EjectWhen           string
	DissociateWhen      string
	DissociateIntervals int
}

func DefaultConfig() Config {
	return Config{
		MinimizeWindow:      15,
		EjectWhen:           "chain_min_x >= 60",
		DissociateWhen:      "min_separation >= 20",
		DissociateIntervals: 10,
	}
}

// Shared is the read-only input common to every trajectory of a run.
type Shared struct {
	ForceField *forcefield.ForceField
	Builder    *forcefield.Builder
	Protein    *topology.Structure
	Ribosome   *topology.Structure
	Times      translation.Times
}

// Recorder receives the trajectory state after every stage.
type Recorder interface {
	Record(ctx context.Context, st ledger.TrajectoryState) error
}

// Outcome is how a trajectory ended.
type Outcome struct {
	// Length is the last residue whose cycle completed.
	Length int
	Done   bool
	Crash  *stage.CrashReport
}

type Cycle struct {
	cfg    Config
	shared Shared
	traj   int
	runID  string
	dir    string
	runner *stage.Runner
	log    *tracelog.Writer
	rec    Recorder

	master     uint64
	eject      *stage.Predicate
	dissociate *stage.Predicate
	wall       time.Duration
	logger     *slog.Logger
}

// New prepares the cycle of trajectory traj. Topologies are written next
// to the runner's snapshots.
func New(cfg Config, shared Shared, traj int, runID string, runner *stage.Runner, log *tracelog.Writer, rec Recorder) (*Cycle, error) {
	if shared.Protein == nil || shared.Ribosome == nil || shared.ForceField == nil || shared.Builder == nil {
		return nil, fmt.Errorf("elongation: %w: incomplete shared input", dynamo.ErrParameterBounds)
	}
	full := shared.Protein.CountResidues(shared.Builder.Config().Sites.Chain)
	if cfg.TargetLength < 1 || cfg.TargetLength > full {
		return nil, fmt.Errorf("elongation: %w: target length %d outside 1..%d", dynamo.ErrParameterBounds, cfg.TargetLength, full)
	}
	if len(shared.Times.Intrinsic) < full+1 || len(shared.Times.Real) < full+1 {
		return nil, fmt.Errorf("elongation: %w: %d passage times for %d residues", dynamo.ErrDimensionMismatch, len(shared.Times.Intrinsic), full)
	}
	if cfg.Timing.ScaleFactor <= 0 || cfg.Timing.Timestep <= 0 {
		return nil, fmt.Errorf("elongation: %w: scale factor and timestep must be positive", dynamo.ErrParameterBounds)
	}
	eject, err := stage.CompilePredicate(cfg.EjectWhen)
	if err != nil {
		return nil, fmt.Errorf("elongation: ejection predicate: %w", err)
	}
	dissociate, err := stage.CompilePredicate(cfg.DissociateWhen)
	if err != nil {
		return nil, fmt.Errorf("elongation: dissociation predicate: %w", err)
	}
	if cfg.DissociateIntervals < 1 {
		cfg.DissociateIntervals = 1
	}
	return &Cycle{
		cfg:        cfg,
		shared:     shared,
		traj:       traj,
		runID:      runID,
		dir:        runner.Config().Dir,
		runner:     runner,
		log:        log,
		rec:        rec,
		master:     MasterSeed(cfg.RunSeed, traj),
		eject:      eject,
		dissociate: dissociate,
		logger:     slog.Default().With("component", "elongation", "traj", traj),
	}, nil
}

// FullLength is the residue count of the protein.
func (c *Cycle) FullLength() int {
	return c.shared.Protein.CountResidues(c.chainSegment())
}

func (c *Cycle) chainSegment() string { return c.shared.Builder.Config().Sites.Chain }

// Plan returns the random draws of residue length.
func (c *Cycle) Plan(length int) Plan {
	return NewPlan(c.master, length, c.shared.Times, c.cfg.Timing)
}

// Run grows the chain from residue start, resuming from the snapshot of
// residue start-1. A crash ends the trajectory and is reported in the
// Outcome; errors are reserved for failures outside the simulation.
func (c *Cycle) Run(ctx context.Context, start int, snapshot string) (Outcome, error) {
	out := Outcome{Length: start - 1}
	if start > c.cfg.TargetLength {
		out.Done = true
		return out, nil
	}
	if start < 1 {
		return out, fmt.Errorf("elongation: %w: start length %d", dynamo.ErrParameterBounds, start)
	}
	snap, err := topology.LoadSnapshot(snapshot)
	if err != nil {
		return out, fmt.Errorf("elongation: load %s: %w", snapshot, err)
	}
	pos := snap.Positions

	full := c.FullLength()
	for length := start; length <= c.cfg.TargetLength; length++ {
		plan := c.Plan(length)
		plan.write(c.log, c.cfg.Timing)
		c.logger.Info("elongation", "length", length, "seed", plan.Seed, "budgets", plan.Budgets())

		res, crash, err := c.residue(ctx, plan, pos, length == full)
		if err != nil || crash != nil {
			c.recordEnd(ctx, length, crash, err)
			out.Crash = crash
			return out, err
		}
		pos = res
		out.Length = length
		if length < full {
			c.log.Finished(length)
		} else {
			c.log.AllDone()
		}
		if err := c.log.Err(); err != nil {
			return out, fmt.Errorf("elongation: progress log: %w", err)
		}
	}
	out.Done = true
	c.record(ctx, ledger.TrajectoryState{Length: out.Length, Status: ledger.StatusDone})
	return out, nil
}

// assembly is the combined structure of one residue length plus the
// selections resolved against it.
type assembly struct {
	s         *topology.Structure
	template  *forcefield.Potential
	free      []int
	restraint []int
}

func (c *Cycle) assemble(length int) (*assembly, error) {
	prefix, err := c.shared.Protein.Prefix(length)
	if err != nil {
		return nil, err
	}
	s := topology.Combine(prefix, c.shared.Ribosome)
	if err := s.Renumber(c.chainSegment(), c.shared.Ribosome.ResidueNumbers()); err != nil {
		return nil, err
	}
	if err := topology.WritePSFFile(filepath.Join(c.dir, fmt.Sprintf("rnc_l%d.psf", length)), s, "ribosome nascent chain complex"); err != nil {
		return nil, err
	}
	tmpl, err := c.shared.ForceField.Template(s, c.chainSegment())
	if err != nil {
		return nil, err
	}
	free, err := mask.Resolve(s, c.cfg.FreeMask)
	if err != nil {
		return nil, err
	}
	restraint, err := mask.Resolve(s, c.cfg.RestraintMask)
	if err != nil {
		return nil, err
	}
	return &assembly{s: s, template: tmpl, free: free, restraint: restraint}, nil
}

// insertBead adds the new residue next to the donor tRNA reference atom,
// 4.27 A away at 10 degrees in the xy plane.
func (c *Cycle) insertBead(a *assembly, prev []topology.Vec3, length int) ([]topology.Vec3, error) {
	chain := a.s.SegmentAtoms(c.chainSegment())
	var at, added int
	for _, i := range chain {
		if a.s.Atoms[i].Residue == a.s.Atoms[chain[len(chain)-1]].Residue {
			added++
		} else {
			at++
		}
	}
	if len(prev)+added != a.s.NumAtoms() {
		return nil, fmt.Errorf("elongation: %w: snapshot has %d atoms, length %d needs %d",
			dynamo.ErrDimensionMismatch, len(prev), length-1, a.s.NumAtoms()-added)
	}
	sites := c.shared.Builder.Config().Sites
	donor, ok := a.s.LastResidue(sites.Donor)
	if !ok {
		return nil, &forcefield.TopologyMismatchError{What: fmt.Sprintf("segment %s not found", sites.Donor), Index: -1}
	}
	ref, err := a.s.AtomInResidue(donor, sites.Reference)
	if err != nil {
		return nil, &forcefield.TopologyMismatchError{What: err.Error(), Index: -1}
	}
	// ref indexes the combined structure; prev lacks the new atoms.
	origin := prev[ref-added]
	const alpha = 10 * math.Pi / 180
	bead := origin.Add(topology.Vec3{math.Cos(alpha), math.Sin(alpha), 0}.Scale(4.27))

	pos := make([]topology.Vec3, 0, a.s.NumAtoms())
	pos = append(pos, prev[:at]...)
	for range added {
		pos = append(pos, bead)
	}
	pos = append(pos, prev[at:]...)
	return pos, nil
}

var systemNames = map[dynamo.Stage]string{
	dynamo.StageBinding:       "A-site tRNA binding",
	dynamo.StageBondFormation: "peptide bond formation",
	dynamo.StageTranslocation: "A-site tRNA translocation",
}

func (c *Cycle) residue(ctx context.Context, plan Plan, prev []topology.Vec3, terminal bool) ([]topology.Vec3, *stage.CrashReport, error) {
	length := plan.Length
	a, err := c.assemble(length)
	if err != nil {
		return nil, nil, fmt.Errorf("elongation: length %d: %w", length, err)
	}
	c.log.FreeAtoms(a.free)
	rs := c.shared.Builder.Config().Restraints
	c.log.SphericalRestraint(len(a.restraint) > 0, rs.SphereCenter, rs.SphereRadius)

	pos, err := c.insertBead(a, prev, length)
	if err != nil {
		return nil, nil, err
	}

	var vel []topology.Vec3
	budgets := plan.Budgets()
	for i, st := range dynamo.CycleStages {
		c.log.CreateSystem(systemNames[st])
		minPot, err := c.shared.Builder.Build(a.template, a.s, forcefield.Request{
			Stage:          st,
			Length:         length,
			RestraintAtoms: a.restraint,
			ChainWindow:    c.cfg.MinimizeWindow,
		})
		if err != nil {
			return nil, nil, &dynamo.SimulationError{Length: length, Stage: st, Wrapped: err}
		}
		c.log.Done()
		pot, err := c.build(a, st, length)
		if err != nil {
			return nil, nil, err
		}
		res, crash, err := c.runner.Run(ctx, stage.Input{
			Structure:         a.s,
			Potential:         pot,
			MinimizePotential: minPot,
			Positions:         pos,
			Context: stage.Context{
				Length:   length,
				Stage:    st,
				Stop:     stage.Budget(budgets[i]),
				Seed:     plan.StageSeeds[i],
				Minimize: true,
			},
		})
		if err != nil || crash != nil {
			return nil, crash, err
		}
		c.stageDone(ctx, length, st, res)
		pos, vel = res.Positions, res.Velocities
	}
	if !terminal {
		return pos, nil, nil
	}

	c.log.Finished(length)
	c.log.Separator()
	c.log.Termination(length)
	seeds := [2]int64{}
	seeds[0], seeds[1] = plan.TerminalSeeds()
	for i, st := range dynamo.TerminalStages {
		stop := stage.FirstCrossing(c.eject)
		if st == dynamo.StageDissociation {
			c.log.Dissociation(seeds[i])
			stop = stage.Sustained(c.dissociate, c.cfg.DissociateIntervals)
		} else {
			c.log.Ejection(seeds[i])
		}
		pot, err := c.build(a, st, length)
		if err != nil {
			return nil, nil, err
		}
		res, crash, err := c.runner.Run(ctx, stage.Input{
			Structure:  a.s,
			Potential:  pot,
			Positions:  pos,
			Velocities: vel,
			Context: stage.Context{
				Length: length,
				Stage:  st,
				Stop:   stop,
				Seed:   seeds[i],
			},
		})
		if err != nil || crash != nil {
			return nil, crash, err
		}
		c.stageDone(ctx, length, st, res)
		pos, vel = res.Positions, res.Velocities
	}
	return pos, nil, nil
}

func (c *Cycle) build(a *assembly, st dynamo.Stage, length int) (*forcefield.Potential, error) {
	pot, err := c.shared.Builder.Build(a.template, a.s, forcefield.Request{
		Stage:          st,
		Length:         length,
		FreeAtoms:      a.free,
		RestraintAtoms: a.restraint,
	})
	if err != nil {
		return nil, &dynamo.SimulationError{Length: length, Stage: st, Wrapped: err}
	}
	return pot, nil
}

func (c *Cycle) stageDone(ctx context.Context, length int, st dynamo.Stage, res stage.Result) {
	c.wall += res.Elapsed
	c.record(ctx, ledger.TrajectoryState{
		Length:   length,
		Stage:    st,
		Status:   ledger.StatusRunning,
		Snapshot: res.Snapshot,
	})
}

func (c *Cycle) recordEnd(ctx context.Context, length int, crash *stage.CrashReport, err error) {
	st := ledger.TrajectoryState{Length: length, Status: ledger.StatusCrashed}
	switch {
	case crash != nil:
		st.Stage = crash.Stage
		st.Snapshot = crash.Snapshot
		c.logger.Error("trajectory crashed", "length", length, "stage", crash.Stage.String(), "err", crash.Message)
	case errors.Is(err, dynamo.ErrContextCanceled):
		st.Status = ledger.StatusPending
	default:
		c.logger.Error("trajectory aborted", "length", length, "err", err)
	}
	c.record(ctx, st)
}

func (c *Cycle) record(ctx context.Context, st ledger.TrajectoryState) {
	if c.rec == nil {
		return
	}
	st.RunID = c.runID
	st.TrajID = c.traj
	st.WallClock = c.wall
	// A canceled run still records where it stopped.
	if err := c.rec.Record(context.WithoutCancel(ctx), st); err != nil {
		c.logger.Warn("ledger record failed", "err", err)
	}
}

// StartingSnapshot is the snapshot a trajectory resumes from: the final
// translocation snapshot of residue start-1, or initial for a fresh start.
func StartingSnapshot(dir string, start int, initial string) string {
	if start <= 1 {
		return initial
	}
	return filepath.Join(dir, stage.FinalSnapshotName(start-1, dynamo.StageTranslocation))
}

// EnsureDir creates the snapshot directory of a trajectory.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
