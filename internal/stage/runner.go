// Package stage drives one stage of the elongation cycle to completion:
// optional minimization, seeded Langevin dynamics up to a stop condition,
// periodic diagnostics, and crash capture.
package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"time"

	"github.com/san-kum/ribosim/internal/dynamo"
	"github.com/san-kum/ribosim/internal/engine"
	"github.com/san-kum/ribosim/internal/forcefield"
	"github.com/san-kum/ribosim/internal/topology"
	"github.com/san-kum/ribosim/internal/tracelog"
)

// Config holds the settings shared by every stage of a trajectory.
type Config struct {
	Temperature         float64 // K
	Friction            float64 // 1/ps
	Timestep            float64 // ps
	ConstraintTolerance float64
	// ReportInterval is the number of steps between diagnostics.
	ReportInterval int64
	// MinimizeTolerance is in kcal/mol.
	MinimizeTolerance float64
	MinimizeMaxIter   int
	// MaxConstructAttempts bounds context construction retries. Zero
	// retries until success or cancellation.
	MaxConstructAttempts int

	ChainSegment  string
	LigandSegment string
	// Dir receives snapshots and crash reports.
	Dir string
}

func DefaultConfig() Config {
	return Config{
		Temperature:         310,
		Friction:            0.05,
		Timestep:            0.015,
		ConstraintTolerance: 1e-6,
		ReportInterval:      5000,
		MinimizeTolerance:   engine.KJToKcal,
		ChainSegment:        "A",
		LigandSegment:       "LIG",
		Dir:                 ".",
	}
}

// Context describes the stage to run.
type Context struct {
	Length   int
	Stage    dynamo.Stage
	Stop     StopCondition
	Seed     int64
	Minimize bool
}

type Input struct {
	Structure *topology.Structure
	Potential *forcefield.Potential
	// MinimizePotential is used for the minimization pass; nil reuses
	// Potential.
	MinimizePotential *forcefield.Potential
	Positions         []topology.Vec3
	// Velocities are carried into the stage when set; otherwise they are
	// drawn at Config.Temperature from the stage seed.
	Velocities []topology.Vec3
	Context    Context
}

type Result struct {
	Positions  []topology.Vec3
	Velocities []topology.Vec3
	Steps      int64
	Snapshot   string
	Elapsed    time.Duration
}

type Runner struct {
	cfg       Config
	eng       engine.Engine
	dev       engine.Device
	log       *tracelog.Writer
	observers []Observer
	logger    *slog.Logger
}

func NewRunner(cfg Config, eng engine.Engine, dev engine.Device, log *tracelog.Writer) *Runner {
	return &Runner{
		cfg:    cfg,
		eng:    eng,
		dev:    dev,
		log:    log,
		logger: slog.Default().With("component", "stage"),
	}
}

func (r *Runner) AddObserver(o Observer) { r.observers = append(r.observers, o) }

func (r *Runner) Config() Config { return r.cfg }

// Run executes one stage. A failure inside the engine returns a
// CrashReport; errors are reserved for bad input, exhausted construction
// retries and cancellation.
func (r *Runner) Run(ctx context.Context, in Input) (Result, *CrashReport, error) {
	if err := r.validate(in); err != nil {
		return Result{}, nil, err
	}
	sc := in.Context
	start := time.Now()
	pos := in.Positions

	if sc.Minimize {
		mp := in.MinimizePotential
		if mp == nil {
			mp = in.Potential
		}
		var crash *CrashReport
		var err error
		pos, crash, err = r.minimize(ctx, in, mp)
		if err != nil || crash != nil {
			return Result{}, crash, err
		}
	}

	res, crash, err := r.produce(ctx, in, pos)
	res.Elapsed = time.Since(start)
	return res, crash, err
}

func (r *Runner) validate(in Input) error {
	if in.Structure == nil || in.Potential == nil {
		return fmt.Errorf("stage: %w: missing structure or potential", dynamo.ErrParameterBounds)
	}
	n := in.Structure.NumAtoms()
	if in.Potential.NumAtoms() != n || len(in.Positions) != n {
		return fmt.Errorf("stage: %w: %d atoms, potential %d, positions %d",
			dynamo.ErrDimensionMismatch, n, in.Potential.NumAtoms(), len(in.Positions))
	}
	if in.Velocities != nil && len(in.Velocities) != n {
		return fmt.Errorf("stage: %w: %d velocities for %d atoms", dynamo.ErrDimensionMismatch, len(in.Velocities), n)
	}
	if !in.Context.Stage.Valid() {
		return fmt.Errorf("stage: %w: stage %d", dynamo.ErrParameterBounds, int(in.Context.Stage))
	}
	if err := in.Context.Stop.validate(); err != nil {
		return fmt.Errorf("stage: %w: %v", dynamo.ErrParameterBounds, err)
	}
	if r.cfg.ReportInterval <= 0 {
		return fmt.Errorf("stage: %w: report interval %d", dynamo.ErrParameterBounds, r.cfg.ReportInterval)
	}
	return nil
}

func (r *Runner) integrator(seed int64) engine.Integrator {
	return engine.Integrator{
		Temperature:         r.cfg.Temperature,
		Friction:            r.cfg.Friction,
		Timestep:            r.cfg.Timestep,
		Seed:                seed,
		ConstraintTolerance: r.cfg.ConstraintTolerance,
	}
}

// construct creates an engine context, retrying construction failures.
func (r *Runner) construct(ctx context.Context, pot *forcefield.Potential, seed int64) (engine.Context, error) {
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", dynamo.ErrContextCanceled, ctx.Err())
		default:
		}
		ec, err := r.eng.NewContext(pot, r.integrator(seed), r.dev)
		if err == nil {
			return ec, nil
		}
		r.logger.Warn("context construction failed", "engine", r.eng.Name(), "device", r.dev.String(), "attempt", attempt, "err", err)
		if r.cfg.MaxConstructAttempts > 0 && attempt >= r.cfg.MaxConstructAttempts {
			var ce *engine.ConstructionError
			if errors.As(err, &ce) {
				ce.Attempt = attempt
				return nil, ce
			}
			return nil, &engine.ConstructionError{Device: r.dev, Attempt: attempt, Err: err}
		}
	}
}

func (r *Runner) minimize(ctx context.Context, in Input, pot *forcefield.Potential) ([]topology.Vec3, *CrashReport, error) {
	sc := in.Context
	ec, err := r.construct(ctx, pot, sc.Seed)
	if err != nil {
		return nil, nil, err
	}
	defer ec.Close()

	if err := ec.SetPositions(in.Positions); err != nil {
		return nil, nil, err
	}
	if st, err := ec.State(); err == nil {
		r.log.EnergyBefore(st.Potential)
	} else {
		r.log.EnergyBefore(math.NaN())
	}

	if err := ec.Minimize(r.cfg.MinimizeTolerance, r.cfg.MinimizeMaxIter); err != nil {
		crash := &CrashReport{
			Length:  sc.Length,
			Stage:   sc.Stage,
			Phase:   PhaseMinimize,
			Message: err.Error(),
			Err:     err,
		}
		crash.GroupEnergies, _ = ec.GroupEnergies()
		r.log.MinimizationCrash(sc.Stage.Label(), err)
		r.log.Energies(crash.GroupEnergies, engine.GroupNames())
		r.saveCrash(in.Structure, ec, in.Positions, MinimizeCrashName(sc.Length, sc.Stage), crash)
		r.logger.Error("minimization failed", "length", sc.Length, "stage", sc.Stage.String(), "err", err)
		return nil, crash, nil
	}

	st, err := ec.State()
	if err != nil {
		return nil, nil, err
	}
	r.log.EnergyAfter(st.Potential)
	groups, _ := ec.GroupEnergies()
	r.log.Energies(groups, engine.GroupNames())
	return st.Positions, nil, nil
}

func (r *Runner) produce(ctx context.Context, in Input, pos []topology.Vec3) (Result, *CrashReport, error) {
	sc := in.Context
	ec, err := r.construct(ctx, in.Potential, sc.Seed)
	if err != nil {
		return Result{}, nil, err
	}
	defer ec.Close()

	if err := ec.SetPositions(pos); err != nil {
		return Result{}, nil, err
	}
	if in.Velocities != nil {
		err = ec.SetVelocities(in.Velocities)
	} else {
		err = ec.SetVelocitiesToTemperature(r.cfg.Temperature, sc.Seed)
	}
	if err != nil {
		return Result{}, nil, err
	}
	r.log.RunningMD(r.dev.Accelerator, r.dev.Threads, sc.Seed)

	chain := in.Structure.SegmentAtoms(r.cfg.ChainSegment)
	others := r.assemblyAtoms(in.Structure)
	dof := DegreesOfFreedom(in.Potential)
	tracker := NewTracker(sc.Stop)
	interval := r.cfg.ReportInterval
	budget := sc.Stop.Steps
	if sc.Stop.Kind == StopBudget && budget < 1 {
		// A stage always advances at least one step.
		budget = 1
	}

	last := pos
	var step int64
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return Result{}, nil, fmt.Errorf("%w: %v", dynamo.ErrContextCanceled, ctx.Err())
		default:
		}

		n := interval - step%interval
		if sc.Stop.Kind == StopBudget && budget-step < n {
			n = budget - step
		}
		if err := ec.Step(int(n)); err != nil {
			failed := step + n
			var re *engine.RuntimeError
			if errors.As(err, &re) {
				failed = re.Step
			}
			return Result{}, r.stepCrash(in, ec, last, failed, err), nil
		}
		step += n

		done := sc.Stop.Kind == StopBudget && step >= budget
		if step%interval == 0 {
			st, err := ec.State()
			if err != nil {
				return Result{}, r.stepCrash(in, ec, last, step, err), nil
			}
			last = st.Positions
			d := Diagnostic{
				Stage:       sc.Stage,
				Length:      sc.Length,
				Step:        step,
				Potential:   st.Potential,
				Kinetic:     st.Kinetic,
				Temperature: Temperature(st.Kinetic, dof),
				Speed:       Speed(step, time.Since(start), r.cfg.Timestep),
			}
			obs := Observation{
				Step:        step,
				Potential:   st.Potential,
				Kinetic:     st.Kinetic,
				Temperature: d.Temperature,
			}
			if sc.Stage.Terminal() {
				obs.ChainMinX = ChainMinX(st.Positions, chain)
				obs.MinSeparation = MinSeparation(st.Positions, chain, others)
				d.DMin = obs.ChainMinX
				if sc.Stage == dynamo.StageDissociation {
					d.DMin = obs.MinSeparation
				}
			}
			if sc.Stop.Kind == StopBudget {
				d.Progress = float64(step) / float64(budget) * 100
				d.Remaining = Remaining(step, budget, time.Since(start))
			}
			r.report(d, step == interval)
			if sc.Stop.Kind != StopBudget {
				stop, err := tracker.Observe(obs)
				if err != nil {
					return Result{}, nil, err
				}
				done = done || stop
			}
		}
		if done {
			break
		}
	}

	st, err := ec.State()
	if err != nil {
		return Result{}, r.stepCrash(in, ec, last, step, err), nil
	}
	res := Result{
		Positions:  st.Positions,
		Velocities: st.Velocities,
		Steps:      step,
		Snapshot:   filepath.Join(r.cfg.Dir, FinalSnapshotName(sc.Length, sc.Stage)),
	}
	snap := topology.Snapshot{Positions: st.Positions, Velocities: st.Velocities}
	if err := topology.SaveSnapshot(res.Snapshot, in.Structure, snap); err != nil {
		return Result{}, nil, fmt.Errorf("stage: save final snapshot: %w", err)
	}
	if sc.Stage == dynamo.StageDissociation {
		if err := r.saveProtein(in.Structure, snap, sc.Length); err != nil {
			return Result{}, nil, err
		}
	}
	r.log.DoneAt(step)
	r.logger.Debug("stage done", "length", sc.Length, "stage", sc.Stage.String(), "steps", step)
	return res, nil, nil
}

func (r *Runner) report(d Diagnostic, first bool) {
	row := tracelog.Row{
		Progress:  d.Progress,
		Step:      d.Step,
		Potential: d.Potential,
		Kinetic:   d.Kinetic,
		Temp:      d.Temperature,
		DMin:      d.DMin,
		Speed:     d.Speed,
		Remaining: d.Remaining,
	}
	if d.Stage.Terminal() {
		if first {
			r.log.TerminalHeader()
		}
		r.log.TerminalRow(row)
	} else {
		if first {
			r.log.CycleHeader()
		}
		r.log.CycleRow(row)
	}
	for _, o := range r.observers {
		o.OnDiagnostic(d)
	}
}

// assemblyAtoms is every atom outside the chain and ligand segments.
func (r *Runner) assemblyAtoms(s *topology.Structure) []int {
	var out []int
	for i, a := range s.Atoms {
		if a.Segment != r.cfg.ChainSegment && a.Segment != r.cfg.LigandSegment {
			out = append(out, i)
		}
	}
	return out
}

func (r *Runner) stepCrash(in Input, ec engine.Context, last []topology.Vec3, step int64, err error) *CrashReport {
	sc := in.Context
	crash := &CrashReport{
		Length:  sc.Length,
		Stage:   sc.Stage,
		Phase:   PhaseStep,
		Step:    step,
		Message: err.Error(),
		Kinetic: math.NaN(),
		Err:     err,
	}
	crash.GroupEnergies, _ = ec.GroupEnergies()
	crash.GroupMaxForces, _ = ec.GroupMaxForces()
	if st, serr := ec.State(); serr == nil {
		crash.Kinetic = st.Kinetic
	}
	r.log.StepCrash(step, err)
	r.log.Energies(crash.GroupEnergies, engine.GroupNames())
	r.log.MaxForces(crash.GroupMaxForces, engine.GroupNames())
	r.log.Kinetic(crash.Kinetic)
	r.saveCrash(in.Structure, ec, last, StepCrashName(sc.Length, sc.Stage, step), crash)
	r.logger.Error("stage crashed", "length", sc.Length, "stage", sc.Stage.String(), "step", step, "err", err)
	return crash
}

// saveCrash persists the failing configuration and its report. last is used
// when the engine can no longer produce a state.
func (r *Runner) saveCrash(s *topology.Structure, ec engine.Context, last []topology.Vec3, name string, crash *CrashReport) {
	snap := topology.Snapshot{Positions: last}
	if st, err := ec.State(); err == nil {
		snap = topology.Snapshot{Positions: st.Positions, Velocities: st.Velocities}
	}
	path := filepath.Join(r.cfg.Dir, name)
	if err := topology.SaveSnapshot(path, s, snap); err != nil {
		r.logger.Error("save crash snapshot", "path", path, "err", err)
	}
	crash.Snapshot = path
	if err := crash.Save(filepath.Join(r.cfg.Dir, ReportName(name))); err != nil {
		r.logger.Error("save crash report", "path", path, "err", err)
	}
}

func (r *Runner) saveProtein(s *topology.Structure, snap topology.Snapshot, length int) error {
	var idx []int
	for i, a := range s.Atoms {
		if a.Segment == r.cfg.ChainSegment || a.Segment == r.cfg.LigandSegment {
			idx = append(idx, i)
		}
	}
	prot := s.Select(idx)
	sub := topology.Snapshot{Positions: make([]topology.Vec3, len(idx))}
	if snap.Velocities != nil {
		sub.Velocities = make([]topology.Vec3, len(idx))
	}
	for k, i := range idx {
		sub.Positions[k] = snap.Positions[i]
		if sub.Velocities != nil {
			sub.Velocities[k] = snap.Velocities[i]
		}
	}
	if err := topology.WritePSFFile(filepath.Join(r.cfg.Dir, ProteinTopologyName(length)), prot, "nascent chain"); err != nil {
		return fmt.Errorf("stage: save protein topology: %w", err)
	}
	if err := topology.SaveSnapshot(filepath.Join(r.cfg.Dir, ProteinSnapshotName(length)), prot, sub); err != nil {
		return fmt.Errorf("stage: save protein snapshot: %w", err)
	}
	return nil
}
