package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/san-kum/ribosim/internal/config"
	"github.com/san-kum/ribosim/internal/elongation"
	"github.com/san-kum/ribosim/internal/engine"
	"github.com/san-kum/ribosim/internal/forcefield"
	"github.com/san-kum/ribosim/internal/ledger"
	"github.com/san-kum/ribosim/internal/metrics"
	"github.com/san-kum/ribosim/internal/restart"
	"github.com/san-kum/ribosim/internal/scheduler"
	"github.com/san-kum/ribosim/internal/stage"
	"github.com/san-kum/ribosim/internal/topology"
	"github.com/san-kum/ribosim/internal/tracelog"
	"github.com/san-kum/ribosim/internal/translation"
	"github.com/san-kum/ribosim/internal/tui"
)

// loadControl reads and validates a control file and the structures it
// names. The total length is clamped to the protein.
func loadControl(path string) (*config.Config, elongation.Shared, error) {
	var shared elongation.Shared
	cfg, err := config.Load(path)
	if err != nil {
		return nil, shared, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, shared, err
	}

	prot, err := topology.ReadPSFFile(cfg.ProtPSF)
	if err != nil {
		return nil, shared, fmt.Errorf("protein topology: %w", err)
	}
	ribo, err := topology.ReadPSFFile(cfg.RiboPSF)
	if err != nil {
		return nil, shared, fmt.Errorf("ribosome topology: %w", err)
	}
	cfg.ClampLength(prot.CountResidues(cfg.Builder.Sites.Chain))

	shared = elongation.Shared{
		Builder:  forcefield.NewBuilder(cfg.BuilderConfig()),
		Protein:  prot,
		Ribosome: ribo,
	}
	return cfg, shared, nil
}

func compileForceField(cfg *config.Config) (*forcefield.ForceField, error) {
	riboSet, err := forcefield.LoadParamSet(cfg.RiboParam)
	if err != nil {
		return nil, fmt.Errorf("ribosome parameters: %w", err)
	}
	protSet, err := forcefield.LoadParamSet(cfg.ProtParam)
	if err != nil {
		return nil, fmt.Errorf("protein parameters: %w", err)
	}
	return forcefield.Compile(cfg.ForceFieldOptions(), riboSet, protSet)
}

func translationTimes(ctx context.Context, cfg *config.Config, residues int) (translation.Times, error) {
	opts := translation.Options{Residues: residues}
	if cfg.UniformTA == 1 {
		opts.Uniform = cfg.UniformMFPT
		return translation.Build(ctx, opts)
	}
	table, err := translation.LoadCodonTable(cfg.TransTimes)
	if err != nil {
		return translation.Times{}, err
	}
	seq, err := translation.LoadSequence(cfg.MRNASeq)
	if err != nil {
		return translation.Times{}, err
	}
	codons, err := translation.Codons(seq, residues)
	if err != nil {
		return translation.Times{}, err
	}
	opts.Codons = codons
	opts.Table = table
	if cfg.RibosomeTraffic == 1 {
		opts.Traffic = true
		opts.InitiationRate = cfg.InitiationRate
		opts.Estimator = translation.CommandEstimator{Path: cfg.TrafficCommand, WorkDir: cfg.TrafficWorkDir()}
	}
	return translation.Build(ctx, opts)
}

// resumePoints prepares the output directories and returns one task per
// trajectory.
func resumePoints(cfg *config.Config, full int) ([]scheduler.Task, error) {
	layout := cfg.Layout()
	ids := cfg.TrajIDs()
	for _, dir := range []string{layout.OutputDir, layout.TrajDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	tasks := make([]scheduler.Task, 0, len(ids))
	if cfg.Restart == 0 {
		if err := restart.Clean(layout, ids); err != nil {
			return nil, err
		}
		// A fresh run may start from a structure that already carries
		// start-1 residues.
		for _, id := range ids {
			tasks = append(tasks, scheduler.Task{TrajID: id, StartLength: cfg.StartLength, Snapshot: layout.Initial})
		}
		return tasks, nil
	}

	resumes, err := restart.Reconcile(layout, ids, full)
	if err != nil {
		return nil, err
	}
	for _, r := range resumes {
		tasks = append(tasks, scheduler.Task{TrajID: r.TrajID, StartLength: r.StartLength, Snapshot: r.Snapshot})
	}
	return tasks, nil
}

func runSynthesis(cmd *cobra.Command, args []string) error {
	var logOut io.Writer = os.Stderr
	if eventsLog != "" {
		f, err := os.Create(eventsLog)
		if err != nil {
			return err
		}
		defer f.Close()
		logOut = f
	} else if useTUI {
		logOut = io.Discard
	}
	setupLogging(logOut)
	logger := slog.Default().With("component", "main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	started := time.Now()

	cfg, shared, err := loadControl(args[0])
	if err != nil {
		return err
	}
	full := shared.Protein.CountResidues(cfg.Builder.Sites.Chain)

	devices, err := scheduler.ResolveDevices(cfg.DeviceOptions(), os.Getenv)
	if err != nil {
		return err
	}
	if shared.ForceField, err = compileForceField(cfg); err != nil {
		return err
	}
	if shared.Times, err = translationTimes(ctx, cfg, full); err != nil {
		return err
	}
	tasks, err := resumePoints(cfg, full)
	if err != nil {
		return err
	}

	store, err := ledger.Open(ctx, cfg.Ledger)
	if err != nil {
		return err
	}
	defer store.Close()
	if runID == "" {
		runID = ledger.NewRunID()
	}
	logger.Info("run", "id", runID, "trajectories", len(tasks), "slots", len(devices), "length", cfg.TotalLength)

	layout := cfg.Layout()
	eng := engine.NewReference()
	runTrajectory := func(ctx context.Context, t scheduler.Task, dev engine.Device) error {
		dir := layout.Dir(t.TrajID)
		if err := elongation.EnsureDir(dir); err != nil {
			return err
		}
		w, err := tracelog.Open(layout.LogPath(t.TrajID))
		if err != nil {
			return err
		}
		defer w.Close()
		runner := stage.NewRunner(cfg.StageConfig(dir), eng, dev, w)
		collector := metrics.Standard(t.TrajID, cfg.TempProd)
		runner.AddObserver(collector)
		defer func() {
			collector.Flush()
			for _, sum := range collector.Summaries() {
				if v := sum.Values["stability"]; v < 0.9 {
					logger.Warn("unstable stage", "traj", t.TrajID, "length", sum.Length, "stage", sum.Stage.String(), "stability", v)
				}
			}
		}()
		cycle, err := elongation.New(cfg.CycleConfig(), shared, t.TrajID, runID, runner, w, store)
		if err != nil {
			return err
		}
		out, err := cycle.Run(ctx, t.StartLength, t.Snapshot)
		if err != nil {
			return err
		}
		if out.Crash != nil {
			return out.Crash
		}
		return nil
	}

	schedCfg := scheduler.Config{
		Devices:    devices,
		FullLength: cfg.TotalLength,
		LogPath:    layout.LogPath,
		StatusPath: cfg.LogFile,
		Head:       cfg.Head(started),
		Interval:   cfg.PollInterval(),
	}

	var prog *tea.Program
	if useTUI {
		prog = tea.NewProgram(tui.New("ribosim " + runID))
		schedCfg.OnStatus = func(rows []scheduler.StatusRow) { prog.Send(tui.StatusMsg(rows)) }
	}
	sched, err := scheduler.New(schedCfg, runTrajectory)
	if err != nil {
		return err
	}

	var reports []scheduler.Report
	var runErr error
	if prog == nil {
		reports, runErr = sched.Run(ctx, tasks)
	} else {
		finished := make(chan struct{})
		go func() {
			defer close(finished)
			reports, runErr = sched.Run(ctx, tasks)
			prog.Send(tui.DoneMsg{})
		}()
		if _, err := prog.Run(); err != nil {
			logger.Warn("status display", "err", err)
		}
		<-finished
	}

	var done, crashed, skipped int
	for _, r := range reports {
		switch {
		case r.Skipped:
			skipped++
		case r.Err != nil:
			crashed++
		default:
			done++
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d done, %d crashed, %d already complete (%s)\n",
		runID, done, crashed, skipped, tracelog.Clock(time.Since(started)))
	if errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("interrupted: %w", runErr)
	}
	return runErr
}
