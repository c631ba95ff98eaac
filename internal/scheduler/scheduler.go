// Package scheduler runs trajectories on a fixed pool of worker slots and
// keeps the run status table current while they progress.
//
// Each slot owns one device for the whole run. A trajectory holds its slot
// from launch until it finishes or crashes; a crash frees the slot and
// never cancels the other trajectories.
package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/ribosim/internal/engine"
	"github.com/san-kum/ribosim/internal/tracelog"
)

// Task is one trajectory to run.
type Task struct {
	TrajID      int
	StartLength int
	Snapshot    string
}

// RunFunc runs one trajectory on dev. A returned error marks the
// trajectory crashed.
type RunFunc func(ctx context.Context, t Task, dev engine.Device) error

type Config struct {
	Devices    []engine.Device
	FullLength int
	// LogPath maps a trajectory id to its progress log.
	LogPath func(id int) string
	// StatusPath is the status table file, rewritten every Interval. Empty
	// disables it.
	StatusPath string
	Head       string
	Interval   time.Duration
	// OnStatus, when set, receives every status snapshot.
	OnStatus func([]StatusRow)
}

// Report is the outcome of one task.
type Report struct {
	TrajID  int
	Device  engine.Device
	Skipped bool
	Elapsed time.Duration
	Err     error
}

type Scheduler struct {
	cfg    Config
	run    RunFunc
	logger *slog.Logger

	mu    sync.Mutex
	state map[int]*taskState
}

type taskState struct {
	task     Task
	started  time.Time
	finished time.Time
	crashed  bool
}

func New(cfg Config, run RunFunc) (*Scheduler, error) {
	if len(cfg.Devices) == 0 {
		return nil, errors.New("scheduler: no devices")
	}
	if run == nil {
		return nil, errors.New("scheduler: nil run function")
	}
	if cfg.LogPath == nil {
		return nil, errors.New("scheduler: nil log path mapping")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &Scheduler{
		cfg:    cfg,
		run:    run,
		logger: slog.Default().With("component", "scheduler"),
	}, nil
}

// Slots is the pool size.
func (s *Scheduler) Slots() int { return len(s.cfg.Devices) }

// Run launches every task and returns once all of them have finished. The
// returned error is non-nil only when ctx ends the run early.
func (s *Scheduler) Run(ctx context.Context, tasks []Task) ([]Report, error) {
	s.mu.Lock()
	s.state = make(map[int]*taskState, len(tasks))
	for _, t := range tasks {
		s.state[t.TrajID] = &taskState{task: t}
	}
	s.mu.Unlock()

	slots := make(chan int, len(s.cfg.Devices))
	for i := range s.cfg.Devices {
		slots <- i
	}

	done := make(chan struct{})
	var monitor sync.WaitGroup
	monitor.Add(1)
	go func() {
		defer monitor.Done()
		s.monitor(done)
	}()

	s.logger.Info("pool started", "slots", len(s.cfg.Devices), "trajectories", len(tasks))
	reports := make([]Report, len(tasks))
	var g errgroup.Group
	var runErr error
launch:
	for i, t := range tasks {
		if t.StartLength > s.cfg.FullLength {
			reports[i] = Report{TrajID: t.TrajID, Skipped: true}
			continue
		}
		var slot int
		select {
		case slot = <-slots:
		case <-ctx.Done():
			runErr = ctx.Err()
			break launch
		}
		dev := s.cfg.Devices[slot]
		s.mark(t.TrajID, func(st *taskState) { st.started = time.Now() })
		g.Go(func() error {
			defer func() { slots <- slot }()
			start := time.Now()
			err := s.run(ctx, t, dev)
			s.mark(t.TrajID, func(st *taskState) {
				st.finished = time.Now()
				st.crashed = err != nil
			})
			reports[i] = Report{TrajID: t.TrajID, Device: dev, Elapsed: time.Since(start), Err: err}
			if err != nil {
				s.logger.Error("trajectory crashed", "traj", t.TrajID, "device", dev.String(), "err", err)
			} else {
				s.logger.Info("trajectory finished", "traj", t.TrajID, "device", dev.String())
			}
			return nil
		})
	}
	_ = g.Wait()
	close(done)
	monitor.Wait()

	if runErr == nil {
		runErr = ctx.Err()
	}
	return reports, runErr
}

func (s *Scheduler) mark(id int, fn func(*taskState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.state[id]; ok {
		fn(st)
	}
}

func (s *Scheduler) monitor(done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	s.publish()
	for {
		select {
		case <-done:
			s.publish()
			return
		case <-ticker.C:
			s.publish()
		}
	}
}

func (s *Scheduler) publish() {
	rows := s.Status()
	if s.cfg.OnStatus != nil {
		s.cfg.OnStatus(rows)
	}
	if s.cfg.StatusPath == "" {
		return
	}
	var buf bytes.Buffer
	buf.WriteString(s.cfg.Head)
	if err := WriteTable(&buf, rows); err != nil {
		s.logger.Warn("render status", "err", err)
		return
	}
	if err := os.WriteFile(s.cfg.StatusPath, buf.Bytes(), 0o644); err != nil {
		s.logger.Warn("write status", "path", s.cfg.StatusPath, "err", err)
	}
}

// Status reads every trajectory log and returns one row per task, ordered
// by trajectory id.
func (s *Scheduler) Status() []StatusRow {
	s.mu.Lock()
	states := make([]taskState, 0, len(s.state))
	for _, st := range s.state {
		states = append(states, *st)
	}
	s.mu.Unlock()
	sort.Slice(states, func(i, j int) bool { return states[i].task.TrajID < states[j].task.TrajID })

	now := time.Now()
	rows := make([]StatusRow, 0, len(states))
	for _, st := range states {
		rows = append(rows, s.row(st, now))
	}
	return rows
}

func (s *Scheduler) row(st taskState, now time.Time) StatusRow {
	r := StatusRow{
		TrajID:      st.task.TrajID,
		StartLength: st.task.StartLength,
		Status:      StatusWait,
		Started:     !st.started.IsZero(),
	}
	if r.Started {
		end := now
		if !st.finished.IsZero() {
			end = st.finished
		}
		r.Elapsed = end.Sub(st.started)
	}

	sum, err := tracelog.ScanFile(s.cfg.LogPath(st.task.TrajID))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Debug("scan log", "traj", st.task.TrajID, "err", err)
		}
		if st.crashed {
			r.Status = StatusCrashed
		}
		return r
	}
	r.CurrentLength = sum.CurrentLength
	switch {
	case st.crashed:
		r.Status = StatusCrashed
	case sum.AllDone:
		r.Status = StatusDone
	case !r.Started:
		r.Status = StatusWait
		if sum.CurrentLength > 0 {
			r.CurrentLength = min(sum.LastFinished+1, s.cfg.FullLength)
		}
	default:
		r.Status, r.Speed = Classify(sum)
	}
	return r
}
