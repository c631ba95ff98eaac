// Package ledger records the progress of every trajectory of a run: the
// residue length reached, the last completed stage and its snapshot.
// The progress logs stay the source of truth for restarts; the ledger is
// the queryable view of the same history.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/san-kum/ribosim/internal/dynamo"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusCrashed Status = "crashed"
	StatusDone    Status = "done"
)

// TrajectoryState is the latest known state of one trajectory.
type TrajectoryState struct {
	RunID  string `json:"run_id"`
	TrajID int    `json:"traj_id"`
	Length int    `json:"length"`
	// Stage is the last completed stage, zero before the first.
	Stage     dynamo.Stage  `json:"-"`
	StageName string        `json:"stage"`
	Status    Status        `json:"status"`
	WallClock time.Duration `json:"wall_clock_ns"`
	Snapshot  string        `json:"snapshot"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Terminal reports whether the trajectory will make no more progress.
func (s TrajectoryState) Terminal() bool {
	return s.Status == StatusDone || s.Status == StatusCrashed
}

var ErrNotInitialized = errors.New("ledger: store is not initialized")

type Store interface {
	Init(ctx context.Context) error
	Record(ctx context.Context, st TrajectoryState) error
	Get(ctx context.Context, runID string, traj int) (TrajectoryState, bool, error)
	List(ctx context.Context, runID string) ([]TrajectoryState, error)
	// Runs lists run IDs, most recently updated first.
	Runs(ctx context.Context) ([]string, error)
	Close() error
}

// NewRunID returns a fresh run identifier.
func NewRunID() string { return uuid.NewString() }

// Open returns a SQLite store at path, or an in-memory store when path is
// empty.
func Open(ctx context.Context, path string) (Store, error) {
	var s Store
	if path == "" {
		s = NewMemoryStore()
	} else {
		s = NewSQLiteStore(path)
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func stageName(st dynamo.Stage) string {
	if st == 0 {
		return ""
	}
	return st.String()
}

func parseStageName(v string) dynamo.Stage {
	if v == "" {
		return 0
	}
	st, err := dynamo.ParseStage(v)
	if err != nil {
		return 0
	}
	return st
}
