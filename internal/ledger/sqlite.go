package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("ledger: sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	// Trajectories record from their own goroutines; one connection
	// serializes the writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) Record(ctx context.Context, st TrajectoryState) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO trajectories (run_id, traj_id, length, stage, status, wall_clock_ns, snapshot, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, traj_id) DO UPDATE SET
			length = excluded.length,
			stage = excluded.stage,
			status = excluded.status,
			wall_clock_ns = excluded.wall_clock_ns,
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at
	`, st.RunID, st.TrajID, st.Length, stageName(st.Stage), string(st.Status),
		int64(st.WallClock), st.Snapshot, st.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("ledger: record trajectory %d: %w", st.TrajID, err)
	}
	return nil
}

const selectState = `SELECT run_id, traj_id, length, stage, status, wall_clock_ns, snapshot, updated_at FROM trajectories`

type scanner interface {
	Scan(dest ...any) error
}

func scanState(row scanner) (TrajectoryState, error) {
	var (
		st      TrajectoryState
		stage   string
		status  string
		wall    int64
		updated int64
	)
	if err := row.Scan(&st.RunID, &st.TrajID, &st.Length, &stage, &status, &wall, &st.Snapshot, &updated); err != nil {
		return st, err
	}
	st.Stage = parseStageName(stage)
	st.StageName = stage
	st.Status = Status(status)
	st.WallClock = time.Duration(wall)
	st.UpdatedAt = time.Unix(0, updated)
	return st, nil
}

func (s *SQLiteStore) Get(ctx context.Context, runID string, traj int) (TrajectoryState, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return TrajectoryState{}, false, err
	}

	st, err := scanState(db.QueryRowContext(ctx, selectState+` WHERE run_id = ? AND traj_id = ?`, runID, traj))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TrajectoryState{}, false, nil
		}
		return TrajectoryState{}, false, err
	}
	return st, true, nil
}

func (s *SQLiteStore) List(ctx context.Context, runID string) ([]TrajectoryState, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, selectState+` WHERE run_id = ? ORDER BY traj_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TrajectoryState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Runs(ctx context.Context) ([]string, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT run_id FROM trajectories
		GROUP BY run_id
		ORDER BY MAX(updated_at) DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS trajectories (
			run_id TEXT NOT NULL,
			traj_id INTEGER NOT NULL,
			length INTEGER NOT NULL,
			stage TEXT NOT NULL,
			status TEXT NOT NULL,
			wall_clock_ns INTEGER NOT NULL,
			snapshot TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (run_id, traj_id)
		);
	`)
	return err
}
