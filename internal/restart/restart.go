// Package restart recovers where each trajectory of an interrupted run
// left off from its progress log, and trims the log back to that point.
package restart

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/san-kum/ribosim/internal/elongation"
	"github.com/san-kum/ribosim/internal/tracelog"
)

// Layout locates the per-trajectory artifacts of a run.
type Layout struct {
	// OutputDir holds the progress logs, one {id}.out per trajectory.
	OutputDir string
	// TrajDir holds one snapshot directory per trajectory.
	TrajDir string
	// Initial is the starting structure snapshot.
	Initial string
}

func DefaultLayout(initial string) Layout {
	return Layout{OutputDir: "output", TrajDir: "traj", Initial: initial}
}

func (l Layout) LogPath(id int) string {
	return filepath.Join(l.OutputDir, strconv.Itoa(id)+".out")
}

func (l Layout) Dir(id int) string {
	return filepath.Join(l.TrajDir, strconv.Itoa(id))
}

// Resume is the point a trajectory continues from.
type Resume struct {
	TrajID      int
	StartLength int
	// Snapshot is the structure to extend with residue StartLength.
	Snapshot string
	// Removed is set when the log held no completed residue and was
	// deleted; Truncated when stale records after the resume marker were
	// dropped.
	Removed   bool
	Truncated bool
}

// Done reports whether nothing is left to run.
func (r Resume) Done(fullLength int) bool { return r.StartLength > fullLength }

// StartLength computes the resume length from a log summary.
func StartLength(sum tracelog.Summary, fullLength int) int {
	switch {
	case sum.AllDone:
		return fullLength + 1
	case sum.LastFinished == fullLength:
		// The chain is complete but ejection or dissociation did not
		// finish: the last residue runs again.
		return fullLength
	default:
		return sum.LastFinished + 1
	}
}

// Reconcile inspects the log of every trajectory in ids. It must run
// before any trajectory starts.
func Reconcile(l Layout, ids []int, fullLength int) ([]Resume, error) {
	logger := slog.Default().With("component", "restart")
	out := make([]Resume, 0, len(ids))
	for _, id := range ids {
		r := Resume{TrajID: id, StartLength: 1, Snapshot: l.Initial}
		path := l.LogPath(id)
		sum, err := tracelog.ScanFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			out = append(out, r)
			continue
		case err != nil:
			return nil, fmt.Errorf("restart: trajectory %d: %w", id, err)
		}

		r.StartLength = StartLength(sum, fullLength)
		keep := r.StartLength - 1
		switch {
		case sum.LastFinished == 0 || keep == 0:
			if err := os.Remove(path); err != nil {
				return nil, fmt.Errorf("restart: trajectory %d: %w", id, err)
			}
			r.Removed = true
		case !sum.AllDone:
			cut, err := truncate(path, keep)
			if err != nil {
				return nil, fmt.Errorf("restart: trajectory %d: %w", id, err)
			}
			r.Truncated = cut
		}
		r.Snapshot = elongation.StartingSnapshot(l.Dir(id), r.StartLength, l.Initial)
		logger.Info("resume", "traj", id, "start", r.StartLength, "truncated", r.Truncated, "removed", r.Removed)
		out = append(out, r)
	}
	return out, nil
}

// truncate rewrites path to end at the finished marker of length keep. It
// reports whether any line was dropped.
func truncate(path string, keep int) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	tmp, err := os.CreateTemp(filepath.Dir(path), ".restart-*")
	if err != nil {
		return false, err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	found, dropped := false, false
	for sc.Scan() {
		line := sc.Text()
		if found {
			dropped = true
			break
		}
		fmt.Fprintln(w, line)
		if n, ok := tracelog.ParseFinished(line); ok && n == keep {
			found = true
		}
	}
	if err := sc.Err(); err != nil {
		tmp.Close()
		return false, err
	}
	if !found {
		tmp.Close()
		return false, fmt.Errorf("no finished marker for length %d in %s", keep, path)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return false, err
	}
	if err := tmp.Close(); err != nil {
		return false, err
	}
	if !dropped {
		return false, nil
	}
	return true, os.Rename(tmp.Name(), path)
}

// Clean removes the logs and snapshot directories of ids, for a run that
// starts from scratch.
func Clean(l Layout, ids []int) error {
	for _, id := range ids {
		if err := os.Remove(l.LogPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if err := os.RemoveAll(l.Dir(id)); err != nil {
			return err
		}
	}
	return nil
}
