package scheduler

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/san-kum/ribosim/internal/tracelog"
)

// Status words shown in the run status table.
const (
	StatusWait       = "wait"
	StatusMinimizing = "minimizing"
	StatusDone       = "Done"
	StatusCrashed    = "crashed"
)

// StatusRow is one trajectory line of the status table.
type StatusRow struct {
	TrajID      int
	StartLength int
	Status      string
	// CurrentLength is 0 until the trajectory logs its first residue.
	CurrentLength int
	Elapsed       time.Duration
	// Speed in ns/day, 0 when unknown.
	Speed float64
	// Started is false while the trajectory waits for a slot.
	Started bool
}

const rowFormat = "%10s %10s %20s %15s %10s %15s\n"

// WriteTable writes the column header followed by one line per row.
func WriteTable(w io.Writer, rows []StatusRow) error {
	if _, err := fmt.Fprintf(w, rowFormat, "SIM_ID", "START_LEN", "SIM_STATUS", "CURRENT_LEN", "TIME_USED", "SPEED (ns/d)"); err != nil {
		return err
	}
	for _, r := range rows {
		cur, used, speed := "--", "--", "--"
		if r.CurrentLength > 0 {
			cur = strconv.Itoa(r.CurrentLength)
		}
		if r.Started && r.Status != StatusWait {
			used = tracelog.Clock(r.Elapsed)
		}
		if r.Speed > 0 {
			speed = strconv.FormatFloat(r.Speed, 'f', 1, 64)
		}
		if _, err := fmt.Fprintf(w, rowFormat, strconv.Itoa(r.TrajID), strconv.Itoa(r.StartLength), r.Status, cur, used, speed); err != nil {
			return err
		}
	}
	return nil
}

// Classify derives the status word and speed of a running trajectory from
// the summary of its progress log. Crashes are known to the scheduler, not
// read back from the log.
func Classify(sum tracelog.Summary) (string, float64) {
	last := sum.LastLine
	switch {
	case sum.AllDone:
		return StatusDone, 0
	case sum.CurrentLength == 0:
		return StatusWait, 0
	}
	if row, ok := tracelog.ParseRow(last); ok {
		if strings.HasSuffix(strings.Fields(last)[0], "%") {
			return fmt.Sprintf("%d(%.1f%%)", row.Step, row.Progress), row.Speed
		}
		return fmt.Sprintf("step(%d)", row.Step), row.Speed
	}
	return StatusMinimizing, 0
}
