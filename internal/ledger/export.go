package ledger

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"
)

// WriteCSV writes one row per trajectory state with a header.
func WriteCSV(w io.Writer, states []TrajectoryState) error {
	cw := csv.NewWriter(w)
	header := []string{"run_id", "traj_id", "length", "stage", "status", "wall_clock_s", "snapshot", "updated_at"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, st := range states {
		row := []string{
			st.RunID,
			strconv.Itoa(st.TrajID),
			strconv.Itoa(st.Length),
			stageName(st.Stage),
			string(st.Status),
			strconv.FormatFloat(st.WallClock.Seconds(), 'f', 1, 64),
			st.Snapshot,
			st.UpdatedAt.Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func WriteJSON(w io.Writer, states []TrajectoryState) error {
	for i := range states {
		states[i].StageName = stageName(states[i].Stage)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(states)
}
