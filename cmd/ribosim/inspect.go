package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/ribosim/internal/ledger"
	"github.com/san-kum/ribosim/internal/mask"
	"github.com/san-kum/ribosim/internal/restart"
	"github.com/san-kum/ribosim/internal/topology"
	"github.com/san-kum/ribosim/internal/tracelog"
)

func reconcileRun(cmd *cobra.Command, args []string) error {
	setupLogging(os.Stderr)
	cfg, shared, err := loadControl(args[0])
	if err != nil {
		return err
	}
	full := shared.Protein.CountResidues(cfg.Builder.Sites.Chain)
	layout := cfg.Layout()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SIM_ID\tCOMPLETE\tSTART_LEN\tSNAPSHOT\tACTION")
	if dryRun {
		for _, id := range cfg.TrajIDs() {
			sum, err := tracelog.ScanFile(layout.LogPath(id))
			switch {
			case errors.Is(err, os.ErrNotExist):
				fmt.Fprintf(w, "%d\t--\t1\t%s\tnew\n", id, layout.Initial)
				continue
			case err != nil:
				return err
			}
			start := restart.StartLength(sum, full)
			action := "resume"
			if start > full {
				action = "done"
			}
			fmt.Fprintf(w, "%d\t%d\t%d\t-\t%s\n", id, start-1, start, action)
		}
		return w.Flush()
	}

	resumes, err := restart.Reconcile(layout, cfg.TrajIDs(), full)
	if err != nil {
		return err
	}
	for _, r := range resumes {
		action := "resume"
		switch {
		case r.Done(full):
			action = "done"
		case r.Removed:
			action = "log removed"
		case r.Truncated:
			action = "log truncated"
		}
		fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\n", r.TrajID, r.StartLength-1, r.StartLength, r.Snapshot, action)
	}
	return w.Flush()
}

func showStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	if _, err := os.Stat(ledgerPath); err != nil {
		return fmt.Errorf("ledger %s: %w", ledgerPath, err)
	}
	store, err := ledger.Open(ctx, ledgerPath)
	if err != nil {
		return err
	}
	defer store.Close()

	id := runID
	if id == "" {
		runs, err := store.Runs(ctx)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
			return nil
		}
		id = runs[0]
	}
	states, err := store.List(ctx, id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch format {
	case "csv":
		return ledger.WriteCSV(out, states)
	case "json":
		return ledger.WriteJSON(out, states)
	case "table":
	default:
		return fmt.Errorf("unknown format %q", format)
	}

	fmt.Fprintf(out, "run %s\n", id)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SIM_ID\tLENGTH\tSTAGE\tSTATUS\tWALL_CLOCK\tUPDATED")
	for _, st := range states {
		stageName := "--"
		if st.Stage != 0 {
			stageName = st.Stage.String()
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\n",
			st.TrajID, st.Length, stageName, st.Status,
			tracelog.Clock(st.WallClock), humanize.Time(st.UpdatedAt))
	}
	return w.Flush()
}

func resolveMask(cmd *cobra.Command, args []string) error {
	s, err := topology.ReadPSFFile(args[0])
	if err != nil {
		return err
	}
	idx, err := mask.Resolve(s, args[1])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s of %s atoms selected\n", humanize.Comma(int64(len(idx))), humanize.Comma(int64(s.NumAtoms())))
	w := tracelog.New(out)
	w.FreeAtoms(idx)
	return w.Err()
}

func plotLog(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	rows, err := tracelog.Rows(f)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("no data to plot")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "log: %s\n", args[0])
	fmt.Fprintf(out, "samples: %s\n\n", humanize.Comma(int64(len(rows))))

	series := []struct {
		caption string
		value   func(tracelog.Row) float64
	}{
		{"potential energy (kcal/mol)", func(r tracelog.Row) float64 { return r.Potential }},
		{"kinetic energy (kcal/mol)", func(r tracelog.Row) float64 { return r.Kinetic }},
		{"temperature (K)", func(r tracelog.Row) float64 { return r.Temp }},
		{"speed (ns/day)", func(r tracelog.Row) float64 { return r.Speed }},
	}
	for _, s := range series {
		data := make([]float64, len(rows))
		for i, r := range rows {
			data[i] = s.value(r)
		}
		graph := asciigraph.Plot(data,
			asciigraph.Height(plotHeight),
			asciigraph.Width(plotWidth),
			asciigraph.Caption(s.caption),
		)
		fmt.Fprintln(out, graph)
		fmt.Fprintln(out)
	}
	return nil
}
