package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/san-kum/ribosim/internal/config"
	"github.com/san-kum/ribosim/internal/stage"
)

var (
	verbose    bool
	useTUI     bool
	eventsLog  string
	runID      string
	ledgerPath string
	format     string
	dryRun     bool
	dot        bool
	plotHeight int
	plotWidth  int
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "ribosim",
		Short:         "continuous synthesis of nascent chains on the ribosome",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	runCmd := &cobra.Command{
		Use:   "run [control.yaml]",
		Short: "run or resume the trajectories of a control file",
		Args:  cobra.ExactArgs(1),
		RunE:  runSynthesis,
	}
	runCmd.Flags().BoolVar(&useTUI, "tui", false, "show the live status table")
	runCmd.Flags().StringVar(&eventsLog, "events", "", "write structured logs to this file instead of stderr")
	runCmd.Flags().StringVar(&runID, "run-id", "", "ledger run identifier (default: random)")

	reconcileCmd := &cobra.Command{
		Use:   "reconcile [control.yaml]",
		Short: "report where each trajectory resumes, trimming stale log records",
		Args:  cobra.ExactArgs(1),
		RunE:  reconcileRun,
	}
	reconcileCmd.Flags().BoolVar(&dryRun, "dry-run", false, "only report, leave logs untouched")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "show trajectory states recorded in the ledger",
		Args:  cobra.NoArgs,
		RunE:  showStatus,
	}
	statusCmd.Flags().StringVar(&ledgerPath, "ledger", "ribosim.db", "ledger database")
	statusCmd.Flags().StringVar(&runID, "run-id", "", "run to show (default: latest)")
	statusCmd.Flags().StringVar(&format, "format", "table", "table, csv or json")

	maskCmd := &cobra.Command{
		Use:   "mask [structure.psf] [expression]",
		Short: "resolve a selection mask against a structure",
		Args:  cobra.ExactArgs(2),
		RunE:  resolveMask,
	}

	stagesCmd := &cobra.Command{
		Use:   "stages",
		Short: "print the elongation state machine",
		Args:  cobra.NoArgs,
		RunE:  printStages,
	}
	stagesCmd.Flags().BoolVar(&dot, "dot", false, "emit a Graphviz digraph")

	plotCmd := &cobra.Command{
		Use:   "plot [trajectory.out]",
		Short: "plot per-interval diagnostics of a progress log",
		Args:  cobra.ExactArgs(1),
		RunE:  plotLog,
	}
	plotCmd.Flags().IntVar(&plotHeight, "height", 10, "plot height")
	plotCmd.Flags().IntVar(&plotWidth, "width", 80, "plot width")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list dwell-time presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTAGE_1 (s)\tSTAGE_2 (s)\tSCALE\tDESCRIPTION")
			for _, name := range config.ListPresets() {
				p, _ := config.GetPreset(name)
				fmt.Fprintf(w, "%s\t%g\t%g\t%g\t%s\n", name, p.TimeStage1, p.TimeStage2, p.ScaleFactor, p.Description)
			}
			return w.Flush()
		},
	}

	rootCmd.AddCommand(runCmd, reconcileCmd, statusCmd, maskCmd, stagesCmd, plotCmd, presetsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setupLogging installs the default slog handler writing to out.
func setupLogging(out io.Writer) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})))
}

func printStages(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if dot {
		g, err := stage.MachineDOT()
		if err != nil {
			return err
		}
		_, err = io.WriteString(out, g)
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FROM\tTO\tWHEN")
	for _, t := range stage.Transitions() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", t.From, t.To, strings.TrimSpace(t.Cond))
	}
	return w.Flush()
}
