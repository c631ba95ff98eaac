// Package tracelog writes and reads the per-trajectory progress log.
//
// The log is append-only plain text. Marker lines start with "-->" and
// drive restart reconciliation and the status monitor; everything else is
// informational. Diagnostic rows use fixed-width columns so the file stays
// readable with tail.
package tracelog

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"time"
)

const (
	MarkerElongation  = "--> Elongation at length "
	MarkerFinished    = "--> Elongation finished at length "
	MarkerTermination = "--> Elongation termination at length "
	MarkerAllDone     = "--> All Done"
)

// Separator is the rule written between residues.
var Separator = strings.Repeat("#", 92)

// Writer appends progress lines. The first write error is kept and
// returned by Err and Close; later writes are dropped.
type Writer struct {
	w   io.Writer
	c   io.Closer
	err error
}

func New(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Open appends to the log at path, creating it if needed.
func Open(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Writer{w: f, c: f}, nil
}

func (w *Writer) Err() error { return w.err }

func (w *Writer) Close() error {
	if w.c != nil {
		if err := w.c.Close(); err != nil && w.err == nil {
			w.err = err
		}
		w.c = nil
	}
	return w.err
}

func (w *Writer) printf(format string, args ...any) {
	if w.err != nil {
		return
	}
	_, w.err = fmt.Fprintf(w.w, format, args...)
}

func (w *Writer) Separator() { w.printf("%s\n", Separator) }

func (w *Writer) ElongationStart(length int, seed int64) {
	w.printf("%s%d with random seed %d\n", MarkerElongation, length, seed)
}

// Dwell is one sampled waiting time and its step budget.
type Dwell struct {
	// Name is the event the dwell precedes, e.g. "peptidyl transfer".
	Name   string
	Before string
	// MeanVivo is in seconds; MeanSilico and Sampled are in nanoseconds.
	MeanVivo   float64
	MeanSilico float64
	Sampled    float64
	Steps      int64
}

func (w *Writer) Dwell(d Dwell) {
	w.printf("    Mean in vivo %s dwell time: %f s\n", d.Name, d.MeanVivo)
	w.printf("    Mean in silico %s dwell time: %f ns\n", d.Name, d.MeanSilico)
	w.printf("    Sampled in silico %s dwell time: %f ns\n", d.Name, d.Sampled)
	w.printf("    Simulation steps for in silico dwell time before %s: %d\n", d.Before, d.Steps)
}

// FreeAtoms lists the free atom indices, ten per row.
func (w *Writer) FreeAtoms(idx []int) {
	if len(idx) == 0 {
		w.printf("    Free atom index: None\n")
		return
	}
	w.printf("    Free atom index:\n")
	for i := 0; i < len(idx); i += 10 {
		var b strings.Builder
		b.WriteString(strings.Repeat(" ", 20))
		for _, v := range idx[i:min(i+10, len(idx))] {
			fmt.Fprintf(&b, "%5d ", v)
		}
		w.printf("%s\n", b.String())
	}
}

func (w *Writer) SphericalRestraint(enabled bool, center [3]float64, radius float64) {
	if !enabled {
		w.printf("    Spherical restraint: None\n")
		return
	}
	w.printf("    Spherical restraint: Center [%g, %g, %g]; Radius %.4f\n", center[0], center[1], center[2], radius)
}

// CreateSystem announces the force model for a stage. what is the stage
// description, e.g. "A-site tRNA binding".
func (w *Writer) CreateSystem(what string) { w.printf("--> Create system for %s\n", what) }

func (w *Writer) Done() { w.printf("    Done\n") }

func (w *Writer) EnergyBefore(e float64) {
	w.printf("    Potential energy before minimization: %.4f kcal/mol\n", e)
}

func (w *Writer) EnergyAfter(e float64) {
	w.printf("    Potential energy after minimization: %.4f kcal/mol\n", e)
}

// Energies writes a per-group energy decomposition. order fixes the row
// order; groups missing from order follow alphabetically.
func (w *Writer) Energies(groups map[string]float64, order []string) {
	w.printf("    Potential Energy:\n")
	for _, k := range orderedKeys(groups, order) {
		w.printf("      %s: %.4f kcal/mol\n", k, groups[k])
	}
}

func (w *Writer) MaxForces(groups map[string]float64, order []string) {
	w.printf("    Maximum Force:\n")
	for _, k := range orderedKeys(groups, order) {
		w.printf("      %s: %.4f\n", k, groups[k])
	}
}

func orderedKeys(m map[string]float64, order []string) []string {
	keys := make([]string, 0, len(m))
	seen := make(map[string]bool, len(m))
	for _, k := range order {
		if _, ok := m[k]; ok {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	var rest []string
	for k := range m {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

func (w *Writer) MinimizationCrash(label string, err error) {
	w.printf("Error: crashed at min%s\n", label)
	w.printf("%v\n", err)
}

// RunningMD records the device and seed of a production run.
func (w *Writer) RunningMD(accelerator bool, threads int, seed int64) {
	if accelerator {
		w.printf("    Running MD on GPUs with random seed %d\n", seed)
		return
	}
	w.printf("    Running MD on %d CPUs with random seed %d\n", threads, seed)
}

// Row is one diagnostic interval.
type Row struct {
	Progress  float64 // percent of the step budget
	Step      int64
	Potential float64
	Kinetic   float64
	Temp      float64
	DMin      float64
	Speed     float64 // ns/day
	Remaining time.Duration
}

func (w *Writer) CycleHeader() {
	w.printf("    %6s %11s %15s %15s %7s %11s %11s\n",
		"Progress", "Step", "Ep(kcal/mol)", "Ek(kcal/mol)", "Temp(K)", "Speed(ns/d)", "Time_remain")
}

func (w *Writer) CycleRow(r Row) {
	w.printf("    %7.1f%% %11d %15.4f %15.4f %7.1f %11.1f %11s\n",
		r.Progress, r.Step, r.Potential, r.Kinetic, r.Temp, r.Speed, Clock(r.Remaining))
}

func (w *Writer) TerminalHeader() {
	w.printf("    %11s %15s %15s %7s %10s %11s\n",
		"Step", "Ep(kcal/mol)", "Ek(kcal/mol)", "Temp(K)", "d_min(A)", "Speed(ns/d)")
}

func (w *Writer) TerminalRow(r Row) {
	w.printf("    %11d %15.4f %15.4f %7.1f %10.3f %11.1f\n",
		r.Step, r.Potential, r.Kinetic, r.Temp, r.DMin, r.Speed)
}

func (w *Writer) StepCrash(step int64, err error) {
	w.printf("Error: crashed at step %d:\n", step)
	w.printf("%v\n", err)
}

func (w *Writer) Kinetic(e float64) { w.printf("    Kinetic energy is %.4f kcal/mol\n", e) }

func (w *Writer) DoneAt(step int64) { w.printf("    Done at step %d\n", step) }

func (w *Writer) Finished(length int) { w.printf("%s%d\n", MarkerFinished, length) }

func (w *Writer) Termination(length int) { w.printf("%s%d\n", MarkerTermination, length) }

func (w *Writer) Ejection(seed int64) {
	w.printf("--> Nascent chain ejection with random seed %d\n", seed)
}

func (w *Writer) Dissociation(seed int64) {
	w.printf("--> Nascent chain dissociation with random seed %d\n", seed)
}

func (w *Writer) AllDone() {
	w.Separator()
	w.printf("%s\n", MarkerAllDone)
}

// Clock formats d as h:mm:ss.
func Clock(d time.Duration) string {
	if d < 0 || math.IsInf(d.Seconds(), 0) {
		d = 0
	}
	s := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", s/3600, s/60%60, s%60)
}
