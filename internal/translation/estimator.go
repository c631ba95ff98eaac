package translation

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Estimator turns a codon sequence into one mean first-passage time per
// codon position, accounting for ribosome traffic on the transcript.
type Estimator interface {
	Estimate(ctx context.Context, codons []string, table CodonTable, initiationRate float64) ([]float64, error)
}

// CommandEstimator runs an external traffic estimator. The program is
// called as
//
//	<Path> <mrna file> <codon table file> <initiation rate>
//
// and must print one time per line, one line per codon.
type CommandEstimator struct {
	Path string
	// WorkDir holds the temporary input files. Empty uses os.TempDir.
	WorkDir string
}

func (c CommandEstimator) Estimate(ctx context.Context, codons []string, table CodonTable, initiationRate float64) ([]float64, error) {
	dir, err := os.MkdirTemp(c.WorkDir, "traffic-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	mrna := filepath.Join(dir, "mrna.dat")
	if err := os.WriteFile(mrna, []byte(strings.Join(codons, "")+"\n"), 0o644); err != nil {
		return nil, err
	}
	var tb bytes.Buffer
	if err := table.Write(&tb, codons); err != nil {
		return nil, err
	}
	times := filepath.Join(dir, "trans_times.txt")
	if err := os.WriteFile(times, tb.Bytes(), 0o644); err != nil {
		return nil, err
	}

	args := []string{mrna, times, strconv.FormatFloat(initiationRate, 'g', -1, 64)}
	cmd := exec.CommandContext(ctx, c.Path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("%s %s: %s", c.Path, strings.Join(args, " "), msg)
	}

	out, err := parseTimes(stdout.Bytes(), len(codons))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.Path, err)
	}
	slog.Default().With("component", "translation").Debug("traffic estimate", "codons", len(codons), "rate", initiationRate)
	return out, nil
}

func parseTimes(data []byte, want int) ([]float64, error) {
	var out []float64
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		s := strings.TrimSpace(sc.Text())
		if s == "" {
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", len(out)+1, err)
		}
		out = append(out, v)
	}
	if len(out) < want {
		return nil, fmt.Errorf("got %d times for %d codons", len(out), want)
	}
	return out[:want], nil
}
