package tracelog

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
)

// Summary is what a progress log says about its trajectory.
type Summary struct {
	// LastFinished is the length of the last "finished" marker, 0 if none.
	LastFinished int
	AllDone      bool
	// CurrentLength is the length of the last "Elongation at length" marker.
	CurrentLength int
	LastLine      string
}

// ParseFinished returns the length carried by a "finished" marker line.
func ParseFinished(line string) (int, bool) {
	return markerInt(line, MarkerFinished)
}

// ParseElongation returns the length of an "Elongation at length" line.
func ParseElongation(line string) (int, bool) {
	return markerInt(line, MarkerElongation)
}

func markerInt(line, marker string) (int, bool) {
	rest, ok := strings.CutPrefix(line, marker)
	if !ok {
		return 0, false
	}
	f := strings.Fields(rest)
	if len(f) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(f[0])
	if err != nil {
		return 0, false
	}
	return n, true
}

func Scan(r io.Reader) (Summary, error) {
	var s Summary
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if n, ok := ParseFinished(line); ok {
			s.LastFinished = n
		} else if n, ok := ParseElongation(line); ok {
			s.CurrentLength = n
		} else if strings.HasPrefix(line, MarkerAllDone) {
			s.AllDone = true
		}
		if t := strings.TrimSpace(line); t != "" {
			s.LastLine = t
		}
	}
	return s, sc.Err()
}

func ScanFile(path string) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, err
	}
	defer f.Close()
	return Scan(f)
}

// ParseRow reads a diagnostic row written by CycleRow or TerminalRow.
func ParseRow(line string) (Row, bool) {
	// Free atom rows are bare integers; real rows always carry a
	// decimal energy in the second column.
	f := strings.Fields(line)
	var r Row
	var err error
	num := func(s string) float64 {
		if err != nil {
			return 0
		}
		var v float64
		v, err = strconv.ParseFloat(s, 64)
		return v
	}
	switch {
	case len(f) == 7 && strings.HasSuffix(f[0], "%"):
		r.Progress = num(strings.TrimSuffix(f[0], "%"))
		r.Step = int64(num(f[1]))
		r.Potential = num(f[2])
		r.Kinetic = num(f[3])
		r.Temp = num(f[4])
		r.Speed = num(f[5])
	case len(f) == 6 && strings.Contains(f[1], "."):
		r.Step = int64(num(f[0]))
		r.Potential = num(f[1])
		r.Kinetic = num(f[2])
		r.Temp = num(f[3])
		r.DMin = num(f[4])
		r.Speed = num(f[5])
	default:
		return Row{}, false
	}
	return r, err == nil
}

// Rows returns every diagnostic row in r, in file order.
func Rows(r io.Reader) ([]Row, error) {
	var rows []Row
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if row, ok := ParseRow(sc.Text()); ok {
			rows = append(rows, row)
		}
	}
	return rows, sc.Err()
}
