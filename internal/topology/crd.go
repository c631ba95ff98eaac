package topology

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// VelocitySuffix is appended to a snapshot path for its velocity block.
const VelocitySuffix = ".vel"

// Snapshot is a positions/velocities pair in structure atom order.
type Snapshot struct {
	Positions  []Vec3
	Velocities []Vec3
}

// WriteCRD writes coords for s in the CHARMM extended CRD layout.
func WriteCRD(w io.Writer, s *Structure, coords []Vec3, title string) error {
	if len(coords) != len(s.Atoms) {
		return fmt.Errorf("crd: %d coordinates for %d atoms", len(coords), len(s.Atoms))
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "* %s\n*\n%10d  EXT\n", title, len(s.Atoms))
	for i, a := range s.Atoms {
		c := coords[i]
		fmt.Fprintf(bw, "%10d%10d  %-8s  %-8s%20.10f%20.10f%20.10f  %-8s  %-8d%20.10f\n",
			i+1, a.Residue+1, a.ResName, a.Name, c[0], c[1], c[2], a.Segment, a.ResNumber, 0.0)
	}
	return bw.Flush()
}

// ReadCRD parses a CRD file. The returned atoms carry identity fields only.
func ReadCRD(r io.Reader) ([]Atom, []Vec3, error) {
	sc := bufio.NewScanner(r)
	n := -1
	var atoms []Atom
	var coords []Vec3
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "*") {
			continue
		}
		f := strings.Fields(line)
		if n < 0 {
			v, err := strconv.Atoi(f[0])
			if err != nil {
				return nil, nil, fmt.Errorf("crd: atom count %q: %w", f[0], err)
			}
			n = v
			continue
		}
		if len(f) < 9 {
			return nil, nil, fmt.Errorf("crd: short line %q", line)
		}
		var c Vec3
		for k := 0; k < 3; k++ {
			v, err := strconv.ParseFloat(f[4+k], 64)
			if err != nil {
				return nil, nil, fmt.Errorf("crd: coordinate %q: %w", f[4+k], err)
			}
			c[k] = v
		}
		resid, err := strconv.Atoi(f[8])
		if err != nil {
			return nil, nil, fmt.Errorf("crd: residue number %q: %w", f[8], err)
		}
		atoms = append(atoms, Atom{Index: len(atoms), ResName: f[2], Name: f[3], Segment: f[7], ResNumber: resid})
		coords = append(coords, c)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	if n < 0 || len(coords) != n {
		return nil, nil, fmt.Errorf("crd: header says %d atoms, read %d", n, len(coords))
	}
	return atoms, coords, nil
}

// SaveSnapshot writes positions to path and, when present, velocities to
// path+VelocitySuffix.
func SaveSnapshot(path string, s *Structure, snap Snapshot) error {
	if err := writeCRDFile(path, s, snap.Positions, "positions (A)"); err != nil {
		return err
	}
	if snap.Velocities == nil {
		return nil
	}
	return writeCRDFile(path+VelocitySuffix, s, snap.Velocities, "velocities (A/ps)")
}

// LoadSnapshot reads a snapshot written by SaveSnapshot. A missing velocity
// file leaves Velocities nil.
func LoadSnapshot(path string) (Snapshot, error) {
	var snap Snapshot
	pos, err := readCRDFile(path)
	if err != nil {
		return snap, err
	}
	snap.Positions = pos
	vel, err := readCRDFile(path + VelocitySuffix)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return snap, err
	}
	snap.Velocities = vel
	return snap, nil
}

func writeCRDFile(path string, s *Structure, coords []Vec3, title string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteCRD(f, s, coords, title); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func readCRDFile(path string) ([]Vec3, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	_, coords, err := ReadCRD(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return coords, nil
}
