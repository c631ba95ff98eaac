package topology

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ReadPSFFile loads a CHARMM PSF file.
func ReadPSFFile(path string) (*Structure, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	s, err := ReadPSF(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// ReadPSF parses the atom, bond, angle, dihedral and improper sections of a
// PSF. Other sections are skipped.
func ReadPSF(r io.Reader) (*Structure, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1<<16), 1<<24)
	s := &Structure{}

	for sc.Scan() {
		line := sc.Text()
		bang := strings.Index(line, "!")
		if bang < 0 {
			continue
		}
		fields := strings.Fields(line[:bang])
		if len(fields) == 0 {
			continue
		}
		count, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		section := strings.TrimSpace(line[bang+1:])
		switch {
		case strings.HasPrefix(section, "NATOM"):
			if err := readAtoms(sc, s, count); err != nil {
				return nil, err
			}
		case strings.HasPrefix(section, "NBOND"):
			ids, err := readIndices(sc, count*2)
			if err != nil {
				return nil, fmt.Errorf("psf bonds: %w", err)
			}
			for i := 0; i < len(ids); i += 2 {
				s.Bonds = append(s.Bonds, [2]int{ids[i], ids[i+1]})
			}
		case strings.HasPrefix(section, "NTHETA"):
			ids, err := readIndices(sc, count*3)
			if err != nil {
				return nil, fmt.Errorf("psf angles: %w", err)
			}
			for i := 0; i < len(ids); i += 3 {
				s.Angles = append(s.Angles, [3]int{ids[i], ids[i+1], ids[i+2]})
			}
		case strings.HasPrefix(section, "NPHI"):
			ids, err := readIndices(sc, count*4)
			if err != nil {
				return nil, fmt.Errorf("psf dihedrals: %w", err)
			}
			for i := 0; i < len(ids); i += 4 {
				s.Dihedrals = append(s.Dihedrals, [4]int{ids[i], ids[i+1], ids[i+2], ids[i+3]})
			}
		case strings.HasPrefix(section, "NIMPHI"):
			ids, err := readIndices(sc, count*4)
			if err != nil {
				return nil, fmt.Errorf("psf impropers: %w", err)
			}
			for i := 0; i < len(ids); i += 4 {
				s.Impropers = append(s.Impropers, [4]int{ids[i], ids[i+1], ids[i+2], ids[i+3]})
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(s.Atoms) == 0 {
		return nil, fmt.Errorf("psf: no atoms")
	}
	for _, b := range s.Bonds {
		if b[0] >= len(s.Atoms) || b[1] >= len(s.Atoms) {
			return nil, fmt.Errorf("psf: bond %v references missing atom", b)
		}
	}
	s.rebuildResidues()
	return s, nil
}

func readAtoms(sc *bufio.Scanner, s *Structure, n int) error {
	for len(s.Atoms) < n {
		if !sc.Scan() {
			return fmt.Errorf("psf atoms: expected %d, got %d", n, len(s.Atoms))
		}
		f := strings.Fields(sc.Text())
		if len(f) == 0 {
			continue
		}
		if len(f) < 8 {
			return fmt.Errorf("psf atoms: short line %q", sc.Text())
		}
		resid, err := strconv.Atoi(f[2])
		if err != nil {
			return fmt.Errorf("psf atoms: residue number %q: %w", f[2], err)
		}
		charge, err := strconv.ParseFloat(f[6], 64)
		if err != nil {
			return fmt.Errorf("psf atoms: charge %q: %w", f[6], err)
		}
		mass, err := strconv.ParseFloat(f[7], 64)
		if err != nil {
			return fmt.Errorf("psf atoms: mass %q: %w", f[7], err)
		}
		s.Atoms = append(s.Atoms, Atom{
			Index:     len(s.Atoms),
			Segment:   f[1],
			ResNumber: resid,
			ResName:   f[3],
			Name:      f[4],
			Type:      f[5],
			Charge:    charge,
			Mass:      mass,
		})
	}
	return nil
}

// readIndices reads n 1-based atom indices and returns them 0-based.
func readIndices(sc *bufio.Scanner, n int) ([]int, error) {
	out := make([]int, 0, n)
	for len(out) < n {
		if !sc.Scan() {
			return nil, fmt.Errorf("expected %d indices, got %d", n, len(out))
		}
		for _, f := range strings.Fields(sc.Text()) {
			v, err := strconv.Atoi(f)
			if err != nil {
				return nil, err
			}
			out = append(out, v-1)
		}
	}
	return out, nil
}

// WritePSF writes s in the extended PSF layout read by ReadPSF.
func WritePSF(w io.Writer, s *Structure, title string) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "PSF EXT\n\n%10d !NTITLE\n* %s\n\n", 1, title)
	fmt.Fprintf(bw, "%10d !NATOM\n", len(s.Atoms))
	for _, a := range s.Atoms {
		fmt.Fprintf(bw, "%10d %-8s %-8d %-8s %-8s %-6s %10.6f %13.4f %11d\n",
			a.Index+1, a.Segment, a.ResNumber, a.ResName, a.Name, a.Type, a.Charge, a.Mass, 0)
	}
	writeTuples(bw, "NBOND: bonds", 4, len(s.Bonds), func(i int) []int { return s.Bonds[i][:] })
	writeTuples(bw, "NTHETA: angles", 3, len(s.Angles), func(i int) []int { return s.Angles[i][:] })
	writeTuples(bw, "NPHI: dihedrals", 2, len(s.Dihedrals), func(i int) []int { return s.Dihedrals[i][:] })
	writeTuples(bw, "NIMPHI: impropers", 2, len(s.Impropers), func(i int) []int { return s.Impropers[i][:] })
	return bw.Flush()
}

// WritePSFFile writes s to path.
func WritePSFFile(path string, s *Structure, title string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WritePSF(f, s, title); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeTuples(w *bufio.Writer, header string, perLine, n int, get func(int) []int) {
	fmt.Fprintf(w, "\n%10d !%s\n", n, header)
	for i := 0; i < n; i++ {
		for _, id := range get(i) {
			fmt.Fprintf(w, "%10d", id+1)
		}
		if (i+1)%perLine == 0 || i == n-1 {
			w.WriteString("\n")
		}
	}
}
