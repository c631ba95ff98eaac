package topology

import (
	"fmt"
	"math"
)

type Vec3 [3]float64

func (v Vec3) Add(o Vec3) Vec3      { return Vec3{v[0] + o[0], v[1] + o[1], v[2] + o[2]} }
func (v Vec3) Sub(o Vec3) Vec3      { return Vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]} }
func (v Vec3) Scale(f float64) Vec3 { return Vec3{v[0] * f, v[1] * f, v[2] * f} }
func (v Vec3) Dot(o Vec3) float64   { return v[0]*o[0] + v[1]*o[1] + v[2]*o[2] }
func (v Vec3) Norm() float64        { return math.Sqrt(v.Dot(v)) }

func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		v[1]*o[2] - v[2]*o[1],
		v[2]*o[0] - v[0]*o[2],
		v[0]*o[1] - v[1]*o[0],
	}
}

func (v Vec3) IsValid() bool {
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

type Atom struct {
	Index     int
	Name      string
	Type      string
	Segment   string
	ResNumber int
	ResName   string
	Mass      float64
	Charge    float64
	// Residue is the position of the owning residue in Structure.Residues.
	Residue int
}

type Residue struct {
	Segment string
	Number  int
	Name    string
	Atoms   []int
}

// Structure is an ordered set of residues with the bonded connectivity
// carried by a PSF. Term tuples hold atom indices.
type Structure struct {
	Atoms     []Atom
	Residues  []Residue
	Bonds     [][2]int
	Angles    [][3]int
	Dihedrals [][4]int
	Impropers [][4]int
}

func (s *Structure) NumAtoms() int { return len(s.Atoms) }

// Clone returns a deep copy; cycles own their structure for the trajectory lifetime.
func (s *Structure) Clone() *Structure {
	c := &Structure{
		Atoms:     append([]Atom(nil), s.Atoms...),
		Residues:  make([]Residue, len(s.Residues)),
		Bonds:     append([][2]int(nil), s.Bonds...),
		Angles:    append([][3]int(nil), s.Angles...),
		Dihedrals: append([][4]int(nil), s.Dihedrals...),
		Impropers: append([][4]int(nil), s.Impropers...),
	}
	for i, r := range s.Residues {
		r.Atoms = append([]int(nil), r.Atoms...)
		c.Residues[i] = r
	}
	return c
}

// SegmentAtoms returns the indices of every atom whose segment is seg.
func (s *Structure) SegmentAtoms(seg string) []int {
	var out []int
	for _, a := range s.Atoms {
		if a.Segment == seg {
			out = append(out, a.Index)
		}
	}
	return out
}

// LastResidue returns the last residue of segment seg.
func (s *Structure) LastResidue(seg string) (Residue, bool) {
	for i := len(s.Residues) - 1; i >= 0; i-- {
		if s.Residues[i].Segment == seg {
			return s.Residues[i], true
		}
	}
	return Residue{}, false
}

// AtomInResidue finds the atom called name inside res.
func (s *Structure) AtomInResidue(res Residue, name string) (int, error) {
	for _, idx := range res.Atoms {
		if s.Atoms[idx].Name == name {
			return idx, nil
		}
	}
	return -1, fmt.Errorf("topology: no atom %q in residue %s:%d", name, res.Segment, res.Number)
}

// CountResidues returns the number of residues in segment seg.
func (s *Structure) CountResidues(seg string) int {
	n := 0
	for _, r := range s.Residues {
		if r.Segment == seg {
			n++
		}
	}
	return n
}
