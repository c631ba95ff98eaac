package topology

import "fmt"

// Prefix keeps the first n residues of s together with every bonded term
// fully inside them.
func (s *Structure) Prefix(n int) (*Structure, error) {
	if n < 0 || n > len(s.Residues) {
		return nil, fmt.Errorf("topology: prefix %d out of range (have %d residues)", n, len(s.Residues))
	}
	var keep []int
	for _, r := range s.Residues[:n] {
		keep = append(keep, r.Atoms...)
	}
	return s.Select(keep), nil
}

// Select returns the sub-structure made of the given atom indices, in the
// order given. Terms that reference an unselected atom are dropped.
func (s *Structure) Select(indices []int) *Structure {
	remap := make(map[int]int, len(indices))
	out := &Structure{}
	for _, old := range indices {
		if _, dup := remap[old]; dup {
			continue
		}
		a := s.Atoms[old]
		a.Index = len(out.Atoms)
		remap[old] = a.Index
		out.Atoms = append(out.Atoms, a)
	}
	out.copyTerms(s, remap)
	out.rebuildResidues()
	return out
}

// Combine concatenates structures in order. Atom indices are reassigned so
// the first structure's atoms come first; segment labels and residue
// numbers are kept as given.
func Combine(parts ...*Structure) *Structure {
	out := &Structure{}
	for _, p := range parts {
		remap := make(map[int]int, len(p.Atoms))
		for _, a := range p.Atoms {
			old := a.Index
			a.Index = len(out.Atoms)
			remap[old] = a.Index
			out.Atoms = append(out.Atoms, a)
		}
		out.copyTerms(p, remap)
	}
	out.rebuildResidues()
	return out
}

// Renumber rewrites residue numbers of segments other than skip from the
// numbers list, in residue order.
func (s *Structure) Renumber(skip string, numbers []int) error {
	idx := 0
	for ri := range s.Residues {
		r := &s.Residues[ri]
		if r.Segment == skip {
			continue
		}
		if idx >= len(numbers) {
			return fmt.Errorf("topology: renumber list exhausted at residue %d", ri)
		}
		r.Number = numbers[idx]
		for _, ai := range r.Atoms {
			s.Atoms[ai].ResNumber = numbers[idx]
		}
		idx++
	}
	return nil
}

// ResidueNumbers lists residue numbers in order, for a later Renumber.
func (s *Structure) ResidueNumbers() []int {
	out := make([]int, len(s.Residues))
	for i, r := range s.Residues {
		out[i] = r.Number
	}
	return out
}

func (s *Structure) copyTerms(src *Structure, remap map[int]int) {
	get := func(ids ...int) ([]int, bool) {
		out := make([]int, len(ids))
		for i, id := range ids {
			n, ok := remap[id]
			if !ok {
				return nil, false
			}
			out[i] = n
		}
		return out, true
	}
	for _, b := range src.Bonds {
		if m, ok := get(b[0], b[1]); ok {
			s.Bonds = append(s.Bonds, [2]int{m[0], m[1]})
		}
	}
	for _, a := range src.Angles {
		if m, ok := get(a[0], a[1], a[2]); ok {
			s.Angles = append(s.Angles, [3]int{m[0], m[1], m[2]})
		}
	}
	for _, d := range src.Dihedrals {
		if m, ok := get(d[0], d[1], d[2], d[3]); ok {
			s.Dihedrals = append(s.Dihedrals, [4]int{m[0], m[1], m[2], m[3]})
		}
	}
	for _, d := range src.Impropers {
		if m, ok := get(d[0], d[1], d[2], d[3]); ok {
			s.Impropers = append(s.Impropers, [4]int{m[0], m[1], m[2], m[3]})
		}
	}
}

// rebuildResidues groups consecutive atoms sharing segment and residue
// number into residues.
func (s *Structure) rebuildResidues() {
	s.Residues = s.Residues[:0]
	for i := range s.Atoms {
		a := &s.Atoms[i]
		n := len(s.Residues)
		if n == 0 || s.Residues[n-1].Segment != a.Segment || s.Residues[n-1].Number != a.ResNumber {
			s.Residues = append(s.Residues, Residue{Segment: a.Segment, Number: a.ResNumber, Name: a.ResName})
			n++
		}
		s.Residues[n-1].Atoms = append(s.Residues[n-1].Atoms, a.Index)
		a.Residue = n - 1
	}
}
