package mask

import (
	"errors"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/san-kum/ribosim/internal/topology"
)

func testStructure() *topology.Structure {
	var atoms []topology.Atom
	add := func(seg string, res int, names ...string) {
		for _, n := range names {
			atoms = append(atoms, topology.Atom{Index: len(atoms), Segment: seg, ResNumber: res, Name: n})
		}
	}
	for r := 1; r <= 4; r++ {
		add("A", r, "CA")
	}
	add("L24", 41, "B1")
	add("L24", 42, "B1", "S1")
	add("L24", 50, "B1")
	add("L24", 56, "B1")
	add("L24", 57, "B1")
	add("AtR", 76, "P", "R", "PU2")
	return topology.Combine(&topology.Structure{Atoms: atoms})
}

func TestResolve(t *testing.T) {
	s := testStructure()

	tests := []struct {
		name string
		expr string
		want []int
	}{
		{"segment only", "A", []int{0, 1, 2, 3}},
		{"range", "L24 : 42 - 56", []int{5, 6, 7, 8}},
		{"single residues", "L24 : 41, 57", []int{4, 9}},
		{"atom name", "AtR : 76 @ R", []int{11}},
		{"name across segments", ": @ B1", []int{4, 5, 7, 8, 9}},
		{"union", "A : 1 | AtR : @ P, PU2", []int{0, 10, 12}},
		{"overlap deduplicated", "A : 1 - 2 | A : 2 - 3", []int{0, 1, 2}},
		{"no match", "PtR", []int{}},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(s, tt.expr)
			if err != nil {
				t.Fatalf("Resolve(%q): %v", tt.expr, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Resolve(%q) = %v, want %v", tt.expr, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Resolve(%q) = %v, want %v", tt.expr, got, tt.want)
					break
				}
			}
		})
	}
}

func TestWildcardMatchesEverything(t *testing.T) {
	g := NewWithT(t)
	s := testStructure()

	got, err := Resolve(s, " : ")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(got).To(HaveLen(s.NumAtoms()))
}

func TestResolveIsOrderIndependentAndIdempotent(t *testing.T) {
	g := NewWithT(t)
	s := testStructure()

	a, err := Resolve(s, "AtR : 76 @ R | L24 : 42 - 56 | A : 3")
	g.Expect(err).NotTo(HaveOccurred())
	b, err := Resolve(s, "A : 3 | AtR : 76 @ R | L24 : 56, 42 - 50")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(b).To(Equal(a))

	m, err := Parse("AtR : 76 @ R | L24 : 42 - 56 | A : 3")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(m.Select(s)).To(Equal(m.Select(s)))
}

func TestMalformed(t *testing.T) {
	bad := []string{
		"L24 : x",
		"L24 : 56 - 42",
		"L24 : 1 - ",
		"L24 @ B1",
		"A : 1 : 2",
		"A : 1 @ CA @ CB",
		"A |",
	}
	for _, expr := range bad {
		_, err := Parse(expr)
		var me *MalformedMaskError
		if !errors.As(err, &me) {
			t.Errorf("Parse(%q): expected MalformedMaskError, got %v", expr, err)
		}
	}
}
