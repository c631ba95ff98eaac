// Package mask evaluates atom selection expressions against a structure.
//
// An expression is a '|' separated list of blocks:
//
//	block := segments [':' residues ['@' names]]
//
// Each list is comma separated and may be empty, meaning any value.
// Residue entries are single numbers or inclusive "a - b" ranges:
//
//	L24 : 42 - 56
//	AtR,PtR : 76 @ R | L4 : 60, 63 - 70
package mask

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/san-kum/ribosim/internal/topology"
)

type MalformedMaskError struct {
	Expr   string
	Reason string
}

func (e *MalformedMaskError) Error() string {
	return fmt.Sprintf("mask: malformed expression %q: %s", e.Expr, e.Reason)
}

type Range struct{ Lo, Hi int }

type Block struct {
	Segments []string
	Ranges   []Range
	Names    []string
}

type Mask struct {
	Expr   string
	Blocks []Block
}

// Parse compiles expr. An empty expression parses to an empty mask.
func Parse(expr string) (Mask, error) {
	m := Mask{Expr: expr}
	if strings.TrimSpace(expr) == "" {
		return m, nil
	}
	fail := func(format string, args ...any) (Mask, error) {
		return Mask{}, &MalformedMaskError{Expr: expr, Reason: fmt.Sprintf(format, args...)}
	}

	for _, raw := range strings.Split(expr, "|") {
		if strings.TrimSpace(raw) == "" {
			return fail("empty selection block")
		}
		var b Block
		segPart, rest, hasRes := strings.Cut(raw, ":")
		if strings.Contains(segPart, "@") {
			return fail("atom names require a residue section")
		}
		b.Segments = splitList(segPart)

		if hasRes {
			if strings.Contains(rest, ":") {
				return fail("more than one ':' in block %q", strings.TrimSpace(raw))
			}
			resPart, namePart, hasNames := strings.Cut(rest, "@")
			if hasNames && strings.Contains(namePart, "@") {
				return fail("more than one '@' in block %q", strings.TrimSpace(raw))
			}
			for _, entry := range splitList(resPart) {
				r, err := parseRange(entry)
				if err != nil {
					return fail("%v", err)
				}
				b.Ranges = append(b.Ranges, r)
			}
			if hasNames {
				b.Names = splitList(namePart)
			}
		}
		m.Blocks = append(m.Blocks, b)
	}
	return m, nil
}

func parseRange(entry string) (Range, error) {
	lo, hi, isRange := strings.Cut(entry, "-")
	a, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return Range{}, fmt.Errorf("bad residue number %q", entry)
	}
	if !isRange {
		return Range{a, a}, nil
	}
	b, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		return Range{}, fmt.Errorf("bad residue range %q", entry)
	}
	if a > b {
		return Range{}, fmt.Errorf("empty residue range %q", entry)
	}
	return Range{a, b}, nil
}

func splitList(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func (b Block) matches(a topology.Atom) bool {
	if len(b.Segments) > 0 && !contains(b.Segments, a.Segment) {
		return false
	}
	if len(b.Names) > 0 && !contains(b.Names, a.Name) {
		return false
	}
	if len(b.Ranges) == 0 {
		return true
	}
	for _, r := range b.Ranges {
		if a.ResNumber >= r.Lo && a.ResNumber <= r.Hi {
			return true
		}
	}
	return false
}

// Select returns the sorted, de-duplicated indices of atoms matching any block.
func (m Mask) Select(s *topology.Structure) []int {
	if len(m.Blocks) == 0 {
		return nil
	}
	seen := make(map[int]struct{})
	for _, a := range s.Atoms {
		for _, b := range m.Blocks {
			if b.matches(a) {
				seen[a.Index] = struct{}{}
				break
			}
		}
	}
	out := make([]int, 0, len(seen))
	for idx := range seen {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// Resolve parses expr and selects it against s.
func Resolve(s *topology.Structure, expr string) ([]int, error) {
	m, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	return m.Select(s), nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
