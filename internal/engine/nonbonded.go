package engine

import (
	"math"
	"sort"

	"github.com/san-kum/ribosim/internal/forcefield"
	"github.com/san-kum/ribosim/internal/topology"
)

// Nonbonded is the pair description a backend evaluates: switched
// Lennard-Jones with CHARMM combining rules over enabled group pairs.
type Nonbonded struct {
	groups  []forcefield.Group
	enabled [][]bool
	excl    [][]int
	eps     []float64
	rmin    []float64
	cutoff  float64
	switchR float64
}

func newNonbonded(p *forcefield.Potential) *Nonbonded {
	n := p.NumAtoms()
	nb := &Nonbonded{
		groups:  append([]forcefield.Group(nil), p.Groups...),
		excl:    make([][]int, n),
		eps:     p.Epsilon,
		rmin:    p.RMin,
		cutoff:  p.Cutoff,
		switchR: p.SwitchDistance,
	}
	maxG := forcefield.Group(0)
	for _, g := range nb.groups {
		maxG = max(maxG, g)
	}
	nb.enabled = make([][]bool, maxG+1)
	for a := range nb.enabled {
		nb.enabled[a] = make([]bool, maxG+1)
		for b := range nb.enabled[a] {
			nb.enabled[a][b] = p.Enabled(forcefield.Group(a), forcefield.Group(b))
		}
	}
	for _, e := range p.Exclusions() {
		nb.excl[e[0]] = append(nb.excl[e[0]], e[1])
	}
	for i := range nb.excl {
		sort.Ints(nb.excl[i])
	}
	return nb
}

func (nb *Nonbonded) excluded(i, j int) bool {
	l := nb.excl[i]
	k := sort.SearchInts(l, j)
	return k < len(l) && l[k] == j
}

// pair accumulates the i-j interaction (i < j) into f and returns its energy.
func (nb *Nonbonded) pair(i, j int, pos, f []topology.Vec3) float64 {
	if !nb.enabled[nb.groups[i]][nb.groups[j]] {
		return 0
	}
	d := pos[i].Sub(pos[j])
	r2 := d.Dot(d)
	if nb.cutoff > 0 && r2 >= nb.cutoff*nb.cutoff {
		return 0
	}
	if r2 == 0 || nb.excluded(i, j) {
		return 0
	}
	eps := math.Sqrt(nb.eps[i] * nb.eps[j])
	if eps == 0 {
		return 0
	}
	r := math.Sqrt(r2)
	s := (nb.rmin[i] + nb.rmin[j]) / r
	s6 := s * s * s * s * s * s
	e := eps * (s6*s6 - 2*s6)
	dEdr := eps * (-12*s6*s6 + 12*s6) / r

	if nb.cutoff > 0 && nb.switchR > 0 && nb.switchR < nb.cutoff && r > nb.switchR {
		w := nb.cutoff - nb.switchR
		x := (r - nb.switchR) / w
		sw := 1 - x*x*x*(10-15*x+6*x*x)
		dsw := -30 * x * x * (1 - 2*x + x*x) / w
		dEdr = dEdr*sw + e*dsw
		e *= sw
	}
	g := d.Scale(-dEdr / r)
	f[i] = f[i].Add(g)
	f[j] = f[j].Sub(g)
	return e
}

// rows evaluates all pairs with i in [start, end).
func (nb *Nonbonded) rows(start, end int, pos, f []topology.Vec3) float64 {
	e := 0.0
	n := len(pos)
	for i := start; i < end; i++ {
		for j := i + 1; j < n; j++ {
			e += nb.pair(i, j, pos, f)
		}
	}
	return e
}
