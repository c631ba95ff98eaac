package forcefield

import (
	"fmt"

	"github.com/san-kum/ribosim/internal/topology"
)

// Energy conventions: harmonic bonds and angles are 0.5*K*(x-x0)^2,
// impropers K*(phi-phi0)^2, torsions K*(1+cos(n*phi-phase)). Lengths in
// Angstrom, angles in radians, energies in kcal/mol.

type Constraint struct {
	Atoms  [2]int
	Length float64
	K      float64 // stiffness of the bond parameter it was built from
}

type Bond struct {
	Atoms  [2]int
	Length float64
	K      float64
}

type Angle struct {
	Atoms  [3]int
	Theta0 float64
	K      float64
}

// DoubleWellAngle is
//
//	-1/gamma * ln(exp(-gamma*(ka*(t-ta)^2 + epsA)) + exp(-gamma*kb*(t-tb)^2))
type DoubleWellAngle struct {
	Atoms       [3]int
	Ka, ThetaA  float64
	Kb, ThetaB  float64
	Gamma, EpsA float64
}

type Torsion struct {
	Atoms [4]int
	K     float64
	N     int
	Phase float64
}

type Improper struct {
	Atoms [4]int
	K     float64
	Phi0  float64
}

// Group is a nonbonded interaction group.
type Group int

const (
	GroupFixed Group = iota
	GroupFree
	GroupChain
	GroupDonor
	GroupAcceptor
	numGroups
)

var groupNames = [numGroups]string{"fixed", "free", "chain", "donor", "acceptor"}

func (g Group) String() string {
	if g >= 0 && g < numGroups {
		return groupNames[g]
	}
	return fmt.Sprintf("group(%d)", int(g))
}

// SphericalRestraint is k*max(|r-c|-R0, 0)^2 on Atoms. When Track is set
// the center follows the mass-weighted center of Track.
type SphericalRestraint struct {
	Atoms  []int
	K      float64
	Radius float64
	Center topology.Vec3
	Track  []int
}

// DirectionalBias is k*min(x-X0, 0)^2 on Atoms.
type DirectionalBias struct {
	Atoms []int
	K     float64
	X0    float64
}

// PositionRestraint is k*|r-ref|^2 per atom.
type PositionRestraint struct {
	Atoms []int
	Refs  []topology.Vec3
	K     float64
}

// Role names the chain term owned by a residue position.
type Role int

const (
	RoleChainBond Role = iota
	RoleChainAngle
	RoleChainTorsion
)

func (r Role) String() string {
	switch r {
	case RoleChainBond:
		return "chain-bond"
	case RoleChainAngle:
		return "chain-angle"
	case RoleChainTorsion:
		return "chain-torsion"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// TermKey addresses the chain terms ending at a 1-based residue position.
type TermKey struct {
	Residue int
	Role    Role
}

// Potential is the full force description handed to an engine.
type Potential struct {
	Masses         []float64
	Epsilon        []float64
	RMin           []float64
	Cutoff         float64
	SwitchDistance float64
	RemoveCMMotion bool

	Groups  []Group
	enabled [numGroups][numGroups]bool

	Sphere   *SphericalRestraint
	Bias     *DirectionalBias
	Scaffold PositionRestraint

	constraints table[Constraint]
	bonds       table[Bond]
	angles      table[Angle]
	wells       table[DoubleWellAngle]
	torsions    table[Torsion]
	impropers   table[Improper]

	exclusions map[[2]int]int
	registry   map[TermKey][]Handle
}

// NewPotential returns an empty potential over n atoms with every group
// pair enabled.
func NewPotential(n int) *Potential {
	p := &Potential{
		Masses:     make([]float64, n),
		Epsilon:    make([]float64, n),
		RMin:       make([]float64, n),
		Groups:     make([]Group, n),
		exclusions: make(map[[2]int]int),
		registry:   make(map[TermKey][]Handle),
	}
	p.EnableAll()
	return p
}

func (p *Potential) NumAtoms() int { return len(p.Masses) }

// Clone returns a deep copy.
func (p *Potential) Clone() *Potential {
	c := *p
	c.Masses = append([]float64(nil), p.Masses...)
	c.Epsilon = append([]float64(nil), p.Epsilon...)
	c.RMin = append([]float64(nil), p.RMin...)
	c.Groups = append([]Group(nil), p.Groups...)
	if p.Sphere != nil {
		s := *p.Sphere
		s.Atoms = append([]int(nil), s.Atoms...)
		s.Track = append([]int(nil), s.Track...)
		c.Sphere = &s
	}
	if p.Bias != nil {
		b := *p.Bias
		b.Atoms = append([]int(nil), b.Atoms...)
		c.Bias = &b
	}
	c.Scaffold.Atoms = append([]int(nil), p.Scaffold.Atoms...)
	c.Scaffold.Refs = append([]topology.Vec3(nil), p.Scaffold.Refs...)
	c.constraints = p.constraints.clone()
	c.bonds = p.bonds.clone()
	c.angles = p.angles.clone()
	c.wells = p.wells.clone()
	c.torsions = p.torsions.clone()
	c.impropers = p.impropers.clone()
	c.exclusions = make(map[[2]int]int, len(p.exclusions))
	for k, v := range p.exclusions {
		c.exclusions[k] = v
	}
	c.registry = make(map[TermKey][]Handle, len(p.registry))
	for k, v := range p.registry {
		c.registry[k] = append([]Handle(nil), v...)
	}
	return &c
}

func pairKey(i, j int) [2]int {
	if i > j {
		i, j = j, i
	}
	return [2]int{i, j}
}

func (p *Potential) exclude(i, j int) { p.exclusions[pairKey(i, j)]++ }

func (p *Potential) release(i, j int) {
	k := pairKey(i, j)
	if p.exclusions[k] <= 1 {
		delete(p.exclusions, k)
		return
	}
	p.exclusions[k]--
}

// Excluded reports whether the nonbonded pair (i, j) is skipped.
func (p *Potential) Excluded(i, j int) bool {
	_, ok := p.exclusions[pairKey(i, j)]
	return ok
}

// Exclusions returns every excluded pair once, lower index first.
func (p *Potential) Exclusions() [][2]int {
	out := make([][2]int, 0, len(p.exclusions))
	for k := range p.exclusions {
		out = append(out, k)
	}
	return out
}

func (p *Potential) AddConstraint(c Constraint) Handle {
	p.exclude(c.Atoms[0], c.Atoms[1])
	return p.constraints.add(c)
}

// RemoveConstraint deletes a constraint and releases its exclusion.
func (p *Potential) RemoveConstraint(h Handle) (Constraint, bool) {
	c, ok := p.constraints.remove(h)
	if ok {
		p.release(c.Atoms[0], c.Atoms[1])
	}
	return c, ok
}

// dropConstraint deletes a constraint but keeps the pair excluded.
func (p *Potential) dropConstraint(h Handle) {
	p.constraints.remove(h)
}

func (p *Potential) AddBond(b Bond) Handle {
	p.exclude(b.Atoms[0], b.Atoms[1])
	return p.bonds.add(b)
}

func (p *Potential) RemoveBond(h Handle) (Bond, bool) {
	b, ok := p.bonds.remove(h)
	if ok {
		p.release(b.Atoms[0], b.Atoms[1])
	}
	return b, ok
}

// AddAngle adds a harmonic angle. Harmonic angles carry no exclusion.
func (p *Potential) AddAngle(a Angle) Handle { return p.angles.add(a) }

// AddDoubleWell adds a double-well angle and excludes its 1-3 pair.
func (p *Potential) AddDoubleWell(a DoubleWellAngle) Handle {
	p.exclude(a.Atoms[0], a.Atoms[2])
	return p.wells.add(a)
}

func (p *Potential) RemoveDoubleWell(h Handle) (DoubleWellAngle, bool) {
	a, ok := p.wells.remove(h)
	if ok {
		p.release(a.Atoms[0], a.Atoms[2])
	}
	return a, ok
}

func (p *Potential) AddTorsion(t Torsion) Handle { return p.torsions.add(t) }

func (p *Potential) RemoveTorsion(h Handle) (Torsion, bool) { return p.torsions.remove(h) }

func (p *Potential) AddImproper(t Improper) Handle { return p.impropers.add(t) }

func (p *Potential) Constraints() []Constraint      { return p.constraints.values() }
func (p *Potential) Bonds() []Bond                  { return p.bonds.values() }
func (p *Potential) Angles() []Angle                { return p.angles.values() }
func (p *Potential) DoubleWells() []DoubleWellAngle { return p.wells.values() }
func (p *Potential) Torsions() []Torsion            { return p.torsions.values() }
func (p *Potential) Impropers() []Improper          { return p.impropers.values() }
func (p *Potential) NumConstraints() int            { return p.constraints.len() }
func (p *Potential) Lookup(key TermKey) []Handle    { return p.registry[key] }
func (p *Potential) register(key TermKey, h Handle) { p.registry[key] = append(p.registry[key], h) }
func (p *Potential) unregister(key TermKey)         { delete(p.registry, key) }

// removeRole deletes every term registered under key.
func (p *Potential) removeRole(key TermKey) {
	for _, h := range p.registry[key] {
		switch key.Role {
		case RoleChainBond:
			p.RemoveConstraint(h)
		case RoleChainAngle:
			p.RemoveDoubleWell(h)
		case RoleChainTorsion:
			p.RemoveTorsion(h)
		}
	}
	p.unregister(key)
}

// Enabled reports whether nonbonded interactions between groups a and b
// are evaluated.
func (p *Potential) Enabled(a, b Group) bool { return p.enabled[a][b] }

func (p *Potential) SetEnabled(a, b Group, on bool) {
	p.enabled[a][b] = on
	p.enabled[b][a] = on
}

func (p *Potential) EnableAll() {
	for a := Group(0); a < numGroups; a++ {
		for b := Group(0); b < numGroups; b++ {
			p.enabled[a][b] = true
		}
	}
}

// Interacts reports whether atoms i and j have a nonbonded interaction.
func (p *Potential) Interacts(i, j int) bool {
	return p.enabled[p.Groups[i]][p.Groups[j]] && !p.Excluded(i, j)
}

// MassiveAtoms counts atoms with non-zero mass.
func (p *Potential) MassiveAtoms() int {
	n := 0
	for _, m := range p.Masses {
		if m > 0 {
			n++
		}
	}
	return n
}
