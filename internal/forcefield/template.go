package forcefield

import (
	"fmt"
	"math"

	"github.com/san-kum/ribosim/internal/topology"
)

const deg = math.Pi / 180

// Template assembles the unmodified potential for s: every bond becomes a
// constraint, angles become double-well terms and dihedrals periodic
// torsions. Chain terms are registered under the residue position of
// their highest chain atom.
func (ff *ForceField) Template(s *topology.Structure, chainSegment string) (*Potential, error) {
	p := NewPotential(s.NumAtoms())
	p.Cutoff = ff.opts.Cutoff
	p.SwitchDistance = ff.opts.SwitchDistance

	for i, a := range s.Atoms {
		p.Masses[i] = a.Mass
		nb, ok := ff.Nonbonded(a.Type)
		if !ok {
			return nil, missing("nonbonded", a.Type)
		}
		p.Epsilon[i] = nb.Epsilon
		p.RMin[i] = nb.RMin
	}

	pos := chainPositions(s, chainSegment)
	key := func(role Role, atoms ...int) (TermKey, bool) {
		hi := 0
		for _, a := range atoms {
			r, ok := pos[a]
			if !ok {
				return TermKey{}, false
			}
			hi = max(hi, r)
		}
		return TermKey{Residue: hi, Role: role}, true
	}

	for _, b := range s.Bonds {
		ti, tj := s.Atoms[b[0]].Type, s.Atoms[b[1]].Type
		bp, ok := ff.Bond(ti, tj)
		if !ok {
			return nil, missing("bond", ti, tj)
		}
		h := p.AddConstraint(Constraint{Atoms: b, Length: bp.R0, K: bp.K})
		if k, ok := key(RoleChainBond, b[0], b[1]); ok {
			p.register(k, h)
		}
	}
	for _, a := range s.Angles {
		types := []string{s.Atoms[a[0]].Type, s.Atoms[a[1]].Type, s.Atoms[a[2]].Type}
		ap, ok := ff.Angle(types[0], types[1], types[2])
		if !ok {
			return nil, missing("angle", types...)
		}
		h := p.AddDoubleWell(DoubleWellAngle{
			Atoms:  a,
			Ka:     ap.Ka,
			ThetaA: ap.ThetaA * deg,
			Kb:     ap.Kb,
			ThetaB: ap.ThetaB * deg,
			Gamma:  ap.Gamma,
			EpsA:   ap.EpsA,
		})
		if k, ok := key(RoleChainAngle, a[0], a[1], a[2]); ok {
			p.register(k, h)
		}
	}
	for _, d := range s.Dihedrals {
		types := []string{s.Atoms[d[0]].Type, s.Atoms[d[1]].Type, s.Atoms[d[2]].Type, s.Atoms[d[3]].Type}
		dp, ok := ff.Dihedral(types[0], types[1], types[2], types[3])
		if !ok {
			return nil, missing("dihedral", types...)
		}
		k, chain := key(RoleChainTorsion, d[0], d[1], d[2], d[3])
		for _, term := range dp.Terms {
			h := p.AddTorsion(Torsion{Atoms: d, K: term.K, N: term.N, Phase: term.Phase * deg})
			if chain {
				p.register(k, h)
			}
		}
	}
	for _, d := range s.Impropers {
		types := []string{s.Atoms[d[0]].Type, s.Atoms[d[1]].Type, s.Atoms[d[2]].Type, s.Atoms[d[3]].Type}
		ip, ok := ff.Improper(types[0], types[1], types[2], types[3])
		if !ok {
			return nil, missing("improper", types...)
		}
		p.AddImproper(Improper{Atoms: d, K: ip.K, Phi0: ip.Phi0 * deg})
	}
	return p, nil
}

// chainPositions maps each chain atom to its 1-based residue position.
func chainPositions(s *topology.Structure, chainSegment string) map[int]int {
	pos := make(map[int]int)
	n := 0
	for _, r := range s.Residues {
		if r.Segment != chainSegment {
			continue
		}
		n++
		for _, a := range r.Atoms {
			pos[a] = n
		}
	}
	return pos
}

func missing(kind string, types ...string) error {
	return &ForceAssemblyError{Op: "template", Err: fmt.Errorf("no %s parameters for %v", kind, types)}
}
