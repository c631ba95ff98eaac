package forcefield

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// BondParam is a harmonic bond between two atom types. K is in
// kcal/mol/A^2 and R0 in Angstrom.
type BondParam struct {
	Types [2]string `yaml:"types"`
	K     float64   `yaml:"k"`
	R0    float64   `yaml:"r0"`
}

// AngleParam is the double-well angle used on coarse-grained backbones.
// Angles are in degrees.
type AngleParam struct {
	Types  [3]string `yaml:"types"`
	Ka     float64   `yaml:"ka"`
	ThetaA float64   `yaml:"theta_a"`
	Kb     float64   `yaml:"kb"`
	ThetaB float64   `yaml:"theta_b"`
	Gamma  float64   `yaml:"gamma"`
	EpsA   float64   `yaml:"eps_a"`
}

type TorsionTerm struct {
	K     float64 `yaml:"k"`
	N     int     `yaml:"n"`
	Phase float64 `yaml:"phase"`
}

type DihedralParam struct {
	Types [4]string     `yaml:"types"`
	Terms []TorsionTerm `yaml:"terms"`
}

type ImproperParam struct {
	Types [4]string `yaml:"types"`
	K     float64   `yaml:"k"`
	Phi0  float64   `yaml:"phi0"`
}

// NonbondedParam is a Lennard-Jones site, CHARMM convention: Epsilon in
// kcal/mol (positive) and RMin the half distance at the minimum.
type NonbondedParam struct {
	Type    string  `yaml:"type"`
	Epsilon float64 `yaml:"epsilon"`
	RMin    float64 `yaml:"rmin_half"`
}

// ParamSet is one engine-loadable parameter file.
type ParamSet struct {
	Name      string           `yaml:"name"`
	Bonds     []BondParam      `yaml:"bonds"`
	Angles    []AngleParam     `yaml:"angles"`
	Dihedrals []DihedralParam  `yaml:"dihedrals"`
	Impropers []ImproperParam  `yaml:"impropers"`
	Nonbonded []NonbondedParam `yaml:"nonbonded"`
}

func LoadParamSet(path string) (ParamSet, error) {
	var ps ParamSet
	data, err := os.ReadFile(path)
	if err != nil {
		return ps, err
	}
	if err := yaml.Unmarshal(data, &ps); err != nil {
		return ps, fmt.Errorf("forcefield: parse %s: %w", path, err)
	}
	if ps.Name == "" {
		ps.Name = path
	}
	return ps, nil
}

// Options carries the nonbonded settings shared by every potential.
type Options struct {
	Cutoff         float64 // A
	SwitchDistance float64 // A
}

// ForceField is a merged, read-only parameter lookup.
type ForceField struct {
	opts      Options
	bonds     map[string]BondParam
	angles    map[string]AngleParam
	dihedrals map[string]DihedralParam
	impropers map[string]ImproperParam
	nonbonded map[string]NonbondedParam
}

// Compile merges sets in order. A key defined twice with different
// values is an error; identical duplicates are accepted.
func Compile(opts Options, sets ...ParamSet) (*ForceField, error) {
	ff := &ForceField{
		opts:      opts,
		bonds:     make(map[string]BondParam),
		angles:    make(map[string]AngleParam),
		dihedrals: make(map[string]DihedralParam),
		impropers: make(map[string]ImproperParam),
		nonbonded: make(map[string]NonbondedParam),
	}
	for _, ps := range sets {
		for _, p := range ps.Bonds {
			if err := merge(ff.bonds, typeKey(p.Types[:]), p, ps.Name, equalBond); err != nil {
				return nil, err
			}
		}
		for _, p := range ps.Angles {
			if err := merge(ff.angles, typeKey(p.Types[:]), p, ps.Name, func(a, b AngleParam) bool { return a == b }); err != nil {
				return nil, err
			}
		}
		for _, p := range ps.Dihedrals {
			if err := merge(ff.dihedrals, typeKey(p.Types[:]), p, ps.Name, equalDihedral); err != nil {
				return nil, err
			}
		}
		for _, p := range ps.Impropers {
			if err := merge(ff.impropers, typeKey(p.Types[:]), p, ps.Name, func(a, b ImproperParam) bool { return a == b }); err != nil {
				return nil, err
			}
		}
		for _, p := range ps.Nonbonded {
			if err := merge(ff.nonbonded, p.Type, p, ps.Name, func(a, b NonbondedParam) bool { return a == b }); err != nil {
				return nil, err
			}
		}
	}
	return ff, nil
}

func merge[T any](m map[string]T, key string, v T, source string, equal func(a, b T) bool) error {
	if old, ok := m[key]; ok && !equal(old, v) {
		return &ForceAssemblyError{Op: "compile", Err: fmt.Errorf("conflicting parameters for %s in %s", key, source)}
	}
	m[key] = v
	return nil
}

func equalBond(a, b BondParam) bool { return a.K == b.K && a.R0 == b.R0 }

func equalDihedral(a, b DihedralParam) bool {
	if len(a.Terms) != len(b.Terms) {
		return false
	}
	for i := range a.Terms {
		if a.Terms[i] != b.Terms[i] {
			return false
		}
	}
	return true
}

// typeKey orders a type tuple so that a term and its reverse share a key.
func typeKey(types []string) string {
	fwd := strings.Join(types, "-")
	rev := make([]string, len(types))
	for i, t := range types {
		rev[len(types)-1-i] = t
	}
	if r := strings.Join(rev, "-"); r < fwd {
		return r
	}
	return fwd
}

func (ff *ForceField) Options() Options { return ff.opts }

func (ff *ForceField) Bond(a, b string) (BondParam, bool) {
	p, ok := ff.bonds[typeKey([]string{a, b})]
	return p, ok
}

func (ff *ForceField) Angle(a, b, c string) (AngleParam, bool) {
	p, ok := ff.angles[typeKey([]string{a, b, c})]
	return p, ok
}

func (ff *ForceField) Dihedral(a, b, c, d string) (DihedralParam, bool) {
	p, ok := ff.dihedrals[typeKey([]string{a, b, c, d})]
	return p, ok
}

func (ff *ForceField) Improper(a, b, c, d string) (ImproperParam, bool) {
	p, ok := ff.impropers[typeKey([]string{a, b, c, d})]
	return p, ok
}

func (ff *ForceField) Nonbonded(t string) (NonbondedParam, bool) {
	p, ok := ff.nonbonded[t]
	return p, ok
}
