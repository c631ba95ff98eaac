package forcefield

import (
	"fmt"

	"github.com/san-kum/ribosim/internal/dynamo"
	"github.com/san-kum/ribosim/internal/topology"
)

// Sites names the segments and tRNA atoms the builder attaches to.
type Sites struct {
	Chain     string `yaml:"chain"`
	Donor     string `yaml:"donor"`
	Acceptor  string `yaml:"acceptor"`
	Ligand    string `yaml:"ligand"`
	Reference string `yaml:"reference"`
	Phosphate string `yaml:"phosphate"`
	Base      string `yaml:"base"`
}

// Complex holds the geometry of one chain-to-tRNA attachment. Angles are
// in degrees.
type Complex struct {
	Distance      float64 `yaml:"distance"`
	PAngle        float64 `yaml:"p_angle"`
	BaseAngle     float64 `yaml:"base_angle"`
	ImproperAngle float64 `yaml:"improper_angle"`
}

// Linkage holds the stiffnesses of the stage-specific bonded terms.
type Linkage struct {
	BondK           float64    `yaml:"bond_k"`
	AngleK          float64    `yaml:"angle_k"`
	ImproperK       float64    `yaml:"improper_k"`
	FallbackBondK   float64    `yaml:"fallback_bond_k"`
	ChainBondLength float64    `yaml:"chain_bond_length"`
	Donor           Complex    `yaml:"donor"`
	Acceptor        Complex    `yaml:"acceptor"`
	Well            AngleParam `yaml:"well"`
}

type Restraints struct {
	SphereK      float64       `yaml:"sphere_k"`
	SphereRadius float64       `yaml:"sphere_radius"`
	SphereCenter topology.Vec3 `yaml:"sphere_center"`
	BiasK        float64       `yaml:"bias_k"`
	XEject       float64       `yaml:"x_eject"`
}

type BuilderConfig struct {
	Sites      Sites      `yaml:"sites"`
	Linkage    Linkage    `yaml:"linkage"`
	Restraints Restraints `yaml:"restraints"`
}

func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		Sites: Sites{
			Chain:     "A",
			Donor:     "AtR",
			Acceptor:  "PtR",
			Ligand:    "LIG",
			Reference: "R",
			Phosphate: "P",
			Base:      "PU2",
		},
		Linkage: Linkage{
			BondK:           200,
			AngleK:          25,
			ImproperK:       25,
			FallbackBondK:   50,
			ChainBondLength: 3.81,
			Donor:           Complex{Distance: 4.27, PAngle: 106, BaseAngle: 127, ImproperAngle: 128},
			Acceptor:        Complex{Distance: 4.76, PAngle: 117, BaseAngle: 130, ImproperAngle: -161},
			Well:            AngleParam{Ka: 106.4, ThetaA: 91.7, Kb: 26.3, ThetaB: 130, Gamma: 0.1, EpsA: 4.3},
		},
		Restraints: Restraints{
			SphereK:      0.1,
			SphereRadius: 100,
			BiasK:        20,
			XEject:       60,
		},
	}
}

// Request selects the stage potential to build.
type Request struct {
	Stage          dynamo.Stage
	Length         int
	FreeAtoms      []int
	RestraintAtoms []int
	// ChainWindow keeps only the last ChainWindow chain residues massive.
	// Zero keeps the whole chain.
	ChainWindow int
}

type Builder struct {
	cfg BuilderConfig
}

func NewBuilder(cfg BuilderConfig) *Builder {
	return &Builder{cfg: cfg}
}

func (b *Builder) Config() BuilderConfig { return b.cfg }

// tRNA holds the three attachment atoms of one complex.
type tRNA struct {
	r, p, base int
}

// Build derives the stage potential for req from a deep copy of tmpl.
// tmpl is never modified.
func (b *Builder) Build(tmpl *Potential, s *topology.Structure, req Request) (*Potential, error) {
	n := s.NumAtoms()
	if tmpl.NumAtoms() != n {
		return nil, &TopologyMismatchError{
			What:  fmt.Sprintf("template has %d atoms, structure has %d", tmpl.NumAtoms(), n),
			Index: -1,
		}
	}
	if !req.Stage.Valid() {
		return nil, &ForceAssemblyError{Op: "build", Err: fmt.Errorf("%w: stage %d", dynamo.ErrParameterBounds, int(req.Stage))}
	}
	for _, set := range []struct {
		name string
		idx  []int
	}{{"free atoms", req.FreeAtoms}, {"restraint atoms", req.RestraintAtoms}} {
		for _, i := range set.idx {
			if i < 0 || i >= n {
				return nil, &TopologyMismatchError{What: set.name, Index: i, Atoms: n}
			}
		}
	}

	chain := b.chainBeads(s)
	if len(chain) != req.Length {
		return nil, &TopologyMismatchError{
			What:  fmt.Sprintf("chain segment %s has %d residues, want %d", b.cfg.Sites.Chain, len(chain), req.Length),
			Index: -1,
		}
	}

	p := tmpl.Clone()
	if err := b.link(p, s, req, chain); err != nil {
		return nil, err
	}
	b.replaceLigandConstraints(p, s)
	b.zeroMasses(p, s, req, chain)
	b.assignGroups(p, s, req)
	b.addExternals(p, s, req)
	return p, nil
}

func (b *Builder) chainBeads(s *topology.Structure) []int {
	var beads []int
	for _, r := range s.Residues {
		if r.Segment == b.cfg.Sites.Chain && len(r.Atoms) > 0 {
			beads = append(beads, r.Atoms[0])
		}
	}
	return beads
}

func (b *Builder) findTRNA(s *topology.Structure, segment string) (tRNA, error) {
	res, ok := s.LastResidue(segment)
	if !ok {
		return tRNA{}, &TopologyMismatchError{What: fmt.Sprintf("segment %s not found", segment), Index: -1}
	}
	var t tRNA
	var err error
	site := b.cfg.Sites
	for _, f := range []struct {
		name string
		dst  *int
	}{{site.Reference, &t.r}, {site.Phosphate, &t.p}, {site.Base, &t.base}} {
		if *f.dst, err = s.AtomInResidue(res, f.name); err != nil {
			return tRNA{}, &TopologyMismatchError{What: fmt.Sprintf("%s:%d@%s: %v", segment, res.Number, f.name, err), Index: -1}
		}
	}
	return t, nil
}

// link applies the stage-specific bonded edits.
func (b *Builder) link(p *Potential, s *topology.Structure, req Request, chain []int) error {
	if req.Stage.Terminal() {
		return nil
	}
	L := req.Length
	bead := func(pos int) int { return chain[pos-1] }
	cur := bead(L)
	lk := b.cfg.Linkage

	switch req.Stage {
	case dynamo.StageBinding:
		donor, err := b.findTRNA(s, b.cfg.Sites.Donor)
		if err != nil {
			return err
		}
		p.removeRole(TermKey{L, RoleChainBond})
		p.removeRole(TermKey{L, RoleChainAngle})
		p.removeRole(TermKey{L, RoleChainTorsion})
		b.attach(p, cur, donor, lk.Donor)
		if L > 1 {
			acceptor, err := b.findTRNA(s, b.cfg.Sites.Acceptor)
			if err != nil {
				return err
			}
			b.attach(p, bead(L-1), acceptor, lk.Acceptor)
			if L > 2 {
				b.well(p, bead(L-2), bead(L-1), acceptor.r)
			}
		}

	case dynamo.StageBondFormation:
		donor, err := b.findTRNA(s, b.cfg.Sites.Donor)
		if err != nil {
			return err
		}
		b.attach(p, cur, donor, lk.Donor)
		if L > 1 {
			length := lk.ChainBondLength
			for _, h := range p.Lookup(TermKey{L, RoleChainBond}) {
				if c, ok := p.constraints.get(h); ok {
					length = c.Length
				}
			}
			p.removeRole(TermKey{L, RoleChainBond})
			p.AddBond(Bond{Atoms: [2]int{bead(L - 1), cur}, Length: length, K: lk.BondK})
			b.well(p, bead(L-1), cur, donor.r)
		}

	case dynamo.StageTranslocation:
		acceptor, err := b.findTRNA(s, b.cfg.Sites.Acceptor)
		if err != nil {
			return err
		}
		b.attach(p, cur, acceptor, lk.Acceptor)
		if L > 1 {
			b.well(p, bead(L-1), cur, acceptor.r)
		}
	}
	return nil
}

// attach bonds atom to the tRNA reference atom with two angles and an
// improper holding the geometry of c.
func (b *Builder) attach(p *Potential, atom int, t tRNA, c Complex) {
	lk := b.cfg.Linkage
	p.AddBond(Bond{Atoms: [2]int{atom, t.r}, Length: c.Distance, K: lk.BondK})
	p.AddAngle(Angle{Atoms: [3]int{atom, t.r, t.p}, Theta0: c.PAngle * deg, K: lk.AngleK})
	p.AddAngle(Angle{Atoms: [3]int{atom, t.r, t.base}, Theta0: c.BaseAngle * deg, K: lk.AngleK})
	p.AddImproper(Improper{Atoms: [4]int{atom, t.r, t.p, t.base}, K: lk.ImproperK, Phi0: c.ImproperAngle * deg})
}

func (b *Builder) well(p *Potential, i, j, k int) {
	w := b.cfg.Linkage.Well
	p.AddDoubleWell(DoubleWellAngle{
		Atoms:  [3]int{i, j, k},
		Ka:     w.Ka,
		ThetaA: w.ThetaA * deg,
		Kb:     w.Kb,
		ThetaB: w.ThetaB * deg,
		Gamma:  w.Gamma,
		EpsA:   w.EpsA,
	})
}

// replaceLigandConstraints turns constraints inside the ligand segment
// into bonds with the stiffness of their bond parameters.
func (b *Builder) replaceLigandConstraints(p *Potential, s *topology.Structure) {
	lig := b.cfg.Sites.Ligand
	if lig == "" {
		return
	}
	for _, h := range p.constraints.handles() {
		c, _ := p.constraints.get(h)
		if s.Atoms[c.Atoms[0]].Segment != lig || s.Atoms[c.Atoms[1]].Segment != lig {
			continue
		}
		p.RemoveConstraint(h)
		p.AddBond(Bond{Atoms: c.Atoms, Length: c.Length, K: c.K})
	}
}

// zeroMasses fixes every atom outside the free set and the chain window,
// then removes constraints that reference a massless atom.
func (b *Builder) zeroMasses(p *Potential, s *topology.Structure, req Request, chain []int) {
	keep := make([]bool, len(p.Masses))
	for _, i := range req.FreeAtoms {
		keep[i] = true
	}
	first := 1
	if req.ChainWindow > 0 && req.ChainWindow < len(chain) {
		first = len(chain) - req.ChainWindow + 1
	}
	window := make(map[int]bool)
	for _, r := range s.Residues {
		if r.Segment != b.cfg.Sites.Chain {
			continue
		}
		for _, a := range r.Atoms {
			window[a] = true
		}
	}
	for pos := 1; pos < first; pos++ {
		res := s.Atoms[chain[pos-1]].Residue
		for _, a := range s.Residues[res].Atoms {
			delete(window, a)
		}
	}
	for i := range p.Masses {
		if !keep[i] && !window[i] {
			p.Masses[i] = 0
		}
	}

	for _, h := range p.constraints.handles() {
		c, _ := p.constraints.get(h)
		mi, mj := p.Masses[c.Atoms[0]], p.Masses[c.Atoms[1]]
		switch {
		case mi == 0 && mj == 0:
			p.dropConstraint(h)
		case mi == 0 || mj == 0:
			p.RemoveConstraint(h)
			p.AddBond(Bond{Atoms: c.Atoms, Length: c.Length, K: b.cfg.Linkage.FallbackBondK})
		}
	}
}

func (b *Builder) assignGroups(p *Potential, s *topology.Structure, req Request) {
	free := make(map[int]bool, len(req.FreeAtoms))
	for _, i := range req.FreeAtoms {
		free[i] = true
	}
	site := b.cfg.Sites
	for i, a := range s.Atoms {
		switch {
		case a.Segment == site.Chain:
			p.Groups[i] = GroupChain
		case a.Segment == site.Donor:
			p.Groups[i] = GroupDonor
		case a.Segment == site.Acceptor:
			p.Groups[i] = GroupAcceptor
		case free[i]:
			p.Groups[i] = GroupFree
		default:
			p.Groups[i] = GroupFixed
		}
	}
	p.EnableAll()
	p.SetEnabled(GroupFixed, GroupFixed, false)
	bound := req.Stage == dynamo.StageBinding || req.Stage == dynamo.StageBondFormation
	p.SetEnabled(GroupChain, GroupDonor, bound)
}

func (b *Builder) addExternals(p *Potential, s *topology.Structure, req Request) {
	rs := b.cfg.Restraints
	chainAtoms := s.SegmentAtoms(b.cfg.Sites.Chain)

	if len(req.RestraintAtoms) > 0 {
		p.Sphere = &SphericalRestraint{
			Atoms:  append([]int(nil), req.RestraintAtoms...),
			K:      rs.SphereK,
			Radius: rs.SphereRadius,
			Center: rs.SphereCenter,
		}
		if req.Stage == dynamo.StageDissociation {
			p.Sphere.Track = chainAtoms
		}
	}
	if req.Stage == dynamo.StageEjection {
		p.Bias = &DirectionalBias{Atoms: chainAtoms, K: rs.BiasK, X0: rs.XEject - 2}
	}
	p.Scaffold = PositionRestraint{}
}
