package engine

import (
	"errors"
	"math"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/san-kum/ribosim/internal/forcefield"
	"github.com/san-kum/ribosim/internal/topology"
)

func numericGrad(t *testing.T, pos []topology.Vec3, energy func([]topology.Vec3) float64) []topology.Vec3 {
	t.Helper()
	const h = 1e-6
	g := make([]topology.Vec3, len(pos))
	for i := range pos {
		for k := 0; k < 3; k++ {
			p := append([]topology.Vec3(nil), pos...)
			p[i][k] += h
			ep := energy(p)
			p[i][k] -= 2 * h
			em := energy(p)
			g[i][k] = (ep - em) / (2 * h)
		}
	}
	return g
}

func checkForces(t *testing.T, name string, k kernel, pos []topology.Vec3) {
	t.Helper()
	f := make([]topology.Vec3, len(pos))
	k(pos, f)
	g := numericGrad(t, pos, func(p []topology.Vec3) float64 {
		return k(p, make([]topology.Vec3, len(p)))
	})
	for i := range pos {
		for c := 0; c < 3; c++ {
			if math.Abs(f[i][c]+g[i][c]) > 1e-4 {
				t.Errorf("%s: atom %d axis %d: force %.6f, -gradient %.6f", name, i, c, f[i][c], -g[i][c])
			}
		}
	}
}

var quad = []topology.Vec3{{0, 0, 0}, {3.8, 0.2, 0}, {4.9, 3.6, 0.4}, {8.1, 4.3, 2.2}}

func TestAnalyticForcesMatchGradient(t *testing.T) {
	checkForces(t, "bond", bondKernel([]forcefield.Bond{{Atoms: [2]int{0, 1}, Length: 3.0, K: 200}}), quad)
	checkForces(t, "angle", angleKernel([]forcefield.Angle{{Atoms: [3]int{0, 1, 2}, Theta0: 1.9, K: 25}}), quad)
	checkForces(t, "double well", wellKernel([]forcefield.DoubleWellAngle{{
		Atoms: [3]int{1, 2, 3}, Ka: 106.4, ThetaA: 1.6, Kb: 26.3, ThetaB: 2.27, Gamma: 0.1, EpsA: 4.3,
	}}), quad)
	checkForces(t, "torsion", torsionKernel([]forcefield.Torsion{
		{Atoms: [4]int{0, 1, 2, 3}, K: 0.8, N: 1, Phase: 0.3},
		{Atoms: [4]int{0, 1, 2, 3}, K: 0.4, N: 3, Phase: math.Pi},
	}), quad)
	checkForces(t, "improper", improperKernel([]forcefield.Improper{{Atoms: [4]int{0, 1, 2, 3}, K: 25, Phi0: 2.2}}), quad)
	checkForces(t, "sphere", sphereKernel(&forcefield.SphericalRestraint{Atoms: []int{3}, K: 0.1, Radius: 5}, nil), quad)
	checkForces(t, "bias", biasKernel(&forcefield.DirectionalBias{Atoms: []int{0, 1, 2, 3}, K: 20, X0: 6}), quad)
}

func TestNonbondedForcesMatchGradient(t *testing.T) {
	p := forcefield.NewPotential(4)
	p.Cutoff, p.SwitchDistance = 8, 5
	for i := range p.Epsilon {
		p.Epsilon[i], p.RMin[i] = 0.3, 2.0
	}
	nb := newNonbonded(p)
	checkForces(t, "nonbonded", func(pos, f []topology.Vec3) float64 { return nb.rows(0, len(pos), pos, f) }, quad)
}

func TestDihedralSign(t *testing.T) {
	phi, _ := dihedralGrad(topology.Vec3{1, 0, 0}, topology.Vec3{0, 0, 0}, topology.Vec3{0, 0, 1}, topology.Vec3{0, 1, 1})
	if math.Abs(phi-math.Pi/2) > 1e-9 {
		t.Errorf("phi = %f, want pi/2", phi)
	}
}

func TestNeutralDoubleWellIsFlat(t *testing.T) {
	w := forcefield.DoubleWellAngle{Gamma: 1e10}
	e, dE := doubleWell(w, 1.2)
	if math.Abs(e) > 1e-9 || dE != 0 {
		t.Errorf("neutral well e=%g dE=%g", e, dE)
	}
}

func twoBeads(mass0, mass1 float64) *forcefield.Potential {
	p := forcefield.NewPotential(2)
	p.Masses[0], p.Masses[1] = mass0, mass1
	return p
}

func TestMinimizeRelaxesBond(t *testing.T) {
	g := NewWithT(t)
	p := twoBeads(100, 100)
	p.AddBond(forcefield.Bond{Atoms: [2]int{0, 1}, Length: 3.81, K: 200})

	ctx, err := NewReference().NewContext(p, Integrator{Timestep: 0.015, Temperature: 300, Friction: 0.05}, CPU(1))
	g.Expect(err).NotTo(HaveOccurred())
	defer ctx.Close()

	g.Expect(ctx.SetPositions([]topology.Vec3{{0, 0, 0}, {5, 0, 0}})).To(Succeed())
	g.Expect(ctx.Minimize(1e-6, 0)).To(Succeed())
	st, err := ctx.State()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(st.Positions[1].Sub(st.Positions[0]).Norm()).To(BeNumerically("~", 3.81, 1e-3))
	g.Expect(st.Potential).To(BeNumerically("<", 1e-4))
}

func TestStepHoldsConstraintsAndFixedAtoms(t *testing.T) {
	g := NewWithT(t)
	p := forcefield.NewPotential(3)
	p.Masses[0], p.Masses[1], p.Masses[2] = 100, 100, 0
	p.AddConstraint(forcefield.Constraint{Atoms: [2]int{0, 1}, Length: 3.81})
	p.AddBond(forcefield.Bond{Atoms: [2]int{1, 2}, Length: 4, K: 50})

	ctx, err := NewReference().NewContext(p, Integrator{Timestep: 0.015, Temperature: 310, Friction: 0.05, Seed: 7}, CPU(1))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(ctx.SetPositions([]topology.Vec3{{0, 0, 0}, {3.81, 0, 0}, {7.81, 0, 0}})).To(Succeed())
	g.Expect(ctx.SetVelocitiesToTemperature(310, 11)).To(Succeed())
	g.Expect(ctx.Step(200)).To(Succeed())

	st, err := ctx.State()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(st.Step).To(Equal(int64(200)))
	g.Expect(st.Positions[1].Sub(st.Positions[0]).Norm()).To(BeNumerically("~", 3.81, 1e-3))
	g.Expect(st.Positions[2]).To(Equal(topology.Vec3{7.81, 0, 0}))
	g.Expect(st.Velocities[2]).To(Equal(topology.Vec3{}))
}

func TestSameSeedSameTrajectory(t *testing.T) {
	run := func() topology.Vec3 {
		p := twoBeads(50, 50)
		p.AddBond(forcefield.Bond{Atoms: [2]int{0, 1}, Length: 3.81, K: 200})
		ctx, err := NewReference().NewContext(p, Integrator{Timestep: 0.015, Temperature: 310, Friction: 0.05, Seed: 3}, CPU(1))
		if err != nil {
			t.Fatal(err)
		}
		ctx.SetPositions([]topology.Vec3{{0, 0, 0}, {3.81, 0, 0}})
		ctx.SetVelocitiesToTemperature(310, 5)
		if err := ctx.Step(50); err != nil {
			t.Fatal(err)
		}
		st, _ := ctx.State()
		return st.Positions[1]
	}
	if a, b := run(), run(); a != b {
		t.Errorf("trajectories differ: %v vs %v", a, b)
	}
}

func TestConstructionRejectsMasslessConstraint(t *testing.T) {
	p := twoBeads(100, 0)
	p.AddConstraint(forcefield.Constraint{Atoms: [2]int{0, 1}, Length: 3.81})
	_, err := NewReference().NewContext(p, Integrator{Timestep: 0.015}, CPU(1))
	var ce *ConstructionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConstructionError, got %v", err)
	}
}

func TestBlowUpIsRuntimeError(t *testing.T) {
	p := twoBeads(1, 1)
	p.AddBond(forcefield.Bond{Atoms: [2]int{0, 1}, Length: 3.81, K: 1e6})
	ctx, err := NewReference().NewContext(p, Integrator{Timestep: 0.5, Temperature: 300, Friction: 0.05}, CPU(1))
	if err != nil {
		t.Fatal(err)
	}
	ctx.SetPositions([]topology.Vec3{{0, 0, 0}, {4.5, 0, 0}})
	err = ctx.Step(200)
	var re *RuntimeError
	if !errors.As(err, &re) || !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected RuntimeError wrapping ErrInvalidState, got %v", err)
	}
}

func TestGroupEnergiesSumToPotential(t *testing.T) {
	g := NewWithT(t)
	p := forcefield.NewPotential(4)
	for i := range p.Masses {
		p.Masses[i] = 100
		p.Epsilon[i], p.RMin[i] = 0.2, 2
	}
	p.Cutoff = 20
	p.AddBond(forcefield.Bond{Atoms: [2]int{0, 1}, Length: 3.81, K: 200})
	p.AddAngle(forcefield.Angle{Atoms: [3]int{0, 1, 2}, Theta0: 2, K: 25})
	p.AddImproper(forcefield.Improper{Atoms: [4]int{0, 1, 2, 3}, K: 25, Phi0: 1})
	p.Bias = &forcefield.DirectionalBias{Atoms: []int{0, 1, 2, 3}, K: 20, X0: 58}

	ctx, err := NewReference().NewContext(p, Integrator{Timestep: 0.015}, CPU(2))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(ctx.SetPositions(quad)).To(Succeed())

	st, err := ctx.State()
	g.Expect(err).NotTo(HaveOccurred())
	groups, err := ctx.GroupEnergies()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(groups).To(HaveKey(GroupBias))
	g.Expect(groups).NotTo(HaveKey(GroupSphere))
	sum := 0.0
	for _, e := range groups {
		sum += e
	}
	g.Expect(sum).To(BeNumerically("~", st.Potential, 1e-9))

	maxF, err := ctx.GroupMaxForces()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(maxF[GroupBias]).To(BeNumerically(">", 0))
}

func TestParallelNonbondedMatchesSerial(t *testing.T) {
	const n = 120
	p := forcefield.NewPotential(n)
	pos := make([]topology.Vec3, n)
	for i := 0; i < n; i++ {
		p.Epsilon[i], p.RMin[i] = 0.2, 2
		pos[i] = topology.Vec3{float64(i%5) * 4.1, float64((i/5)%5) * 4.3, float64(i/25) * 3.9}
	}
	p.Cutoff, p.SwitchDistance = 12, 10
	p.AddBond(forcefield.Bond{Atoms: [2]int{0, 1}, Length: 4, K: 1})
	nb := newNonbonded(p)

	fs := make([]topology.Vec3, n)
	es := NewCPUBackend(1).Nonbonded(nb, pos, fs)
	fp := make([]topology.Vec3, n)
	ep := NewCPUBackend(4).Nonbonded(nb, pos, fp)

	if math.Abs(es-ep) > 1e-9 {
		t.Errorf("energy serial %f parallel %f", es, ep)
	}
	for i := range fs {
		if fs[i].Sub(fp[i]).Norm() > 1e-9 {
			t.Fatalf("force %d differs: %v vs %v", i, fs[i], fp[i])
		}
	}
}

func TestNonbondedRespectsExclusionsAndGroups(t *testing.T) {
	p := twoBeads(10, 10)
	p.Epsilon[0], p.Epsilon[1] = 1, 1
	p.RMin[0], p.RMin[1] = 2, 2
	pos := []topology.Vec3{{0, 0, 0}, {3, 0, 0}}

	if e := newNonbonded(p).rows(0, 2, pos, make([]topology.Vec3, 2)); e == 0 {
		t.Fatal("expected a nonzero pair energy")
	}
	p.SetEnabled(forcefield.GroupFixed, forcefield.GroupFixed, false)
	if e := newNonbonded(p).rows(0, 2, pos, make([]topology.Vec3, 2)); e != 0 {
		t.Errorf("disabled group pair contributed %f", e)
	}
	p.EnableAll()
	p.AddBond(forcefield.Bond{Atoms: [2]int{0, 1}, Length: 3, K: 1})
	if e := newNonbonded(p).rows(0, 2, pos, make([]topology.Vec3, 2)); e != 0 {
		t.Errorf("excluded pair contributed %f", e)
	}
}

func TestSphereTracksCenterOfMass(t *testing.T) {
	s := &forcefield.SphericalRestraint{Atoms: []int{2}, K: 1, Radius: 1, Track: []int{0, 1}}
	pos := []topology.Vec3{{10, 0, 0}, {12, 0, 0}, {11, 0, 0}}
	f := make([]topology.Vec3, 3)
	if e := sphereKernel(s, []float64{1, 1, 1})(pos, f); e != 0 {
		t.Errorf("atom at tracked center has energy %f", e)
	}
}

func TestSelectBackendFallsBack(t *testing.T) {
	if b := SelectBackend(Accelerator(0)); b.Name() != "cpu" {
		t.Errorf("backend = %s", b.Name())
	}
	if b := SelectBackend(CPU(3)).(*CPUBackend); b.Workers() != 3 {
		t.Errorf("workers = %d", b.Workers())
	}
}
