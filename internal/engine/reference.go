package engine

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/san-kum/ribosim/internal/dynamo"
	"github.com/san-kum/ribosim/internal/forcefield"
	"github.com/san-kum/ribosim/internal/topology"
)

const (
	shakeMaxIter    = 500
	defaultShakeTol = 1e-6
	minimizeCap     = 10000
)

// Reference is a CPU Langevin engine with SHAKE constraints. It evaluates
// every term of a forcefield.Potential directly.
type Reference struct{}

func NewReference() *Reference { return &Reference{} }

func (r *Reference) Name() string { return "reference" }

func (r *Reference) NewContext(pot *forcefield.Potential, integ Integrator, dev Device) (Context, error) {
	if err := validatePotential(pot); err != nil {
		return nil, &ConstructionError{Device: dev, Err: err}
	}
	if integ.Timestep <= 0 {
		return nil, &ConstructionError{Device: dev, Err: fmt.Errorf("%w: timestep %g", dynamo.ErrParameterBounds, integ.Timestep)}
	}
	if integ.ConstraintTolerance <= 0 {
		integ.ConstraintTolerance = defaultShakeTol
	}
	n := pot.NumAtoms()
	c := &refContext{
		pot:         pot,
		integ:       integ,
		backend:     SelectBackend(dev),
		nb:          newNonbonded(pot),
		terms:       flatten(pot),
		constraints: pot.Constraints(),
		masses:      append([]float64(nil), pot.Masses...),
		rng:         rand.New(rand.NewSource(integ.Seed)),
		vel:         make([]topology.Vec3, n),
		forces:      make([]topology.Vec3, n),
	}
	c.kernels = c.buildKernels()
	return c, nil
}

func validatePotential(p *forcefield.Potential) error {
	if p == nil || p.NumAtoms() == 0 {
		return errors.New("empty potential")
	}
	n := p.NumAtoms()
	for _, c := range p.Constraints() {
		if c.Atoms[0] >= n || c.Atoms[1] >= n {
			return fmt.Errorf("constraint %v out of range", c.Atoms)
		}
		if p.Masses[c.Atoms[0]] == 0 || p.Masses[c.Atoms[1]] == 0 {
			return fmt.Errorf("constraint %v has a massless atom", c.Atoms)
		}
	}
	for _, b := range p.Bonds() {
		if b.Atoms[0] >= n || b.Atoms[1] >= n {
			return fmt.Errorf("bond %v out of range", b.Atoms)
		}
	}
	return nil
}

type namedKernel struct {
	name string
	fn   kernel
}

type refContext struct {
	pot         *forcefield.Potential
	integ       Integrator
	backend     Backend
	nb          *Nonbonded
	terms       terms
	kernels     []namedKernel
	constraints []forcefield.Constraint
	masses      []float64
	rng         *rand.Rand

	pos    []topology.Vec3
	vel    []topology.Vec3
	forces []topology.Vec3
	energy float64
	fresh  bool
	step   int64
	closed bool
}

func (c *refContext) buildKernels() []namedKernel {
	ks := []namedKernel{
		{GroupBonds, bondKernel(c.terms.bonds)},
		{GroupAngles, angleKernel(c.terms.angles)},
		{GroupDoubleWells, wellKernel(c.terms.wells)},
		{GroupTorsions, torsionKernel(c.terms.torsions)},
		{GroupImpropers, improperKernel(c.terms.impropers)},
		{GroupNonbonded, func(pos, f []topology.Vec3) float64 { return c.backend.Nonbonded(c.nb, pos, f) }},
	}
	if c.pot.Sphere != nil {
		ks = append(ks, namedKernel{GroupSphere, sphereKernel(c.pot.Sphere, c.masses)})
	}
	if c.pot.Bias != nil {
		ks = append(ks, namedKernel{GroupBias, biasKernel(c.pot.Bias)})
	}
	if len(c.pot.Scaffold.Atoms) > 0 {
		ks = append(ks, namedKernel{GroupScaffold, scaffoldKernel(c.pot.Scaffold)})
	}
	return ks
}

func (c *refContext) check() error {
	if c.closed {
		return errors.New("engine: context closed")
	}
	if c.pos == nil {
		return ErrNoPositions
	}
	return nil
}

func (c *refContext) SetPositions(pos []topology.Vec3) error {
	if len(pos) != len(c.masses) {
		return fmt.Errorf("%w: %d positions for %d atoms", dynamo.ErrDimensionMismatch, len(pos), len(c.masses))
	}
	c.pos = append([]topology.Vec3(nil), pos...)
	c.fresh = false
	return nil
}

func (c *refContext) SetVelocities(vel []topology.Vec3) error {
	if len(vel) != len(c.masses) {
		return fmt.Errorf("%w: %d velocities for %d atoms", dynamo.ErrDimensionMismatch, len(vel), len(c.masses))
	}
	for i, v := range vel {
		if c.masses[i] == 0 {
			c.vel[i] = topology.Vec3{}
			continue
		}
		c.vel[i] = v
	}
	return nil
}

// SetVelocitiesToTemperature draws Maxwell-Boltzmann velocities for the
// massive atoms.
func (c *refContext) SetVelocitiesToTemperature(kelvin float64, seed int64) error {
	rng := rand.New(rand.NewSource(seed))
	for i, m := range c.masses {
		if m == 0 {
			c.vel[i] = topology.Vec3{}
			continue
		}
		sigma := math.Sqrt(BoltzmannKcal * kelvin * AccelUnit / m)
		c.vel[i] = topology.Vec3{rng.NormFloat64() * sigma, rng.NormFloat64() * sigma, rng.NormFloat64() * sigma}
	}
	return nil
}

// evaluate recomputes forces and energy at the current positions.
func (c *refContext) evaluate() error {
	for i := range c.forces {
		c.forces[i] = topology.Vec3{}
	}
	e := 0.0
	for _, k := range c.kernels {
		e += k.fn(c.pos, c.forces)
	}
	if math.IsNaN(e) || math.IsInf(e, 0) {
		return ErrInvalidState
	}
	c.energy = e
	c.fresh = true
	return nil
}

func (c *refContext) ensureForces() error {
	if c.fresh {
		return nil
	}
	return c.evaluate()
}

// Step advances n Langevin steps: kick, half drift, thermostat, half
// drift, SHAKE, force update.
func (c *refContext) Step(n int) error {
	if err := c.check(); err != nil {
		return err
	}
	if err := c.ensureForces(); err != nil {
		return &RuntimeError{Op: "step", Step: c.step, Err: err}
	}
	dt := c.integ.Timestep
	c1 := math.Exp(-c.integ.Friction * dt)
	c2 := math.Sqrt(1 - c1*c1)
	kT := BoltzmannKcal * c.integ.Temperature * AccelUnit
	old := make([]topology.Vec3, len(c.pos))
	free := make([]topology.Vec3, len(c.pos))

	for s := 0; s < n; s++ {
		copy(old, c.pos)
		for i, m := range c.masses {
			if m == 0 {
				continue
			}
			c.vel[i] = c.vel[i].Add(c.forces[i].Scale(dt * AccelUnit / m))
			c.pos[i] = c.pos[i].Add(c.vel[i].Scale(dt / 2))
			sigma := math.Sqrt(kT / m)
			noise := topology.Vec3{c.rng.NormFloat64(), c.rng.NormFloat64(), c.rng.NormFloat64()}
			c.vel[i] = c.vel[i].Scale(c1).Add(noise.Scale(c2 * sigma))
			c.pos[i] = c.pos[i].Add(c.vel[i].Scale(dt / 2))
		}
		if len(c.constraints) > 0 {
			copy(free, c.pos)
			if err := c.shake(old); err != nil {
				return &RuntimeError{Op: "step", Step: c.step, Err: err}
			}
			for _, k := range c.constraints {
				for _, i := range k.Atoms {
					c.vel[i] = c.vel[i].Add(c.pos[i].Sub(free[i]).Scale(1 / dt))
					free[i] = c.pos[i]
				}
			}
		}
		c.step++
		if err := c.evaluate(); err != nil {
			return &RuntimeError{Op: "step", Step: c.step, Err: err}
		}
		for i := range c.pos {
			if !c.pos[i].IsValid() || !c.vel[i].IsValid() {
				return &RuntimeError{Op: "step", Step: c.step, Err: ErrInvalidState}
			}
		}
	}
	return nil
}

// shake projects positions back onto the constraint surface using the
// pre-step positions ref as bond directions.
func (c *refContext) shake(ref []topology.Vec3) error {
	tol := c.integ.ConstraintTolerance
	for iter := 0; iter < shakeMaxIter; iter++ {
		done := true
		for _, k := range c.constraints {
			i, j := k.Atoms[0], k.Atoms[1]
			d := c.pos[i].Sub(c.pos[j])
			d2 := k.Length * k.Length
			diff := d2 - d.Dot(d)
			if math.Abs(diff) <= 2*tol*d2 {
				continue
			}
			done = false
			r := ref[i].Sub(ref[j])
			invI, invJ := 1/c.masses[i], 1/c.masses[j]
			den := 2 * r.Dot(d) * (invI + invJ)
			if den == 0 {
				return fmt.Errorf("shake: degenerate constraint %v", k.Atoms)
			}
			g := diff / den
			c.pos[i] = c.pos[i].Add(r.Scale(g * invI))
			c.pos[j] = c.pos[j].Sub(r.Scale(g * invJ))
		}
		if done {
			return nil
		}
	}
	return fmt.Errorf("shake: no convergence after %d iterations", shakeMaxIter)
}

// Minimize runs steepest descent over massive atoms with an adaptive
// step, keeping constraints satisfied. It converges after three accepted
// steps in a row each lower the energy by less than tolerance.
func (c *refContext) Minimize(tolerance float64, maxIter int) error {
	if err := c.check(); err != nil {
		return err
	}
	if err := c.evaluate(); err != nil {
		return &RuntimeError{Op: "minimize", Step: c.step, Err: err}
	}
	if maxIter <= 0 {
		maxIter = minimizeCap
	}
	h := 0.01
	quiet := 0
	prev := append([]topology.Vec3(nil), c.pos...)
	for iter := 0; iter < maxIter; iter++ {
		fmax := 0.0
		for i, m := range c.masses {
			if m > 0 {
				fmax = math.Max(fmax, c.forces[i].Norm())
			}
		}
		if fmax == 0 {
			return nil
		}
		e0 := c.energy
		copy(prev, c.pos)
		for i, m := range c.masses {
			if m > 0 {
				c.pos[i] = c.pos[i].Add(c.forces[i].Scale(h / fmax))
			}
		}
		if len(c.constraints) > 0 {
			if err := c.shake(prev); err != nil {
				return &RuntimeError{Op: "minimize", Step: c.step, Err: err}
			}
		}
		if err := c.evaluate(); err != nil {
			return &RuntimeError{Op: "minimize", Step: c.step, Err: err}
		}
		if c.energy < e0 {
			if e0-c.energy < tolerance {
				quiet++
				if quiet >= 3 {
					return nil
				}
			} else {
				quiet = 0
			}
			h *= 1.2
			continue
		}
		copy(c.pos, prev)
		if err := c.evaluate(); err != nil {
			return &RuntimeError{Op: "minimize", Step: c.step, Err: err}
		}
		h *= 0.5
		if h < 1e-10 {
			return nil
		}
	}
	return nil
}

func (c *refContext) kinetic() float64 {
	k := 0.0
	for i, m := range c.masses {
		if m > 0 {
			k += 0.5 * m * c.vel[i].Dot(c.vel[i])
		}
	}
	return k / AccelUnit
}

func (c *refContext) State() (State, error) {
	if err := c.check(); err != nil {
		return State{}, err
	}
	if err := c.ensureForces(); err != nil {
		return State{}, &RuntimeError{Op: "state", Step: c.step, Err: err}
	}
	return State{
		Positions:  append([]topology.Vec3(nil), c.pos...),
		Velocities: append([]topology.Vec3(nil), c.vel...),
		Forces:     append([]topology.Vec3(nil), c.forces...),
		Potential:  c.energy,
		Kinetic:    c.kinetic(),
		Step:       c.step,
	}, nil
}

// perGroup evaluates each kernel alone. Energies may be non-finite; that is
// what crash reports need to show.
func (c *refContext) perGroup(fn func(name string, e float64, f []topology.Vec3)) error {
	if err := c.check(); err != nil {
		return err
	}
	buf := make([]topology.Vec3, len(c.pos))
	for _, k := range c.kernels {
		for i := range buf {
			buf[i] = topology.Vec3{}
		}
		e := k.fn(c.pos, buf)
		fn(k.name, e, buf)
	}
	return nil
}

func (c *refContext) GroupEnergies() (map[string]float64, error) {
	out := make(map[string]float64)
	err := c.perGroup(func(name string, e float64, _ []topology.Vec3) { out[name] = e })
	return out, err
}

func (c *refContext) GroupMaxForces() (map[string]float64, error) {
	out := make(map[string]float64)
	err := c.perGroup(func(name string, _ float64, f []topology.Vec3) {
		m := 0.0
		for _, v := range f {
			m = math.Max(m, v.Norm())
		}
		out[name] = m
	})
	return out, err
}

func (c *refContext) Close() error {
	c.closed = true
	c.backend.Cleanup()
	return nil
}
