package engine

import (
	"math"

	"github.com/san-kum/ribosim/internal/forcefield"
	"github.com/san-kum/ribosim/internal/topology"
)

// Force groups reported by GroupEnergies and GroupMaxForces.
const (
	GroupBonds       = "bonds"
	GroupAngles      = "angles"
	GroupDoubleWells = "double-well angles"
	GroupTorsions    = "torsions"
	GroupImpropers   = "impropers"
	GroupNonbonded   = "nonbonded"
	GroupSphere      = "spherical restraint"
	GroupBias        = "directional bias"
	GroupScaffold    = "position restraint"
)

var groupOrder = []string{
	GroupBonds, GroupAngles, GroupDoubleWells, GroupTorsions, GroupImpropers,
	GroupNonbonded, GroupSphere, GroupBias, GroupScaffold,
}

// GroupNames lists force groups in report order.
func GroupNames() []string { return append([]string(nil), groupOrder...) }

// terms is the flattened bonded description of a potential.
type terms struct {
	bonds     []forcefield.Bond
	angles    []forcefield.Angle
	wells     []forcefield.DoubleWellAngle
	torsions  []forcefield.Torsion
	impropers []forcefield.Improper
}

func flatten(p *forcefield.Potential) terms {
	return terms{
		bonds:     p.Bonds(),
		angles:    p.Angles(),
		wells:     p.DoubleWells(),
		torsions:  p.Torsions(),
		impropers: p.Impropers(),
	}
}

// kernel evaluates one force group, accumulating into f.
type kernel func(pos, f []topology.Vec3) float64

func bondKernel(bonds []forcefield.Bond) kernel {
	return func(pos, f []topology.Vec3) float64 {
		e := 0.0
		for _, b := range bonds {
			i, j := b.Atoms[0], b.Atoms[1]
			d := pos[i].Sub(pos[j])
			r := d.Norm()
			dr := r - b.Length
			e += 0.5 * b.K * dr * dr
			if r == 0 {
				continue
			}
			g := d.Scale(-b.K * dr / r)
			f[i] = f[i].Add(g)
			f[j] = f[j].Sub(g)
		}
		return e
	}
}

// angleGrad returns theta for (a, b, c) and its gradient wrt each atom.
func angleGrad(a, b, c topology.Vec3) (float64, [3]topology.Vec3) {
	u, v := a.Sub(b), c.Sub(b)
	nu, nv := u.Norm(), v.Norm()
	var g [3]topology.Vec3
	if nu == 0 || nv == 0 {
		return 0, g
	}
	cos := u.Dot(v) / (nu * nv)
	cos = math.Max(-1, math.Min(1, cos))
	theta := math.Acos(cos)
	sin := math.Max(math.Sqrt(1-cos*cos), 1e-8)
	g[0] = v.Scale(1 / (nu * nv)).Sub(u.Scale(cos / (nu * nu))).Scale(-1 / sin)
	g[2] = u.Scale(1 / (nu * nv)).Sub(v.Scale(cos / (nv * nv))).Scale(-1 / sin)
	g[1] = g[0].Add(g[2]).Scale(-1)
	return theta, g
}

// dihedralGrad returns the IUPAC dihedral of (a, b, c, d) and its gradient.
func dihedralGrad(a, b, c, d topology.Vec3) (float64, [4]topology.Vec3) {
	b1, b2, b3 := b.Sub(a), c.Sub(b), d.Sub(c)
	m, n := b1.Cross(b2), b2.Cross(b3)
	nb2 := b2.Norm()
	mm, nn := m.Dot(m), n.Dot(n)
	var g [4]topology.Vec3
	if nb2 == 0 || mm == 0 || nn == 0 {
		return 0, g
	}
	phi := math.Atan2(nb2*b1.Dot(n), m.Dot(n))
	g[0] = m.Scale(-nb2 / mm)
	g[3] = n.Scale(nb2 / nn)
	p := b1.Dot(b2) / (nb2 * nb2)
	q := b3.Dot(b2) / (nb2 * nb2)
	g[1] = g[0].Scale(-p - 1).Add(g[3].Scale(q))
	g[2] = g[3].Scale(-q - 1).Add(g[0].Scale(p))
	return phi, g
}

func applyAngle(f []topology.Vec3, atoms [3]int, dEdTheta float64, g [3]topology.Vec3) {
	for k, idx := range atoms {
		f[idx] = f[idx].Sub(g[k].Scale(dEdTheta))
	}
}

func applyDihedral(f []topology.Vec3, atoms [4]int, dEdPhi float64, g [4]topology.Vec3) {
	for k, idx := range atoms {
		f[idx] = f[idx].Sub(g[k].Scale(dEdPhi))
	}
}

func angleKernel(angles []forcefield.Angle) kernel {
	return func(pos, f []topology.Vec3) float64 {
		e := 0.0
		for _, a := range angles {
			theta, g := angleGrad(pos[a.Atoms[0]], pos[a.Atoms[1]], pos[a.Atoms[2]])
			dt := theta - a.Theta0
			e += 0.5 * a.K * dt * dt
			applyAngle(f, a.Atoms, a.K*dt, g)
		}
		return e
	}
}

// doubleWell evaluates the double-well energy and dE/dtheta with a
// log-sum-exp so large gamma stays finite.
func doubleWell(w forcefield.DoubleWellAngle, theta float64) (float64, float64) {
	da, db := theta-w.ThetaA, theta-w.ThetaB
	A := w.Gamma * (w.Ka*da*da + w.EpsA)
	B := w.Gamma * w.Kb * db * db
	lo := math.Min(A, B)
	ea, eb := math.Exp(-(A - lo)), math.Exp(-(B - lo))
	sum := ea + eb
	e := (lo - math.Log(sum)) / w.Gamma
	dE := (ea*2*w.Ka*da + eb*2*w.Kb*db) / sum
	return e, dE
}

func wellKernel(wells []forcefield.DoubleWellAngle) kernel {
	return func(pos, f []topology.Vec3) float64 {
		e := 0.0
		for _, w := range wells {
			theta, g := angleGrad(pos[w.Atoms[0]], pos[w.Atoms[1]], pos[w.Atoms[2]])
			ew, dE := doubleWell(w, theta)
			e += ew
			applyAngle(f, w.Atoms, dE, g)
		}
		return e
	}
}

func torsionKernel(torsions []forcefield.Torsion) kernel {
	return func(pos, f []topology.Vec3) float64 {
		e := 0.0
		for _, t := range torsions {
			a := t.Atoms
			phi, g := dihedralGrad(pos[a[0]], pos[a[1]], pos[a[2]], pos[a[3]])
			arg := float64(t.N)*phi - t.Phase
			e += t.K * (1 + math.Cos(arg))
			applyDihedral(f, a, -t.K*float64(t.N)*math.Sin(arg), g)
		}
		return e
	}
}

func improperKernel(impropers []forcefield.Improper) kernel {
	return func(pos, f []topology.Vec3) float64 {
		e := 0.0
		for _, t := range impropers {
			a := t.Atoms
			phi, g := dihedralGrad(pos[a[0]], pos[a[1]], pos[a[2]], pos[a[3]])
			d := wrapAngle(phi - t.Phi0)
			e += t.K * d * d
			applyDihedral(f, a, 2*t.K*d, g)
		}
		return e
	}
}

func wrapAngle(x float64) float64 {
	x = math.Mod(x+math.Pi, 2*math.Pi)
	if x < 0 {
		x += 2 * math.Pi
	}
	return x - math.Pi
}

// centerOfMass is mass weighted; massless atoms fall back to equal weights.
func centerOfMass(pos []topology.Vec3, masses []float64, atoms []int) topology.Vec3 {
	var c topology.Vec3
	total := 0.0
	for _, i := range atoms {
		c = c.Add(pos[i].Scale(masses[i]))
		total += masses[i]
	}
	if total > 0 {
		return c.Scale(1 / total)
	}
	for _, i := range atoms {
		c = c.Add(pos[i])
	}
	if len(atoms) > 0 {
		c = c.Scale(1 / float64(len(atoms)))
	}
	return c
}

func sphereKernel(s *forcefield.SphericalRestraint, masses []float64) kernel {
	return func(pos, f []topology.Vec3) float64 {
		center := s.Center
		if len(s.Track) > 0 {
			center = centerOfMass(pos, masses, s.Track)
		}
		e := 0.0
		for _, i := range s.Atoms {
			d := pos[i].Sub(center)
			r := d.Norm()
			dr := r - s.Radius
			if dr <= 0 || r == 0 {
				continue
			}
			e += s.K * dr * dr
			f[i] = f[i].Sub(d.Scale(2 * s.K * dr / r))
		}
		return e
	}
}

func biasKernel(b *forcefield.DirectionalBias) kernel {
	return func(pos, f []topology.Vec3) float64 {
		e := 0.0
		for _, i := range b.Atoms {
			dx := pos[i][0] - b.X0
			if dx >= 0 {
				continue
			}
			e += b.K * dx * dx
			f[i][0] -= 2 * b.K * dx
		}
		return e
	}
}

func scaffoldKernel(s forcefield.PositionRestraint) kernel {
	return func(pos, f []topology.Vec3) float64 {
		e := 0.0
		for k, i := range s.Atoms {
			d := pos[i].Sub(s.Refs[k])
			e += s.K * d.Dot(d)
			f[i] = f[i].Sub(d.Scale(2 * s.K))
		}
		return e
	}
}
