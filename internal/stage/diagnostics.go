package stage

import (
	"math"
	"sync"
	"time"

	"github.com/san-kum/ribosim/internal/dynamo"
	"github.com/san-kum/ribosim/internal/engine"
	"github.com/san-kum/ribosim/internal/forcefield"
	"github.com/san-kum/ribosim/internal/topology"
)

// Diagnostic is the record emitted for each monitoring interval.
type Diagnostic struct {
	Stage       dynamo.Stage
	Length      int
	Step        int64
	Progress    float64 // percent, budget stages only
	Potential   float64
	Kinetic     float64
	Temperature float64
	DMin        float64 // terminal stages only
	Speed       float64 // ns/day
	Remaining   time.Duration
}

// Observer receives diagnostics as they are produced.
type Observer interface {
	OnDiagnostic(d Diagnostic)
}

// DegreesOfFreedom is 3 per massive atom minus one per constraint, minus 3
// more when center-of-mass motion is removed.
func DegreesOfFreedom(p *forcefield.Potential) int {
	dof := 3*p.MassiveAtoms() - p.NumConstraints()
	if p.RemoveCMMotion {
		dof -= 3
	}
	return dof
}

// Temperature converts kinetic energy in kcal/mol to kelvin.
func Temperature(kinetic float64, dof int) float64 {
	if dof <= 0 {
		return 0
	}
	return 2 * kinetic / (float64(dof) * engine.BoltzmannKcal)
}

// Speed is simulated nanoseconds per wall-clock day.
func Speed(steps int64, elapsed time.Duration, timestepPS float64) float64 {
	sec := elapsed.Seconds()
	if sec <= 0 {
		return 0
	}
	return float64(steps) / sec * timestepPS * 1e-3 * 86400
}

// Remaining extrapolates the wall time left from the rate so far.
func Remaining(step, total int64, elapsed time.Duration) time.Duration {
	if step <= 0 || total <= step {
		return 0
	}
	return time.Duration(float64(total-step) / float64(step) * float64(elapsed))
}

// ChainMinX is the smallest x coordinate over the chain atoms.
func ChainMinX(pos []topology.Vec3, chain []int) float64 {
	m := math.Inf(1)
	for _, i := range chain {
		m = math.Min(m, pos[i][0])
	}
	return m
}

// MinSeparation is the closest distance between any chain atom and any
// atom of others. Large assemblies are scanned in parallel.
func MinSeparation(pos []topology.Vec3, chain, others []int) float64 {
	best := math.Inf(1)
	var mu sync.Mutex
	dynamo.ParallelFor(len(chain), 16, 0, func(start, end int) {
		local := math.Inf(1)
		for _, i := range chain[start:end] {
			for _, j := range others {
				d := pos[i].Sub(pos[j])
				local = math.Min(local, d.Dot(d))
			}
		}
		mu.Lock()
		best = math.Min(best, local)
		mu.Unlock()
	})
	return math.Sqrt(best)
}
