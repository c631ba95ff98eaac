package elongation

import (
	"math/rand"

	"github.com/san-kum/ribosim/internal/tracelog"
	"github.com/san-kum/ribosim/internal/translation"
)

const (
	seedMin = 10
	seedMax = 1_000_000_000
)

// Dwell is one sampled waiting time. Mean and Sampled are physical times
// in seconds.
type Dwell struct {
	Name    string
	Before  string
	Mean    float64
	Sampled float64
	Steps   int64
}

// Plan is everything drawn from the random stream of one residue.
type Plan struct {
	Length int
	// Seed seeds the residue generator; it is the seed written to the log.
	Seed   int64
	Dwells [3]Dwell
	// StageSeeds holds one integrator seed per cycle stage.
	StageSeeds [3]int64
}

// Budgets returns the step budget of each cycle stage in order.
func (p Plan) Budgets() [3]int64 {
	return [3]int64{p.Dwells[0].Steps, p.Dwells[1].Steps, p.Dwells[2].Steps}
}

// Timing converts physical dwell times to integration steps.
type Timing struct {
	// PeptidylTransfer and Translocation are mean dwell times in seconds.
	PeptidylTransfer float64
	Translocation    float64
	ScaleFactor      float64
	Timestep         float64 // ps
}

// Silico maps a physical time in seconds to simulated nanoseconds.
func (t Timing) Silico(seconds float64) float64 { return seconds * 1e9 / t.ScaleFactor }

func (t Timing) Steps(seconds float64) int64 {
	return int64(t.Silico(seconds) / (t.Timestep * 1e-3))
}

// mix is the splitmix64 finalizer over a+b.
func mix(a, b uint64) uint64 {
	z := a + 0x9e3779b97f4a7c15*(b+1)
	z = (z ^ z>>30) * 0xbf58476d1ce4e5b9
	z = (z ^ z>>27) * 0x94d049bb133111eb
	return z ^ z>>31
}

// MasterSeed derives the trajectory seed from the run seed.
func MasterSeed(runSeed int64, traj int) uint64 {
	return mix(uint64(runSeed), uint64(traj))
}

// ResidueSeed derives the seed of the generator for residue length.
func ResidueSeed(master uint64, length int) int64 {
	return seedMin + int64(mix(master, uint64(length))%(seedMax-seedMin+1))
}

func drawSeed(r *rand.Rand) int64 { return seedMin + r.Int63n(seedMax-seedMin+1) }

// NewPlan draws the dwell samples of residue length, then the three stage
// seeds. The same master seed always yields the same plan.
func NewPlan(master uint64, length int, times translation.Times, tm Timing) Plan {
	p := Plan{Length: length, Seed: ResidueSeed(master, length)}
	r := rand.New(rand.NewSource(p.Seed))

	translocation := tm.Translocation
	if d := times.Deficit(length); d > 0 {
		translocation += d
	}
	binding := times.Intrinsic[length] - tm.PeptidylTransfer - tm.Translocation
	if binding < 0 {
		binding = 0
	}
	means := [3]float64{tm.PeptidylTransfer, translocation, binding}
	names := [3][2]string{
		{"peptidyl transfer", "peptidyl transfer"},
		{"translocation", "translocation"},
		{"tRNA binding", "next tRNA binding"},
	}
	for i, mean := range means {
		sampled := r.ExpFloat64() * mean
		p.Dwells[i] = Dwell{
			Name:    names[i][0],
			Before:  names[i][1],
			Mean:    mean,
			Sampled: sampled,
			Steps:   tm.Steps(sampled),
		}
	}
	for i := range p.StageSeeds {
		p.StageSeeds[i] = drawSeed(r)
	}
	return p
}

// TerminalSeeds returns the ejection and dissociation seeds, drawn from a
// generator seeded with the translocation seed of the last residue.
func (p Plan) TerminalSeeds() (ejection, dissociation int64) {
	r := rand.New(rand.NewSource(p.StageSeeds[2]))
	return drawSeed(r), drawSeed(r)
}

func (p Plan) write(w *tracelog.Writer, tm Timing) {
	w.Separator()
	w.ElongationStart(p.Length, p.Seed)
	for _, d := range p.Dwells {
		w.Dwell(tracelog.Dwell{
			Name:       d.Name,
			Before:     d.Before,
			MeanVivo:   d.Mean,
			MeanSilico: tm.Silico(d.Mean),
			Sampled:    tm.Silico(d.Sampled),
			Steps:      d.Steps,
		})
	}
}
