// Package metrics summarises the diagnostics of each stage run.
package metrics

import (
	"log/slog"
	"math"

	"github.com/san-kum/ribosim/internal/dynamo"
	"github.com/san-kum/ribosim/internal/stage"
)

type Metric interface {
	Name() string
	Observe(d stage.Diagnostic)
	Value() float64
	Reset()
}

// MeanTemperature averages the instantaneous temperature.
type MeanTemperature struct {
	sum     float64
	samples int
}

func NewMeanTemperature() *MeanTemperature { return &MeanTemperature{} }

func (m *MeanTemperature) Name() string { return "mean_temp" }

func (m *MeanTemperature) Observe(d stage.Diagnostic) {
	m.sum += d.Temperature
	m.samples++
}

func (m *MeanTemperature) Value() float64 {
	if m.samples == 0 {
		return 0
	}
	return m.sum / float64(m.samples)
}

func (m *MeanTemperature) Reset() { *m = MeanTemperature{} }

// EnergyDrift is the largest potential energy excursion from the first
// interval of the stage.
type EnergyDrift struct {
	initial  float64
	maxDrift float64
	samples  int
}

func NewEnergyDrift() *EnergyDrift { return &EnergyDrift{} }

func (e *EnergyDrift) Name() string { return "energy_drift" }

func (e *EnergyDrift) Observe(d stage.Diagnostic) {
	if e.samples == 0 {
		e.initial = d.Potential
	}
	e.samples++
	if drift := math.Abs(d.Potential - e.initial); drift > e.maxDrift {
		e.maxDrift = drift
	}
}

func (e *EnergyDrift) Value() float64 { return e.maxDrift }

func (e *EnergyDrift) Reset() { *e = EnergyDrift{} }

// Stability is the fraction of intervals whose temperature stays within
// tolerance of the thermostat target.
type Stability struct {
	target     float64
	tolerance  float64
	violations int
	samples    int
}

func NewStability(target, tolerance float64) *Stability {
	return &Stability{target: target, tolerance: tolerance}
}

func (s *Stability) Name() string { return "stability" }

func (s *Stability) Observe(d stage.Diagnostic) {
	s.samples++
	if math.IsNaN(d.Temperature) || math.Abs(d.Temperature-s.target) > s.tolerance {
		s.violations++
	}
}

func (s *Stability) Value() float64 {
	if s.samples == 0 {
		return 1.0
	}
	return 1.0 - float64(s.violations)/float64(s.samples)
}

func (s *Stability) Reset() {
	s.violations = 0
	s.samples = 0
}

// Throughput averages the reported speed in ns/day.
type Throughput struct {
	sum     float64
	samples int
}

func NewThroughput() *Throughput { return &Throughput{} }

func (t *Throughput) Name() string { return "speed" }

func (t *Throughput) Observe(d stage.Diagnostic) {
	if d.Speed > 0 {
		t.sum += d.Speed
		t.samples++
	}
}

func (t *Throughput) Value() float64 {
	if t.samples == 0 {
		return 0
	}
	return t.sum / float64(t.samples)
}

func (t *Throughput) Reset() { *t = Throughput{} }

// Summary is the metric values of one stage run.
type Summary struct {
	Length int
	Stage  dynamo.Stage
	Values map[string]float64
}

// Collector feeds every diagnostic to its metrics and closes a Summary
// whenever the stage or chain length changes. It belongs to one
// trajectory and is not safe for concurrent use.
type Collector struct {
	metrics []Metric
	current *Summary
	done    []Summary
	logger  *slog.Logger
}

func NewCollector(traj int, ms ...Metric) *Collector {
	return &Collector{
		metrics: ms,
		logger:  slog.Default().With("component", "metrics", "traj", traj),
	}
}

// Standard returns the collector used by a production run at temperature
// target (K).
func Standard(traj int, target float64) *Collector {
	return NewCollector(traj, NewMeanTemperature(), NewEnergyDrift(), NewStability(target, 0.2*target), NewThroughput())
}

func (c *Collector) OnDiagnostic(d stage.Diagnostic) {
	if c.current != nil && (c.current.Length != d.Length || c.current.Stage != d.Stage) {
		c.Flush()
	}
	if c.current == nil {
		c.current = &Summary{Length: d.Length, Stage: d.Stage}
	}
	for _, m := range c.metrics {
		m.Observe(d)
	}
}

// Flush closes the open summary, if any.
func (c *Collector) Flush() {
	if c.current == nil {
		return
	}
	s := *c.current
	s.Values = make(map[string]float64, len(c.metrics))
	attrs := []any{"length", s.Length, "stage", s.Stage.String()}
	for _, m := range c.metrics {
		s.Values[m.Name()] = m.Value()
		attrs = append(attrs, m.Name(), m.Value())
		m.Reset()
	}
	c.logger.Debug("stage summary", attrs...)
	c.done = append(c.done, s)
	c.current = nil
}

// Summaries returns the closed summaries in run order.
func (c *Collector) Summaries() []Summary { return c.done }
