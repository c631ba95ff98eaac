package metrics

import (
	"math"
	"testing"

	"github.com/san-kum/ribosim/internal/dynamo"
	"github.com/san-kum/ribosim/internal/stage"
)

func diag(length int, st dynamo.Stage, ep, temp, speed float64) stage.Diagnostic {
	return stage.Diagnostic{Length: length, Stage: st, Potential: ep, Temperature: temp, Speed: speed}
}

func TestEnergyDrift(t *testing.T) {
	m := NewEnergyDrift()
	for _, ep := range []float64{-10, -12, -7, -9} {
		m.Observe(diag(1, dynamo.StageBinding, ep, 310, 0))
	}
	if math.Abs(m.Value()-3) > 1e-12 {
		t.Errorf("expected drift 3, got %f", m.Value())
	}

	m.Reset()
	if m.Value() != 0 {
		t.Errorf("expected zero drift after reset, got %f", m.Value())
	}
}

func TestStability(t *testing.T) {
	s := NewStability(310, 30)
	if s.Value() != 1.0 {
		t.Error("expected full stability with no samples")
	}
	for _, temp := range []float64{300, 320, 400, math.NaN()} {
		s.Observe(diag(1, dynamo.StageBinding, 0, temp, 0))
	}
	if math.Abs(s.Value()-0.5) > 1e-12 {
		t.Errorf("expected stability 0.5, got %f", s.Value())
	}
}

func TestMeans(t *testing.T) {
	temp := NewMeanTemperature()
	speed := NewThroughput()
	for i, v := range []float64{300, 310, 320} {
		d := diag(1, dynamo.StageBinding, 0, v, float64(i))
		temp.Observe(d)
		speed.Observe(d)
	}
	if math.Abs(temp.Value()-310) > 1e-12 {
		t.Errorf("expected mean temperature 310, got %f", temp.Value())
	}
	// the zero speed of the first interval is not a measurement
	if math.Abs(speed.Value()-1.5) > 1e-12 {
		t.Errorf("expected mean speed 1.5, got %f", speed.Value())
	}
}

func TestCollectorSplitsStages(t *testing.T) {
	c := Standard(1, 310)
	c.OnDiagnostic(diag(2, dynamo.StageBinding, -5, 310, 10))
	c.OnDiagnostic(diag(2, dynamo.StageBinding, -6, 312, 12))
	c.OnDiagnostic(diag(2, dynamo.StageBondFormation, -4, 308, 11))
	c.OnDiagnostic(diag(3, dynamo.StageBinding, -4, 305, 9))
	c.Flush()
	c.Flush()

	got := c.Summaries()
	if len(got) != 3 {
		t.Fatalf("expected 3 summaries, got %d", len(got))
	}
	if got[0].Stage != dynamo.StageBinding || got[0].Length != 2 {
		t.Errorf("unexpected first summary %+v", got[0])
	}
	if math.Abs(got[0].Values["energy_drift"]-1) > 1e-12 {
		t.Errorf("expected drift 1 in first stage, got %f", got[0].Values["energy_drift"])
	}
	if math.Abs(got[0].Values["speed"]-11) > 1e-12 {
		t.Errorf("expected speed 11, got %f", got[0].Values["speed"])
	}
	if got[1].Values["energy_drift"] != 0 {
		t.Error("metrics should reset between stages")
	}
	if got[2].Length != 3 {
		t.Errorf("expected length 3, got %d", got[2].Length)
	}
}
