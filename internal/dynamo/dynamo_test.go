package dynamo

import (
	"errors"
	"sync/atomic"
	"testing"
)

func TestStageLabels(t *testing.T) {
	tests := []struct {
		stage Stage
		label string
	}{
		{StageBinding, "1"},
		{StageTranslocation, "3"},
		{StageEjection, "ejection"},
		{StageDissociation, "dissociation"},
	}
	for _, tt := range tests {
		if got := tt.stage.Label(); got != tt.label {
			t.Errorf("%v.Label() = %q, want %q", tt.stage, got, tt.label)
		}
	}
}

func TestParseStage(t *testing.T) {
	s, err := ParseStage("bond-formation")
	if err != nil || s != StageBondFormation {
		t.Errorf("ParseStage(name) = %v, %v", s, err)
	}
	s, err = ParseStage("5")
	if err != nil || s != StageDissociation {
		t.Errorf("ParseStage(number) = %v, %v", s, err)
	}
	if _, err := ParseStage("elongate"); !errors.Is(err, ErrParameterBounds) {
		t.Errorf("expected ErrParameterBounds, got %v", err)
	}
}

func TestParallelForCoversRange(t *testing.T) {
	var sum atomic.Int64
	ParallelFor(1000, 16, 4, func(s, e int) {
		for i := s; i < e; i++ {
			sum.Add(int64(i))
		}
	})
	if got := sum.Load(); got != 999*1000/2 {
		t.Errorf("sum = %d", got)
	}
}

func TestSimulationErrorUnwrap(t *testing.T) {
	err := &SimulationError{Length: 3, Stage: StageBinding, Wrapped: ErrInvalidState}
	if !errors.Is(err, ErrInvalidState) {
		t.Error("SimulationError does not unwrap")
	}
	if got, want := err.Error(), "length 3 binding: "+ErrInvalidState.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
