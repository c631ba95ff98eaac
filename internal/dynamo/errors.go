package dynamo

import (
	"errors"
	"fmt"
)

// Domain errors shared across packages.
var (
	// ErrInvalidState indicates positions or velocities with NaN or Inf values.
	ErrInvalidState = errors.New("dynamo: invalid state (NaN or Inf detected)")

	// ErrParameterBounds indicates a parameter value is outside valid range.
	ErrParameterBounds = errors.New("dynamo: parameter out of valid bounds")

	// ErrContextCanceled indicates the run was interrupted.
	ErrContextCanceled = errors.New("dynamo: simulation canceled by context")

	// ErrDimensionMismatch indicates coordinates that do not match the structure.
	ErrDimensionMismatch = errors.New("dynamo: dimension mismatch between state and structure")
)

// SimulationError wraps an error with the stage and step it happened at.
type SimulationError struct {
	Length  int
	Stage   Stage
	Step    int
	Wrapped error
}

func (e *SimulationError) Error() string {
	if e.Step > 0 {
		return fmt.Sprintf("length %d %s step %d: %v", e.Length, e.Stage, e.Step, e.Wrapped)
	}
	return fmt.Sprintf("length %d %s: %v", e.Length, e.Stage, e.Wrapped)
}

func (e *SimulationError) Unwrap() error {
	return e.Wrapped
}
