package engine

import (
	"errors"
	"fmt"

	"github.com/san-kum/ribosim/internal/dynamo"
	"github.com/san-kum/ribosim/internal/forcefield"
	"github.com/san-kum/ribosim/internal/topology"
)

const (
	// BoltzmannKcal is kB in kcal/mol/K.
	BoltzmannKcal = 0.0019872041
	// AccelUnit converts kcal/mol/A/amu to A/ps^2.
	AccelUnit = 418.4
	// KJToKcal converts kJ/mol to kcal/mol.
	KJToKcal = 1 / 4.184
)

// ErrInvalidState is returned when positions, velocities or energies
// stop being finite.
var ErrInvalidState = dynamo.ErrInvalidState

var ErrNoPositions = errors.New("engine: positions not set")

// Device is the compute resource pinned to one worker slot.
type Device struct {
	Accelerator bool
	Index       int
	Threads     int
}

func CPU(threads int) Device       { return Device{Threads: threads} }
func Accelerator(index int) Device { return Device{Accelerator: true, Index: index} }

func (d Device) String() string {
	if d.Accelerator {
		return fmt.Sprintf("accelerator:%d", d.Index)
	}
	return fmt.Sprintf("cpu:%d", d.Threads)
}

// Integrator configures the Langevin thermostat of a context.
type Integrator struct {
	Temperature         float64 // K
	Friction            float64 // 1/ps
	Timestep            float64 // ps
	Seed                int64
	ConstraintTolerance float64
}

// State is a snapshot of a context.
type State struct {
	Positions  []topology.Vec3
	Velocities []topology.Vec3
	Forces     []topology.Vec3
	Potential  float64
	Kinetic    float64
	Step       int64
}

// Engine creates simulation contexts.
type Engine interface {
	Name() string
	NewContext(pot *forcefield.Potential, integ Integrator, dev Device) (Context, error)
}

// Context is one live simulation bound to a potential.
type Context interface {
	SetPositions(pos []topology.Vec3) error
	SetVelocities(vel []topology.Vec3) error
	SetVelocitiesToTemperature(kelvin float64, seed int64) error
	// Minimize relaxes positions until an iteration lowers the energy by
	// less than tolerance kcal/mol. maxIter <= 0 means no limit.
	Minimize(tolerance float64, maxIter int) error
	Step(n int) error
	State() (State, error)
	// GroupEnergies returns the potential energy of each force group.
	GroupEnergies() (map[string]float64, error)
	// GroupMaxForces returns the largest per-atom force of each group.
	GroupMaxForces() (map[string]float64, error)
	Close() error
}

// ConstructionError is a failure to create a context. It is transient:
// callers may retry.
type ConstructionError struct {
	Device  Device
	Attempt int
	Err     error
}

func (e *ConstructionError) Error() string {
	if e.Attempt > 0 {
		return fmt.Sprintf("engine: construct context on %s (attempt %d): %v", e.Device, e.Attempt, e.Err)
	}
	return fmt.Sprintf("engine: construct context on %s: %v", e.Device, e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }

// RuntimeError is a failure while minimizing or stepping.
type RuntimeError struct {
	Op   string
	Step int64
	Err  error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("engine: %s failed at step %d: %v", e.Op, e.Step, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }
