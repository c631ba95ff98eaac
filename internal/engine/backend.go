package engine

import (
	"log/slog"

	"github.com/san-kum/ribosim/internal/topology"
)

// Backend evaluates nonbonded forces.
type Backend interface {
	Name() string
	Available() bool
	Nonbonded(nb *Nonbonded, pos, f []topology.Vec3) float64
	Cleanup()
}

// SelectBackend returns the backend for dev. An accelerator device whose
// backend is unavailable falls back to the CPU.
func SelectBackend(dev Device) Backend {
	if dev.Accelerator {
		accel := NewAcceleratorBackend(dev.Index)
		if accel.Available() {
			return accel
		}
		slog.Default().With("component", "engine").Warn("accelerator unavailable, using cpu",
			"device", dev.String())
		return NewCPUBackend(0)
	}
	return NewCPUBackend(dev.Threads)
}
