package engine

import "github.com/san-kum/ribosim/internal/topology"

// AcceleratorBackend stands in for a device kernel. No device kernels are
// linked into this build, so it reports unavailable and computes on the CPU.
type AcceleratorBackend struct {
	index int
	cpu   *CPUBackend
}

func NewAcceleratorBackend(index int) *AcceleratorBackend {
	return &AcceleratorBackend{index: index, cpu: NewCPUBackend(0)}
}

func (a *AcceleratorBackend) Name() string    { return "accelerator (not available)" }
func (a *AcceleratorBackend) Available() bool { return false }
func (a *AcceleratorBackend) Cleanup()        { a.cpu.Cleanup() }

func (a *AcceleratorBackend) Nonbonded(nb *Nonbonded, pos, f []topology.Vec3) float64 {
	return a.cpu.Nonbonded(nb, pos, f)
}
