package engine

import (
	"runtime"
	"sync"

	"github.com/san-kum/ribosim/internal/topology"
)

type CPUBackend struct {
	workers int
	local   [][]topology.Vec3
}

// NewCPUBackend uses threads workers, or every CPU when threads <= 0.
func NewCPUBackend(threads int) *CPUBackend {
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	return &CPUBackend{workers: threads}
}

func (c *CPUBackend) Name() string    { return "cpu" }
func (c *CPUBackend) Available() bool { return true }
func (c *CPUBackend) Cleanup()        { c.local = nil }
func (c *CPUBackend) Workers() int    { return c.workers }

func (c *CPUBackend) Nonbonded(nb *Nonbonded, pos, f []topology.Vec3) float64 {
	n := len(pos)
	if n < 64 || c.workers <= 1 {
		return nb.rows(0, n, pos, f)
	}
	return c.nonbondedParallel(nb, pos, f)
}

// nonbondedParallel splits rows across workers with private force
// buffers. Rows are interleaved since row i has n-i-1 pairs.
func (c *CPUBackend) nonbondedParallel(nb *Nonbonded, pos, f []topology.Vec3) float64 {
	n := len(pos)
	if len(c.local) != c.workers || len(c.local[0]) != n {
		c.local = make([][]topology.Vec3, c.workers)
		for w := range c.local {
			c.local[w] = make([]topology.Vec3, n)
		}
	}
	energies := make([]float64, c.workers)

	var wg sync.WaitGroup
	for w := 0; w < c.workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			lf := c.local[worker]
			for i := range lf {
				lf[i] = topology.Vec3{}
			}
			e := 0.0
			for i := worker; i < n; i += c.workers {
				e += nb.rows(i, i+1, pos, lf)
			}
			energies[worker] = e
		}(w)
	}
	wg.Wait()

	total := 0.0
	for w := 0; w < c.workers; w++ {
		total += energies[w]
		for i := 0; i < n; i++ {
			f[i] = f[i].Add(c.local[w][i])
		}
	}
	return total
}
