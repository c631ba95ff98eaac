package scheduler

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/san-kum/ribosim/internal/engine"
)

var ErrNoAccelerator = errors.New("scheduler: no accelerator environment detected")

// DeviceMismatchError reports an accelerator count that does not match the
// number of worker slots.
type DeviceMismatchError struct {
	Have int
	Want int
}

func (e *DeviceMismatchError) Error() string {
	return fmt.Sprintf("scheduler: %d accelerator devices available, want one per slot (%d)", e.Have, e.Want)
}

type DeviceOptions struct {
	Accelerator bool
	// Threads is the CPU thread count of one slot.
	Threads int
	Slots   int
	// Indices pins accelerator indices explicitly; empty reads them from
	// the environment.
	Indices []int
}

// ResolveDevices assigns one device per slot. Slot i gets the i-th device.
// getenv is os.Getenv outside tests.
func ResolveDevices(opt DeviceOptions, getenv func(string) string) ([]engine.Device, error) {
	if opt.Slots < 1 {
		return nil, fmt.Errorf("scheduler: %d worker slots", opt.Slots)
	}
	devs := make([]engine.Device, 0, opt.Slots)
	if !opt.Accelerator {
		for range opt.Slots {
			devs = append(devs, engine.CPU(opt.Threads))
		}
		return devs, nil
	}

	idx := opt.Indices
	if len(idx) == 0 {
		var err error
		if idx, err = envIndices(getenv); err != nil {
			return nil, err
		}
	}
	if len(idx) != opt.Slots {
		return nil, &DeviceMismatchError{Have: len(idx), Want: opt.Slots}
	}
	seen := make(map[int]bool, len(idx))
	for _, i := range idx {
		if seen[i] {
			return nil, fmt.Errorf("scheduler: accelerator %d listed twice", i)
		}
		seen[i] = true
		devs = append(devs, engine.Accelerator(i))
	}
	return devs, nil
}

func envIndices(getenv func(string) string) ([]int, error) {
	if v := strings.TrimSpace(getenv("CUDA_VISIBLE_DEVICES")); v != "" {
		var out []int
		for _, f := range strings.Split(v, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(f))
			if err != nil {
				return nil, fmt.Errorf("scheduler: CUDA_VISIBLE_DEVICES %q: %w", v, err)
			}
			out = append(out, n)
		}
		return out, nil
	}
	if path := strings.TrimSpace(getenv("PBS_GPUFILE")); path != "" {
		n, err := countLines(path)
		if err != nil {
			return nil, fmt.Errorf("scheduler: PBS_GPUFILE: %w", err)
		}
		// The file names hosts, not indices: devices are numbered from 0.
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out, nil
	}
	return nil, ErrNoAccelerator
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) != "" {
			n++
		}
	}
	return n, sc.Err()
}
