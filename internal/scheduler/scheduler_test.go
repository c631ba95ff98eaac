package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"github.com/san-kum/ribosim/internal/engine"
	"github.com/san-kum/ribosim/internal/tracelog"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestResolveDevices(t *testing.T) {
	gpuFile := filepath.Join(t.TempDir(), "gpus")
	if err := os.WriteFile(gpuFile, []byte("node1-gpu0\nnode1-gpu1\n\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		opt  DeviceOptions
		env  map[string]string
		want []engine.Device
		err  error
	}{
		{
			name: "cpu",
			opt:  DeviceOptions{Threads: 4, Slots: 2},
			want: []engine.Device{engine.CPU(4), engine.CPU(4)},
		},
		{
			name: "explicit",
			opt:  DeviceOptions{Accelerator: true, Slots: 2, Indices: []int{3, 1}},
			want: []engine.Device{engine.Accelerator(3), engine.Accelerator(1)},
		},
		{
			name: "cuda env",
			opt:  DeviceOptions{Accelerator: true, Slots: 3},
			env:  map[string]string{"CUDA_VISIBLE_DEVICES": "0, 2,5", "PBS_GPUFILE": gpuFile},
			want: []engine.Device{engine.Accelerator(0), engine.Accelerator(2), engine.Accelerator(5)},
		},
		{
			name: "pbs file",
			opt:  DeviceOptions{Accelerator: true, Slots: 2},
			env:  map[string]string{"PBS_GPUFILE": gpuFile},
			want: []engine.Device{engine.Accelerator(0), engine.Accelerator(1)},
		},
		{
			name: "no environment",
			opt:  DeviceOptions{Accelerator: true, Slots: 1},
			err:  ErrNoAccelerator,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)
			got, err := ResolveDevices(tt.opt, env(tt.env))
			if tt.err != nil {
				g.Expect(err).To(MatchError(tt.err))
				return
			}
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(got).To(Equal(tt.want))
		})
	}
}

func TestResolveDevicesMismatch(t *testing.T) {
	g := NewWithT(t)
	_, err := ResolveDevices(DeviceOptions{Accelerator: true, Slots: 4}, env(map[string]string{"CUDA_VISIBLE_DEVICES": "0,1"}))
	var mm *DeviceMismatchError
	g.Expect(errors.As(err, &mm)).To(BeTrue())
	g.Expect(mm.Have).To(Equal(2))
	g.Expect(mm.Want).To(Equal(4))

	_, err = ResolveDevices(DeviceOptions{Accelerator: true, Slots: 2, Indices: []int{1, 1}}, nil)
	g.Expect(err).To(HaveOccurred())
}

func newScheduler(t *testing.T, devs []engine.Device, run RunFunc) (*Scheduler, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := New(Config{
		Devices:    devs,
		FullLength: 3,
		LogPath:    func(id int) string { return filepath.Join(dir, strconv.Itoa(id)+".out") },
		StatusPath: filepath.Join(dir, "info.log"),
		Head:       "Continuous Synthesis\n\n",
		Interval:   5 * time.Millisecond,
	}, run)
	if err != nil {
		t.Fatal(err)
	}
	return s, dir
}

func tasks(n int) []Task {
	out := make([]Task, n)
	for i := range out {
		out[i] = Task{TrajID: i + 1, StartLength: 1}
	}
	return out
}

func TestRunBoundsConcurrency(t *testing.T) {
	g := NewWithT(t)
	var mu sync.Mutex
	active, peak := 0, 0
	inUse := map[int]bool{}
	var clash bool

	s, _ := newScheduler(t, []engine.Device{engine.Accelerator(0), engine.Accelerator(1)}, func(ctx context.Context, task Task, dev engine.Device) error {
		mu.Lock()
		active++
		peak = max(peak, active)
		if inUse[dev.Index] {
			clash = true
		}
		inUse[dev.Index] = true
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		active--
		inUse[dev.Index] = false
		mu.Unlock()
		return nil
	})

	reports, err := s.Run(context.Background(), tasks(6))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(reports).To(HaveLen(6))
	g.Expect(peak).To(Equal(2))
	g.Expect(clash).To(BeFalse())
	for _, r := range reports {
		g.Expect(r.Err).NotTo(HaveOccurred())
		g.Expect(r.Device.Accelerator).To(BeTrue())
	}
}

func TestCrashFreesSlot(t *testing.T) {
	g := NewWithT(t)
	var mu sync.Mutex
	ran := map[int]bool{}
	s, _ := newScheduler(t, []engine.Device{engine.CPU(1)}, func(ctx context.Context, task Task, dev engine.Device) error {
		mu.Lock()
		ran[task.TrajID] = true
		mu.Unlock()
		if task.TrajID == 1 {
			return errors.New("integration blew up")
		}
		return nil
	})

	reports, err := s.Run(context.Background(), tasks(3))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(ran).To(HaveLen(3))
	g.Expect(reports[0].Err).To(MatchError("integration blew up"))
	g.Expect(reports[1].Err).NotTo(HaveOccurred())

	rows := s.Status()
	g.Expect(rows[0].Status).To(Equal(StatusCrashed))
}

func TestSkipsFinishedTrajectories(t *testing.T) {
	g := NewWithT(t)
	called := false
	s, _ := newScheduler(t, []engine.Device{engine.CPU(1)}, func(context.Context, Task, engine.Device) error {
		called = true
		return nil
	})
	reports, err := s.Run(context.Background(), []Task{{TrajID: 7, StartLength: 4}})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(called).To(BeFalse())
	g.Expect(reports[0].Skipped).To(BeTrue())
}

func TestStatusFile(t *testing.T) {
	g := NewWithT(t)
	var s *Scheduler
	var dir string
	s, dir = newScheduler(t, []engine.Device{engine.CPU(2)}, func(ctx context.Context, task Task, dev engine.Device) error {
		w, err := tracelog.Open(filepath.Join(dir, strconv.Itoa(task.TrajID)+".out"))
		if err != nil {
			return err
		}
		for l := 1; l <= 3; l++ {
			w.ElongationStart(l, 11)
			w.CycleRow(tracelog.Row{Progress: 50, Step: 100, Speed: 12.5})
			if l < 3 {
				w.Finished(l)
			}
		}
		w.AllDone()
		return w.Close()
	})

	_, err := s.Run(context.Background(), tasks(2))
	g.Expect(err).NotTo(HaveOccurred())
	data, err := os.ReadFile(filepath.Join(dir, "info.log"))
	g.Expect(err).NotTo(HaveOccurred())
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	g.Expect(lines[0]).To(Equal("Continuous Synthesis"))
	g.Expect(lines[2]).To(ContainSubstring("SPEED (ns/d)"))
	g.Expect(lines).To(HaveLen(5))
	g.Expect(strings.Fields(lines[3])).To(HaveLen(6))
	g.Expect(strings.Fields(lines[3])[2]).To(Equal(StatusDone))
	g.Expect(strings.Fields(lines[3])[3]).To(Equal("3"))
}

func TestRunCanceled(t *testing.T) {
	g := NewWithT(t)
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	s, _ := newScheduler(t, []engine.Device{engine.CPU(1)}, func(ctx context.Context, task Task, dev engine.Device) error {
		if task.TrajID == 1 {
			close(started)
		}
		<-ctx.Done()
		return ctx.Err()
	})
	go func() {
		<-started
		cancel()
	}()
	reports, err := s.Run(ctx, tasks(3))
	g.Expect(err).To(MatchError(context.Canceled))
	g.Expect(reports[0].Err).To(MatchError(context.Canceled))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		sum   tracelog.Summary
		want  string
		speed float64
	}{
		{"done", tracelog.Summary{AllDone: true, CurrentLength: 5}, StatusDone, 0},
		{"no residue yet", tracelog.Summary{LastLine: "Continuous"}, StatusWait, 0},
		{"cycle row", tracelog.Summary{CurrentLength: 2, LastLine: "42.0%        2100        -12.0000          3.5000   310.0        18.4     0:01:02"}, "2100(42.0%)", 18.4},
		{"terminal row", tracelog.Summary{CurrentLength: 5, LastLine: "5000        -12.0000          3.5000   310.0     61.250        18.4"}, "step(5000)", 18.4},
		{"minimizing", tracelog.Summary{CurrentLength: 2, LastLine: "Potential energy before minimization: -3.0000 kcal/mol"}, StatusMinimizing, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)
			got, speed := Classify(tt.sum)
			g.Expect(got).To(Equal(tt.want))
			g.Expect(speed).To(BeNumerically("~", tt.speed, 1e-9))
		})
	}
}
