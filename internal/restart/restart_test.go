package restart_test

import (
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/ribosim/internal/restart"
	"github.com/san-kum/ribosim/internal/tracelog"
)

// progress returns a log that finished lengths 1..n and then started n+1.
func progress(n int, allDone bool) string {
	var b strings.Builder
	w := tracelog.New(&b)
	for l := 1; l <= n; l++ {
		w.Separator()
		w.ElongationStart(l, int64(100+l))
		w.CreateSystem("stage 1")
		w.Done()
		w.Finished(l)
	}
	if allDone {
		w.AllDone()
	} else {
		w.Separator()
		w.ElongationStart(n+1, 999)
		w.CreateSystem("stage 1")
	}
	return b.String()
}

var _ = Describe("Reconcile", func() {
	var layout restart.Layout

	BeforeEach(func() {
		root := GinkgoT().TempDir()
		layout = restart.Layout{
			OutputDir: filepath.Join(root, "output"),
			TrajDir:   filepath.Join(root, "traj"),
			Initial:   filepath.Join(root, "init.cor"),
		}
		Expect(os.MkdirAll(layout.OutputDir, 0o755)).To(Succeed())
	})

	write := func(id int, content string) {
		Expect(os.WriteFile(layout.LogPath(id), []byte(content), 0o644)).To(Succeed())
	}

	It("starts trajectories without a log from the initial structure", func() {
		res, err := restart.Reconcile(layout, []int{1, 2}, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(HaveLen(2))
		for _, r := range res {
			Expect(r.StartLength).To(Equal(1))
			Expect(r.Snapshot).To(Equal(layout.Initial))
			Expect(r.Removed).To(BeFalse())
		}
	})

	It("resumes after the last finished residue and drops the partial one", func() {
		write(3, progress(5, false))
		res, err := restart.Reconcile(layout, []int{3}, 10)
		Expect(err).NotTo(HaveOccurred())
		r := res[0]
		Expect(r.StartLength).To(Equal(6))
		Expect(r.Truncated).To(BeTrue())
		Expect(r.Snapshot).To(Equal(filepath.Join(layout.Dir(3), "rnc_l5_stage_3_final.cor")))

		data, err := os.ReadFile(layout.LogPath(3))
		Expect(err).NotTo(HaveOccurred())
		Expect(strings.TrimRight(string(data), "\n")).To(HaveSuffix(tracelog.MarkerFinished + "5"))
		sum, err := tracelog.ScanFile(layout.LogPath(3))
		Expect(err).NotTo(HaveOccurred())
		Expect(sum.CurrentLength).To(Equal(5))
	})

	It("leaves a log that ends on its marker untouched", func() {
		content := progress(4, false)
		content = content[:strings.Index(content, tracelog.MarkerFinished+"4")] + tracelog.MarkerFinished + "4\n"
		write(1, content)
		res, err := restart.Reconcile(layout, []int{1}, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(res[0].StartLength).To(Equal(5))
		Expect(res[0].Truncated).To(BeFalse())
		data, _ := os.ReadFile(layout.LogPath(1))
		Expect(string(data)).To(Equal(content))
	})

	It("marks finished trajectories as done", func() {
		done := progress(10, true)
		write(2, done)
		res, err := restart.Reconcile(layout, []int{2}, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(res[0].StartLength).To(Equal(11))
		Expect(res[0].Done(10)).To(BeTrue())
		data, _ := os.ReadFile(layout.LogPath(2))
		Expect(string(data)).To(Equal(done))
	})

	It("reruns the last residue when termination did not finish", func() {
		write(4, progress(10, false))
		res, err := restart.Reconcile(layout, []int{4}, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(res[0].StartLength).To(Equal(10))
		Expect(res[0].Snapshot).To(HaveSuffix("rnc_l9_stage_3_final.cor"))
		sum, _ := tracelog.ScanFile(layout.LogPath(4))
		Expect(sum.LastFinished).To(Equal(9))
	})

	It("removes a log with no finished residue", func() {
		write(5, progress(0, false))
		res, err := restart.Reconcile(layout, []int{5}, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(res[0].Removed).To(BeTrue())
		Expect(res[0].StartLength).To(Equal(1))
		Expect(res[0].Snapshot).To(Equal(layout.Initial))
		_, err = os.Stat(layout.LogPath(5))
		Expect(os.IsNotExist(err)).To(BeTrue())
	})

	It("removes the log of a single residue chain that must rerun", func() {
		write(6, progress(1, false))
		res, err := restart.Reconcile(layout, []int{6}, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(res[0].StartLength).To(Equal(1))
		Expect(res[0].Removed).To(BeTrue())
	})
})

var _ = Describe("Clean", func() {
	It("removes logs and snapshot directories", func() {
		root := GinkgoT().TempDir()
		layout := restart.DefaultLayout("init.cor")
		layout.OutputDir = filepath.Join(root, "output")
		layout.TrajDir = filepath.Join(root, "traj")
		Expect(os.MkdirAll(layout.OutputDir, 0o755)).To(Succeed())
		Expect(os.MkdirAll(layout.Dir(1), 0o755)).To(Succeed())
		Expect(os.WriteFile(layout.LogPath(1), []byte("x"), 0o644)).To(Succeed())

		Expect(restart.Clean(layout, []int{1, 2})).To(Succeed())
		_, err := os.Stat(layout.LogPath(1))
		Expect(os.IsNotExist(err)).To(BeTrue())
		_, err = os.Stat(layout.Dir(1))
		Expect(os.IsNotExist(err)).To(BeTrue())
	})
})
