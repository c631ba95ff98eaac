package ledger

import (
	"bytes"
	"context"
	"encoding/csv"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"github.com/san-kum/ribosim/internal/dynamo"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()
	out := map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db")),
	}
	for name, s := range out {
		if err := s.Init(ctx); err != nil {
			t.Fatalf("%s init: %v", name, err)
		}
		t.Cleanup(func() { _ = s.Close() })
	}
	return out
}

func TestRecordUpserts(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			g := NewWithT(t)
			run := NewRunID()
			g.Expect(s.Record(ctx, TrajectoryState{RunID: run, TrajID: 2, Length: 1, Stage: dynamo.StageBinding, Status: StatusRunning})).To(Succeed())
			g.Expect(s.Record(ctx, TrajectoryState{
				RunID:     run,
				TrajID:    2,
				Length:    3,
				Stage:     dynamo.StageTranslocation,
				Status:    StatusRunning,
				WallClock: 90 * time.Second,
				Snapshot:  "traj/2/rnc_l3_stage_3_final.cor",
			})).To(Succeed())
			g.Expect(s.Record(ctx, TrajectoryState{RunID: run, TrajID: 1, Length: 1, Status: StatusPending})).To(Succeed())

			st, ok, err := s.Get(ctx, run, 2)
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(ok).To(BeTrue())
			g.Expect(st.Length).To(Equal(3))
			g.Expect(st.Stage).To(Equal(dynamo.StageTranslocation))
			g.Expect(st.WallClock).To(Equal(90 * time.Second))
			g.Expect(st.Terminal()).To(BeFalse())

			list, err := s.List(ctx, run)
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(list).To(HaveLen(2))
			g.Expect(list[0].TrajID).To(Equal(1))
			g.Expect(list[0].Stage).To(BeZero())

			_, ok, err = s.Get(ctx, run, 9)
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(ok).To(BeFalse())
		})
	}
}

func TestRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			g := NewWithT(t)
			now := time.Now()
			g.Expect(s.Record(ctx, TrajectoryState{RunID: "old", TrajID: 1, Status: StatusDone, UpdatedAt: now.Add(-time.Hour)})).To(Succeed())
			g.Expect(s.Record(ctx, TrajectoryState{RunID: "new", TrajID: 1, Status: StatusRunning, UpdatedAt: now})).To(Succeed())
			runs, err := s.Runs(ctx)
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(runs).To(Equal([]string{"new", "old"}))
		})
	}
}

func TestUninitialized(t *testing.T) {
	g := NewWithT(t)
	err := NewSQLiteStore(filepath.Join(t.TempDir(), "x.db")).Record(context.Background(), TrajectoryState{})
	g.Expect(err).To(MatchError(ErrNotInitialized))
	g.Expect(NewMemoryStore().Record(context.Background(), TrajectoryState{})).To(MatchError(ErrNotInitialized))
}

func TestWriteCSV(t *testing.T) {
	g := NewWithT(t)
	var buf bytes.Buffer
	states := []TrajectoryState{{RunID: "r", TrajID: 1, Length: 4, Stage: dynamo.StageDissociation, Status: StatusDone, WallClock: 1500 * time.Millisecond}}
	g.Expect(WriteCSV(&buf, states)).To(Succeed())
	rows, err := csv.NewReader(&buf).ReadAll()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(rows).To(HaveLen(2))
	g.Expect(rows[1][3]).To(Equal("dissociation"))
	g.Expect(rows[1][5]).To(Equal("1.5"))
}
