package translation

import (
	"context"
	"errors"
	"strings"
	"testing"

	. "github.com/onsi/gomega"
)

type fakeEstimator struct {
	times []float64
	err   error
	rate  float64
}

func (f *fakeEstimator) Estimate(_ context.Context, codons []string, _ CodonTable, rate float64) ([]float64, error) {
	f.rate = rate
	return f.times, f.err
}

func TestReadCodonTable(t *testing.T) {
	g := NewWithT(t)
	tab, err := ReadCodonTable(strings.NewReader("# codon time\nAUG 0.1\naaa 0.2\nbad line here\n\nUAA 0.05\n"))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(tab).To(HaveLen(3))
	g.Expect(tab).To(HaveKeyWithValue("AAA", 0.2))

	_, err = ReadCodonTable(strings.NewReader("AUG x\n"))
	g.Expect(err).To(MatchError(ContainSubstring("line 1")))
}

func TestCodons(t *testing.T) {
	g := NewWithT(t)
	seq, err := ReadSequence(strings.NewReader("aug\naaa\nuaa\n"))
	g.Expect(err).NotTo(HaveOccurred())
	c, err := Codons(seq, 2)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(c).To(Equal([]string{"AUG", "AAA", "UAA"}))

	_, err = Codons("AUGA", 1)
	var se *SequenceError
	g.Expect(errors.As(err, &se)).To(BeTrue())
	g.Expect(err.Error()).To(ContainSubstring("whole number"))

	_, err = Codons(seq, 3)
	g.Expect(err).To(MatchError(ContainSubstring("want 4")))
}

func TestBuildUniform(t *testing.T) {
	g := NewWithT(t)
	tm, err := Build(context.Background(), Options{Residues: 3, Uniform: 0.08})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(tm.Intrinsic).To(Equal([]float64{0.08, 0.08, 0.08, 0.08}))
	g.Expect(tm.Deficit(2)).To(BeZero())

	_, err = Build(context.Background(), Options{Residues: 3, Uniform: 0.08, Traffic: true})
	g.Expect(err).To(HaveOccurred())
}

func TestBuildTable(t *testing.T) {
	g := NewWithT(t)
	tab := CodonTable{"AUG": 0.1, "AAA": 0.2, "UAA": 0.3}
	tm, err := Build(context.Background(), Options{Residues: 2, Codons: []string{"AUG", "AAA", "UAA"}, Table: tab})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(tm.Real).To(Equal(tm.Intrinsic))

	_, err = Build(context.Background(), Options{Residues: 2, Codons: []string{"AUG", "CCC", "UAA"}, Table: tab})
	g.Expect(err).To(MatchError(ContainSubstring("CCC")))
}

func TestBuildTraffic(t *testing.T) {
	g := NewWithT(t)
	tab := CodonTable{"AUG": 0.1, "AAA": 0.2, "UAA": 0.3}
	codons := []string{"AUG", "AAA", "UAA"}
	est := &fakeEstimator{times: []float64{0.15, 0.2, 0.4}}
	tm, err := Build(context.Background(), Options{Residues: 2, Codons: codons, Table: tab, Traffic: true, InitiationRate: 0.5, Estimator: est})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(est.rate).To(Equal(0.5))
	g.Expect(tm.Deficit(1)).To(BeNumerically("~", 0.05, 1e-12))
	g.Expect(tm.Deficit(2)).To(BeZero())

	_, err = Build(context.Background(), Options{Residues: 2, Codons: codons, Table: tab, Traffic: true, Estimator: est})
	g.Expect(err).To(MatchError(ContainSubstring("initiation rate")))

	est.times = est.times[:2]
	_, err = Build(context.Background(), Options{Residues: 2, Codons: codons, Table: tab, Traffic: true, InitiationRate: 0.5, Estimator: est})
	g.Expect(err).To(MatchError(ContainSubstring("2 times for 3 codons")))

	est.err = errors.New("boom")
	_, err = Build(context.Background(), Options{Residues: 2, Codons: codons, Table: tab, Traffic: true, InitiationRate: 0.5, Estimator: est})
	g.Expect(err).To(MatchError(ContainSubstring("boom")))
}

func TestParseTimes(t *testing.T) {
	g := NewWithT(t)
	v, err := parseTimes([]byte("0.1\n\n0.2\n0.3\n0.4\n"), 3)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(v).To(Equal([]float64{0.1, 0.2, 0.3}))

	_, err = parseTimes([]byte("0.1\n"), 2)
	g.Expect(err).To(HaveOccurred())
}
