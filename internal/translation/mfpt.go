package translation

import (
	"context"
	"fmt"
)

// Times holds per-codon mean first-passage times in seconds. Index i is
// the codon that adds residue i+1; the last entry is the stop codon.
type Times struct {
	// Intrinsic is the time from the codon table alone.
	Intrinsic []float64
	// Real includes ribosome traffic. It equals Intrinsic when traffic
	// is not modelled.
	Real []float64
}

// Options selects how Times are built.
type Options struct {
	Residues int
	// Uniform, when positive, gives every codon the same mean time and
	// ignores the sequence.
	Uniform float64

	Codons []string
	Table  CodonTable

	Traffic        bool
	InitiationRate float64
	Estimator      Estimator
}

func Build(ctx context.Context, opts Options) (Times, error) {
	n := opts.Residues + 1
	if opts.Uniform > 0 {
		if opts.Traffic {
			return Times{}, fmt.Errorf("translation: ribosome traffic cannot be combined with a uniform translation time")
		}
		t := make([]float64, n)
		for i := range t {
			t[i] = opts.Uniform
		}
		return Times{Intrinsic: t, Real: append([]float64(nil), t...)}, nil
	}

	if len(opts.Codons) != n {
		return Times{}, &SequenceError{Nucleotides: 3 * len(opts.Codons), Codons: len(opts.Codons), Residues: opts.Residues}
	}
	intrinsic := make([]float64, n)
	for i, c := range opts.Codons {
		v, ok := opts.Table[c]
		if !ok {
			return Times{}, fmt.Errorf("translation: codon %d (%s) missing from codon table", i+1, c)
		}
		intrinsic[i] = v
	}
	if !opts.Traffic {
		return Times{Intrinsic: intrinsic, Real: append([]float64(nil), intrinsic...)}, nil
	}
	if opts.InitiationRate <= 0 {
		return Times{}, fmt.Errorf("translation: initiation rate %g must be positive", opts.InitiationRate)
	}
	if opts.Estimator == nil {
		return Times{}, fmt.Errorf("translation: ribosome traffic requested without an estimator")
	}
	observed, err := opts.Estimator.Estimate(ctx, opts.Codons, opts.Table, opts.InitiationRate)
	if err != nil {
		return Times{}, fmt.Errorf("translation: traffic estimate: %w", err)
	}
	if len(observed) != n {
		return Times{}, fmt.Errorf("translation: estimator returned %d times for %d codons", len(observed), n)
	}
	return Times{Intrinsic: intrinsic, Real: observed}, nil
}

// Deficit is how much longer, by traffic, the codon for residue length
// took than its intrinsic time. Negative values mean the estimate came out
// short.
func (t Times) Deficit(length int) float64 {
	return t.Real[length-1] - t.Intrinsic[length-1]
}
