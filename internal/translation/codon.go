// Package translation supplies the mean first-passage times that set the
// dwell of each elongation stage: codon translation times, the mRNA
// sequence, and the ribosome-traffic correction.
package translation

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// CodonTable maps a codon to its mean translation time in seconds.
type CodonTable map[string]float64

// ReadCodonTable parses "CODON seconds" lines. Lines with any other field
// count are ignored.
func ReadCodonTable(r io.Reader) (CodonTable, error) {
	t := make(CodonTable)
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		f := strings.Fields(sc.Text())
		if len(f) != 2 {
			continue
		}
		v, err := strconv.ParseFloat(f[1], 64)
		if err != nil {
			return nil, fmt.Errorf("codon table line %d: %w", line, err)
		}
		t[strings.ToUpper(f[0])] = v
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(t) == 0 {
		return nil, fmt.Errorf("codon table: no entries")
	}
	return t, nil
}

func LoadCodonTable(path string) (CodonTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := ReadCodonTable(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Write emits the table in the format ReadCodonTable reads, codons in
// sequence order first.
func (t CodonTable) Write(w io.Writer, order []string) error {
	seen := make(map[string]bool, len(t))
	bw := bufio.NewWriter(w)
	for _, c := range order {
		if v, ok := t[c]; ok && !seen[c] {
			seen[c] = true
			fmt.Fprintf(bw, "%s %g\n", c, v)
		}
	}
	for c, v := range t {
		if !seen[c] {
			fmt.Fprintf(bw, "%s %g\n", c, v)
		}
	}
	return bw.Flush()
}

// ReadSequence reads an mRNA sequence written over any number of lines.
func ReadSequence(r io.Reader) (string, error) {
	var b strings.Builder
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<22)
	for sc.Scan() {
		b.WriteString(strings.ToUpper(strings.TrimSpace(sc.Text())))
	}
	return b.String(), sc.Err()
}

func LoadSequence(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return ReadSequence(f)
}

// SequenceError reports an mRNA that does not fit the protein.
type SequenceError struct {
	Nucleotides int
	Codons      int
	Residues    int
}

func (e *SequenceError) Error() string {
	if e.Nucleotides%3 != 0 {
		return fmt.Sprintf("translation: %d nucleotides is not a whole number of codons", e.Nucleotides)
	}
	return fmt.Sprintf("translation: mRNA has %d codons, want %d (one per residue plus the stop codon)",
		e.Codons, e.Residues+1)
}

// Codons splits seq into codons and checks there is exactly one per
// residue plus a stop codon.
func Codons(seq string, residues int) ([]string, error) {
	if len(seq)%3 != 0 || len(seq)/3 != residues+1 {
		return nil, &SequenceError{Nucleotides: len(seq), Codons: len(seq) / 3, Residues: residues}
	}
	out := make([]string, 0, len(seq)/3)
	for i := 0; i < len(seq); i += 3 {
		out = append(out, seq[i:i+3])
	}
	return out, nil
}
