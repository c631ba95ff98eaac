package stage

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Observation is what stop predicates see once per monitoring interval.
// Distances are in Angstrom, energies in kcal/mol.
type Observation struct {
	Step          int64
	Potential     float64
	Kinetic       float64
	Temperature   float64
	ChainMinX     float64
	MinSeparation float64
}

func (o Observation) env() map[string]any {
	return map[string]any{
		"step":           int(o.Step),
		"ep":             o.Potential,
		"ek":             o.Kinetic,
		"temp":           o.Temperature,
		"chain_min_x":    o.ChainMinX,
		"min_separation": o.MinSeparation,
	}
}

// Predicate is a compiled boolean expression over an Observation, e.g.
// "chain_min_x >= 60".
type Predicate struct {
	src  string
	prog *vm.Program
}

func CompilePredicate(src string) (*Predicate, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("stage: empty stop predicate")
	}
	prog, err := expr.Compile(src, expr.Env(Observation{}.env()), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("stage: stop predicate %q: %w", src, err)
	}
	return &Predicate{src: src, prog: prog}, nil
}

// MustPredicate is CompilePredicate for expressions known at compile time.
func MustPredicate(src string) *Predicate {
	p, err := CompilePredicate(src)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Predicate) String() string { return p.src }

func (p *Predicate) Eval(o Observation) (bool, error) {
	out, err := expr.Run(p.prog, o.env())
	if err != nil {
		return false, fmt.Errorf("stage: evaluate %q: %w", p.src, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("stage: predicate %q returned %T", p.src, out)
	}
	return b, nil
}

type StopKind int

const (
	StopBudget StopKind = iota
	StopFirstCrossing
	StopSustained
)

// StopCondition ends a stage after a step budget, the first interval a
// predicate holds, or once it has held for Required consecutive intervals.
type StopCondition struct {
	Kind      StopKind
	Steps     int64
	Predicate *Predicate
	Required  int
}

func Budget(steps int64) StopCondition { return StopCondition{Kind: StopBudget, Steps: steps} }

func FirstCrossing(p *Predicate) StopCondition {
	return StopCondition{Kind: StopFirstCrossing, Predicate: p, Required: 1}
}

func Sustained(p *Predicate, intervals int) StopCondition {
	return StopCondition{Kind: StopSustained, Predicate: p, Required: intervals}
}

func (c StopCondition) String() string {
	switch c.Kind {
	case StopBudget:
		return fmt.Sprintf("budget(%d)", c.Steps)
	case StopFirstCrossing:
		return fmt.Sprintf("first(%s)", c.Predicate)
	default:
		return fmt.Sprintf("sustained(%s, %d)", c.Predicate, c.Required)
	}
}

func (c StopCondition) validate() error {
	switch c.Kind {
	case StopBudget:
		if c.Steps < 0 {
			return fmt.Errorf("negative step budget %d", c.Steps)
		}
	case StopFirstCrossing, StopSustained:
		if c.Predicate == nil {
			return fmt.Errorf("%v stop without a predicate", c.Kind)
		}
		if c.Required < 1 {
			return fmt.Errorf("stop requires %d intervals", c.Required)
		}
	default:
		return fmt.Errorf("unknown stop kind %d", int(c.Kind))
	}
	return nil
}

func (k StopKind) String() string {
	switch k {
	case StopBudget:
		return "budget"
	case StopFirstCrossing:
		return "first-crossing"
	case StopSustained:
		return "sustained"
	}
	return fmt.Sprintf("stop(%d)", int(k))
}

// Tracker counts consecutive intervals on which a predicate held. Any
// interval where it fails resets the count.
type Tracker struct {
	cond  StopCondition
	count int
}

func NewTracker(cond StopCondition) *Tracker { return &Tracker{cond: cond} }

func (t *Tracker) Observe(o Observation) (bool, error) {
	if t.cond.Kind == StopBudget {
		return o.Step >= t.cond.Steps, nil
	}
	ok, err := t.cond.Predicate.Eval(o)
	if err != nil {
		return false, err
	}
	if ok {
		t.count++
	} else {
		t.count = 0
	}
	return t.count >= t.cond.Required, nil
}

func (t *Tracker) Count() int { return t.count }

func (t *Tracker) Reset() { t.count = 0 }
