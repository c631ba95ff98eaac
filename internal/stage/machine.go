package stage

import (
	"fmt"
	"strings"

	"github.com/awalterschulze/gographviz"

	"github.com/san-kum/ribosim/internal/dynamo"
)

// Transition is one edge of the per-residue state machine.
type Transition struct {
	From, To string
	Cond     string
}

const (
	nodeStart   = "start"
	nodeNext    = "next_residue"
	nodeDone    = "done"
	nodeCrashed = "crashed"
)

func nodeName(s dynamo.Stage) string { return strings.ReplaceAll(s.String(), "-", "_") }

// Transitions lists the elongation state machine edges in order.
func Transitions() []Transition {
	b := nodeName(dynamo.StageBinding)
	f := nodeName(dynamo.StageBondFormation)
	t := nodeName(dynamo.StageTranslocation)
	e := nodeName(dynamo.StageEjection)
	d := nodeName(dynamo.StageDissociation)
	out := []Transition{
		{nodeStart, b, "length <= target"},
		{b, f, "budget"},
		{f, t, "budget"},
		{t, nodeNext, "length < target"},
		{t, e, "length == target"},
		{e, d, "chain_min_x >= x_eject"},
		{d, nodeDone, "min_separation >= 20 for 10 intervals"},
		{nodeNext, b, ""},
	}
	for _, s := range []string{b, f, t, e, d} {
		out = append(out, Transition{s, nodeCrashed, "crash"})
	}
	return out
}

// MachineDOT renders Transitions as a Graphviz digraph.
func MachineDOT() (string, error) {
	g := gographviz.NewGraph()
	if err := g.SetName("elongation"); err != nil {
		return "", err
	}
	if err := g.SetDir(true); err != nil {
		return "", err
	}
	seen := make(map[string]bool)
	addNode := func(name string) error {
		if seen[name] {
			return nil
		}
		seen[name] = true
		attrs := map[string]string{"shape": "box"}
		switch name {
		case nodeStart, nodeDone, nodeCrashed:
			attrs["shape"] = "ellipse"
		}
		return g.AddNode("elongation", name, attrs)
	}
	for _, tr := range Transitions() {
		if err := addNode(tr.From); err != nil {
			return "", err
		}
		if err := addNode(tr.To); err != nil {
			return "", err
		}
		attrs := map[string]string{}
		if tr.Cond != "" {
			attrs["label"] = fmt.Sprintf("%q", tr.Cond)
		}
		if err := g.AddEdge(tr.From, tr.To, true, attrs); err != nil {
			return "", err
		}
	}
	return g.String(), nil
}
