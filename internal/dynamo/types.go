package dynamo

import "fmt"

// Stage is one phase of the elongation cycle. Stages 1-3 repeat for every
// residue; Ejection and Dissociation run once the chain is complete.
type Stage int

const (
	StageBinding Stage = iota + 1
	StageBondFormation
	StageTranslocation
	StageEjection
	StageDissociation
)

var stageNames = map[Stage]string{
	StageBinding:       "binding",
	StageBondFormation: "bond-formation",
	StageTranslocation: "translocation",
	StageEjection:      "ejection",
	StageDissociation:  "dissociation",
}

func (s Stage) String() string {
	if n, ok := stageNames[s]; ok {
		return n
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Label is the token used in snapshot file names: the stage number for
// the cycle stages and the stage name for the terminal ones.
func (s Stage) Label() string {
	if s.Terminal() {
		return s.String()
	}
	return fmt.Sprintf("%d", int(s))
}

// Terminal reports whether s runs only after the last residue is added.
func (s Stage) Terminal() bool {
	return s == StageEjection || s == StageDissociation
}

func (s Stage) Valid() bool {
	_, ok := stageNames[s]
	return ok
}

// CycleStages lists the stages run for each added residue.
var CycleStages = []Stage{StageBinding, StageBondFormation, StageTranslocation}

// TerminalStages lists the stages run after the chain is complete.
var TerminalStages = []Stage{StageEjection, StageDissociation}

// ParseStage accepts either a stage name or its number.
func ParseStage(v string) (Stage, error) {
	for s, n := range stageNames {
		if n == v || fmt.Sprintf("%d", int(s)) == v {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown stage %q", ErrParameterBounds, v)
}
