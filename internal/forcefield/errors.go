package forcefield

import "fmt"

// TopologyMismatchError reports a selection or reference atom that the
// structure does not contain.
type TopologyMismatchError struct {
	What  string
	Index int
	Atoms int
}

func (e *TopologyMismatchError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("forcefield: %s: atom %d not in structure of %d atoms", e.What, e.Index, e.Atoms)
	}
	return fmt.Sprintf("forcefield: %s", e.What)
}

// ForceAssemblyError wraps a failure while assembling a potential.
type ForceAssemblyError struct {
	Op  string
	Err error
}

func (e *ForceAssemblyError) Error() string {
	return fmt.Sprintf("forcefield: %s: %v", e.Op, e.Err)
}

func (e *ForceAssemblyError) Unwrap() error { return e.Err }
