package pipeline

import "fmt"

// State is a step of the per-item state machine.
type State string

const (
	StateStart      State = "start"
	StateValidated  State = "validated"
	StateDownloaded State = "downloaded"
	StateExtracted  State = "extracted"
	StateFiltered   State = "filtered"
	StateFinalized  State = "finalized"
	StateFailed     State = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateFinalized || s == StateFailed
}

// CanTransition reports whether s -> to is an allowed step. Every non-terminal
// state may fail.
func (s State) CanTransition(to State) bool {
	if s.IsTerminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	switch s {
	case StateStart:
		return to == StateValidated
	case StateValidated:
		return to == StateDownloaded
	case StateDownloaded:
		return to == StateExtracted
	case StateExtracted:
		return to == StateFiltered
	case StateFiltered:
		return to == StateFinalized
	default:
		return false
	}
}

// TransitionError reports a disallowed state change.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("disallowed transition: %s -> %s", e.From, e.To)
}
