package pipeline

// State is a step of the run state machine.
type State string

const (
	StateStart       State = "START"
	StateFetched     State = "FETCHED"
	StateValidated   State = "VALIDATED"
	StateTransformed State = "TRANSFORMED"
	StateLoaded      State = "LOADED"
	StateVerified    State = "VERIFIED"
	StateDone        State = "DONE"
	StateAborted     State = "ABORTED"
)

// next lists the only forward transition out of each non-terminal state.
var next = map[State]State{
	StateStart:       StateFetched,
	StateFetched:     StateValidated,
	StateValidated:   StateTransformed,
	StateTransformed: StateLoaded,
	StateLoaded:      StateVerified,
	StateVerified:    StateDone,
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateAborted {
		return true
	}
	return next[from] == to
}

func (s State) String() string { return string(s) }
