package batch

// State is an orchestrator lifecycle state.
type State string

// Lifecycle states. A run moves forward through INIT, LOADING, RUNNING and
// DRAINING to COMPLETED; ABORTED is reachable from any state.
const (
	StateInit      State = "INIT"
	StateLoading   State = "LOADING"
	StateRunning   State = "RUNNING"
	StateDraining  State = "DRAINING"
	StateCompleted State = "COMPLETED"
	StateAborted   State = "ABORTED"
)

// IsTerminal reports whether no further transitions can happen.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateAborted
}

func (s State) String() string {
	return string(s)
}
