package worker

// --------------------------------------------------------------------------
// Lifecycle States
// --------------------------------------------------------------------------

// State is the lifecycle state of one supervised worker process.
//
// The happy path runs NotStarted -> Starting -> Ready -> Running ->
// Terminating -> Terminated. Crashed is a terminal state reachable from
// Starting (readiness failure) and Running (process exit, stream death).
type State uint8

const (
	StateNotStarted  State = iota // No process has been launched yet
	StateStarting                 // Process spawned, waiting for the ready line
	StateReady                    // Ready line seen, reader loop starting
	StateRunning                  // Serving commands
	StateTerminating              // Close in progress
	StateTerminated               // Closed cleanly, process gone
	StateCrashed                  // Process died or never became ready
)

// String returns a human-readable state name for logs and errors.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not started"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	case StateCrashed:
		return "crashed"
	default:
		return "invalid"
	}
}

// terminal reports whether no further transitions are possible.
func (s State) terminal() bool {
	return s == StateTerminated || s == StateCrashed
}
