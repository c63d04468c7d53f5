package dispatch

// State is a step of a single dispatch.
//
//	Start -> Discovering -> Building -> Uploading -> Executing -> Collecting -> Done
//
// LocalFallback is reachable from every state.
type State int

const (
	StateStart State = iota
	StateDiscovering
	StateBuilding
	StateUploading
	StateExecuting
	StateCollecting
	StateDone
	StateLocalFallback
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateDiscovering:
		return "discovering"
	case StateBuilding:
		return "building"
	case StateUploading:
		return "uploading"
	case StateExecuting:
		return "executing"
	case StateCollecting:
		return "collecting"
	case StateDone:
		return "done"
	case StateLocalFallback:
		return "local_fallback"
	default:
		return "unknown"
	}
}

// Transition is reported to a StateHook on every state change.
type Transition struct {
	CallID string
	Unit   string
	From   State
	To     State

	// Err is the cause of a transition to StateLocalFallback.
	Err error
}

// StateHook observes dispatch transitions. It runs synchronously on the
// dispatching goroutine and must not block.
type StateHook func(Transition)
