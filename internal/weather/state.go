package weather

// State is a step of a single acquisition.
type State int

const (
	StateIdle State = iota
	StateLocatingStarted
	StateLocationResolved
	StateCacheChecked
	StateFetching
	StateFetchResolved
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLocatingStarted:
		return "locating_started"
	case StateLocationResolved:
		return "location_resolved"
	case StateCacheChecked:
		return "cache_checked"
	case StateFetching:
		return "fetching"
	case StateFetchResolved:
		return "fetch_resolved"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Transition records one state change of an acquisition.
type Transition struct {
	AcquisitionID string
	From          State
	To            State
}
