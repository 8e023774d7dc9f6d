package openfinance

// SyncState is a step of the transaction sync state machine.
type SyncState int

const (
	StateStart SyncState = iota
	StateFetchingPage
	StateMerging
	StatePersistCursor
	StateDone
	StateError
)

var syncStateNames = map[SyncState]string{
	StateStart:         "start",
	StateFetchingPage:  "fetching_page",
	StateMerging:       "merging",
	StatePersistCursor: "persist_cursor",
	StateDone:          "done",
	StateError:         "error",
}

func (s SyncState) String() string {
	if name, ok := syncStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further transition can follow s.
func (s SyncState) Terminal() bool {
	return s == StateDone || s == StateError
}

// TransitionFunc observes every state change of a sync run.
type TransitionFunc func(userID string, from, to SyncState)
