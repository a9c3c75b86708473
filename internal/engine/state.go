package engine

import "fmt"

// State is a step of the per-resource state machine.
type State string

const (
	StateNotStarted        State = "NotStarted"
	StateExtracting        State = "Extracting"
	StateSyncingCompany    State = "SyncingCompany"
	StateSyncingContacts   State = "SyncingContacts"
	StateLoggingActivities State = "LoggingActivities"
	StateCreatingFollowUps State = "CreatingFollowUps"
	StateCompleted         State = "Completed"
	StateSkipped           State = "Skipped"
	StateFailed            State = "Failed"
)

// next lists the forward transitions. Failed is reachable from every
// non-terminal state and is handled separately.
var next = map[State]State{
	StateNotStarted:        StateExtracting,
	StateExtracting:        StateSyncingCompany,
	StateSyncingCompany:    StateSyncingContacts,
	StateSyncingContacts:   StateLoggingActivities,
	StateLoggingActivities: StateCreatingFollowUps,
	StateCreatingFollowUps: StateCompleted,
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateSkipped || s == StateFailed
}

// canTransition reports whether from → to is a legal step.
func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case StateFailed:
		return true
	case StateSkipped:
		return from == StateNotStarted
	default:
		return next[from] == to
	}
}

// mustTransition panics on an illegal transition. Transitions are driven by
// the orchestrator alone, so a failure here is a programming error.
func mustTransition(from, to State) State {
	if !canTransition(from, to) {
		panic(fmt.Sprintf("engine: illegal transition %s → %s", from, to))
	}
	return to
}
