package activation

import "fmt"

// StateID is the tag of a State.
type StateID string

const (
	NotActivated                  StateID = "NotActivated"
	WaitingForDeviceToken         StateID = "WaitingForDeviceToken"
	WaitingForUpdateToken         StateID = "WaitingForUpdateToken"
	WaitingForNewDeviceToken      StateID = "WaitingForNewDeviceToken"
	WaitingForRegistrationUpdate  StateID = "WaitingForRegistrationUpdate"
	AfterRegistrationUpdateFailed StateID = "AfterRegistrationUpdateFailed"
	WaitingForDeregistration      StateID = "WaitingForDeregistration"
)

// StateIDs lists every state tag in declaration order.
var StateIDs = []StateID{
	NotActivated,
	WaitingForDeviceToken,
	WaitingForUpdateToken,
	WaitingForNewDeviceToken,
	WaitingForRegistrationUpdate,
	AfterRegistrationUpdateFailed,
	WaitingForDeregistration,
}

// State is a machine state.
//
// Previous is only meaningful for WaitingForDeregistration: it names the
// state to fall back to when deregistration fails. It is a tag from the same
// closed catalogue, never a live reference.
type State struct {
	ID       StateID
	Previous StateID
}

// Persistable reports whether the state is a quiescent point that may be
// checkpointed.
func (s State) Persistable() bool {
	return persistable[s.ID]
}

// String renders the state, including the fallback for deregistration.
func (s State) String() string {
	if s.ID == WaitingForDeregistration {
		return fmt.Sprintf("%s(%s)", s.ID, s.Previous)
	}
	return string(s.ID)
}

var persistable = map[StateID]bool{
	NotActivated:                  true,
	WaitingForDeviceToken:         true,
	WaitingForUpdateToken:         false,
	WaitingForNewDeviceToken:      true,
	WaitingForRegistrationUpdate:  false,
	AfterRegistrationUpdateFailed: true,
	WaitingForDeregistration:      false,
}

// stateConstructors rebuilds persistable states from their stored tag.
var stateConstructors = map[StateID]func() State{
	NotActivated:                  func() State { return State{ID: NotActivated} },
	WaitingForDeviceToken:         func() State { return State{ID: WaitingForDeviceToken} },
	WaitingForNewDeviceToken:      func() State { return State{ID: WaitingForNewDeviceToken} },
	AfterRegistrationUpdateFailed: func() State { return State{ID: AfterRegistrationUpdateFailed} },
}

// restoreState maps a checkpointed tag back to a State.
// ok is false for unknown or transient tags.
func restoreState(tag string) (State, bool) {
	ctor, ok := stateConstructors[StateID(tag)]
	if !ok {
		return State{ID: NotActivated}, false
	}
	return ctor(), true
}

// ParseStateID validates a state tag.
func ParseStateID(s string) (StateID, error) {
	for _, id := range StateIDs {
		if string(id) == s {
			return id, nil
		}
	}
	return "", fmt.Errorf("unknown state %q", s)
}
