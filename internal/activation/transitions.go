package activation

import "github.com/roach88/pushreg/internal/pusherr"

// effectKind identifies a side effect implied by a transition.
type effectKind int

const (
	effectRegister effectKind = iota + 1
	effectUpdateRegistration
	effectDeregister
	effectActivated
	effectDeactivated
	effectUpdateFailed
)

func (k effectKind) String() string {
	switch k {
	case effectRegister:
		return "register"
	case effectUpdateRegistration:
		return "update_registration"
	case effectDeregister:
		return "deregister"
	case effectActivated:
		return "activated"
	case effectDeactivated:
		return "deactivated"
	case effectUpdateFailed:
		return "update_failed"
	default:
		return "unknown"
	}
}

// effect is run after the machine lock is released. Callback effects carry
// the reason (nil means success).
type effect struct {
	kind   effectKind
	reason *pusherr.Error
}

// facts are the device attributes transitions may consult.
type facts struct {
	registered           bool
	hasRegistrationToken bool
}

// outcome is the result of a handled transition.
type outcome struct {
	next    State
	effects []effect

	// updateToken, when non-nil, is written to the device (empty clears it)
	// in the same batch as the checkpoint.
	updateToken *string

	// raise is appended to the pending queue after the transition.
	raise []Event
}

// transitionFunc returns ok=false when the state has no rule for the event.
type transitionFunc func(s State, ev Event, f facts) (outcome, bool)

// transitions is the static dispatch table keyed by state tag.
var transitions = map[StateID]transitionFunc{
	NotActivated:                  notActivated,
	WaitingForDeviceToken:         waitingForDeviceToken,
	WaitingForUpdateToken:         waitingForUpdateToken,
	WaitingForNewDeviceToken:      waitingForNewDeviceToken,
	WaitingForRegistrationUpdate:  waitingForRegistrationUpdate,
	AfterRegistrationUpdateFailed: afterRegistrationUpdateFailed,
	WaitingForDeregistration:      waitingForDeregistration,
}

// transition applies the table. Unknown states handle nothing.
func transition(s State, ev Event, f facts) (outcome, bool) {
	fn, ok := transitions[s.ID]
	if !ok {
		return outcome{}, false
	}
	return fn(s, ev, f)
}

func stay(s State, effects ...effect) (outcome, bool) {
	return outcome{next: s, effects: effects}, true
}

func to(id StateID, effects ...effect) (outcome, bool) {
	return outcome{next: State{ID: id}, effects: effects}, true
}

func callback(kind effectKind, reason *pusherr.Error) effect {
	return effect{kind: kind, reason: reason}
}

func request(kind effectKind) effect {
	return effect{kind: kind}
}

func notActivated(s State, ev Event, f facts) (outcome, bool) {
	switch ev.Kind {
	case KindUserDeactivateRequested:
		return stay(s, callback(effectDeactivated, nil))
	case KindUserActivateRequested:
		if f.registered {
			return to(WaitingForNewDeviceToken)
		}
		out, _ := to(WaitingForDeviceToken)
		if f.hasRegistrationToken {
			out.raise = []Event{DeviceTokenObtained()}
		}
		return out, true
	}
	return outcome{}, false
}

func waitingForDeviceToken(s State, ev Event, _ facts) (outcome, bool) {
	switch ev.Kind {
	case KindUserActivateRequested:
		return stay(s)
	case KindUserDeactivateRequested:
		return to(NotActivated, callback(effectDeactivated, nil))
	case KindDeviceTokenObtained:
		return to(WaitingForUpdateToken, request(effectRegister))
	}
	return outcome{}, false
}

func waitingForUpdateToken(s State, ev Event, _ facts) (outcome, bool) {
	switch ev.Kind {
	case KindUserActivateRequested:
		return stay(s)
	case KindRegistrationTokenReceived:
		token := ev.UpdateToken
		out, _ := to(WaitingForNewDeviceToken, callback(effectActivated, nil))
		out.updateToken = &token
		return out, true
	case KindRegistrationTokenFailed:
		return to(NotActivated, callback(effectActivated, ev.Reason))
	}
	return outcome{}, false
}

func waitingForNewDeviceToken(s State, ev Event, _ facts) (outcome, bool) {
	switch ev.Kind {
	case KindUserActivateRequested:
		return stay(s, callback(effectActivated, nil))
	case KindUserDeactivateRequested:
		return deregisterFrom(s)
	case KindDeviceTokenObtained:
		return to(WaitingForRegistrationUpdate, request(effectUpdateRegistration))
	}
	return outcome{}, false
}

func waitingForRegistrationUpdate(s State, ev Event, _ facts) (outcome, bool) {
	switch ev.Kind {
	case KindUserActivateRequested:
		return stay(s, callback(effectActivated, nil))
	case KindRegistrationUpdated:
		return to(WaitingForNewDeviceToken)
	case KindRegistrationUpdateFailed:
		return to(AfterRegistrationUpdateFailed, callback(effectUpdateFailed, ev.Reason))
	}
	return outcome{}, false
}

func afterRegistrationUpdateFailed(s State, ev Event, _ facts) (outcome, bool) {
	switch ev.Kind {
	case KindUserActivateRequested, KindDeviceTokenObtained:
		return to(WaitingForRegistrationUpdate, request(effectUpdateRegistration))
	case KindUserDeactivateRequested:
		return deregisterFrom(s)
	}
	return outcome{}, false
}

func waitingForDeregistration(s State, ev Event, _ facts) (outcome, bool) {
	switch ev.Kind {
	case KindUserActivateRequested, KindUserDeactivateRequested:
		return stay(s)
	case KindDeviceDeregistered:
		cleared := ""
		out, _ := to(NotActivated, callback(effectDeactivated, nil))
		out.updateToken = &cleared
		return out, true
	case KindDeregistrationFailed:
		prev := s.Previous
		if prev == "" {
			prev = WaitingForNewDeviceToken
		}
		return to(prev, callback(effectDeactivated, ev.Reason))
	}
	return outcome{}, false
}

func deregisterFrom(s State) (outcome, bool) {
	return outcome{
		next:    State{ID: WaitingForDeregistration, Previous: s.ID},
		effects: []effect{request(effectDeregister)},
	}, true
}
