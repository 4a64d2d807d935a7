package activation

import (
	"github.com/roach88/pushreg/internal/pusherr"
)

// EventKind is the tag of an Event.
type EventKind string

const (
	// KindUserActivateRequested: the host asked to activate push.
	KindUserActivateRequested EventKind = "UserActivateRequested"

	// KindUserDeactivateRequested: the host asked to deactivate push.
	KindUserDeactivateRequested EventKind = "UserDeactivateRequested"

	// KindDeviceTokenObtained: a (new) platform registration token is stored.
	KindDeviceTokenObtained EventKind = "DeviceTokenObtained"

	// KindRegistrationTokenReceived: registration succeeded with an update token.
	KindRegistrationTokenReceived EventKind = "RegistrationTokenReceived"

	// KindRegistrationTokenFailed: registration failed.
	KindRegistrationTokenFailed EventKind = "RegistrationTokenFailed"

	// KindRegistrationUpdated: the registration update succeeded.
	KindRegistrationUpdated EventKind = "RegistrationUpdated"

	// KindRegistrationUpdateFailed: the registration update failed.
	KindRegistrationUpdateFailed EventKind = "RegistrationUpdateFailed"

	// KindDeviceDeregistered: deregistration succeeded.
	KindDeviceDeregistered EventKind = "DeviceDeregistered"

	// KindDeregistrationFailed: deregistration failed.
	KindDeregistrationFailed EventKind = "DeregistrationFailed"
)

// EventKinds lists every event tag in declaration order.
var EventKinds = []EventKind{
	KindUserActivateRequested,
	KindUserDeactivateRequested,
	KindDeviceTokenObtained,
	KindRegistrationTokenReceived,
	KindRegistrationTokenFailed,
	KindRegistrationUpdated,
	KindRegistrationUpdateFailed,
	KindDeviceDeregistered,
	KindDeregistrationFailed,
}

// Event is an immutable tagged value fed to the machine.
// Only Kind is dispatched on; the payload fields are set for the kinds that
// carry one.
type Event struct {
	Kind EventKind

	// UpdateToken is set for RegistrationTokenReceived.
	UpdateToken string

	// Reason is set for the *Failed kinds.
	Reason *pusherr.Error
}

// String returns the event tag.
func (e Event) String() string {
	return string(e.Kind)
}

// UserActivateRequested creates an activation request event.
func UserActivateRequested() Event {
	return Event{Kind: KindUserActivateRequested}
}

// UserDeactivateRequested creates a deactivation request event.
func UserDeactivateRequested() Event {
	return Event{Kind: KindUserDeactivateRequested}
}

// DeviceTokenObtained creates a platform-token event.
func DeviceTokenObtained() Event {
	return Event{Kind: KindDeviceTokenObtained}
}

// RegistrationTokenReceived creates a registration success event.
func RegistrationTokenReceived(updateToken string) Event {
	return Event{Kind: KindRegistrationTokenReceived, UpdateToken: updateToken}
}

// RegistrationTokenFailed creates a registration failure event.
func RegistrationTokenFailed(reason *pusherr.Error) Event {
	return Event{Kind: KindRegistrationTokenFailed, Reason: reason}
}

// RegistrationUpdated creates a registration update success event.
func RegistrationUpdated() Event {
	return Event{Kind: KindRegistrationUpdated}
}

// RegistrationUpdateFailed creates a registration update failure event.
func RegistrationUpdateFailed(reason *pusherr.Error) Event {
	return Event{Kind: KindRegistrationUpdateFailed, Reason: reason}
}

// DeviceDeregistered creates a deregistration success event.
func DeviceDeregistered() Event {
	return Event{Kind: KindDeviceDeregistered}
}

// DeregistrationFailed creates a deregistration failure event.
func DeregistrationFailed(reason *pusherr.Error) Event {
	return Event{Kind: KindDeregistrationFailed, Reason: reason}
}
