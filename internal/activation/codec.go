package activation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/roach88/pushreg/internal/pusherr"
	"github.com/roach88/pushreg/internal/store"
)

type tokenPayload struct {
	UpdateToken string `json:"update_token"`
}

// Fields are declared in key order so payloads encode with sorted keys.
type reasonPayload struct {
	Code       int    `json:"code"`
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
}

// eventDecoders is the static registry from a stored event tag to its
// constructor.
var eventDecoders = map[EventKind]func(payload string) (Event, error){
	KindUserActivateRequested:   tagOnly(UserActivateRequested),
	KindUserDeactivateRequested: tagOnly(UserDeactivateRequested),
	KindDeviceTokenObtained:     tagOnly(DeviceTokenObtained),
	KindRegistrationTokenReceived: func(payload string) (Event, error) {
		var p tokenPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return Event{}, err
		}
		return RegistrationTokenReceived(p.UpdateToken), nil
	},
	KindRegistrationTokenFailed:  withReason(RegistrationTokenFailed),
	KindRegistrationUpdated:      tagOnly(RegistrationUpdated),
	KindRegistrationUpdateFailed: withReason(RegistrationUpdateFailed),
	KindDeviceDeregistered:       tagOnly(DeviceDeregistered),
	KindDeregistrationFailed:     withReason(DeregistrationFailed),
}

func tagOnly(ctor func() Event) func(string) (Event, error) {
	return func(string) (Event, error) {
		return ctor(), nil
	}
}

func withReason(ctor func(*pusherr.Error) Event) func(string) (Event, error) {
	return func(payload string) (Event, error) {
		if payload == "" {
			return ctor(nil), nil
		}
		var p reasonPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return Event{}, err
		}
		return ctor(&pusherr.Error{
			Kind:       pusherr.Kind(p.Kind),
			Code:       p.Code,
			StatusCode: p.StatusCode,
			Message:    p.Message,
		}), nil
	}
}

// EncodeEvent converts an event to its stored checkpoint form.
//
// Token and message strings are stored byte for byte. A string that is not
// valid UTF-8 cannot be represented in the payload and is rejected.
func EncodeEvent(ev Event) (store.PendingEvent, error) {
	pe := store.PendingEvent{Kind: string(ev.Kind)}

	var payload any
	switch {
	case ev.Kind == KindRegistrationTokenReceived:
		payload = tokenPayload{UpdateToken: ev.UpdateToken}
		if !utf8.ValidString(ev.UpdateToken) {
			return store.PendingEvent{}, fmt.Errorf("encode %s: update token is not valid UTF-8", ev.Kind)
		}
	case ev.Reason != nil:
		payload = reasonPayload{
			Code:       ev.Reason.Code,
			Kind:       string(ev.Reason.Kind),
			Message:    ev.Reason.Message,
			StatusCode: ev.Reason.StatusCode,
		}
		if !utf8.ValidString(ev.Reason.Message) {
			return store.PendingEvent{}, fmt.Errorf("encode %s: reason message is not valid UTF-8", ev.Kind)
		}
	}

	if payload != nil {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(payload); err != nil {
			return store.PendingEvent{}, fmt.Errorf("encode %s: %w", ev.Kind, err)
		}
		pe.Payload = string(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
	}
	return pe, nil
}

// decodeEvent rebuilds an event from its stored form.
func decodeEvent(pe store.PendingEvent) (Event, error) {
	dec, ok := eventDecoders[EventKind(pe.Kind)]
	if !ok {
		return Event{}, fmt.Errorf("unknown event kind %q", pe.Kind)
	}
	ev, err := dec(pe.Payload)
	if err != nil {
		return Event{}, fmt.Errorf("decode %s: %w", pe.Kind, err)
	}
	return ev, nil
}

// ParseEventKind validates an event tag.
func ParseEventKind(s string) (EventKind, error) {
	if _, ok := eventDecoders[EventKind(s)]; !ok {
		return "", fmt.Errorf("unknown event kind %q", s)
	}
	return EventKind(s), nil
}
