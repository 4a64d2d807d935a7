package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pushreg/internal/activation"
	"github.com/roach88/pushreg/internal/device"
	"github.com/roach88/pushreg/internal/pusherr"
	"github.com/roach88/pushreg/internal/testutil"
)

type discardSink struct{}

func (discardSink) HandleEvent(context.Context, activation.Event) error { return nil }

func sampleTrace() []TraceEvent {
	r := NewResult()
	r.add(TraceEvent{Type: TraceTransition, Event: "UserActivateRequested", From: "NotActivated", To: "WaitingForDeviceToken"})
	r.add(TraceEvent{Type: TraceQueued, Event: "RegistrationUpdated", State: "WaitingForDeviceToken"})
	r.add(TraceEvent{Type: TraceTransition, Event: "DeviceTokenObtained", From: "WaitingForDeviceToken", To: "WaitingForUpdateToken"})
	r.add(TraceEvent{Type: TraceRequest, Request: "register", Device: "dev-1"})
	return r.Trace
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceOrder(trace, Assertion{Values: []string{"UserActivateRequested", "DeviceTokenObtained"}}))
	assert.NoError(t, assertTraceOrder(trace, Assertion{Values: []string{"DeviceTokenObtained"}}))

	err := assertTraceOrder(trace, Assertion{Values: []string{"DeviceTokenObtained", "UserActivateRequested"}})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Contains(t, ae.Actual, "missing UserActivateRequested")

	// Queued events are not handled transitions.
	assert.Error(t, assertTraceOrder(trace, Assertion{Values: []string{"RegistrationUpdated"}}))
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceCount(trace, Assertion{Event: "DeviceTokenObtained", Count: 1}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Event: "RegistrationUpdated", Count: 0}))
	assert.Error(t, assertTraceCount(trace, Assertion{Event: "DeviceTokenObtained", Count: 2}))
}

func TestAssertFinalState(t *testing.T) {
	final := FinalState{State: "NotActivated", Pending: 1, UpdateToken: "tok"}

	assert.NoError(t, assertFinalState(final, Assertion{Expect: map[string]any{"state": "NotActivated", "pending": 1}}))

	err := assertFinalState(final, Assertion{Expect: map[string]any{"update_token": "other", "pending": 0}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pending=1 (want 0), update_token=tok (want other)")

	assert.ErrorContains(t, assertFinalState(final, Assertion{Expect: map[string]any{"color": "red"}}), `unknown key "color"`)
}

func TestEvaluateAssertions_RequestsAndCallbacks(t *testing.T) {
	ctx := context.Background()
	d := testutil.NewDispatcher()
	d.RegisterDevice(ctx, device.Details{ID: "dev-1"}, discardSink{})
	d.Deregister(ctx, device.Details{ID: "dev-1"}, discardSink{})

	n := testutil.NewNotifier()
	n.Activated(ctx, nil)
	n.Deactivated(ctx, pusherr.Server(500, 0, "boom"))

	result := NewResult()
	errs := EvaluateAssertions(result, d, n, []Assertion{
		{Type: AssertRequests, Values: []string{"register", "deregister"}},
		{Type: AssertCallbacks, Values: []string{"activated", "deactivated!"}},
	})
	assert.Empty(t, errs)

	errs = EvaluateAssertions(result, d, n, []Assertion{
		{Type: AssertRequests, Values: []string{"register"}},
		{Type: AssertCallbacks, Values: []string{"activated", "deactivated"}},
		{Type: "bogus"},
	})
	require.Len(t, errs, 3)
	assert.Contains(t, errs[0], "Assertion failed: requests")
	assert.Contains(t, errs[1], "Assertion failed: callbacks")
	assert.Contains(t, errs[2], `unknown assertion type "bogus"`)
}

func TestAssertionError_IncludesTrace(t *testing.T) {
	err := &AssertionError{
		Type:     AssertRequests,
		Expected: "[register]",
		Actual:   "[]",
		Trace:    sampleTrace(),
	}
	msg := err.Error()
	assert.Contains(t, msg, "[1] UserActivateRequested: NotActivated -> WaitingForDeviceToken")
	assert.Contains(t, msg, "[2] RegistrationUpdated queued in WaitingForDeviceToken")
	assert.Contains(t, msg, "[4] request register for dev-1")
}
