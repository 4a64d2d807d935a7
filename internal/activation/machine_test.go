package activation_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pushreg/internal/activation"
	"github.com/roach88/pushreg/internal/device"
	"github.com/roach88/pushreg/internal/pusherr"
	"github.com/roach88/pushreg/internal/store"
	"github.com/roach88/pushreg/internal/testutil"
)

type fixture struct {
	store      *store.Store
	device     *device.Local
	dispatcher *testutil.Dispatcher
	notifier   *testutil.Notifier
	machine    *activation.Machine
	trace      []activation.Transition
}

// newFixture provisions device "dev-1" and restores a machine from whatever
// checkpoint seed writes.
func newFixture(t *testing.T, seed *store.Checkpoint) *fixture {
	t.Helper()
	f := &fixture{
		store:      testutil.OpenStore(t),
		dispatcher: testutil.NewDispatcher(),
		notifier:   testutil.NewNotifier(),
	}
	f.device = testutil.ProvisionDevice(t, f.store, "dev-1")
	if seed != nil {
		require.NoError(t, f.store.SaveCheckpoint(context.Background(), *seed))
	}
	f.restart(t)
	return f
}

// restart drops the machine and restores a new one from the store.
func (f *fixture) restart(t *testing.T) {
	t.Helper()
	m, err := activation.New(context.Background(), f.store, f.device, f.dispatcher, f.notifier,
		activation.WithTransitionHook(func(tr activation.Transition) {
			f.trace = append(f.trace, tr)
		}),
	)
	require.NoError(t, err)
	f.machine = m
	f.dispatcher.Rebind(m)
}

func (f *fixture) handle(t *testing.T, ev activation.Event) {
	t.Helper()
	require.NoError(t, f.machine.HandleEvent(context.Background(), ev))
}

func (f *fixture) resolve(t *testing.T, kind testutil.RequestKind, ev activation.Event) {
	t.Helper()
	require.NoError(t, f.dispatcher.Resolve(context.Background(), kind, ev))
}

func (f *fixture) checkpoint(t *testing.T) store.Checkpoint {
	t.Helper()
	cp, err := f.store.LoadCheckpoint(context.Background())
	require.NoError(t, err)
	return cp
}

func (f *fixture) updateToken(t *testing.T) string {
	t.Helper()
	tok, err := f.device.UpdateToken(context.Background())
	require.NoError(t, err)
	return tok
}

func registered(t *testing.T, f *fixture, token string) {
	t.Helper()
	require.NoError(t, f.device.SetUpdateToken(context.Background(), token))
}

func callbackNames(cbs []testutil.Callback) []string {
	out := make([]string, len(cbs))
	for i, cb := range cbs {
		out[i] = cb.Name
	}
	return out
}

func TestMachine_StartsNotActivated(t *testing.T) {
	f := newFixture(t, nil)

	snap := f.machine.Snapshot()
	assert.Equal(t, activation.State{ID: activation.NotActivated}, snap.State)
	assert.Empty(t, snap.Pending)
}

func TestMachine_FreshActivation(t *testing.T) {
	f := newFixture(t, nil)

	f.handle(t, activation.UserActivateRequested())
	assert.Equal(t, activation.WaitingForDeviceToken, f.machine.Current().ID)
	assert.Empty(t, f.dispatcher.Requests())

	f.handle(t, activation.DeviceTokenObtained())
	assert.Equal(t, activation.WaitingForUpdateToken, f.machine.Current().ID)
	require.Equal(t, []testutil.RequestKind{testutil.RequestRegister}, f.dispatcher.Kinds())
	assert.Equal(t, "dev-1", f.dispatcher.Requests()[0].DeviceID)

	f.resolve(t, testutil.RequestRegister, activation.RegistrationTokenReceived("tok123"))

	assert.Equal(t, activation.WaitingForNewDeviceToken, f.machine.Current().ID)
	assert.Equal(t, "tok123", f.updateToken(t))

	cbs := f.notifier.Callbacks()
	require.Len(t, cbs, 1)
	assert.Equal(t, testutil.CallbackActivated, cbs[0].Name)
	assert.True(t, cbs[0].OK())

	assert.Equal(t, store.Checkpoint{State: "WaitingForNewDeviceToken", Pending: []store.PendingEvent{}}, f.checkpoint(t))
}

func TestMachine_ActivationFailureReportsReason(t *testing.T) {
	f := newFixture(t, &store.Checkpoint{State: "WaitingForDeviceToken"})
	reason := pusherr.Server(401, 40100, "unauthorized")

	f.handle(t, activation.DeviceTokenObtained())
	f.resolve(t, testutil.RequestRegister, activation.RegistrationTokenFailed(reason))

	assert.Equal(t, activation.NotActivated, f.machine.Current().ID)
	assert.Equal(t, "", f.updateToken(t))

	cbs := f.notifier.Callbacks()
	require.Len(t, cbs, 1)
	assert.Equal(t, testutil.CallbackActivated, cbs[0].Name)
	assert.Same(t, reason, cbs[0].Reason)
}

func TestMachine_Deactivation(t *testing.T) {
	f := newFixture(t, &store.Checkpoint{State: "WaitingForNewDeviceToken"})
	registered(t, f, "tok123")

	f.handle(t, activation.UserDeactivateRequested())
	assert.Equal(t, activation.State{
		ID:       activation.WaitingForDeregistration,
		Previous: activation.WaitingForNewDeviceToken,
	}, f.machine.Current())
	assert.Equal(t, []testutil.RequestKind{testutil.RequestDeregister}, f.dispatcher.Kinds())

	f.resolve(t, testutil.RequestDeregister, activation.DeviceDeregistered())

	assert.Equal(t, activation.NotActivated, f.machine.Current().ID)
	assert.Equal(t, "", f.updateToken(t))
	assert.Equal(t, []string{testutil.CallbackDeactivated}, callbackNames(f.notifier.Callbacks()))
	assert.True(t, f.notifier.Callbacks()[0].OK())
}

func TestMachine_DeregistrationFailureRevertsToPrevious(t *testing.T) {
	f := newFixture(t, &store.Checkpoint{State: "AfterRegistrationUpdateFailed"})
	registered(t, f, "tok123")
	reason := pusherr.Transport(errors.New("connection reset"))

	f.handle(t, activation.UserDeactivateRequested())
	f.resolve(t, testutil.RequestDeregister, activation.DeregistrationFailed(reason))

	assert.Equal(t, activation.State{ID: activation.AfterRegistrationUpdateFailed}, f.machine.Current())
	assert.Equal(t, "tok123", f.updateToken(t))

	cbs := f.notifier.Callbacks()
	require.Len(t, cbs, 1)
	assert.Equal(t, testutil.CallbackDeactivated, cbs[0].Name)
	assert.Same(t, reason, cbs[0].Reason)
}

func TestMachine_UpdateFailureThenRetry(t *testing.T) {
	f := newFixture(t, &store.Checkpoint{State: "WaitingForNewDeviceToken"})
	registered(t, f, "tok123")

	f.handle(t, activation.DeviceTokenObtained())
	assert.Equal(t, activation.WaitingForRegistrationUpdate, f.machine.Current().ID)

	timeout := pusherr.Transport(errors.New("network timeout"))
	f.resolve(t, testutil.RequestUpdate, activation.RegistrationUpdateFailed(timeout))

	assert.Equal(t, activation.AfterRegistrationUpdateFailed, f.machine.Current().ID)
	cbs := f.notifier.Callbacks()
	require.Len(t, cbs, 1)
	assert.Equal(t, testutil.CallbackUpdateFailed, cbs[0].Name)
	assert.Equal(t, "network timeout", cbs[0].Reason.Message)

	f.handle(t, activation.UserActivateRequested())

	assert.Equal(t, activation.WaitingForRegistrationUpdate, f.machine.Current().ID)
	assert.Equal(t, []testutil.RequestKind{testutil.RequestUpdate, testutil.RequestUpdate}, f.dispatcher.Kinds())

	f.resolve(t, testutil.RequestUpdate, activation.RegistrationUpdated())
	assert.Equal(t, activation.WaitingForNewDeviceToken, f.machine.Current().ID)
	assert.Len(t, f.notifier.Callbacks(), 1)
}

func TestMachine_ActivateIsIdempotentWhenActivated(t *testing.T) {
	f := newFixture(t, &store.Checkpoint{State: "WaitingForNewDeviceToken"})
	registered(t, f, "tok123")

	for i := 0; i < 3; i++ {
		f.handle(t, activation.UserActivateRequested())
	}

	assert.Equal(t, activation.WaitingForNewDeviceToken, f.machine.Current().ID)
	assert.Empty(t, f.dispatcher.Requests())
	assert.Equal(t,
		[]string{testutil.CallbackActivated, testutil.CallbackActivated, testutil.CallbackActivated},
		callbackNames(f.notifier.Callbacks()))
}

func TestMachine_DeactivateWhenNotActivated(t *testing.T) {
	f := newFixture(t, nil)

	f.handle(t, activation.UserDeactivateRequested())

	assert.Equal(t, activation.NotActivated, f.machine.Current().ID)
	assert.Empty(t, f.dispatcher.Requests())
	assert.Equal(t, []string{testutil.CallbackDeactivated}, callbackNames(f.notifier.Callbacks()))
}

func TestMachine_ActivateWhenAlreadyRegistered(t *testing.T) {
	f := newFixture(t, nil)
	registered(t, f, "tok123")

	f.handle(t, activation.UserActivateRequested())

	assert.Equal(t, activation.WaitingForNewDeviceToken, f.machine.Current().ID)
	assert.Empty(t, f.dispatcher.Requests())
	assert.Empty(t, f.notifier.Callbacks())
}

func TestMachine_ActivateWithKnownRegistrationToken(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.device.SetRegistrationToken(context.Background(),
		device.RegistrationToken{Type: device.TokenFCM, Token: "fcm-1"}))

	f.handle(t, activation.UserActivateRequested())

	// The raised DeviceTokenObtained is consumed in the same call.
	assert.Equal(t, activation.WaitingForUpdateToken, f.machine.Current().ID)
	assert.Empty(t, f.machine.Snapshot().Pending)
	assert.Equal(t, []testutil.RequestKind{testutil.RequestRegister}, f.dispatcher.Kinds())
}

func TestMachine_UnhandledEventsQueueInOrder(t *testing.T) {
	f := newFixture(t, &store.Checkpoint{State: "WaitingForDeviceToken"})

	f.handle(t, activation.DeviceTokenObtained())
	f.handle(t, activation.UserDeactivateRequested())
	f.handle(t, activation.RegistrationUpdated())

	snap := f.machine.Snapshot()
	assert.Equal(t, activation.WaitingForUpdateToken, snap.State.ID)
	require.Len(t, snap.Pending, 2)
	assert.Equal(t, activation.KindUserDeactivateRequested, snap.Pending[0].Kind)
	assert.Equal(t, activation.KindRegistrationUpdated, snap.Pending[1].Kind)

	f.resolve(t, testutil.RequestRegister, activation.RegistrationTokenReceived("tok123"))

	// UserDeactivateRequested drains; RegistrationUpdated blocks at the head.
	snap = f.machine.Snapshot()
	assert.Equal(t, activation.State{
		ID:       activation.WaitingForDeregistration,
		Previous: activation.WaitingForNewDeviceToken,
	}, snap.State)
	require.Len(t, snap.Pending, 1)
	assert.Equal(t, activation.KindRegistrationUpdated, snap.Pending[0].Kind)

	assert.Equal(t, []testutil.RequestKind{testutil.RequestRegister, testutil.RequestDeregister}, f.dispatcher.Kinds())
	assert.Equal(t, []string{testutil.CallbackActivated}, callbackNames(f.notifier.Callbacks()))
}

func TestMachine_PersistsQueueOnEnqueue(t *testing.T) {
	f := newFixture(t, nil)

	f.handle(t, activation.RegistrationUpdated())

	cp := f.checkpoint(t)
	assert.Equal(t, []store.PendingEvent{{Kind: "RegistrationUpdated"}}, cp.Pending)

	f.restart(t)
	snap := f.machine.Snapshot()
	require.Len(t, snap.Pending, 1)
	assert.Equal(t, activation.KindRegistrationUpdated, snap.Pending[0].Kind)
}

func TestMachine_RestoresAfterCrash(t *testing.T) {
	f := newFixture(t, &store.Checkpoint{State: "AfterRegistrationUpdateFailed"})
	registered(t, f, "tok123")

	f.restart(t)

	assert.Equal(t, activation.AfterRegistrationUpdateFailed, f.machine.Current().ID)
	f.handle(t, activation.UserActivateRequested())
	assert.Equal(t, []testutil.RequestKind{testutil.RequestUpdate}, f.dispatcher.Kinds())
}

func TestMachine_CrashDuringTransientStateResumesFromLastStable(t *testing.T) {
	f := newFixture(t, nil)

	f.handle(t, activation.UserActivateRequested())
	f.handle(t, activation.DeviceTokenObtained())
	require.Equal(t, activation.WaitingForUpdateToken, f.machine.Current().ID)

	cp := f.checkpoint(t)
	assert.Equal(t, "WaitingForDeviceToken", cp.State)

	f.restart(t)
	assert.Equal(t, activation.WaitingForDeviceToken, f.machine.Current().ID)

	// The host re-supplies the token and registration is retried.
	f.handle(t, activation.DeviceTokenObtained())
	assert.Equal(t, []testutil.RequestKind{testutil.RequestRegister, testutil.RequestRegister}, f.dispatcher.Kinds())
}

func TestMachine_CrashDuringDeregistration(t *testing.T) {
	f := newFixture(t, &store.Checkpoint{State: "WaitingForNewDeviceToken"})
	registered(t, f, "tok123")

	f.handle(t, activation.UserDeactivateRequested())
	f.restart(t)

	assert.Equal(t, activation.State{ID: activation.WaitingForNewDeviceToken}, f.machine.Current())
	assert.Equal(t, "tok123", f.updateToken(t))
}

func TestMachine_CrashWithQueuedEventKeepsQueue(t *testing.T) {
	f := newFixture(t, &store.Checkpoint{State: "WaitingForDeviceToken"})

	f.handle(t, activation.DeviceTokenObtained())
	f.handle(t, activation.UserDeactivateRequested())
	require.Equal(t, activation.WaitingForUpdateToken, f.machine.Current().ID)

	cp := f.checkpoint(t)
	assert.Equal(t, "WaitingForDeviceToken", cp.State)
	assert.Equal(t, []store.PendingEvent{{Kind: "UserDeactivateRequested"}}, cp.Pending)

	f.restart(t)
	snap := f.machine.Snapshot()
	assert.Equal(t, activation.State{ID: activation.WaitingForDeviceToken}, snap.State)
	require.Len(t, snap.Pending, 1)
	assert.Equal(t, activation.KindUserDeactivateRequested, snap.Pending[0].Kind)
}

func TestMachine_SnapshotSurvivesRestart(t *testing.T) {
	f := newFixture(t, &store.Checkpoint{State: "WaitingForDeviceToken"})

	f.handle(t, activation.DeviceTokenObtained())
	f.handle(t, activation.RegistrationUpdated())
	f.resolve(t, testutil.RequestRegister, activation.RegistrationTokenReceived("tok123"))

	before := f.machine.Snapshot()
	require.Equal(t, activation.State{ID: activation.WaitingForNewDeviceToken}, before.State)
	require.Len(t, before.Pending, 1)

	f.restart(t)
	assert.Equal(t, before, f.machine.Snapshot())
}

func TestMachine_LateRegistrationReplyAfterCrashIsQueued(t *testing.T) {
	f := newFixture(t, nil)

	f.handle(t, activation.UserActivateRequested())
	f.handle(t, activation.DeviceTokenObtained())
	f.restart(t)

	f.resolve(t, testutil.RequestRegister, activation.RegistrationTokenReceived("late"))

	snap := f.machine.Snapshot()
	assert.Equal(t, activation.State{ID: activation.WaitingForDeviceToken}, snap.State)
	require.Len(t, snap.Pending, 1)
	assert.Equal(t, activation.RegistrationTokenReceived("late"), snap.Pending[0])
	assert.Empty(t, f.notifier.Callbacks())
	assert.Empty(t, f.updateToken(t))

	cp := f.checkpoint(t)
	assert.Equal(t, []store.PendingEvent{
		{Kind: "RegistrationTokenReceived", Payload: `{"update_token":"late"}`},
	}, cp.Pending)
}

func TestMachine_LateDeregistrationReplyAfterCrashIsQueued(t *testing.T) {
	f := newFixture(t, &store.Checkpoint{State: "WaitingForNewDeviceToken"})
	registered(t, f, "tok123")

	f.handle(t, activation.UserDeactivateRequested())
	f.restart(t)

	f.resolve(t, testutil.RequestDeregister, activation.DeviceDeregistered())

	snap := f.machine.Snapshot()
	assert.Equal(t, activation.State{ID: activation.WaitingForNewDeviceToken}, snap.State)
	require.Len(t, snap.Pending, 1)
	assert.Equal(t, activation.KindDeviceDeregistered, snap.Pending[0].Kind)
	assert.Empty(t, f.notifier.Callbacks())
	assert.Equal(t, "tok123", f.updateToken(t))
}

func TestMachine_SynchronousReplyCallbacksFollowStepCallbacks(t *testing.T) {
	f := newFixture(t, &store.Checkpoint{
		State: "WaitingForDeviceToken",
		Pending: []store.PendingEvent{
			{Kind: "RegistrationTokenReceived", Payload: `{"update_token":"tok123"}`},
			{Kind: "UserDeactivateRequested"},
		},
	})
	f.dispatcher.Script(testutil.RequestDeregister, activation.DeviceDeregistered())

	// One step: register, activated (drained reply), then deregister whose
	// scripted reply re-enters the machine before Deregister returns.
	f.handle(t, activation.DeviceTokenObtained())

	assert.Equal(t, []string{testutil.CallbackActivated, testutil.CallbackDeactivated},
		callbackNames(f.notifier.Callbacks()))
	assert.Equal(t, []testutil.RequestKind{testutil.RequestRegister, testutil.RequestDeregister}, f.dispatcher.Kinds())
	assert.Equal(t, activation.NotActivated, f.machine.Current().ID)
	assert.Empty(t, f.updateToken(t))
}

func TestNew_UnknownStateFallsBack(t *testing.T) {
	for _, tag := range []string{"WaitingForRegistrationUpdate", "io.ably.lib.push.Push$Bogus"} {
		t.Run(tag, func(t *testing.T) {
			f := newFixture(t, &store.Checkpoint{State: tag})
			assert.Equal(t, activation.State{ID: activation.NotActivated}, f.machine.Current())
		})
	}
}

func TestNew_UnknownPendingEventFails(t *testing.T) {
	s := testutil.OpenStore(t)
	dev := testutil.ProvisionDevice(t, s, "dev-1")
	require.NoError(t, s.SaveCheckpoint(context.Background(), store.Checkpoint{
		State:   "NotActivated",
		Pending: []store.PendingEvent{{Kind: "CalledActivate"}},
	}))

	_, err := activation.New(context.Background(), s, dev, testutil.NewDispatcher(), testutil.NewNotifier())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pending[0]")
}

func TestMachine_RequestWithoutIdentityFails(t *testing.T) {
	s := testutil.OpenStore(t)
	require.NoError(t, s.SaveCheckpoint(context.Background(), store.Checkpoint{State: "WaitingForDeviceToken"}))
	dispatcher := testutil.NewDispatcher()
	notifier := testutil.NewNotifier()

	m, err := activation.New(context.Background(), s, device.NewLocal(s), dispatcher, notifier)
	require.NoError(t, err)

	require.NoError(t, m.HandleEvent(context.Background(), activation.DeviceTokenObtained()))

	assert.Equal(t, activation.NotActivated, m.Current().ID)
	assert.Empty(t, dispatcher.Requests())
	cbs := notifier.Callbacks()
	require.Len(t, cbs, 1)
	assert.Equal(t, testutil.CallbackActivated, cbs[0].Name)
	assert.False(t, cbs[0].OK())
}

func TestMachine_ScriptedRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	f.dispatcher.Script(testutil.RequestRegister, activation.RegistrationTokenReceived("tok-9"))
	f.dispatcher.Script(testutil.RequestDeregister, activation.DeviceDeregistered())

	f.handle(t, activation.UserActivateRequested())
	f.handle(t, activation.DeviceTokenObtained())
	assert.Equal(t, activation.WaitingForNewDeviceToken, f.machine.Current().ID)
	assert.Equal(t, "tok-9", f.updateToken(t))

	f.handle(t, activation.UserDeactivateRequested())
	assert.Equal(t, activation.NotActivated, f.machine.Current().ID)
	assert.Equal(t, "", f.updateToken(t))

	assert.Equal(t, []string{testutil.CallbackActivated, testutil.CallbackDeactivated},
		callbackNames(f.notifier.Callbacks()))
}

func TestMachine_TransitionHook(t *testing.T) {
	f := newFixture(t, nil)

	f.handle(t, activation.RegistrationUpdated())
	f.handle(t, activation.UserActivateRequested())

	require.Len(t, f.trace, 2)
	assert.Equal(t, int64(1), f.trace[0].Seq)
	assert.True(t, f.trace[0].Queued)
	assert.Equal(t, f.trace[0].From, f.trace[0].To)

	assert.Equal(t, int64(2), f.trace[1].Seq)
	assert.False(t, f.trace[1].Queued)
	assert.Equal(t, activation.NotActivated, f.trace[1].From.ID)
	assert.Equal(t, activation.WaitingForDeviceToken, f.trace[1].To.ID)
}

func TestMachine_ConcurrentActivate(t *testing.T) {
	f := newFixture(t, &store.Checkpoint{State: "WaitingForNewDeviceToken"})
	registered(t, f, "tok123")

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.machine.HandleEvent(context.Background(), activation.UserActivateRequested())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, f.notifier.Callbacks(), n)
	assert.Equal(t, activation.WaitingForNewDeviceToken, f.machine.Current().ID)
}
