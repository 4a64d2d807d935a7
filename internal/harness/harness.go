package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/roach88/pushreg/internal/activation"
	"github.com/roach88/pushreg/internal/device"
	"github.com/roach88/pushreg/internal/pusherr"
	"github.com/roach88/pushreg/internal/store"
	"github.com/roach88/pushreg/internal/testutil"
)

// DeviceID is the id of the device provisioned for every scenario.
const DeviceID = "dev-1"

// Harness executes one scenario.
//
// The dispatcher and notifier are wrapped so requests and callbacks land in
// the same trace as transitions. Every call in a run happens on the calling
// goroutine; mu only guards against a misbehaving hook.
type Harness struct {
	mu         sync.Mutex
	store      *store.Store
	device     *device.Local
	dispatcher *testutil.Dispatcher
	notifier   *testutil.Notifier
	machine    *activation.Machine
	logger     *slog.Logger
	result     *Result
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Seed the store from the setup section
// 2. Restore the machine
// 3. Execute flow steps with expect validation
// 4. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:      st,
		device:     device.NewLocal(st, device.WithIDGenerator(testutil.FixedIDs(DeviceID))),
		dispatcher: testutil.NewDispatcher(),
		notifier:   testutil.NewNotifier(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		result:     NewResult(),
	}

	ctx := context.Background()

	if err := h.executeSetup(ctx, scenario); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	if err := h.restore(ctx); err != nil {
		return nil, err
	}
	if err := h.executeFlow(ctx, scenario.Flow); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	final, err := h.finalState(ctx)
	if err != nil {
		return nil, err
	}
	h.result.Final = final

	for _, msg := range EvaluateAssertions(h.result, h.dispatcher, h.notifier, scenario.Assertions) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func (h *Harness) executeSetup(ctx context.Context, s *Scenario) error {
	setup := s.Setup
	if !setup.NoDevice {
		if _, err := h.device.Init(ctx, device.Identity{}); err != nil {
			return err
		}
	}
	if setup.UpdateToken != "" {
		if err := h.device.SetUpdateToken(ctx, setup.UpdateToken); err != nil {
			return err
		}
	}
	if tok := setup.RegistrationToken; tok != nil {
		rt := device.RegistrationToken{Type: device.TokenType(tok.Type), Token: tok.Token}
		if err := h.device.SetRegistrationToken(ctx, rt); err != nil {
			return err
		}
	}

	if setup.State != "" || len(setup.Pending) > 0 {
		cp := store.Checkpoint{State: setup.State}
		for _, spec := range setup.Pending {
			ev, err := spec.toEvent()
			if err != nil {
				return err
			}
			pe, err := activation.EncodeEvent(ev)
			if err != nil {
				return err
			}
			cp.Pending = append(cp.Pending, pe)
		}
		if err := h.store.SaveCheckpoint(ctx, cp); err != nil {
			return err
		}
	}

	for kind, specs := range s.Script {
		for _, spec := range specs {
			ev, err := spec.toEvent()
			if err != nil {
				return err
			}
			h.dispatcher.Script(requestKinds[kind], ev)
		}
	}
	return nil
}

// restore builds a machine from the store, as after a process restart.
func (h *Harness) restore(ctx context.Context) error {
	m, err := activation.New(ctx, h.store, h.device,
		&tracingDispatcher{inner: h.dispatcher, h: h},
		&tracingNotifier{inner: h.notifier, h: h},
		activation.WithLogger(h.logger),
		activation.WithTransitionHook(h.recordTransition),
	)
	if err != nil {
		return fmt.Errorf("failed to restore machine: %w", err)
	}
	h.machine = m
	h.dispatcher.Rebind(m)
	return nil
}

func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep) error {
	for i, step := range flow {
		switch {
		case step.Restart:
			if err := h.restore(ctx); err != nil {
				return fmt.Errorf("flow[%d]: %w", i, err)
			}
			h.record(TraceEvent{Type: TraceRestart, State: h.machine.Current().String()})

		case step.Resolve != "":
			ev, err := step.toEvent()
			if err != nil {
				return fmt.Errorf("flow[%d]: %w", i, err)
			}
			if err := h.dispatcher.Resolve(ctx, requestKinds[step.Resolve], ev); err != nil {
				h.result.AddError(fmt.Sprintf("flow[%d]: %v", i, err))
				continue
			}

		default:
			ev, err := step.toEvent()
			if err != nil {
				return fmt.Errorf("flow[%d]: %w", i, err)
			}
			if err := h.machine.HandleEvent(ctx, ev); err != nil {
				return fmt.Errorf("flow[%d]: %w", i, err)
			}
		}

		if step.Expect != nil {
			h.checkExpect(i, step.Expect)
		}
	}
	return nil
}

func (h *Harness) checkExpect(i int, want *ExpectClause) {
	snap := h.machine.Snapshot()
	if want.State != "" && snap.State.String() != want.State {
		h.result.AddError(fmt.Sprintf("flow[%d]: expected state %s, got %s", i, want.State, snap.State))
	}
	if want.Pending != nil && len(snap.Pending) != *want.Pending {
		h.result.AddError(fmt.Sprintf("flow[%d]: expected %d pending events, got %d", i, *want.Pending, len(snap.Pending)))
	}
}

func (h *Harness) finalState(ctx context.Context) (FinalState, error) {
	snap := h.machine.Snapshot()
	fs := FinalState{State: snap.State.String(), Pending: len(snap.Pending)}

	tok, err := h.device.UpdateToken(ctx)
	if err != nil {
		return FinalState{}, err
	}
	fs.UpdateToken = tok

	rt, err := h.device.RegistrationToken(ctx)
	if err != nil {
		return FinalState{}, err
	}
	if rt != nil {
		fs.RegistrationToken = rt.Token
	}
	return fs, nil
}

func (h *Harness) record(ev TraceEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.result.add(ev)
}

func (h *Harness) recordTransition(t activation.Transition) {
	if t.Queued {
		h.record(TraceEvent{Type: TraceQueued, Event: string(t.Event), State: t.From.String()})
		return
	}
	h.record(TraceEvent{
		Type:      TraceTransition,
		Event:     string(t.Event),
		From:      t.From.String(),
		To:        t.To.String(),
		FromQueue: t.FromQueue,
	})
}

type tracingDispatcher struct {
	inner *testutil.Dispatcher
	h     *Harness
}

func (d *tracingDispatcher) RegisterDevice(ctx context.Context, dev device.Details, sink activation.EventSink) {
	d.h.record(TraceEvent{Type: TraceRequest, Request: string(testutil.RequestRegister), Device: dev.ID})
	d.inner.RegisterDevice(ctx, dev, sink)
}

func (d *tracingDispatcher) UpdateRegistration(ctx context.Context, dev device.Details, sink activation.EventSink) {
	d.h.record(TraceEvent{Type: TraceRequest, Request: string(testutil.RequestUpdate), Device: dev.ID})
	d.inner.UpdateRegistration(ctx, dev, sink)
}

func (d *tracingDispatcher) Deregister(ctx context.Context, dev device.Details, sink activation.EventSink) {
	d.h.record(TraceEvent{Type: TraceRequest, Request: string(testutil.RequestDeregister), Device: dev.ID})
	d.inner.Deregister(ctx, dev, sink)
}

type tracingNotifier struct {
	inner *testutil.Notifier
	h     *Harness
}

func (n *tracingNotifier) Activated(ctx context.Context, reason *pusherr.Error) {
	n.h.recordCallback(testutil.CallbackActivated, reason)
	n.inner.Activated(ctx, reason)
}

func (n *tracingNotifier) Deactivated(ctx context.Context, reason *pusherr.Error) {
	n.h.recordCallback(testutil.CallbackDeactivated, reason)
	n.inner.Deactivated(ctx, reason)
}

func (n *tracingNotifier) UpdateFailed(ctx context.Context, reason *pusherr.Error) {
	n.h.recordCallback(testutil.CallbackUpdateFailed, reason)
	n.inner.UpdateFailed(ctx, reason)
}

func (h *Harness) recordCallback(name string, reason *pusherr.Error) {
	ev := TraceEvent{Type: TraceCallback, Callback: name}
	if reason != nil {
		ev.Error = reason.Message
	}
	h.record(ev)
}
