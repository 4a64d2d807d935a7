package activation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/pushreg/internal/device"
	"github.com/roach88/pushreg/internal/pusherr"
	"github.com/roach88/pushreg/internal/store"
)

// EventSink receives events. Machine implements it; dispatchers report
// request outcomes through it.
type EventSink interface {
	HandleEvent(ctx context.Context, ev Event) error
}

// Dispatcher issues the outbound registration requests.
//
// Each method must eventually call sink.HandleEvent exactly once with the
// terminal event for the request (success or failure). Methods must not
// block on network I/O. A method may call sink.HandleEvent before it
// returns; the callbacks of the step that issued the request have already
// been delivered by then, and any callback the reply produces follows them.
type Dispatcher interface {
	RegisterDevice(ctx context.Context, d device.Details, sink EventSink)
	UpdateRegistration(ctx context.Context, d device.Details, sink EventSink)
	Deregister(ctx context.Context, d device.Details, sink EventSink)
}

// Notifier delivers the user-facing callbacks. A nil reason means success.
type Notifier interface {
	Activated(ctx context.Context, reason *pusherr.Error)
	Deactivated(ctx context.Context, reason *pusherr.Error)
	UpdateFailed(ctx context.Context, reason *pusherr.Error)
}

// DeviceStore is the device identity the machine reads and updates.
// Implemented by device.Local.
type DeviceStore interface {
	Details(ctx context.Context) (device.Details, error)
	StageUpdateToken(b *store.Batch, token string)
}

// Transition describes one step reported to the transition hook.
type Transition struct {
	// Seq increases by one for every reported step.
	Seq int64

	From  State
	To    State
	Event EventKind

	// Queued is true when the event was unhandled and appended to the
	// pending queue; To equals From.
	Queued bool

	// FromQueue is true when the event was consumed from the pending queue.
	FromQueue bool
}

// Snapshot is a consistent view of the machine.
type Snapshot struct {
	State   State
	Pending []Event
}

// Machine is the activation state machine.
//
// CRITICAL: current and pending are only read or written with mu held, and
// the checkpoint is only written with mu held.
type Machine struct {
	mu sync.Mutex

	store      *store.Store
	device     DeviceStore
	dispatcher Dispatcher
	notifier   Notifier
	logger     *slog.Logger
	hook       func(Transition)

	seq     int64
	current State
	pending []Event
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) {
		m.logger = l
	}
}

// WithTransitionHook registers fn to observe every transition and enqueue.
// fn runs with the machine lock held and must not call back into the machine.
func WithTransitionHook(fn func(Transition)) Option {
	return func(m *Machine) {
		m.hook = fn
	}
}

// New creates a Machine restored from the checkpoint in s.
//
// A missing checkpoint starts in NotActivated with an empty queue. A stored
// state tag that is unknown or transient also falls back to NotActivated.
// An undecodable pending event is an error.
func New(
	ctx context.Context,
	s *store.Store,
	dev DeviceStore,
	dispatcher Dispatcher,
	notifier Notifier,
	opts ...Option,
) (*Machine, error) {
	m := &Machine{
		store:      s,
		device:     dev,
		dispatcher: dispatcher,
		notifier:   notifier,
		logger:     slog.Default(),
		current:    State{ID: NotActivated},
	}
	for _, opt := range opts {
		opt(m)
	}

	cp, err := s.LoadCheckpoint(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore activation machine: %w", err)
	}

	if cp.State != "" {
		st, ok := restoreState(cp.State)
		if !ok {
			m.logger.Warn("ignoring unrestorable checkpoint state",
				"state", cp.State,
				"fallback", st.ID,
			)
		}
		m.current = st
	}

	m.pending = make([]Event, 0, len(cp.Pending))
	for i, pe := range cp.Pending {
		ev, err := decodeEvent(pe)
		if err != nil {
			return nil, fmt.Errorf("restore activation machine: pending[%d]: %w", i, err)
		}
		m.pending = append(m.pending, ev)
	}

	m.logger.Debug("activation machine restored",
		"state", m.current.String(),
		"pending", len(m.pending),
	)

	return m, nil
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Snapshot returns the current state and a copy of the pending queue.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	pending := make([]Event, len(m.pending))
	copy(pending, m.pending)
	return Snapshot{State: m.current, Pending: pending}
}

// HandleEvent feeds ev to the machine.
//
// Thread-safe: concurrent callers are serialized. The transition, the drain
// of the pending queue and the checkpoint commit happen under the lock; the
// side effects of every transition run afterwards, in order.
//
// Registration failures never surface here: they arrive as *Failed events
// and leave through the Notifier. The returned error only reports a failed
// checkpoint commit; the in-memory transition stands regardless.
func (m *Machine) HandleEvent(ctx context.Context, ev Event) error {
	ctx = context.WithoutCancel(ctx)

	m.mu.Lock()
	effects, err := m.step(ctx, ev)
	m.mu.Unlock()

	m.run(ctx, effects)
	return err
}

// step runs one HandleEvent critical section. Called with mu held.
func (m *Machine) step(ctx context.Context, ev Event) ([]effect, error) {
	m.logger.Debug("handling event", "event", ev.Kind, "state", m.current.String())

	f := m.loadFacts(ctx)
	b := store.NewBatch()

	out, ok := transition(m.current, ev, f)
	if !ok {
		m.logger.Debug("enqueuing event", "event", ev.Kind, "state", m.current.String())
		m.pending = append(m.pending, ev)
		m.report(Transition{From: m.current, To: m.current, Event: ev.Kind, Queued: true})
		return nil, m.persist(ctx, b)
	}

	var effects []effect
	m.apply(ev, out, false, b, &f, &effects)

	for len(m.pending) > 0 {
		head := m.pending[0]

		m.logger.Debug("attempting to consume pending event", "event", head.Kind, "state", m.current.String())

		out, ok := transition(m.current, head, f)
		if !ok {
			break
		}

		m.pending[0] = Event{}
		m.pending = m.pending[1:]
		m.apply(head, out, true, b, &f, &effects)
	}

	return effects, m.persist(ctx, b)
}

// apply installs a handled transition. Called with mu held.
func (m *Machine) apply(ev Event, out outcome, fromQueue bool, b *store.Batch, f *facts, effects *[]effect) {
	m.logger.Debug("transition",
		"from", m.current.String(),
		"to", out.next.String(),
		"event", ev.Kind,
	)
	m.report(Transition{From: m.current, To: out.next, Event: ev.Kind, FromQueue: fromQueue})

	m.current = out.next

	if out.updateToken != nil {
		m.device.StageUpdateToken(b, *out.updateToken)
		f.registered = *out.updateToken != ""
	}

	m.pending = append(m.pending, out.raise...)
	*effects = append(*effects, out.effects...)
}

// persist stages the checkpoint into b and commits it. Called with mu held.
func (m *Machine) persist(ctx context.Context, b *store.Batch) error {
	cp := store.Checkpoint{Pending: make([]store.PendingEvent, 0, len(m.pending))}
	if m.current.Persistable() {
		cp.State = string(m.current.ID)
	}

	for _, ev := range m.pending {
		pe, err := EncodeEvent(ev)
		if err != nil {
			m.logger.Error("checkpoint encode failed", "event", ev.Kind, "error", err)
			return fmt.Errorf("persist checkpoint: %w", err)
		}
		cp.Pending = append(cp.Pending, pe)
	}

	store.StageCheckpoint(b, cp)
	if err := m.store.Commit(ctx, b); err != nil {
		m.logger.Error("checkpoint commit failed",
			"state", m.current.String(),
			"pending", len(m.pending),
			"error", err,
		)
		return fmt.Errorf("persist checkpoint: %w", err)
	}
	return nil
}

// loadFacts reads the device attributes transitions depend on.
// Called with mu held. Read failures are logged and treated as "unknown".
func (m *Machine) loadFacts(ctx context.Context) facts {
	d, err := m.device.Details(ctx)
	if err != nil {
		if !errors.Is(err, device.ErrNoIdentity) {
			m.logger.Warn("device details unavailable", "error", err)
		}
		return facts{}
	}
	return facts{
		registered:           d.Registered(),
		hasRegistrationToken: d.Push != nil && len(d.Push.Recipient) > 0,
	}
}

func (m *Machine) report(t Transition) {
	m.seq++
	t.Seq = m.seq
	if m.hook != nil {
		m.hook(t)
	}
}

// run executes side effects outside the lock.
func (m *Machine) run(ctx context.Context, effects []effect) {
	var (
		details device.Details
		loaded  bool
		loadErr error
	)
	loadDetails := func() (device.Details, error) {
		if !loaded {
			details, loadErr = m.device.Details(ctx)
			loaded = true
		}
		return details, loadErr
	}

	// Every callback of a step is delivered before any of its requests is
	// issued, so a synchronous reply cannot overtake them.
	for _, e := range effects {
		switch e.kind {
		case effectActivated:
			m.notifier.Activated(ctx, e.reason)
		case effectDeactivated:
			m.notifier.Deactivated(ctx, e.reason)
		case effectUpdateFailed:
			m.notifier.UpdateFailed(ctx, e.reason)
		}
	}

	for _, e := range effects {
		switch e.kind {
		case effectRegister, effectUpdateRegistration, effectDeregister:
			d, err := loadDetails()
			if err != nil {
				m.logger.Error("cannot issue request without device details",
					"request", e.kind.String(),
					"error", err,
				)
				m.reportRequestFailure(ctx, e.kind, pusherr.As(err))
				continue
			}
			m.logger.Info("issuing request", "request", e.kind.String(), "device", d.ID)
			switch e.kind {
			case effectRegister:
				m.dispatcher.RegisterDevice(ctx, d, m)
			case effectUpdateRegistration:
				m.dispatcher.UpdateRegistration(ctx, d, m)
			case effectDeregister:
				m.dispatcher.Deregister(ctx, d, m)
			}
		}
	}
}

// reportRequestFailure feeds the terminal failure for a request that could
// not be issued, so the machine does not wait for it forever.
func (m *Machine) reportRequestFailure(ctx context.Context, kind effectKind, reason *pusherr.Error) {
	var ev Event
	switch kind {
	case effectRegister:
		ev = RegistrationTokenFailed(reason)
	case effectUpdateRegistration:
		ev = RegistrationUpdateFailed(reason)
	case effectDeregister:
		ev = DeregistrationFailed(reason)
	default:
		return
	}
	if err := m.HandleEvent(ctx, ev); err != nil {
		m.logger.Error("failed to record request failure", "event", ev.Kind, "error", err)
	}
}
