// Package push is the host-facing API of the activation stack.
//
// A Push owns one activation machine for the local device. Activate and
// Deactivate record the host's intent; OnNewRegistrationToken reports tokens
// issued by the platform. Outcomes are delivered asynchronously as bus
// messages on bus.TopicActivate, bus.TopicDeactivate and
// bus.TopicUpdateFailed.
package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/pushreg/internal/activation"
	"github.com/roach88/pushreg/internal/bus"
	"github.com/roach88/pushreg/internal/device"
	"github.com/roach88/pushreg/internal/dispatch"
	"github.com/roach88/pushreg/internal/pusherr"
	"github.com/roach88/pushreg/internal/store"
)

// Push is the activation facade for the local device.
type Push struct {
	store   *store.Store
	device  *device.Local
	machine *activation.Machine
	bus     *bus.Bus
	logger  *slog.Logger

	// waiters block until in-flight requests finish; set by Open.
	waiters []interface{ Wait() }
	closer  func() error
}

// New assembles a Push from already-built parts.
func New(s *store.Store, dev *device.Local, m *activation.Machine, b *bus.Bus, logger *slog.Logger) *Push {
	if logger == nil {
		logger = slog.Default()
	}
	return &Push{store: s, device: dev, machine: m, bus: b, logger: logger}
}

// Activate asks for the device to be registered for push.
//
// useCustomRegisterer selects whether registration requests are handed to
// the host over the bus instead of the REST API; the choice is stored and
// applies to every later registration and update.
func (p *Push) Activate(ctx context.Context, useCustomRegisterer bool) error {
	if err := p.requireIdentity(ctx, "activate"); err != nil {
		return err
	}
	if err := p.store.PutBool(ctx, dispatch.PrefUseCustomRegisterer, useCustomRegisterer); err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	return p.machine.HandleEvent(ctx, activation.UserActivateRequested())
}

// Deactivate asks for the device registration to be removed.
func (p *Push) Deactivate(ctx context.Context, useCustomDeregisterer bool) error {
	if err := p.requireIdentity(ctx, "deactivate"); err != nil {
		return err
	}
	if err := p.store.PutBool(ctx, dispatch.PrefUseCustomDeregisterer, useCustomDeregisterer); err != nil {
		return fmt.Errorf("deactivate: %w", err)
	}
	return p.machine.HandleEvent(ctx, activation.UserDeactivateRequested())
}

// OnNewRegistrationToken records a token issued by the platform and feeds
// DeviceTokenObtained to the machine.
//
// A token equal to the stored one is ignored. A token of a different type
// than the stored one is rejected with a precondition error.
func (p *Push) OnNewRegistrationToken(ctx context.Context, typ device.TokenType, token string) error {
	if !typ.Valid() {
		return pusherr.Precondition("unknown registration token type %q", typ)
	}
	if token == "" {
		return pusherr.Precondition("empty registration token")
	}

	prev, err := p.device.RegistrationToken(ctx)
	if err != nil {
		return fmt.Errorf("new registration token: %w", err)
	}
	if prev != nil {
		if prev.Type != typ {
			p.logger.Error("registration token type changed",
				"previous", prev.Type,
				"new", typ,
			)
			return pusherr.Precondition("device already registered with %s token, got %s", prev.Type, typ)
		}
		if prev.Token == token {
			p.logger.Debug("registration token unchanged")
			return nil
		}
	}

	if err := p.device.SetRegistrationToken(ctx, device.RegistrationToken{Type: typ, Token: token}); err != nil {
		return fmt.Errorf("new registration token: %w", err)
	}
	return p.machine.HandleEvent(ctx, activation.DeviceTokenObtained())
}

// Status is a snapshot of the activation stack.
type Status struct {
	State                 string          `json:"state"`
	Pending               []string        `json:"pending"`
	Device                *device.Details `json:"device,omitempty"`
	UseCustomRegisterer   bool            `json:"use_custom_registerer"`
	UseCustomDeregisterer bool            `json:"use_custom_deregisterer"`
}

// Status reports the machine state, the pending queue and the device.
func (p *Push) Status(ctx context.Context) (Status, error) {
	if err := p.store.Ping(ctx); err != nil {
		return Status{}, fmt.Errorf("status: store unreachable: %w", err)
	}

	snap := p.machine.Snapshot()
	st := Status{
		State:   snap.State.String(),
		Pending: make([]string, len(snap.Pending)),
	}
	for i, ev := range snap.Pending {
		st.Pending[i] = ev.String()
	}

	d, err := p.device.Details(ctx)
	switch {
	case err == nil:
		st.Device = &d
	case !errors.Is(err, device.ErrNoIdentity):
		return Status{}, fmt.Errorf("status: %w", err)
	}

	if st.UseCustomRegisterer, err = p.store.GetBool(ctx, dispatch.PrefUseCustomRegisterer, false); err != nil {
		return Status{}, fmt.Errorf("status: %w", err)
	}
	if st.UseCustomDeregisterer, err = p.store.GetBool(ctx, dispatch.PrefUseCustomDeregisterer, false); err != nil {
		return Status{}, fmt.Errorf("status: %w", err)
	}
	return st, nil
}

// InitDevice provisions the local device identity.
func (p *Push) InitDevice(ctx context.Context, id device.Identity) (device.Details, error) {
	return p.device.Init(ctx, id)
}

// ResetDevice forgets the local device identity and its tokens. The
// activation checkpoint is left alone.
func (p *Push) ResetDevice(ctx context.Context) error {
	return p.device.Reset(ctx)
}

// Machine returns the activation machine.
func (p *Push) Machine() *activation.Machine {
	return p.machine
}

// Bus returns the notification bus callbacks are published on.
func (p *Push) Bus() *bus.Bus {
	return p.bus
}

// Wait blocks until every in-flight registration request has completed and
// its outcome has been fed back to the machine.
func (p *Push) Wait() {
	for _, w := range p.waiters {
		w.Wait()
	}
}

// Close waits for in-flight requests and releases the store when Push
// opened it.
func (p *Push) Close() error {
	p.Wait()
	if p.closer != nil {
		return p.closer()
	}
	return nil
}

func (p *Push) requireIdentity(ctx context.Context, op string) error {
	_, err := p.device.Details(ctx)
	if errors.Is(err, device.ErrNoIdentity) {
		pe := pusherr.Precondition("cannot %s: device identity not initialized", op)
		pe.Err = err
		return pe
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
