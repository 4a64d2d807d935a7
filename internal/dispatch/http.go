package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/pushreg/internal/activation"
	"github.com/roach88/pushreg/internal/device"
	"github.com/roach88/pushreg/internal/pusherr"
)

// Registrar performs registration calls synchronously.
// Implemented by transport.Client.
type Registrar interface {
	Register(ctx context.Context, d device.Details) (string, error)
	UpdateRegistration(ctx context.Context, d device.Details) error
	Deregister(ctx context.Context, d device.Details) error
}

// HTTP dispatches requests to a Registrar, each on its own goroutine.
type HTTP struct {
	registrar Registrar
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// NewHTTP creates an HTTP dispatcher.
func NewHTTP(r Registrar, logger *slog.Logger) *HTTP {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTP{registrar: r, logger: logger}
}

// RegisterDevice implements activation.Dispatcher.
func (h *HTTP) RegisterDevice(ctx context.Context, d device.Details, sink activation.EventSink) {
	h.spawn(ctx, sink, func(ctx context.Context) activation.Event {
		tok, err := h.registrar.Register(ctx, d)
		if err != nil {
			h.logger.Error("error registering device", "device", d.ID, "error", err)
			return activation.RegistrationTokenFailed(pusherr.As(err))
		}
		h.logger.Info("registered device", "device", d.ID)
		return activation.RegistrationTokenReceived(tok)
	})
}

// UpdateRegistration implements activation.Dispatcher.
func (h *HTTP) UpdateRegistration(ctx context.Context, d device.Details, sink activation.EventSink) {
	h.spawn(ctx, sink, func(ctx context.Context) activation.Event {
		if err := h.registrar.UpdateRegistration(ctx, d); err != nil {
			h.logger.Error("error updating registration", "device", d.ID, "error", err)
			return activation.RegistrationUpdateFailed(pusherr.As(err))
		}
		h.logger.Info("updated registration", "device", d.ID)
		return activation.RegistrationUpdated()
	})
}

// Deregister implements activation.Dispatcher.
func (h *HTTP) Deregister(ctx context.Context, d device.Details, sink activation.EventSink) {
	h.spawn(ctx, sink, func(ctx context.Context) activation.Event {
		if err := h.registrar.Deregister(ctx, d); err != nil {
			h.logger.Error("error deregistering", "device", d.ID, "error", err)
			return activation.DeregistrationFailed(pusherr.As(err))
		}
		h.logger.Info("deregistered", "device", d.ID)
		return activation.DeviceDeregistered()
	})
}

// Wait blocks until every request started so far, and the event it fed
// back, has completed.
func (h *HTTP) Wait() {
	h.wg.Wait()
}

func (h *HTTP) spawn(ctx context.Context, sink activation.EventSink, call func(context.Context) activation.Event) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ev := call(ctx)
		if err := sink.HandleEvent(ctx, ev); err != nil {
			h.logger.Error("failed to deliver request outcome", "event", ev.Kind, "error", err)
		}
	}()
}
