package dispatch

import (
	"context"
	"log/slog"

	"github.com/roach88/pushreg/internal/activation"
	"github.com/roach88/pushreg/internal/bus"
	"github.com/roach88/pushreg/internal/device"
	"github.com/roach88/pushreg/internal/pusherr"
)

// Custom hands registration to the host application over the bus.
//
// Registration and updates publish bus.TopicRegisterDevice with
// {"isNew": bool} and wait for one reply on bus.TopicUpdateToken carrying
// {"updateToken": string} or {"error": ...}. Deregistration publishes
// bus.TopicDeregisterDevice and waits for one reply on
// bus.TopicDeviceDeregistered.
type Custom struct {
	bus    *bus.Bus
	logger *slog.Logger
}

// NewCustom creates a bus-backed dispatcher.
func NewCustom(b *bus.Bus, logger *slog.Logger) *Custom {
	if logger == nil {
		logger = slog.Default()
	}
	return &Custom{bus: b, logger: logger}
}

// RegisterDevice implements activation.Dispatcher.
func (c *Custom) RegisterDevice(ctx context.Context, d device.Details, sink activation.EventSink) {
	c.register(ctx, d, true, sink)
}

// UpdateRegistration implements activation.Dispatcher.
func (c *Custom) UpdateRegistration(ctx context.Context, d device.Details, sink activation.EventSink) {
	c.register(ctx, d, false, sink)
}

func (c *Custom) register(ctx context.Context, d device.Details, isNew bool, sink activation.EventSink) {
	c.bus.SubscribeOnce(bus.TopicUpdateToken, func(ctx context.Context, _ string, p bus.Payload) {
		var ev activation.Event
		if reason := ReasonFromPayload(p); reason != nil {
			c.logger.Error("error from custom registration", "device", d.ID, "error", reason)
			if isNew {
				ev = activation.RegistrationTokenFailed(reason)
			} else {
				ev = activation.RegistrationUpdateFailed(reason)
			}
		} else if isNew {
			tok, _ := p[FieldUpdateToken].(string)
			if tok == "" {
				ev = activation.RegistrationTokenFailed(pusherr.Server(0, 0, "custom registerer returned no updateToken"))
			} else {
				c.logger.Info("custom registration", "device", d.ID)
				ev = activation.RegistrationTokenReceived(tok)
			}
		} else {
			c.logger.Info("custom registration update", "device", d.ID)
			ev = activation.RegistrationUpdated()
		}
		c.deliver(ctx, sink, ev)
	})

	c.bus.Publish(ctx, bus.TopicRegisterDevice, bus.Payload{FieldIsNew: isNew})
}

// Deregister implements activation.Dispatcher.
func (c *Custom) Deregister(ctx context.Context, d device.Details, sink activation.EventSink) {
	c.bus.SubscribeOnce(bus.TopicDeviceDeregistered, func(ctx context.Context, _ string, p bus.Payload) {
		if reason := ReasonFromPayload(p); reason != nil {
			c.logger.Error("error from custom deregisterer", "device", d.ID, "error", reason)
			c.deliver(ctx, sink, activation.DeregistrationFailed(reason))
			return
		}
		c.logger.Info("custom deregistration", "device", d.ID)
		c.deliver(ctx, sink, activation.DeviceDeregistered())
	})

	c.bus.Publish(ctx, bus.TopicDeregisterDevice, bus.Payload{})
}

func (c *Custom) deliver(ctx context.Context, sink activation.EventSink, ev activation.Event) {
	if err := sink.HandleEvent(ctx, ev); err != nil {
		c.logger.Error("failed to deliver request outcome", "event", ev.Kind, "error", err)
	}
}
