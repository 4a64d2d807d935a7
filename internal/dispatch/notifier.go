package dispatch

import (
	"context"
	"log/slog"

	"github.com/roach88/pushreg/internal/bus"
	"github.com/roach88/pushreg/internal/pusherr"
)

// BusNotifier publishes activation callbacks as bus messages with payload
// {"error": nil | {...}}.
type BusNotifier struct {
	bus    *bus.Bus
	logger *slog.Logger
}

// NewBusNotifier creates a BusNotifier.
func NewBusNotifier(b *bus.Bus, logger *slog.Logger) *BusNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &BusNotifier{bus: b, logger: logger}
}

// Activated implements activation.Notifier.
func (n *BusNotifier) Activated(ctx context.Context, reason *pusherr.Error) {
	n.publish(ctx, bus.TopicActivate, reason)
}

// Deactivated implements activation.Notifier.
func (n *BusNotifier) Deactivated(ctx context.Context, reason *pusherr.Error) {
	n.publish(ctx, bus.TopicDeactivate, reason)
}

// UpdateFailed implements activation.Notifier.
func (n *BusNotifier) UpdateFailed(ctx context.Context, reason *pusherr.Error) {
	n.publish(ctx, bus.TopicUpdateFailed, reason)
}

func (n *BusNotifier) publish(ctx context.Context, topic string, reason *pusherr.Error) {
	delivered := n.bus.Publish(ctx, topic, bus.Payload{FieldError: ErrorPayload(reason)})
	if delivered == 0 {
		n.logger.Debug("callback has no subscribers", "topic", topic)
	}
}
