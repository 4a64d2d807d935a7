// Package bus is the in-process notification bus the push stack uses to
// talk to the host application: activation callbacks go out on it, and a
// host that registers devices itself answers registration requests on it.
package bus

import (
	"context"
	"log/slog"
	"sync"
)

// Topics published and consumed by the push stack.
const (
	TopicActivate           = "push.activate"
	TopicDeactivate         = "push.deactivate"
	TopicUpdateFailed       = "push.update_failed"
	TopicRegisterDevice     = "push.register_device"
	TopicUpdateToken        = "push.update_token"
	TopicDeregisterDevice   = "push.deregister_device"
	TopicDeviceDeregistered = "push.device_deregistered"
)

// Payload is the body of a bus message. Values must be JSON-compatible.
type Payload map[string]any

// Handler receives messages for a topic.
type Handler func(ctx context.Context, topic string, payload Payload)

type subscription struct {
	id      uint64
	handler Handler
	once    bool
	fired   bool
}

// Bus delivers messages to topic subscribers.
//
// Publish is synchronous: handlers run on the publishing goroutine, in
// subscription order, without the bus lock held. A handler may publish,
// subscribe or unsubscribe.
//
// Thread-safety: safe for concurrent use.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	topics map[string][]*subscription
	logger *slog.Logger
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		topics: make(map[string][]*subscription),
		logger: logger,
	}
}

// Subscribe registers h for topic and returns a function that removes it.
// Calling the returned function more than once is a no-op.
func (b *Bus) Subscribe(topic string, h Handler) (unsubscribe func()) {
	return b.add(topic, h, false)
}

// SubscribeOnce registers h for the next message on topic only.
func (b *Bus) SubscribeOnce(topic string, h Handler) (unsubscribe func()) {
	return b.add(topic, h, true)
}

func (b *Bus) add(topic string, h Handler, once bool) func() {
	b.mu.Lock()
	b.nextID++
	sub := &subscription{id: b.nextID, handler: h, once: once}
	b.topics[topic] = append(b.topics[topic], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.remove(topic, sub.id)
	}
}

// remove drops a subscription. Called with mu held.
func (b *Bus) remove(topic string, id uint64) {
	subs := b.topics[topic]
	for i, s := range subs {
		if s.id == id {
			b.topics[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.topics[topic]) == 0 {
		delete(b.topics, topic)
	}
}

// Publish delivers payload to every current subscriber of topic and returns
// the number of handlers invoked.
func (b *Bus) Publish(ctx context.Context, topic string, payload Payload) int {
	b.mu.Lock()
	var targets []*subscription
	for _, s := range b.topics[topic] {
		if s.once {
			if s.fired {
				continue
			}
			s.fired = true
			b.remove(topic, s.id)
		}
		targets = append(targets, s)
	}
	b.mu.Unlock()

	b.logger.Debug("bus publish", "topic", topic, "subscribers", len(targets))

	for _, s := range targets {
		s.handler(ctx, topic, payload)
	}
	return len(targets)
}

// Subscribers returns the number of live subscriptions on topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}
