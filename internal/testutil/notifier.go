package testutil

import (
	"context"
	"sync"

	"github.com/roach88/pushreg/internal/pusherr"
)

// Callback names.
const (
	CallbackActivated    = "activated"
	CallbackDeactivated  = "deactivated"
	CallbackUpdateFailed = "update_failed"
)

// Callback is one recorded user-facing callback.
type Callback struct {
	Name   string
	Reason *pusherr.Error
}

// OK reports whether the callback signalled success.
func (c Callback) OK() bool {
	return c.Reason == nil
}

// Notifier records activation callbacks in order.
//
// Thread-safety: safe for concurrent use.
type Notifier struct {
	mu        sync.Mutex
	callbacks []Callback
}

// NewNotifier creates an empty recorder.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// Activated implements activation.Notifier.
func (n *Notifier) Activated(_ context.Context, reason *pusherr.Error) {
	n.add(CallbackActivated, reason)
}

// Deactivated implements activation.Notifier.
func (n *Notifier) Deactivated(_ context.Context, reason *pusherr.Error) {
	n.add(CallbackDeactivated, reason)
}

// UpdateFailed implements activation.Notifier.
func (n *Notifier) UpdateFailed(_ context.Context, reason *pusherr.Error) {
	n.add(CallbackUpdateFailed, reason)
}

func (n *Notifier) add(name string, reason *pusherr.Error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.callbacks = append(n.callbacks, Callback{Name: name, Reason: reason})
}

// Callbacks returns a copy of the recorded callbacks.
func (n *Notifier) Callbacks() []Callback {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Callback, len(n.callbacks))
	copy(out, n.callbacks)
	return out
}

// Reset forgets recorded callbacks.
func (n *Notifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.callbacks = nil
}
