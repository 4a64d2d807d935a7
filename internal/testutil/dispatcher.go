package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/pushreg/internal/activation"
	"github.com/roach88/pushreg/internal/device"
)

// RequestKind names an outbound registration request.
type RequestKind string

const (
	RequestRegister   RequestKind = "register"
	RequestUpdate     RequestKind = "update"
	RequestDeregister RequestKind = "deregister"
)

// Request is one recorded outbound request.
type Request struct {
	Kind     RequestKind
	DeviceID string
	Resolved bool

	sink activation.EventSink
}

// Dispatcher is a scripted activation.Dispatcher.
//
// Requests are recorded in order. A request whose kind has a scripted
// response is answered synchronously; otherwise it stays outstanding until
// the test calls Resolve.
//
// Thread-safety: safe for concurrent use.
type Dispatcher struct {
	mu       sync.Mutex
	requests []*Request
	scripted map[RequestKind][]activation.Event
}

// NewDispatcher creates an empty scripted dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{scripted: make(map[RequestKind][]activation.Event)}
}

// Script queues automatic responses for requests of kind, consumed in order.
func (d *Dispatcher) Script(kind RequestKind, events ...activation.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scripted[kind] = append(d.scripted[kind], events...)
}

// RegisterDevice implements activation.Dispatcher.
func (d *Dispatcher) RegisterDevice(ctx context.Context, dev device.Details, sink activation.EventSink) {
	d.record(ctx, RequestRegister, dev, sink)
}

// UpdateRegistration implements activation.Dispatcher.
func (d *Dispatcher) UpdateRegistration(ctx context.Context, dev device.Details, sink activation.EventSink) {
	d.record(ctx, RequestUpdate, dev, sink)
}

// Deregister implements activation.Dispatcher.
func (d *Dispatcher) Deregister(ctx context.Context, dev device.Details, sink activation.EventSink) {
	d.record(ctx, RequestDeregister, dev, sink)
}

func (d *Dispatcher) record(ctx context.Context, kind RequestKind, dev device.Details, sink activation.EventSink) {
	d.mu.Lock()
	req := &Request{Kind: kind, DeviceID: dev.ID, sink: sink}
	d.requests = append(d.requests, req)

	var (
		reply  activation.Event
		script bool
	)
	if queue := d.scripted[kind]; len(queue) > 0 {
		reply, script = queue[0], true
		d.scripted[kind] = queue[1:]
		req.Resolved = true
	}
	d.mu.Unlock()

	if script {
		_ = sink.HandleEvent(ctx, reply)
	}
}

// Resolve answers the oldest outstanding request of kind with ev.
func (d *Dispatcher) Resolve(ctx context.Context, kind RequestKind, ev activation.Event) error {
	d.mu.Lock()
	var req *Request
	for _, r := range d.requests {
		if r.Kind == kind && !r.Resolved {
			req = r
			break
		}
	}
	if req == nil {
		d.mu.Unlock()
		return fmt.Errorf("no outstanding %s request", kind)
	}
	req.Resolved = true
	d.mu.Unlock()

	return req.sink.HandleEvent(ctx, ev)
}

// Rebind routes the completions of every outstanding request to sink, as
// when the process that issued them restarted before they arrived.
func (d *Dispatcher) Rebind(sink activation.EventSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.requests {
		if !r.Resolved {
			r.sink = sink
		}
	}
}

// Requests returns a copy of the recorded requests.
func (d *Dispatcher) Requests() []Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Request, len(d.requests))
	for i, r := range d.requests {
		out[i] = *r
		out[i].sink = nil
	}
	return out
}

// Kinds returns the kinds of the recorded requests, in order.
func (d *Dispatcher) Kinds() []RequestKind {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]RequestKind, len(d.requests))
	for i, r := range d.requests {
		out[i] = r.Kind
	}
	return out
}
