package push

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/roach88/pushreg/internal/activation"
	"github.com/roach88/pushreg/internal/bus"
	"github.com/roach88/pushreg/internal/config"
	"github.com/roach88/pushreg/internal/device"
	"github.com/roach88/pushreg/internal/dispatch"
	"github.com/roach88/pushreg/internal/store"
	"github.com/roach88/pushreg/internal/transport"
)

type openOptions struct {
	logger     *slog.Logger
	hook       func(activation.Transition)
	registrar  dispatch.Registrar
	httpClient *http.Client
	newID      func() string
}

// Option configures Open.
type Option func(*openOptions)

// WithLogger sets the logger for every component. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *openOptions) {
		o.logger = l
	}
}

// WithTransitionHook observes machine transitions.
func WithTransitionHook(fn func(activation.Transition)) Option {
	return func(o *openOptions) {
		o.hook = fn
	}
}

// WithRegistrar replaces the REST client.
func WithRegistrar(r dispatch.Registrar) Option {
	return func(o *openOptions) {
		o.registrar = r
	}
}

// WithHTTPClient sets the HTTP client used by the REST client.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *openOptions) {
		o.httpClient = hc
	}
}

// WithIDGenerator overrides device id generation.
func WithIDGenerator(gen func() string) Option {
	return func(o *openOptions) {
		o.newID = gen
	}
}

// Open builds the activation stack described by cfg: it opens the store,
// restores the machine and wires the REST and bus dispatchers behind a
// preference-driven selector. Close the returned Push when done.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*Push, error) {
	o := openOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger

	s, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("open push: %w", err)
	}

	var devOpts []device.LocalOption
	if o.newID != nil {
		devOpts = append(devOpts, device.WithIDGenerator(o.newID))
	}
	dev := device.NewLocal(s, devOpts...)

	registrar := o.registrar
	if registrar == nil {
		hc := o.httpClient
		if hc == nil {
			hc = &http.Client{Timeout: cfg.APITimeout()}
		}
		registrar = transport.New(cfg.API.BaseURL,
			transport.WithAPIKey(cfg.API.Key),
			transport.WithHTTPClient(hc),
			transport.WithLogger(logger),
		)
	}

	b := bus.New(logger)
	httpDispatcher := dispatch.NewHTTP(registrar, logger)
	selector := dispatch.NewSelector(s, httpDispatcher, dispatch.NewCustom(b, logger), logger)

	machineOpts := []activation.Option{activation.WithLogger(logger)}
	if o.hook != nil {
		machineOpts = append(machineOpts, activation.WithTransitionHook(o.hook))
	}
	m, err := activation.New(ctx, s, dev, selector, dispatch.NewBusNotifier(b, logger), machineOpts...)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("open push: %w", err)
	}

	p := New(s, dev, m, b, logger)
	p.waiters = append(p.waiters, httpDispatcher)
	p.closer = s.Close
	return p, nil
}

// DeviceIdentity returns the identity configured in cfg.
func DeviceIdentity(cfg config.Config) device.Identity {
	return device.Identity{
		Platform:   cfg.Device.Platform,
		FormFactor: cfg.Device.FormFactor,
		ClientID:   cfg.Device.ClientID,
	}
}
