package dispatch

import (
	"context"
	"log/slog"

	"github.com/roach88/pushreg/internal/activation"
	"github.com/roach88/pushreg/internal/device"
	"github.com/roach88/pushreg/internal/store"
)

// Preference keys recorded by the push facade on Activate and Deactivate.
const (
	PrefUseCustomRegisterer   = "push.use_custom_registerer"
	PrefUseCustomDeregisterer = "push.use_custom_deregisterer"
)

// Selector routes each request to the default or the custom dispatcher
// according to the stored preferences, read at request time.
type Selector struct {
	prefs    *store.Store
	standard activation.Dispatcher
	custom   activation.Dispatcher
	logger   *slog.Logger
}

// NewSelector creates a Selector.
func NewSelector(prefs *store.Store, standard, custom activation.Dispatcher, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{prefs: prefs, standard: standard, custom: custom, logger: logger}
}

// RegisterDevice implements activation.Dispatcher.
func (s *Selector) RegisterDevice(ctx context.Context, d device.Details, sink activation.EventSink) {
	s.pick(ctx, PrefUseCustomRegisterer).RegisterDevice(ctx, d, sink)
}

// UpdateRegistration implements activation.Dispatcher.
func (s *Selector) UpdateRegistration(ctx context.Context, d device.Details, sink activation.EventSink) {
	s.pick(ctx, PrefUseCustomRegisterer).UpdateRegistration(ctx, d, sink)
}

// Deregister implements activation.Dispatcher.
func (s *Selector) Deregister(ctx context.Context, d device.Details, sink activation.EventSink) {
	s.pick(ctx, PrefUseCustomDeregisterer).Deregister(ctx, d, sink)
}

func (s *Selector) pick(ctx context.Context, pref string) activation.Dispatcher {
	useCustom, err := s.prefs.GetBool(ctx, pref, false)
	if err != nil {
		s.logger.Warn("reading dispatcher preference failed, using default", "pref", pref, "error", err)
		return s.standard
	}
	if useCustom {
		return s.custom
	}
	return s.standard
}
