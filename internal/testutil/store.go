package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/pushreg/internal/device"
	"github.com/roach88/pushreg/internal/store"
)

// OpenStore opens a fresh store in a temp dir, closed on test cleanup.
func OpenStore(t testing.TB) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "push.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// ProvisionDevice initializes the local device with id and returns it.
func ProvisionDevice(t testing.TB, s *store.Store, id string) *device.Local {
	t.Helper()
	dev := device.NewLocal(s, device.WithIDGenerator(FixedIDs(id)))
	_, err := dev.Init(context.Background(), device.Identity{})
	require.NoError(t, err)
	return dev
}
