package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "pushreg", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"device", "init"},
		{"device", "show"},
		{"device", "reset"},
		{"activate"},
		{"deactivate"},
		{"token"},
		{"status"},
		{"test"},
	}

	for _, path := range commands {
		t.Run(path[len(path)-1], func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err)
			assert.Equal(t, path[len(path)-1], subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("store"))
}

func TestCustomFlags(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"activate", "deactivate"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		flag := sub.Flags().Lookup("custom")
		require.NotNil(t, flag, name)
		assert.Equal(t, "false", flag.DefValue)
	}
}

func TestExecute_InvalidFormat(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), []string{"--format", "xml", "status"}, &stdout, &stderr)

	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr.String(), `invalid format "xml"`)
}

func TestExecute_MissingConfig(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), []string{
		"--config", filepath.Join(t.TempDir(), "missing.yaml"),
		"status",
	}, &stdout, &stderr)

	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stdout.String(), "Error [E_CONFIG]")
	assert.NotContains(t, stderr.String(), "Error:", "reported errors are not printed twice")
}

func TestExecute_ActivateWithoutIdentity(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), []string{
		"--store", filepath.Join(t.TempDir(), "push.db"),
		"activate",
	}, &stdout, &stderr)

	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stdout.String(), "Error [E_NO_IDENTITY]")
}

func TestExecute_StatusOnFreshStore(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), []string{
		"--store", filepath.Join(t.TempDir(), "push.db"),
		"status",
	}, &stdout, &stderr)

	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout.String(), "state:   NotActivated")
	assert.Contains(t, stdout.String(), "no device identity")
}
