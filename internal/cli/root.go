package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/pushreg/internal/activation"
	"github.com/roach88/pushreg/internal/config"
	"github.com/roach88/pushreg/internal/push"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	StorePath  string

	// PushOptions are appended to every push.Open call (for testing).
	PushOptions []push.Option
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the pushreg CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pushreg",
		Short: "pushreg - push device activation",
		Long: `Register the local device for push notifications.

Activation state survives restarts: every command restores the activation
machine from the store, feeds it one request and waits for the outcome.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default ./"+config.DefaultPath+" when present)")
	cmd.PersistentFlags().StringVar(&opts.StorePath, "store", "", "path to SQLite store (overrides config)")

	cmd.AddCommand(NewDeviceCommand(opts))
	cmd.AddCommand(NewActivateCommand(opts))
	cmd.AddCommand(NewDeactivateCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// Execute runs the root command with args and returns the process exit code.
// Errors not already reported by a command are written to stderr.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if !errors.As(err, &exitErr) || !exitErr.Reported {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return GetExitCode(err)
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// loadConfig resolves the configuration. Without --config the default file
// is used only when it exists.
func (o *RootOptions) loadConfig() (config.Config, error) {
	path := o.ConfigPath
	if path == "" {
		if _, err := os.Stat(config.DefaultPath); err == nil {
			path = config.DefaultPath
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if o.StorePath != "" {
		cfg.StorePath = o.StorePath
	}
	return cfg, nil
}

func (o *RootOptions) logger(cfg config.Config, w io.Writer) *slog.Logger {
	level := cfg.SlogLevel()
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// session is one opened activation stack.
type session struct {
	cfg  config.Config
	push *push.Push
	out  *OutputFormatter
}

// open loads the config and opens the push stack. The caller must close the
// session. Errors are already reported.
func (o *RootOptions) open(cmd *cobra.Command) (*session, error) {
	out := o.formatter(cmd)

	cfg, err := o.loadConfig()
	if err != nil {
		return nil, out.Fail("failed to load config", err)
	}

	logger := o.logger(cfg, cmd.ErrOrStderr())
	pushOpts := []push.Option{
		push.WithLogger(logger),
		push.WithTransitionHook(func(t activation.Transition) {
			if t.Queued {
				out.VerboseLog("queued %s in %s", t.Event, t.From)
				return
			}
			out.VerboseLog("%s: %s -> %s", t.Event, t.From, t.To)
		}),
	}
	pushOpts = append(pushOpts, o.PushOptions...)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	logger.Debug("opening store", "path", cfg.StorePath)
	p, err := push.Open(ctx, cfg, pushOpts...)
	if err != nil {
		_ = out.Error(CodeStore, err.Error(), nil)
		return nil, &ExitError{Code: ExitCommandError, Message: "failed to open store", Err: err, Reported: true}
	}
	return &session{cfg: cfg, push: p, out: out}, nil
}

func (s *session) close() {
	if err := s.push.Close(); err != nil {
		slog.Error("error closing store", "error", err)
	}
}
