package cli

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/roach88/pushreg/internal/activation"
	"github.com/roach88/pushreg/internal/bus"
	"github.com/roach88/pushreg/internal/device"
	"github.com/roach88/pushreg/internal/dispatch"
)

// Outcome values reported by activate, deactivate and token.
const (
	OutcomeDone    = "done"
	OutcomeFailed  = "failed"
	OutcomePending = "pending"
)

// CallbackView is one callback delivered while a command ran.
type CallbackView struct {
	Topic string      `json:"topic"`
	Error *ReasonView `json:"error,omitempty"`
}

// OperationResult is the output of activate, deactivate and token.
type OperationResult struct {
	Operation string         `json:"operation"`
	Outcome   string         `json:"outcome"`
	State     string         `json:"state"`
	Pending   int            `json:"pending"`
	Callbacks []CallbackView `json:"callbacks"`
}

func (r OperationResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", r.Operation, r.Outcome)
	fmt.Fprintf(&b, "  state: %s", r.State)
	if r.Pending > 0 {
		fmt.Fprintf(&b, " (%d pending)", r.Pending)
	}
	for _, cb := range r.Callbacks {
		if cb.Error != nil {
			fmt.Fprintf(&b, "\n  %s failed: %s", cb.Topic, cb.Error.Message)
		} else {
			fmt.Fprintf(&b, "\n  %s ok", cb.Topic)
		}
	}
	return b.String()
}

// callbackRecorder collects the callbacks published while an operation runs.
type callbackRecorder struct {
	mu     sync.Mutex
	seen   []CallbackView
	unsubs []func()
}

func recordCallbacks(b *bus.Bus, topics ...string) *callbackRecorder {
	r := &callbackRecorder{}
	for _, topic := range topics {
		r.unsubs = append(r.unsubs, b.Subscribe(topic, func(_ context.Context, topic string, p bus.Payload) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.seen = append(r.seen, CallbackView{Topic: topic, Error: reasonView(dispatch.ReasonFromPayload(p))})
		}))
	}
	return r
}

func (r *callbackRecorder) stop() []CallbackView {
	for _, unsub := range r.unsubs {
		unsub()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CallbackView{}, r.seen...)
}

// finish waits for in-flight requests and reports the operation.
//
// The last callback on one of the decisive topics sets the outcome: a
// failure exits with ExitFailure. Without one, fallback decides from the
// machine state.
func (s *session) finish(op string, rec *callbackRecorder, fallback func(activation.State) string, decisive ...string) error {
	s.push.Wait()
	callbacks := rec.stop()

	snap := s.push.Machine().Snapshot()
	result := OperationResult{
		Operation: op,
		Outcome:   fallback(snap.State),
		State:     snap.State.String(),
		Pending:   len(snap.Pending),
		Callbacks: callbacks,
	}

	var failure *ReasonView
	for _, cb := range callbacks {
		if !slices.Contains(decisive, cb.Topic) {
			continue
		}
		failure = cb.Error
		if failure != nil {
			result.Outcome = OutcomeFailed
		} else {
			result.Outcome = OutcomeDone
		}
	}

	if failure == nil {
		return s.out.Success(result)
	}
	if s.out.Format == "json" {
		_ = s.out.Error(CodeCallback, fmt.Sprintf("%s failed: %s", op, failure.Message), result)
	} else {
		fmt.Fprintln(s.out.Writer, result)
	}
	return &ExitError{Code: ExitFailure, Message: op + " failed: " + failure.Message, Reported: true}
}

// activated reports done once the device holds a registration.
func activated(st activation.State) string {
	switch st.ID {
	case activation.WaitingForNewDeviceToken, activation.AfterRegistrationUpdateFailed:
		return OutcomeDone
	}
	return OutcomePending
}

func deactivated(st activation.State) string {
	if st.ID == activation.NotActivated {
		return OutcomeDone
	}
	return OutcomePending
}

// settled reports done unless a registration request is still outstanding,
// which happens when the host's custom registerer has not replied.
func settled(st activation.State) string {
	if st.Persistable() {
		return OutcomeDone
	}
	return OutcomePending
}

// NewActivateCommand creates the activate command.
func NewActivateCommand(rootOpts *RootOptions) *cobra.Command {
	var custom bool

	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Register the device for push",
		Long: `Request activation of the local device.

The device must be initialized first (pushreg device init). Registration
completes once a platform token is known (pushreg token). With --custom the
registration request is handed to the host over the bus instead of the REST
API.

Exit codes:
  0 - Activated, or waiting for a token
  1 - Activation failed
  2 - Command error (no device identity, bad config)`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			rec := recordCallbacks(s.push.Bus(), bus.TopicActivate, bus.TopicUpdateFailed)
			if err := s.push.Activate(cmd.Context(), custom); err != nil {
				rec.stop()
				return s.out.Fail("activate", err)
			}
			return s.finish("activate", rec, activated, bus.TopicActivate)
		},
	}

	cmd.Flags().BoolVar(&custom, "custom", false, "use the host's custom registerer")
	return cmd
}

// NewDeactivateCommand creates the deactivate command.
func NewDeactivateCommand(rootOpts *RootOptions) *cobra.Command {
	var custom bool

	cmd := &cobra.Command{
		Use:           "deactivate",
		Short:         "Remove the device registration",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			rec := recordCallbacks(s.push.Bus(), bus.TopicDeactivate)
			if err := s.push.Deactivate(cmd.Context(), custom); err != nil {
				rec.stop()
				return s.out.Fail("deactivate", err)
			}
			return s.finish("deactivate", rec, deactivated, bus.TopicDeactivate)
		},
	}

	cmd.Flags().BoolVar(&custom, "custom", false, "use the host's custom deregisterer")
	return cmd
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "token <type> <token>",
		Short: "Report a platform registration token",
		Long: `Report a registration token issued by the push platform.

Type is one of fcm, gcm or apns. A pending activation completes; a
registered device updates its registration.

Examples:
  pushreg token fcm dGhpcyBpcyBhIHRva2Vu`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			rec := recordCallbacks(s.push.Bus(), bus.TopicActivate, bus.TopicUpdateFailed)
			if err := s.push.OnNewRegistrationToken(cmd.Context(), device.TokenType(args[0]), args[1]); err != nil {
				rec.stop()
				return s.out.Fail("token", err)
			}
			return s.finish("token", rec, settled, bus.TopicActivate, bus.TopicUpdateFailed)
		},
	}
}
