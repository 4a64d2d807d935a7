package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/pushreg/internal/push"
)

// StatusView is the output of the status command.
type StatusView struct {
	push.Status
}

func (v StatusView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "state:   %s\n", v.State)
	if len(v.Pending) > 0 {
		fmt.Fprintf(&b, "pending: %s\n", strings.Join(v.Pending, ", "))
	} else {
		b.WriteString("pending: none\n")
	}
	if v.UseCustomRegisterer || v.UseCustomDeregisterer {
		fmt.Fprintf(&b, "custom:  registerer=%t deregisterer=%t\n", v.UseCustomRegisterer, v.UseCustomDeregisterer)
	}
	b.WriteString(DeviceView{Device: v.Device}.String())
	return b.String()
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status",
		Short:         "Show activation state and pending events",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			st, err := s.push.Status(cmd.Context())
			if err != nil {
				return s.out.Fail("status", err)
			}
			return s.out.Success(StatusView{Status: st})
		},
	}
}
