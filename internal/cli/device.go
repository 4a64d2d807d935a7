package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/pushreg/internal/device"
	"github.com/roach88/pushreg/internal/push"
)

// DeviceView is the output of the device commands.
type DeviceView struct {
	Device *device.Details `json:"device"`
}

func (v DeviceView) String() string {
	d := v.Device
	if d == nil {
		return "no device identity"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "id:          %s\n", d.ID)
	fmt.Fprintf(&b, "platform:    %s\n", d.Platform)
	fmt.Fprintf(&b, "form factor: %s", d.FormFactor)
	if d.ClientID != "" {
		fmt.Fprintf(&b, "\nclient id:   %s", d.ClientID)
	}
	if d.Push != nil && len(d.Push.Recipient) > 0 {
		fmt.Fprintf(&b, "\ntransport:   %s", d.Push.Recipient["transportType"])
	}
	if d.Registered() {
		b.WriteString("\nregistered:  yes")
	} else {
		b.WriteString("\nregistered:  no")
	}
	return b.String()
}

// NewDeviceCommand creates the device command group.
func NewDeviceCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Manage the local device identity",
	}
	cmd.AddCommand(newDeviceInitCommand(rootOpts))
	cmd.AddCommand(newDeviceShowCommand(rootOpts))
	cmd.AddCommand(newDeviceResetCommand(rootOpts))
	return cmd
}

func newDeviceInitCommand(rootOpts *RootOptions) *cobra.Command {
	var platform, formFactor, clientID string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Provision the device identity",
		Long: `Provision the local device identity.

The device id is generated on first use and kept afterwards. Platform,
form factor and client id default to the config file values.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			id := push.DeviceIdentity(s.cfg)
			if cmd.Flags().Changed("platform") {
				id.Platform = platform
			}
			if cmd.Flags().Changed("form-factor") {
				id.FormFactor = formFactor
			}
			if cmd.Flags().Changed("client-id") {
				id.ClientID = clientID
			}

			d, err := s.push.InitDevice(cmd.Context(), id)
			if err != nil {
				return s.out.Fail("device init", err)
			}
			return s.out.Success(DeviceView{Device: &d})
		},
	}

	cmd.Flags().StringVar(&platform, "platform", "", "device platform (default from config)")
	cmd.Flags().StringVar(&formFactor, "form-factor", "", "device form factor (default from config)")
	cmd.Flags().StringVar(&clientID, "client-id", "", "client id bound to the device")
	return cmd
}

func newDeviceShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show",
		Short:         "Show the device identity",
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
				return s.out.Fail("device show", err)
			}
			if st.Device == nil {
				return s.out.Fail("device show", device.ErrNoIdentity)
			}
			return s.out.Success(DeviceView{Device: st.Device})
		},
	}
}

func newDeviceResetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Forget the device identity and tokens",
		Long: `Forget the local device identity, its registration token and its
update token. The activation state is kept; deactivate first to remove the
server-side registration.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.push.ResetDevice(cmd.Context()); err != nil {
				return s.out.Fail("device reset", err)
			}
			return s.out.Success(DeviceView{})
		},
	}
}
