package commands

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/openfroyo/pathguard/pkg/config"
	"github.com/openfroyo/pathguard/pkg/transports"
)

func newInterfacesCommand() *cobra.Command {
	var (
		device   string
		simulate bool
	)

	cmd := &cobra.Command{
		Use:   "interfaces",
		Short: "List device interfaces",
		Long: `Connect to the configured devices and list their interfaces with link
state, enable state, speed, MTU and address.`,
		Example: `  # List interfaces of every device
  pathguard interfaces

  # List one device
  pathguard interfaces --device core-1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer func() { _ = a.close(ctx) }()

			if device != "" && a.cfg.Device(device) == nil {
				return fmt.Errorf("device %q is not configured", device)
			}

			o, err := a.newOrchestrator(simulate, derivedInterfaceNames(a.cfg.Intent))
			if err != nil {
				return err
			}
			defer func() { _ = o.Close() }()

			if err := o.Connect(ctx); err != nil {
				a.logger.Warn().Err(err).Msg("Some devices could not be reached")
			}

			inventory, err := o.Inventory(ctx)
			if err != nil {
				a.logger.Warn().Err(err).Msg("Some devices did not list their interfaces")
			}
			if device != "" {
				inventory = map[string][]transports.InterfaceStatus{device: inventory[device]}
			}

			if jsonOutput {
				return printOutput(cmd.OutOrStdout(), inventory)
			}

			names := make([]string, 0, len(inventory))
			for name := range inventory {
				names = append(names, name)
			}
			sort.Strings(names)

			t := newTable(cmd.OutOrStdout(), "DEVICE", "INTERFACE", "LINK", "ENABLED", "SPEED", "MTU", "ADDRESS")
			for _, name := range names {
				for _, iface := range inventory[name] {
					t.row(
						name,
						iface.Name,
						linkState(iface.Up),
						strconv.FormatBool(iface.Enabled),
						dash(iface.Speed),
						dash(mtuString(iface.MTU)),
						dash(iface.Address),
					)
				}
			}
			return t.flush()
		},
	}

	cmd.Flags().StringVar(&device, "device", "", "only list this device")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "use simulated devices instead of real transports")

	return cmd
}

// derivedInterfaceNames returns the names the compiler generates, used to
// seed simulated devices that list no interfaces.
func derivedInterfaceNames(ic config.IntentConfig) []string {
	names := make([]string, ic.InterfaceCount)
	for i := range names {
		names[i] = ic.InterfacePrefix + strconv.Itoa(i)
	}
	return names
}

func linkState(up bool) string {
	if up {
		return "up"
	}
	return "down"
}

func mtuString(mtu int) string {
	if mtu == 0 {
		return ""
	}
	return strconv.Itoa(mtu)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
