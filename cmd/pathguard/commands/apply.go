package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/pathguard/pkg/failover"
	"github.com/openfroyo/pathguard/pkg/intent"
)

func newApplyCommand() *cobra.Command {
	var simulate bool

	cmd := &cobra.Command{
		Use:   "apply [intent]",
		Short: "Compile a network intent and push it to the device",
		Long: `Compile a network intent, evaluate the guardrail policies and push the
resulting document to the intent device.

The intent, the rendered document and the outcome are recorded in the store.
A configuration rejected by a policy is never pushed.`,
		Example: `  # Apply the intent named in the config
  pathguard apply

  # Dry-run against a simulated device
  pathguard apply ./intent.yaml --simulate`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer func() { _ = a.close(ctx) }()

			path := a.intentPath(args)
			log.Info().
				Str("intent", path).
				Bool("simulate", simulate).
				Msg("Applying intent")

			in, err := a.loader.LoadFile(ctx, path)
			if err != nil {
				return err
			}

			o, compiled, err := a.prepare(ctx, in, simulate)
			if err != nil {
				return err
			}
			defer func() { _ = o.Close() }()

			result, err := a.applyCompiled(ctx, o, in, compiled, path)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printOutput(cmd.OutOrStdout(), result)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Applied %s to %s (digest %s)\n", result.Network, result.Device, result.Digest[:12])
			for _, g := range result.Groups {
				fmt.Fprintf(out, "✓ Failover group %s: primary %v, backup %v\n", g.Name, g.PrimaryInterfaces, g.BackupInterfaces)
			}
			for _, w := range result.Policy.Warnings {
				fmt.Fprintf(out, "! %s\n", w.String())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&simulate, "simulate", false, "use simulated devices instead of real transports")

	return cmd
}

// prepare compiles in and returns a connected orchestrator for it.
// Simulated devices without configured interfaces get the compiled ones.
func (a *app) prepare(ctx context.Context, in intent.NetworkIntent, simulate bool) (*failover.Orchestrator, *intent.CompiledConfiguration, error) {
	compiled, err := a.compile(ctx, in)
	if err != nil {
		return nil, nil, err
	}

	o, err := a.newOrchestrator(simulate, compiled.InterfaceNames())
	if err != nil {
		return nil, nil, err
	}
	if err := o.Connect(ctx); err != nil {
		_ = o.Close()
		return nil, nil, fmt.Errorf("failed to connect devices: %w", err)
	}
	return o, compiled, nil
}
