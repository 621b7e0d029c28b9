package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newCompileCommand() *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "compile [intent]",
		Short: "Compile a network intent into a device document",
		Long: `Compile a network intent into the configuration document pushed to devices.

The document lists the derived interfaces, the network ranges, the failover
groups and the monitoring switch. Nothing is pushed.`,
		Example: `  # Print the compiled document as YAML
  pathguard compile

  # Write JSON to a file
  pathguard compile intent.yaml --format json --output office.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if jsonOutput {
				format = "json"
			}

			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer func() { _ = a.close(ctx) }()

			path := a.intentPath(args)
			in, err := a.loader.LoadFile(ctx, path)
			if err != nil {
				return err
			}

			compiled, err := a.compile(ctx, in)
			if err != nil {
				return err
			}

			data, err := compiled.Document().Marshal(format)
			if err != nil {
				return err
			}

			log.Debug().
				Str("intent", path).
				Str("strategy", a.compiler.Options().Strategy.Name()).
				Int("interfaces", len(compiled.Interfaces)).
				Int("groups", len(compiled.FailoverGroups)).
				Msg("Intent compiled")

			if output != "" {
				if err := os.WriteFile(output, data, 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", output, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s\n", output)
				return nil
			}

			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "output format (yaml, json)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the document to a file")

	return cmd
}
