package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/pathguard/pkg/config"
)

const sampleIntent = `# pathguard network intent
networkName: office
networkRange: 10.0.0.0
subnetMask: "24"
interfaceSpeed: 1G
vlans:
  - id: 10
    name: users
  - id: 20
    name: voice
failoverEnabled: true
monitoringEnabled: true
`

const samplePolicy = `package pathguard.site.management_vlan

import rego.v1

# VLAN 1 is reserved for device management.
deny contains violation if {
	some iface in input.document.network.interfaces
	iface.vlan == 1
	violation := {
		"subject": iface.name,
		"message": "VLAN 1 is reserved for management",
		"remediation": "tag data interfaces with another VLAN",
	}
}
`

func newInitCommand() *cobra.Command {
	var (
		dir   string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a pathguard workspace",
		Long: `Initialize a pathguard workspace with a configuration file, a sample
network intent and a policies directory.

The generated configuration manages one simulated device, so the workspace
can be exercised with 'pathguard run' before real devices are added.`,
		Example: `  # Initialize the current directory
  pathguard init

  # Initialize another directory, replacing existing files
  pathguard init --dir ./site-a --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Info().
				Str("dir", dir).
				Bool("force", force).
				Msg("Initializing workspace")

			out := cmd.OutOrStdout()

			policyDir := filepath.Join(dir, "policies")
			if err := os.MkdirAll(policyDir, 0o755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", policyDir, err)
			}
			fmt.Fprintf(out, "✓ Created directory: %s\n", policyDir)

			cfg := config.Default()
			cfg.Intent.Path = filepath.Join(dir, "intent.yaml")
			cfg.Store.Path = filepath.Join(dir, "pathguard.db")
			cfg.Policy.Paths = []string{policyDir}

			cfgData, err := cfg.Marshal()
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}

			files := []struct {
				path string
				data []byte
				what string
			}{
				{filepath.Join(dir, "pathguard.yaml"), append([]byte("# pathguard configuration\n"), cfgData...), "config file"},
				{cfg.Intent.Path, []byte(sampleIntent), "sample intent"},
				{filepath.Join(policyDir, "management_vlan.rego"), []byte(samplePolicy), "sample policy"},
			}

			for _, f := range files {
				written, err := writeFile(f.path, f.data, force)
				if err != nil {
					return err
				}
				if written {
					fmt.Fprintf(out, "✓ Created %s: %s\n", f.what, f.path)
				} else {
					fmt.Fprintf(out, "✓ %s already exists: %s\n", f.what, f.path)
				}
			}

			fmt.Fprintln(out, "\nWorkspace initialized. Next steps:")
			fmt.Fprintf(out, "  pathguard validate -c %s\n", filepath.Join(dir, "pathguard.yaml"))
			fmt.Fprintf(out, "  pathguard run -c %s\n", filepath.Join(dir, "pathguard.yaml"))

			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "workspace directory")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")

	return cmd
}

// writeFile writes data to path unless the file exists and force is unset.
func writeFile(path string, data []byte, force bool) (bool, error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return true, nil
}
