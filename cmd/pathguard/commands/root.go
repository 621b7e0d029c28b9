package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/pathguard/pkg/intent"
)

// Persistent flags.
var (
	configPath string
	verbose    bool
	jsonOutput bool

	appVersion = "dev"
)

// Execute runs the command line against os.Args.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	appVersion = version
	return newRootCommand(version, commit, buildDate).ExecuteContext(ctx)
}

// ExitCode maps an error from Execute to a process exit status: 2 when the
// intent or its configuration was rejected, 1 otherwise.
func ExitCode(err error) int {
	var perr *policyError
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errInvalid), errors.As(err, &perr):
		return 2
	}
	if _, ok := intent.AsValidationError(err); ok {
		return 2
	}
	return 1
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pathguard",
		Short: "pathguard - intent-driven network path failover",
		Long: `pathguard compiles a declarative network intent into a device configuration,
pushes it to network devices and keeps redundant paths available.

Features:
  - Intent validation with CUE schemas and structural checks
  - Pluggable failover grouping (pair, chain, Starlark scripts)
  - OPA guardrail policies evaluated before every push
  - Health monitoring with hysteresis, failover and failback
  - SSH transport for Linux hosts, simulated devices for testing
  - Prometheus metrics, a JSON status view and SQLite switch history`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(
		newInitCommand(),
		newValidateCommand(),
		newCompileCommand(),
		newApplyCommand(),
		newRunCommand(),
		newStatusCommand(),
		newInterfacesCommand(),
		newHistoryCommand(),
	)

	return rootCmd
}
