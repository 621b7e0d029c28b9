package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/pathguard/pkg/config"
	"github.com/openfroyo/pathguard/pkg/intent"
	"github.com/openfroyo/pathguard/pkg/policy"
)

// validationReport is the machine-readable result of validate.
type validationReport struct {
	Intent     string             `json:"intent" yaml:"intent"`
	Valid      bool               `json:"valid" yaml:"valid"`
	Violations []intent.Violation `json:"violations,omitempty" yaml:"violations,omitempty"`
	Policy     *policy.Result     `json:"policy,omitempty" yaml:"policy,omitempty"`
}

// errInvalid is returned once every problem has been printed.
var errInvalid = errors.New("validation failed")

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [intent]",
		Short: "Validate the configuration and a network intent",
		Long: `Validate the configuration and a network intent without touching any device.

This command checks:
  - Configuration schema and field constraints
  - Intent schema conformance (CUE)
  - Intent structure: private range, supported speed, VLAN bounds
  - Failover groups produced by the grouping strategy
  - Guardrail policies (OPA/rego)

Every violation is printed, not only the first.`,
		Example: `  # Validate the intent named in the config
  pathguard validate

  # Validate a specific intent file
  pathguard validate ./intents/branch.yaml --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			cfg, err := loadConfig(ctx)
			if err != nil {
				var lerr *config.LoadError
				if errors.As(err, &lerr) {
					for _, ve := range lerr.Errors {
						fmt.Fprintf(out, "✗ %s\n", ve.String())
					}
					return errInvalid
				}
				return err
			}

			a, err := buildApp(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer func() { _ = a.close(ctx) }()

			path := a.intentPath(args)
			log.Info().Str("intent", path).Msg("Validating intent")

			report := &validationReport{Intent: path}

			in, err := a.loader.LoadFile(ctx, path)
			if err != nil {
				return reportInvalid(out, report, err)
			}

			compiled, err := a.compile(ctx, in)
			if err != nil {
				return reportInvalid(out, report, err)
			}

			device, err := a.intentDevice()
			if err != nil {
				return err
			}
			result, err := a.evaluate(ctx, compiled, device, policy.OperationValidate)
			if err != nil {
				return err
			}
			report.Policy = result
			report.Valid = result.Allowed

			if err := printReport(out, report); err != nil {
				return err
			}
			if !report.Valid {
				return errInvalid
			}
			return nil
		},
	}

	return cmd
}

// reportInvalid prints intent violations. Errors that are not validation
// errors are returned unchanged.
func reportInvalid(out io.Writer, report *validationReport, err error) error {
	verr, ok := intent.AsValidationError(err)
	if !ok {
		return err
	}
	report.Violations = verr.Violations
	if perr := printReport(out, report); perr != nil {
		return perr
	}
	return errInvalid
}

func printReport(out io.Writer, r *validationReport) error {
	if jsonOutput {
		return printOutput(out, r)
	}

	for _, v := range r.Violations {
		fmt.Fprintf(out, "✗ %s\n", v.String())
	}
	if r.Policy != nil {
		for _, v := range r.Policy.Violations {
			fmt.Fprintf(out, "✗ %s\n", v.String())
		}
		for _, v := range r.Policy.Warnings {
			fmt.Fprintf(out, "! %s\n", v.String())
		}
		for _, e := range r.Policy.Errors {
			fmt.Fprintf(out, "! %s\n", e)
		}
	}

	if r.Valid {
		fmt.Fprintf(out, "✓ %s is valid\n", r.Intent)
	} else {
		fmt.Fprintf(out, "✗ %s is invalid\n", r.Intent)
	}
	return nil
}
