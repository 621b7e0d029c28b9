package commands

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/openfroyo/pathguard/pkg/failover"
	"github.com/openfroyo/pathguard/pkg/intent"
	"github.com/openfroyo/pathguard/pkg/policy"
	"github.com/openfroyo/pathguard/pkg/telemetry"
)

func newRunCommand() *cobra.Command {
	var simulate bool

	cmd := &cobra.Command{
		Use:   "run [intent]",
		Short: "Apply a network intent and keep its paths available",
		Long: `Apply a network intent, then monitor every failover group until interrupted.

While running, pathguard:
  - Probes group members and fails over after consecutive failures
  - Fails back once the primaries are healthy again
  - Serves Prometheus metrics, /status and /healthz on the metrics listener
  - Records switch events in the store
  - Reapplies the intent when its file changes (intent.watch)
  - Reloads guardrail policies when they change (policy.watch)`,
		Example: `  # Run with the config in the current directory
  pathguard run -c pathguard.yaml

  # Exercise the whole pipeline against simulated devices
  pathguard run --simulate`,
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
				Msg("Starting pathguard")

			in, err := a.loader.LoadFile(ctx, path)
			if err != nil {
				return err
			}

			o, compiled, err := a.prepare(ctx, in, simulate)
			if err != nil {
				return err
			}
			defer func() { _ = o.Close() }()

			if _, err := a.applyCompiled(ctx, o, in, compiled, path); err != nil {
				return err
			}

			return a.serve(ctx, o, path, compiled.MonitoringEnabled)
		},
	}

	cmd.Flags().BoolVar(&simulate, "simulate", false, "use simulated devices instead of real transports")

	return cmd
}

// serve runs monitoring, the HTTP listener and the file watchers until ctx
// is done, then stops them in reverse order.
func (a *app) serve(ctx context.Context, o *failover.Orchestrator, path string, monitoring bool) error {
	var server *telemetry.Server
	if a.tel.Config.Metrics.Enabled {
		server = telemetry.NewServer(a.tel.Config.Metrics, a.tel.Metrics, telemetry.StatusHandler(func() interface{} {
			return newStatusView(o)
		}), a.logger)
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	r := &reconciler{app: a, orchestrator: o, source: path}
	if monitoring {
		if err := r.startMonitoring(ctx); err != nil {
			return err
		}
	} else {
		a.logger.Warn().Msg("Monitoring is disabled by the intent, failover groups will not switch")
	}

	var intentWatcher *intent.Watcher
	if a.cfg.Intent.Watch {
		intentWatcher = intent.NewWatcher(a.loader, a.logger)
		if err := intentWatcher.Watch(ctx, path, func(in intent.NetworkIntent) error {
			return r.reapply(ctx, in)
		}); err != nil {
			return err
		}
	}

	var policyLoader *policy.Loader
	if a.cfg.Policy.Watch && len(a.cfg.Policy.Paths) > 0 {
		policyLoader = policy.NewLoader(a.logger)
		if err := policyLoader.Watch(ctx, a.cfg.Policy.Paths, func(policies []policy.Policy) error {
			return a.policies.ReplacePolicies(ctx, policies)
		}); err != nil {
			return err
		}
	}

	<-ctx.Done()
	a.logger.Info().Msg("Shutting down")

	if policyLoader != nil {
		_ = policyLoader.StopWatching()
	}
	if intentWatcher != nil {
		_ = intentWatcher.Stop()
	}
	r.stopMonitoring()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn().Err(err).Msg("Metrics server did not shut down cleanly")
		}
	}
	return nil
}

// reconciler reapplies revised intents to a running orchestrator.
type reconciler struct {
	app          *app
	orchestrator *failover.Orchestrator
	source       string

	mu sync.Mutex
}

func (r *reconciler) startMonitoring(ctx context.Context) error {
	if r.orchestrator.IsMonitoring() {
		return nil
	}
	return r.orchestrator.StartMonitoring(ctx)
}

func (r *reconciler) stopMonitoring() {
	if !r.orchestrator.IsMonitoring() {
		return
	}
	if err := r.orchestrator.StopMonitoring(); err != nil {
		r.app.logger.Warn().Err(err).Msg("Monitoring did not stop cleanly")
	}
}

// reapply applies a revised intent. A rejected revision leaves the running
// configuration in place.
func (r *reconciler) reapply(ctx context.Context, in intent.NetworkIntent) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	op := telemetry.StartOperation(r.app.tel.WithContext(ctx), "intent.reapply",
		attribute.String("network", in.NetworkName))
	defer func() { op.End(err) }()

	result, err := r.app.applyIntent(op.Ctx, r.orchestrator, in, r.source)
	if err != nil {
		op.Logger.Error().Err(err).Str("network", in.NetworkName).Msg("Revised intent was not applied")
		return err
	}
	op.Logger.Info().
		Str("network", in.NetworkName).
		Str("digest", result.Digest).
		Dur("took", op.Timer.Duration()).
		Msg("Revised intent applied")

	if result.Config.MonitoringEnabled {
		return r.startMonitoring(ctx)
	}
	r.stopMonitoring()
	return nil
}
