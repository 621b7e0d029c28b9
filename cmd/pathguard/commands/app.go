package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/pathguard/pkg/config"
	"github.com/openfroyo/pathguard/pkg/failover"
	"github.com/openfroyo/pathguard/pkg/intent"
	"github.com/openfroyo/pathguard/pkg/policy"
	"github.com/openfroyo/pathguard/pkg/stores"
	"github.com/openfroyo/pathguard/pkg/telemetry"
	"github.com/openfroyo/pathguard/pkg/transports"
	sshtransport "github.com/openfroyo/pathguard/pkg/transports/ssh"
)

const (
	scriptTimeout   = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

// app wires configuration, telemetry, the compiler, the policy engine and
// the store for one command invocation.
type app struct {
	cfg      *config.AppConfig
	tel      *telemetry.Telemetry
	logger   zerolog.Logger
	loader   *intent.Loader
	compiler *intent.Compiler
	policies *policy.Engine
	store    stores.Store
}

// loadConfig reads --config over the defaults.
func loadConfig(ctx context.Context) (*config.AppConfig, error) {
	cfg, err := config.Load(ctx, configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg, nil
}

// newApp loads the configuration and builds an app. withStore opens the
// SQLite store when one is configured.
func newApp(ctx context.Context, withStore bool) (*app, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	return buildApp(ctx, cfg, withStore)
}

func buildApp(ctx context.Context, cfg *config.AppConfig, withStore bool) (*app, error) {
	tel, err := telemetry.NewTelemetry(telemetry.FromAppConfig(cfg.Telemetry, appVersion))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a := &app{
		cfg:    cfg,
		tel:    tel,
		logger: tel.Logger.Zerolog(),
		loader: intent.NewLoader(nil),
	}

	if a.compiler, err = newCompiler(cfg.Intent); err != nil {
		_ = a.close(ctx)
		return nil, err
	}

	if a.policies, err = newPolicyEngine(ctx, cfg.Policy, a.logger); err != nil {
		_ = a.close(ctx)
		return nil, err
	}

	if withStore && cfg.Store.Path != "" {
		store, err := stores.Open(ctx, cfg.Store.Path)
		if err != nil {
			_ = a.close(ctx)
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		a.store = store
		stores.Subscribe(tel.Events, store, cfg.Store.HistoryLevel, a.logger)
	}

	return a, nil
}

// close flushes telemetry, then closes the store so pending events are persisted.
func (a *app) close(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	err := a.tel.Shutdown(shutdownCtx)
	if a.store != nil {
		err = errors.Join(err, a.store.Close())
	}
	return err
}

func newCompiler(ic config.IntentConfig) (*intent.Compiler, error) {
	var strategy intent.GroupingStrategy
	if ic.Strategy == "script" {
		s, err := intent.NewScriptStrategyFromFile(ic.Script, scriptTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to load grouping script: %w", err)
		}
		strategy = s
	} else {
		s, err := intent.StrategyByName(ic.Strategy)
		if err != nil {
			return nil, err
		}
		strategy = s
	}

	return intent.NewCompiler(intent.Options{
		InterfaceCount:  ic.InterfaceCount,
		InterfacePrefix: ic.InterfacePrefix,
		AddressOffset:   ic.AddressOffset,
		Strategy:        strategy,
	}), nil
}

func newPolicyEngine(ctx context.Context, pc config.PolicyConfig, logger zerolog.Logger) (*policy.Engine, error) {
	var opts []policy.Option
	if pc.DisableBuiltins {
		opts = append(opts, policy.WithoutBuiltins())
	}

	engine, err := policy.NewEngine(logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	if len(pc.Paths) > 0 {
		if err := engine.LoadPolicies(ctx, pc.Paths); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

// intentPath returns the intent named on the command line or in the config.
func (a *app) intentPath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return a.cfg.Intent.Path
}

// intentDevice returns the name of the device the intent is applied to.
func (a *app) intentDevice() (string, error) {
	dev := a.cfg.IntentDevice()
	if dev == nil {
		return "", fmt.Errorf("intent device %q is not configured", a.cfg.Intent.Device)
	}
	return dev.Name, nil
}

// compile compiles in inside a trace span and counts the result.
func (a *app) compile(ctx context.Context, in intent.NetworkIntent) (*intent.CompiledConfiguration, error) {
	_, span := a.tel.Tracer.StartCompileSpan(ctx, in.NetworkName, a.compiler.Options().Strategy.Name())
	defer span.End()

	compiled, err := a.compiler.Compile(in)
	if err != nil {
		a.tel.Metrics.RecordCompile("invalid")
		telemetry.RecordError(span, err)
		return nil, err
	}

	a.tel.Metrics.RecordCompile("success")
	telemetry.RecordSuccess(span)
	return compiled, nil
}

// evaluate runs the guardrail policies and reports their findings.
func (a *app) evaluate(ctx context.Context, compiled *intent.CompiledConfiguration, device, operation string) (*policy.Result, error) {
	result, err := a.policies.EvaluateConfig(ctx, compiled, device, operation)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation failed: %w", err)
	}

	for _, v := range result.Violations {
		a.tel.Metrics.RecordPolicyViolation(v.Policy)
		if operation == policy.OperationApply {
			_ = a.tel.Events.PublishPolicyViolation(device, v.Policy, v.Message)
		}
	}
	for _, w := range result.Warnings {
		a.logger.Warn().
			Str("policy", w.Policy).
			Str("subject", w.Subject).
			Msg(w.Message)
	}
	for _, e := range result.Errors {
		a.logger.Error().Str("network", compiled.NetworkName).Msg(e)
	}

	return result, nil
}

// policyError reports a configuration rejected by guardrail policies.
type policyError struct {
	result *policy.Result
}

func (e *policyError) Error() string {
	msgs := make([]string, len(e.result.Violations))
	for i, v := range e.result.Violations {
		msgs[i] = v.String()
	}
	return "configuration rejected by policy: " + strings.Join(msgs, "; ")
}

// newTransport builds the transport for a device. Simulated devices without
// configured interfaces get fallback, as does every device when simulate is set.
func newTransport(dev config.DeviceConfig, simulate bool, fallback []string) (transports.Transport, error) {
	if simulate || dev.Kind == config.KindSimulated {
		names := dev.Interfaces
		if len(names) == 0 {
			names = fallback
		}
		return transports.NewSimulated(dev.Name, names...), nil
	}

	sc, err := sshtransport.FromDevice(dev)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", dev.Name, err)
	}
	t, err := sshtransport.New(sc)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", dev.Name, err)
	}
	return t, nil
}

// newOrchestrator creates an orchestrator reporting to telemetry with every
// configured device attached. It does not connect.
func (a *app) newOrchestrator(simulate bool, fallback []string) (*failover.Orchestrator, error) {
	o := failover.NewOrchestrator(failover.ConfigFrom(a.cfg.Failover), failover.NewTelemetrySink(a.tel), a.logger)
	for _, dev := range a.cfg.Devices {
		t, err := newTransport(dev, simulate, fallback)
		if err != nil {
			return nil, err
		}
		if err := o.AddDevice(dev.Name, t); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// applyResult summarizes one apply.
type applyResult struct {
	Device  string                        `json:"device" yaml:"device"`
	Network string                        `json:"network" yaml:"network"`
	Digest  string                        `json:"digest" yaml:"digest"`
	Groups  []intent.FailoverGroup        `json:"groups" yaml:"groups"`
	Policy  *policy.Result                `json:"policy" yaml:"policy"`
	Config  *intent.CompiledConfiguration `json:"-" yaml:"-"`
}

// applyIntent compiles in and applies it with applyCompiled.
func (a *app) applyIntent(ctx context.Context, o *failover.Orchestrator, in intent.NetworkIntent, source string) (*applyResult, error) {
	compiled, err := a.compile(ctx, in)
	if err != nil {
		return nil, err
	}
	return a.applyCompiled(ctx, o, in, compiled, source)
}

// applyCompiled gates compiled through the policies, pushes the full
// document to the intent device, registers its failover groups and records
// the outcome.
func (a *app) applyCompiled(ctx context.Context, o *failover.Orchestrator, in intent.NetworkIntent, compiled *intent.CompiledConfiguration, source string) (*applyResult, error) {
	device, err := a.intentDevice()
	if err != nil {
		return nil, err
	}

	doc := compiled.Document()
	rendered, err := doc.Marshal("yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to render configuration: %w", err)
	}
	intentID := a.saveIntent(ctx, in, source)

	result, err := a.evaluate(ctx, compiled, device, policy.OperationApply)
	if err != nil {
		return nil, err
	}
	if !result.Allowed {
		perr := &policyError{result: result}
		a.recordApplied(ctx, device, compiled.NetworkName, intentID, rendered, stores.ApplyStatusRejected, perr)
		return nil, perr
	}

	pushCtx, span := a.tel.Tracer.StartPushSpan(ctx, device, false)
	err = o.Push(pushCtx, device, doc)
	if err != nil {
		telemetry.RecordError(span, err)
		span.End()
		a.tel.Metrics.RecordPush(device, "failure")
		a.recordApplied(ctx, device, compiled.NetworkName, intentID, rendered, stores.ApplyStatusFailed, err)
		return nil, err
	}
	telemetry.RecordSuccess(span)
	span.End()
	a.tel.Metrics.RecordPush(device, "success")

	if err := o.Apply(device, compiled); err != nil {
		a.recordApplied(ctx, device, compiled.NetworkName, intentID, rendered, stores.ApplyStatusFailed, err)
		return nil, fmt.Errorf("failed to register failover groups: %w", err)
	}

	a.recordApplied(ctx, device, compiled.NetworkName, intentID, rendered, stores.ApplyStatusApplied, nil)
	digest := stores.Digest(rendered)
	_ = a.tel.Events.PublishConfigApplied(device, compiled.NetworkName, digest)

	a.logger.Info().
		Str("device", device).
		Str("network", compiled.NetworkName).
		Str("digest", digest[:12]).
		Int("groups", len(compiled.FailoverGroups)).
		Msg("Intent applied")

	return &applyResult{
		Device:  device,
		Network: compiled.NetworkName,
		Digest:  digest,
		Groups:  compiled.FailoverGroups,
		Policy:  result,
		Config:  compiled,
	}, nil
}

func (a *app) saveIntent(ctx context.Context, in intent.NetworkIntent, source string) *string {
	if a.store == nil {
		return nil
	}

	data, err := json.Marshal(in)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Failed to encode intent for the store")
		return nil
	}

	rec := &stores.IntentRecord{
		NetworkName: in.NetworkName,
		Source:      source,
		Document:    string(data),
	}
	if err := a.store.SaveIntent(ctx, rec); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to persist intent")
		return nil
	}
	return &rec.ID
}

func (a *app) recordApplied(ctx context.Context, device, network string, intentID *string, rendered []byte, status stores.ApplyStatus, cause error) {
	if a.store == nil {
		return
	}

	rec := &stores.AppliedConfig{
		Device:      device,
		NetworkName: network,
		IntentID:    intentID,
		Document:    string(rendered),
		Status:      status,
	}
	if cause != nil {
		msg := cause.Error()
		rec.Error = &msg
	}
	if err := a.store.RecordApplied(ctx, rec); err != nil {
		a.logger.Warn().Err(err).Str("device", device).Msg("Failed to persist applied configuration")
	}
}

// statusView is the JSON document served at the status endpoint.
type statusView struct {
	Monitoring bool                   `json:"monitoring" yaml:"monitoring"`
	Groups     []failover.GroupStatus `json:"groups" yaml:"groups"`
	Time       time.Time              `json:"time" yaml:"time"`
}

func newStatusView(o *failover.Orchestrator) statusView {
	return statusView{
		Monitoring: o.IsMonitoring(),
		Groups:     o.Snapshot(),
		Time:       time.Now().UTC(),
	}
}

// printOutput writes v as JSON with --json and as YAML otherwise.
func printOutput(w io.Writer, v interface{}) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = w.Write(data)
	return err
}
