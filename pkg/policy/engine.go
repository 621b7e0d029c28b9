package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/openfroyo/pathguard/pkg/intent"
)

// Engine evaluates guardrail policies against configuration documents
// before they are pushed to a device.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	builtins map[string]*compiledPolicy
	disabled map[string]bool
	store    storage.Store
	logger   zerolog.Logger
}

// compiledPolicy is a policy with its prepared deny query.
type compiledPolicy struct {
	policy *Policy
	module *ast.Module
	query  rego.PreparedEvalQuery
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	builtins bool
}

// WithoutBuiltins starts the engine with no built-in guardrails.
func WithoutBuiltins() Option {
	return func(o *engineOptions) { o.builtins = false }
}

// NewEngine creates a policy engine loaded with the built-in guardrails.
func NewEngine(logger zerolog.Logger, opts ...Option) (*Engine, error) {
	o := engineOptions{builtins: true}
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		builtins: make(map[string]*compiledPolicy),
		disabled: make(map[string]bool),
		store:    inmem.New(),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	if o.builtins {
		if err := e.loadBuiltinPolicies(context.Background()); err != nil {
			return nil, fmt.Errorf("failed to load built-in policies: %w", err)
		}
	}

	return e, nil
}

// EvaluateConfig evaluates every enabled policy against the document
// rendered from cfg.
func (e *Engine) EvaluateConfig(ctx context.Context, cfg *intent.CompiledConfiguration, device, operation string) (*Result, error) {
	return e.Evaluate(ctx, NewInput(cfg, device, operation))
}

// Evaluate evaluates every enabled policy against input. A policy that
// fails to evaluate is reported in Result.Errors and does not block.
func (e *Engine) Evaluate(ctx context.Context, input *Input) (*Result, error) {
	if input == nil || input.Document == nil {
		return nil, fmt.Errorf("policy input has no document")
	}

	start := time.Now()
	value, err := ast.InterfaceToValue(input)
	if err != nil {
		return nil, fmt.Errorf("failed to convert policy input: %w", err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{Allowed: true}
	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !e.enabled(cp.policy) {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		violations, err := e.evaluatePolicy(ctx, cp, value)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", name).
				Str("network", input.Network).
				Msg("Policy evaluation failed")
			result.Errors = append(result.Errors, fmt.Sprintf("policy %s evaluation failed: %v", name, err))
			continue
		}

		for _, v := range violations {
			if v.Severity.Blocking() {
				result.Violations = append(result.Violations, v)
				result.Allowed = false
			} else {
				result.Warnings = append(result.Warnings, v)
			}
		}
	}

	result.EvaluatedAt = time.Now().UTC()
	result.Duration = time.Since(start)

	e.logger.Debug().
		Str("network", input.Network).
		Str("device", input.Device).
		Str("operation", input.Operation).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Policy evaluation completed")

	return result, nil
}

// evaluatePolicy runs a single prepared deny query.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input ast.Value) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalParsedInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d))
		}
	}

	sort.SliceStable(violations, func(i, j int) bool {
		if violations[i].Subject != violations[j].Subject {
			return violations[i].Subject < violations[j].Subject
		}
		return violations[i].Message < violations[j].Message
	})

	return violations, nil
}

// createViolation builds a Violation from one element of a deny set.
func createViolation(policy *Policy, result interface{}) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Severity: policy.Severity,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok && sev != "" {
			violation.Severity = Severity(sev)
		}
		if subject, ok := v["subject"].(string); ok {
			violation.Subject = subject
		}
		if fix, ok := v["remediation"].(string); ok {
			violation.Remediation = fix
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compilePolicy parses a policy and prepares the query for its deny set.
func (e *Engine) compilePolicy(ctx context.Context, policy *Policy) (*compiledPolicy, error) {
	if policy.Name == "" {
		return nil, fmt.Errorf("policy has no name")
	}

	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	if module == nil {
		return nil, fmt.Errorf("policy %s is empty", policy.Name)
	}

	if policy.Severity == "" {
		policy.Severity = SeverityWarning
	}
	policy.LoadedAt = time.Now().UTC()

	r := rego.New(
		rego.ParsedModule(module),
		rego.Store(e.store),
		rego.Query(module.Package.Path.String()+".deny"),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Str("package", module.Package.Path.String()).
		Msg("Policy compiled successfully")

	return &compiledPolicy{policy: policy, module: module, query: query}, nil
}

// loadBuiltinPolicies compiles the built-in guardrails.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	builtins := GetBuiltinPolicies()
	for i := range builtins {
		cp, err := e.compilePolicy(ctx, &builtins[i])
		if err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
		e.builtins[cp.policy.Name] = cp
		e.policies[cp.policy.Name] = cp
	}

	e.logger.Info().
		Int("count", len(builtins)).
		Msg("Built-in policies loaded")

	return nil
}

// LoadPolicies loads policy files and directories and adds them to the
// engine. Nothing is added if any policy fails to compile.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.AddPolicies(ctx, policies)
}

// AddPolicies compiles and adds policies, replacing any with the same name.
func (e *Engine) AddPolicies(ctx context.Context, policies []Policy) error {
	compiled, err := e.compileAll(ctx, policies)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, cp := range compiled {
		if _, exists := e.policies[cp.policy.Name]; exists {
			e.logger.Warn().Str("policy", cp.policy.Name).Msg("Policy replaced")
		}
		e.policies[cp.policy.Name] = cp
	}

	e.logger.Info().
		Int("count", len(compiled)).
		Msg("Policies loaded successfully")

	return nil
}

// ReplacePolicies swaps every non-built-in policy for policies. It is used
// as the reload callback of Loader.Watch.
func (e *Engine) ReplacePolicies(ctx context.Context, policies []Policy) error {
	compiled, err := e.compileAll(ctx, policies)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]*compiledPolicy, len(e.builtins)+len(compiled))
	for name, cp := range e.builtins {
		next[name] = cp
	}
	for _, cp := range compiled {
		next[cp.policy.Name] = cp
	}
	e.policies = next

	e.logger.Info().
		Int("user", len(compiled)).
		Int("total", len(next)).
		Msg("Policies replaced")

	return nil
}

func (e *Engine) compileAll(ctx context.Context, policies []Policy) ([]*compiledPolicy, error) {
	compiled := make([]*compiledPolicy, 0, len(policies))
	for i := range policies {
		p := policies[i]
		cp, err := e.compilePolicy(ctx, &p)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", p.Name).
				Msg("Failed to compile policy")
			return nil, fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
		compiled = append(compiled, cp)
	}
	return compiled, nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	p := *cp.policy
	p.Enabled = e.enabled(cp.policy)
	return &p, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		p := *e.policies[name].policy
		p.Enabled = e.enabled(e.policies[name].policy)
		policies = append(policies, p)
	}

	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setDisabled(name, false)
}

// DisablePolicy disables a policy by name. The setting survives ReplacePolicies.
func (e *Engine) DisablePolicy(name string) error {
	return e.setDisabled(name, true)
}

func (e *Engine) setDisabled(name string, disabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.policies[name]; !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	if disabled {
		e.disabled[name] = true
		e.logger.Info().Str("policy", name).Msg("Policy disabled")
	} else {
		delete(e.disabled, name)
		e.logger.Info().Str("policy", name).Msg("Policy enabled")
	}

	return nil
}

func (e *Engine) enabled(p *Policy) bool {
	return p.Enabled && !e.disabled[p.Name]
}

// sortedNames must be called with e.mu held.
func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
