package policy

import (
	"time"

	"github.com/openfroyo/pathguard/pkg/intent"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that are reported but never block a push.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the push.
	SeverityError Severity = "error"

	// SeverityCritical blocks the push.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity rejects a configuration.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Operations recorded in Input.Operation.
const (
	OperationValidate = "validate"
	OperationApply    = "apply"
)

// Policy represents a guardrail rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. Violations are read from the
	// package's deny set.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with pathguard.
	Builtin bool `json:"builtin,omitempty"`

	Tags     []string               `json:"tags,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// LoadedAt is when the policy was compiled into the engine.
	LoadedAt time.Time `json:"loaded_at"`
}

// Violation is a single policy finding.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Subject names the offending element, e.g. an interface or group.
	Subject string `json:"subject,omitempty"`

	Message  string   `json:"message"`
	Severity Severity `json:"severity"`

	// Remediation provides a suggested fix.
	Remediation string `json:"remediation,omitempty"`
}

func (v Violation) String() string {
	if v.Subject == "" {
		return "[" + v.Policy + "] " + v.Message
	}
	return "[" + v.Policy + "] " + v.Subject + ": " + v.Message
}

// Result is the outcome of evaluating every enabled policy against one input.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	// Violations are the blocking findings.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings are findings that do not block.
	Warnings []Violation `json:"warnings,omitempty"`

	// Errors are policies that failed to evaluate.
	Errors []string `json:"errors,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies"`
	EvaluatedAt       time.Time     `json:"evaluated_at"`
	Duration          time.Duration `json:"duration"`
}

// Input is the document handed to Rego as `input`.
type Input struct {
	// Device is the target device, empty during offline validation.
	Device string `json:"device,omitempty"`

	// Network is the intent's network name.
	Network string `json:"network"`

	// Operation is OperationValidate or OperationApply.
	Operation string `json:"operation"`

	// Document is the full configuration document about to be pushed.
	Document *intent.Document `json:"document"`

	Timestamp time.Time `json:"timestamp"`
}

// NewInput builds the policy input for a compiled configuration.
func NewInput(cfg *intent.CompiledConfiguration, device, operation string) *Input {
	return &Input{
		Device:    device,
		Network:   cfg.NetworkName,
		Operation: operation,
		Document:  cfg.Document(),
		Timestamp: time.Now().UTC(),
	}
}

// Bundle is a named collection of policies stored as one JSON file.
type Bundle struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Policies    []Policy `json:"policies"`
}
