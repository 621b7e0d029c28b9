package config

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// Built-in schema names.
const (
	SchemaIntent = "intent"
	SchemaConfig = "config"
)

// schema is a compiled CUE source and the definition data is checked against.
type schema struct {
	source cue.Value
	root   cue.Value
}

// SchemaRegistry manages CUE schemas for validating raw documents before
// they are decoded into Go types.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]schema
	mu      sync.RWMutex
}

// SchemaError carries every schema violation found in a document.
type SchemaError struct {
	Schema string
	Errors []ValidationError
}

func (e *SchemaError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		parts[i] = ve.String()
	}
	return fmt.Sprintf("document does not match %s schema: %s", e.Schema, strings.Join(parts, "; "))
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]schema),
	}

	if err := sr.RegisterSchema(SchemaIntent, builtinIntentSchema); err != nil {
		panic(err)
	}
	if err := sr.RegisterSchema(SchemaConfig, builtinConfigSchema); err != nil {
		panic(err)
	}

	return sr
}

// RegisterSchema compiles a CUE schema and registers it under name. The first
// definition declared in the source is the one documents are checked against.
func (sr *SchemaRegistry) RegisterSchema(name, source string) error {
	val := sr.ctx.CompileString(source, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	root, err := firstDefinition(val)
	if err != nil {
		return fmt.Errorf("schema %s: %w", name, err)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.schemas[name] = schema{source: val, root: root}
	return nil
}

func firstDefinition(val cue.Value) (cue.Value, error) {
	iter, err := val.Fields(cue.Definitions(true))
	if err != nil {
		return cue.Value{}, err
	}
	for iter.Next() {
		if iter.Selector().IsDefinition() {
			return iter.Value(), nil
		}
	}
	return cue.Value{}, fmt.Errorf("no definition found")
}

// GetSchema retrieves the root definition of a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	s, ok := sr.schemas[name]
	return s.root, ok
}

// ValidateAgainstSchema validates data against a named schema. Violations are
// returned as a *SchemaError.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	root, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := root.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &SchemaError{Schema: schemaName, Errors: schemaViolations(err)}
	}

	return nil
}

func schemaViolations(err error) []ValidationError {
	var out []ValidationError
	seen := make(map[string]bool)
	for _, e := range cueerrors.Errors(err) {
		path := make([]string, 0, len(e.Path()))
		for _, sel := range e.Path() {
			if strings.HasPrefix(sel, "#") {
				continue
			}
			path = append(path, sel)
		}

		format, args := e.Msg()
		ve := ValidationError{
			Path:    strings.Join(path, "."),
			Message: fmt.Sprintf(format, args...),
		}
		if key := ve.String(); !seen[key] {
			seen[key] = true
			out = append(out, ve)
		}
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}

// ListSchemas returns all registered schema names in sorted order.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Built-in schema definitions

// Range and enum checks stay with the compiler so their violations keep their
// own error codes; the schema only pins shape and types.
const builtinIntentSchema = `
#NetworkIntent: {
	networkName?:       string
	networkRange?:      string
	subnetMask?:        string | int
	interfaceSpeed?:    string
	vlans?: [...#VLAN]
	failoverEnabled?:   bool
	monitoringEnabled?: bool
	...
}

#VLAN: {
	id:    int
	name?: string
	...
}
`

// Durations may be written as strings ("10s") or nanoseconds.
const builtinConfigSchema = `
#AppConfig: {
	devices?: [...#Device]
	failover?: {
		interval?:          #Duration
		failureThreshold?:  int & >=1
		recoveryThreshold?: int & >=1
		probeTimeout?:      #Duration
		stopTimeout?:       #Duration
	}
	intent?: {
		path?:            string
		device?:          string
		strategy?:        "pair" | "chain" | "script"
		script?:          string
		interfaceCount?:  int & >=1 & <=64
		interfacePrefix?: string
		addressOffset?:   int & >=1
		watch?:           bool
	}
	store?: {
		path?:         string
		historyLevel?: "info" | "warning" | "error"
	}
	policy?: {
		paths?: [...string]
		disableBuiltins?: bool
		watch?:           bool
	}
	telemetry?: {
		logging?: {
			level?:  "trace" | "debug" | "info" | "warn" | "error"
			format?: "console" | "json"
			output?: string
		}
		tracing?: {
			enabled?:      bool
			exporter?:     "stdout" | "otlp" | "none"
			endpoint?:     string
			samplingRate?: number & >=0 & <=1
			insecure?:     bool
		}
		metrics?: {
			enabled?:       bool
			listenAddress?: string
			path?:          string
		}
		eventBuffer?: int & >=1
	}
}

#Device: {
	name:        string & =~"^[A-Za-z0-9_.-]+$"
	kind:        "simulated" | "ssh"
	interfaces?: [...string]
	ssh?: {
		host:                   string
		port?:                  int & >=1 & <=65535
		user:                   string
		password?:              string
		privateKeyPath?:        string
		knownHostsPath?:        string
		strictHostKeyChecking?: bool
		useSudo?:               bool
		stagingDir?:            string
		connectionTimeout?:     #Duration
		commandTimeout?:        #Duration
	}
}

#Duration: string | int
`
