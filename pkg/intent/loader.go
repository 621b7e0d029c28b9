package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/openfroyo/pathguard/pkg/config"
	"gopkg.in/yaml.v3"
)

// Loader reads intent documents from YAML or JSON. Raw documents are checked
// against the #NetworkIntent schema before they are decoded.
type Loader struct {
	schemas *config.SchemaRegistry
}

// NewLoader creates a loader. A nil registry gets the built-in schemas.
func NewLoader(schemas *config.SchemaRegistry) *Loader {
	if schemas == nil {
		schemas = config.NewSchemaRegistry()
	}
	return &Loader{schemas: schemas}
}

// LoadFile reads an intent document with a default loader.
func LoadFile(ctx context.Context, path string) (NetworkIntent, error) {
	return NewLoader(nil).LoadFile(ctx, path)
}

// LoadFile reads and decodes the intent document at path.
func (l *Loader) LoadFile(ctx context.Context, path string) (NetworkIntent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return NetworkIntent{}, fmt.Errorf("failed to read intent: %w", err)
	}
	return l.Parse(ctx, data)
}

// Parse decodes an intent document. failoverEnabled and monitoringEnabled
// default to true when absent. Schema violations are returned as a
// *ValidationError with CodeSchema; field-level checks are left to the
// compiler.
func (l *Loader) Parse(ctx context.Context, data []byte) (NetworkIntent, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return NetworkIntent{}, fmt.Errorf("failed to parse intent: %w", err)
	}
	if raw == nil {
		raw = map[string]interface{}{}
	}

	if err := l.schemas.ValidateAgainstSchema(ctx, config.SchemaIntent, raw); err != nil {
		var serr *config.SchemaError
		if !errors.As(err, &serr) {
			return NetworkIntent{}, err
		}
		verr := &ValidationError{}
		for _, ve := range serr.Errors {
			verr.add(ve.Path, CodeSchema, "%s", ve.Message)
		}
		return NetworkIntent{}, verr
	}

	switch mask := raw["subnetMask"].(type) {
	case int:
		raw["subnetMask"] = strconv.Itoa(mask)
	case int64:
		raw["subnetMask"] = strconv.FormatInt(mask, 10)
	}

	buf, err := json.Marshal(raw)
	if err != nil {
		return NetworkIntent{}, fmt.Errorf("failed to normalize intent: %w", err)
	}

	in := NetworkIntent{
		FailoverEnabled:   true,
		MonitoringEnabled: true,
	}
	if err := json.Unmarshal(buf, &in); err != nil {
		return NetworkIntent{}, fmt.Errorf("failed to decode intent: %w", err)
	}
	return in, nil
}
