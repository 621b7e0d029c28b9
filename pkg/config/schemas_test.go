package config

import (
	"context"
	"errors"
	"testing"
)

func TestSchemaRegistry_RegisterAndGet(t *testing.T) {
	sr := NewSchemaRegistry()

	customSchema := `
#CustomType: {
	field1: string
	field2: int
}
`

	err := sr.RegisterSchema("custom", customSchema)
	if err != nil {
		t.Fatalf("failed to register schema: %v", err)
	}

	schema, ok := sr.GetSchema("custom")
	if !ok {
		t.Fatal("expected to find custom schema")
	}

	if schema.Err() != nil {
		t.Errorf("schema has errors: %v", schema.Err())
	}

	ctx := context.Background()
	if err := sr.ValidateAgainstSchema(ctx, "custom", map[string]interface{}{"field1": "a", "field2": 2}); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
	if err := sr.ValidateAgainstSchema(ctx, "custom", map[string]interface{}{"field1": "a"}); err == nil {
		t.Error("expected error for missing field2")
	}
}

func TestSchemaRegistry_BuiltInSchemas(t *testing.T) {
	sr := NewSchemaRegistry()

	for _, name := range []string{SchemaIntent, SchemaConfig} {
		t.Run(name, func(t *testing.T) {
			schema, ok := sr.GetSchema(name)
			if !ok {
				t.Fatalf("built-in schema %s not found", name)
			}

			if schema.Err() != nil {
				t.Errorf("built-in schema %s has errors: %v", name, schema.Err())
			}
		})
	}
}

func TestSchemaRegistry_ValidateIntent(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	tests := []struct {
		name    string
		doc     map[string]interface{}
		wantErr bool
	}{
		{
			name: "valid intent",
			doc: map[string]interface{}{
				"networkName":    "office",
				"networkRange":   "10.0.0.0",
				"subnetMask":     "24",
				"interfaceSpeed": "1G",
				"vlans":          []interface{}{map[string]interface{}{"id": 100, "name": "users"}},
			},
			wantErr: false,
		},
		{
			name: "numeric subnet mask",
			doc: map[string]interface{}{
				"networkName": "office",
				"subnetMask":  24,
			},
			wantErr: false,
		},
		{
			name: "partial intent is left to the compiler",
			doc: map[string]interface{}{
				"networkName": "office",
			},
			wantErr: false,
		},
		{
			name: "vlans not a list",
			doc: map[string]interface{}{
				"networkName": "office",
				"vlans":       "100",
			},
			wantErr: true,
		},
		{
			name: "vlan without id",
			doc: map[string]interface{}{
				"vlans": []interface{}{map[string]interface{}{"name": "users"}},
			},
			wantErr: true,
		},
		{
			name: "failoverEnabled not a bool",
			doc: map[string]interface{}{
				"failoverEnabled": "yes",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sr.ValidateAgainstSchema(ctx, SchemaIntent, tt.doc)

			if tt.wantErr {
				var serr *SchemaError
				if !errors.As(err, &serr) {
					t.Fatalf("expected *SchemaError, got %v", err)
				}
				if len(serr.Errors) == 0 {
					t.Error("expected at least one schema violation")
				}
			} else if err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestSchemaRegistry_ValidateConfig(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	tests := []struct {
		name    string
		doc     map[string]interface{}
		wantErr bool
	}{
		{
			name: "valid config",
			doc: map[string]interface{}{
				"devices": []interface{}{
					map[string]interface{}{"name": "edge-1", "kind": "ssh", "ssh": map[string]interface{}{"host": "10.0.0.1", "user": "admin"}},
				},
				"failover": map[string]interface{}{"interval": "5s", "failureThreshold": 2},
			},
			wantErr: false,
		},
		{
			name:    "unknown top-level key",
			doc:     map[string]interface{}{"devicez": []interface{}{}},
			wantErr: true,
		},
		{
			name:    "unknown nested key",
			doc:     map[string]interface{}{"failover": map[string]interface{}{"intervall": "5s"}},
			wantErr: true,
		},
		{
			name: "unsupported device kind",
			doc: map[string]interface{}{
				"devices": []interface{}{map[string]interface{}{"name": "edge-1", "kind": "snmp"}},
			},
			wantErr: true,
		},
		{
			name:    "zero threshold",
			doc:     map[string]interface{}{"failover": map[string]interface{}{"recoveryThreshold": 0}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sr.ValidateAgainstSchema(ctx, SchemaConfig, tt.doc)

			if tt.wantErr {
				if err == nil {
					t.Error("expected validation error, got none")
				}
			} else if err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestSchemaRegistry_ListSchemas(t *testing.T) {
	sr := NewSchemaRegistry()

	schemas := sr.ListSchemas()
	if len(schemas) != 2 {
		t.Fatalf("expected 2 schemas, got %d", len(schemas))
	}
	if schemas[0] != SchemaConfig || schemas[1] != SchemaIntent {
		t.Errorf("unexpected schema list: %v", schemas)
	}
}

func TestSchemaRegistry_InvalidSchema(t *testing.T) {
	sr := NewSchemaRegistry()

	invalidSchema := `
this is not valid CUE syntax
`

	err := sr.RegisterSchema("invalid", invalidSchema)
	if err == nil {
		t.Error("expected error when registering invalid schema")
	}
}

func TestSchemaRegistry_UnknownSchema(t *testing.T) {
	sr := NewSchemaRegistry()

	if err := sr.ValidateAgainstSchema(context.Background(), "missing", map[string]interface{}{}); err == nil {
		t.Error("expected error for unknown schema")
	}
}
