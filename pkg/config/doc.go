// Package config loads and validates pathguard configuration.
//
// A configuration document is YAML (or JSON) decoded over Default. Each load
// passes two gates:
//
//   - the raw document is checked against the #AppConfig CUE schema, which
//     rejects unknown keys and mistyped values
//   - the decoded AppConfig is checked with validator struct tags and a few
//     cross-field rules
//
// Every problem from a gate is reported together in a *LoadError.
//
// SchemaRegistry also carries the #NetworkIntent schema used by the intent
// loader to check raw intent documents before they are decoded.
//
// # Usage Example
//
//	cfg, err := config.Load(ctx, "pathguard.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, dev := range cfg.Devices {
//	    fmt.Println(dev.Name, dev.Kind)
//	}
package config
