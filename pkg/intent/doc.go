// Package intent validates declarative network intent and compiles it into a
// device-neutral configuration.
//
// A NetworkIntent names a private IPv4 range, an interface speed and a VLAN
// list. Compiler.Compile checks it (structure, range, speed), derives a fixed
// number of sequentially named and addressed interfaces, one network range and
// the failover groups chosen by a GroupingStrategy. Every violation found is
// returned together in a *ValidationError.
//
// Compilation is pure: the same intent always yields a byte-identical
// CompiledConfiguration, so re-applying an unchanged intent is a no-op.
//
// Grouping strategies:
//
//   - PairStrategy (default): first interface primary, second backup
//   - ChainStrategy: first interface primary, every other interface a backup
//   - ScriptStrategy: a Starlark groups(intent, interfaces) function
//
// Loader reads YAML or JSON intent documents and Watcher reloads them when
// the file changes. CompiledConfiguration.Document renders the nested
// document pushed to devices.
package intent
