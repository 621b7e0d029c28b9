// Package policy gates configuration pushes with Open Policy Agent (OPA)
// guardrails.
//
// Every policy is a Rego module whose package defines a `deny` set. The
// engine renders the compiled configuration into the same document that is
// pushed to a device and hands it to each enabled policy as
// `input.document`, next to `input.device`, `input.network` and
// `input.operation`. Each element of `deny` becomes a Violation; it may be a
// string or an object with `message`, `subject`, `severity` and
// `remediation` keys.
//
// Violations with severity error or critical are blocking and make the
// Result disallowed. Warnings and info findings are reported but never
// block a push.
//
// # Built-in Policies
//
//   - unique-addresses: no two interfaces share an address or a name.
//   - vlan-range: interface and range VLAN tags are within 1..4094.
//   - mtu-bounds: interface MTUs are within 576..9216.
//   - group-disjointness: an interface belongs to at most one failover
//     group and is never both primary and backup.
//   - monitoring-required (warning): failover groups exist but health
//     monitoring is disabled.
//
// # Custom Policies
//
// Custom policies are .rego files, JSON policy files or JSON bundles with a
// top-level "policies" array:
//
//	package pathguard.custom.jumbo
//
//	import rego.v1
//
//	deny contains violation if {
//		some iface in input.document.network.interfaces
//		iface.mtu > 1500
//		violation := {"subject": iface.name, "message": "jumbo frames are not allowed"}
//	}
//
// Loader.Watch reloads custom policies when their files change; pass
// Engine.ReplacePolicies as the reload callback.
package policy
