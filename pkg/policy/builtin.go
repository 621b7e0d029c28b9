package policy

// Names of the built-in guardrails.
const (
	PolicyUniqueAddresses    = "unique-addresses"
	PolicyVLANRange          = "vlan-range"
	PolicyMTUBounds          = "mtu-bounds"
	PolicyGroupDisjointness  = "group-disjointness"
	PolicyMonitoringRequired = "monitoring-required"
)

// MTU bounds enforced by the mtu-bounds guardrail.
const (
	MinMTU = 576
	MaxMTU = 9216
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		uniqueAddressesPolicy(),
		vlanRangePolicy(),
		mtuBoundsPolicy(),
		groupDisjointnessPolicy(),
		monitoringRequiredPolicy(),
	}
}

// uniqueAddressesPolicy rejects documents that assign one address twice.
func uniqueAddressesPolicy() Policy {
	return Policy{
		Name:        PolicyUniqueAddresses,
		Description: "Every interface address in a document must be distinct",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"addressing"},
		Rego: `package pathguard.guardrails.unique_addresses

import rego.v1

interfaces := input.document.network.interfaces

deny contains violation if {
	some i, j
	a := interfaces[i]
	b := interfaces[j]
	i < j
	addr := a["ip-address"]
	addr == b["ip-address"]
	violation := {
		"subject": b.name,
		"message": sprintf("address %s is already assigned to %s", [addr, a.name]),
		"remediation": "assign each interface a distinct host address",
	}
}

deny contains violation if {
	some i, j
	a := interfaces[i]
	b := interfaces[j]
	i < j
	a.name == b.name
	violation := {
		"subject": a.name,
		"message": sprintf("interface %s is declared more than once", [a.name]),
		"remediation": "remove the duplicate interface entry",
	}
}
`,
	}
}

// vlanRangePolicy enforces 802.1Q tag bounds on interfaces and ranges.
func vlanRangePolicy() Policy {
	return Policy{
		Name:        PolicyVLANRange,
		Description: "VLAN tags must be within 1..4094",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"vlan"},
		Rego: `package pathguard.guardrails.vlan_range

import rego.v1

valid_vlan(id) if {
	id >= 1
	id <= 4094
}

deny contains violation if {
	some iface in input.document.network.interfaces
	vlan := iface.vlan
	not valid_vlan(vlan)
	violation := {
		"subject": iface.name,
		"message": sprintf("VLAN %v is outside 1..4094", [vlan]),
		"remediation": "use a VLAN ID between 1 and 4094",
	}
}

deny contains violation if {
	some r in object.get(input.document.network, ["network-ranges", "ip-range"], [])
	vlan := object.get(r, "vlan-id", 0)
	not valid_vlan(vlan)
	violation := {
		"subject": r.name,
		"message": sprintf("range VLAN %v is outside 1..4094", [vlan]),
		"remediation": "use a VLAN ID between 1 and 4094",
	}
}
`,
	}
}

// mtuBoundsPolicy keeps interface MTUs within what common hardware accepts.
func mtuBoundsPolicy() Policy {
	return Policy{
		Name:        PolicyMTUBounds,
		Description: "Interface MTU must be between 576 and 9216",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"mtu"},
		Metadata: map[string]interface{}{
			"min": MinMTU,
			"max": MaxMTU,
		},
		Rego: `package pathguard.guardrails.mtu_bounds

import rego.v1

in_bounds(mtu) if {
	mtu >= 576
	mtu <= 9216
}

deny contains violation if {
	some iface in input.document.network.interfaces
	mtu := iface.mtu
	not in_bounds(mtu)
	violation := {
		"subject": iface.name,
		"message": sprintf("MTU %v is outside 576..9216", [mtu]),
		"remediation": "use 1500 unless the path is known to carry jumbo frames",
	}
}
`,
	}
}

// groupDisjointnessPolicy rejects interfaces shared between groups or roles.
func groupDisjointnessPolicy() Policy {
	return Policy{
		Name:        PolicyGroupDisjointness,
		Description: "An interface may belong to at most one failover group, in one role",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"failover"},
		Rego: `package pathguard.guardrails.group_disjointness

import rego.v1

groups := gs if {
	gs := object.get(input.document.network, ["failover-system", "failover-groups"], [])
}

members(g) := m if {
	m := array.concat(object.get(g, "primary-interfaces", []), object.get(g, "backup-interfaces", []))
}

deny contains violation if {
	some i, j
	a := groups[i]
	b := groups[j]
	i < j
	some name in members(a)
	name in members(b)
	violation := {
		"subject": name,
		"message": sprintf("interface %s belongs to groups %s and %s", [name, a.name, b.name]),
		"remediation": "give each interface to a single failover group",
	}
}

deny contains violation if {
	some g in groups
	some name in object.get(g, "primary-interfaces", [])
	name in object.get(g, "backup-interfaces", [])
	violation := {
		"subject": name,
		"message": sprintf("interface %s is both primary and backup in group %s", [name, g.name]),
		"remediation": "list the interface once, as primary or backup",
	}
}
`,
	}
}

// monitoringRequiredPolicy warns when failover groups can never switch.
func monitoringRequiredPolicy() Policy {
	return Policy{
		Name:        PolicyMonitoringRequired,
		Description: "Failover requires health monitoring",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"failover", "monitoring"},
		Rego: `package pathguard.guardrails.monitoring_required

import rego.v1

deny contains violation if {
	input.document.network["failover-system"].enabled
	count(input.document.network["failover-system"]["failover-groups"]) > 0
	not input.document.network.monitoring.enabled
	violation := {
		"subject": "monitoring",
		"message": "failover is enabled but monitoring is disabled, groups will never switch",
		"remediation": "set monitoringEnabled to true in the intent",
	}
}
`,
	}
}
