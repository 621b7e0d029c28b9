package intent

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Document is the nested, device-neutral configuration handed to a transport.
// A full document is rendered from a CompiledConfiguration; a targeted document
// carries only the interface entries whose state should change.
type Document struct {
	Network NetworkSection `json:"network" yaml:"network"`
}

// NetworkSection is the root of a Document.
type NetworkSection struct {
	Interfaces     []InterfaceEntry `json:"interfaces" yaml:"interfaces"`
	NetworkRanges  *RangesSection   `json:"network-ranges,omitempty" yaml:"network-ranges,omitempty"`
	FailoverSystem *FailoverSection `json:"failover-system,omitempty" yaml:"failover-system,omitempty"`
	Monitoring     *ToggleSection   `json:"monitoring,omitempty" yaml:"monitoring,omitempty"`
}

// InterfaceEntry is one interface in a Document. Only Name and Enabled are
// guaranteed to be present.
type InterfaceEntry struct {
	Name             string `json:"name" yaml:"name"`
	Description      string `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled          bool   `json:"enabled" yaml:"enabled"`
	Speed            string `json:"speed,omitempty" yaml:"speed,omitempty"`
	MTU              int    `json:"mtu,omitempty" yaml:"mtu,omitempty"`
	IPAddress        string `json:"ip-address,omitempty" yaml:"ip-address,omitempty"`
	VLAN             int    `json:"vlan,omitempty" yaml:"vlan,omitempty"`
	FailoverPriority int    `json:"failover-priority,omitempty" yaml:"failover-priority,omitempty"`
}

// RangesSection holds the network ranges of a Document.
type RangesSection struct {
	IPRange []RangeEntry `json:"ip-range" yaml:"ip-range"`
}

// RangeEntry is a single ip-range.
type RangeEntry struct {
	Name   string `json:"name" yaml:"name"`
	Subnet string `json:"subnet" yaml:"subnet"`
	VLANID int    `json:"vlan-id" yaml:"vlan-id"`
}

// FailoverSection holds failover group definitions.
type FailoverSection struct {
	Enabled        bool         `json:"enabled" yaml:"enabled"`
	FailoverGroups []GroupEntry `json:"failover-groups" yaml:"failover-groups"`
}

// GroupEntry is a failover group in document form.
type GroupEntry struct {
	Name              string   `json:"name" yaml:"name"`
	PrimaryInterfaces []string `json:"primary-interfaces" yaml:"primary-interfaces"`
	BackupInterfaces  []string `json:"backup-interfaces" yaml:"backup-interfaces"`
}

// ToggleSection is a section with a single enabled flag.
type ToggleSection struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// Document renders the full configuration document.
func (c *CompiledConfiguration) Document() *Document {
	doc := &Document{
		Network: NetworkSection{
			Interfaces:     make([]InterfaceEntry, 0, len(c.Interfaces)),
			NetworkRanges:  &RangesSection{IPRange: make([]RangeEntry, 0, len(c.NetworkRanges))},
			FailoverSystem: &FailoverSection{Enabled: c.FailoverEnabled, FailoverGroups: make([]GroupEntry, 0, len(c.FailoverGroups))},
			Monitoring:     &ToggleSection{Enabled: c.MonitoringEnabled},
		},
	}

	for _, iface := range c.Interfaces {
		doc.Network.Interfaces = append(doc.Network.Interfaces, InterfaceEntry{
			Name:             iface.Name,
			Description:      iface.Description,
			Enabled:          iface.Enabled,
			Speed:            iface.Speed,
			MTU:              iface.MTU,
			IPAddress:        iface.IPAddress,
			VLAN:             iface.VLANID,
			FailoverPriority: iface.FailoverPriority,
		})
	}
	for _, r := range c.NetworkRanges {
		doc.Network.NetworkRanges.IPRange = append(doc.Network.NetworkRanges.IPRange, RangeEntry{
			Name:   r.Name,
			Subnet: r.Subnet,
			VLANID: r.VLANID,
		})
	}
	for _, g := range c.FailoverGroups {
		doc.Network.FailoverSystem.FailoverGroups = append(doc.Network.FailoverSystem.FailoverGroups, GroupEntry{
			Name:              g.Name,
			PrimaryInterfaces: append([]string{}, g.PrimaryInterfaces...),
			BackupInterfaces:  append([]string{}, g.BackupInterfaces...),
		})
	}

	return doc
}

// EnableDocument renders a targeted document that changes only the enable
// state of one interface.
func EnableDocument(name string, enabled bool) *Document {
	return &Document{
		Network: NetworkSection{
			Interfaces: []InterfaceEntry{{Name: name, Enabled: enabled}},
		},
	}
}

// IsTargeted reports whether the document carries only interface state changes.
func (d *Document) IsTargeted() bool {
	return d.Network.NetworkRanges == nil && d.Network.FailoverSystem == nil && d.Network.Monitoring == nil
}

// Marshal encodes the document in the given format ("yaml" or "json").
func (d *Document) Marshal(format string) ([]byte, error) {
	switch format {
	case "yaml", "yml", "":
		return yaml.Marshal(d)
	case "json":
		return json.MarshalIndent(d, "", "  ")
	default:
		return nil, fmt.Errorf("unsupported document format: %s", format)
	}
}
