package intent

// Supported interface speeds.
const (
	Speed100M = "100M"
	Speed1G   = "1G"
	Speed10G  = "10G"
	Speed25G  = "25G"
	Speed40G  = "40G"
	Speed100G = "100G"
)

// SupportedSpeeds lists every speed an intent may request, in ascending order.
var SupportedSpeeds = []string{Speed100M, Speed1G, Speed10G, Speed25G, Speed40G, Speed100G}

// speedBits maps a supported speed to its nominal rate in bits per second.
var speedBits = map[string]float64{
	Speed100M: 100e6,
	Speed1G:   1e9,
	Speed10G:  10e9,
	Speed25G:  25e9,
	Speed40G:  40e9,
	Speed100G: 100e9,
}

// SpeedBits returns the nominal rate for speed in bits per second, or 0 if the speed is unknown.
func SpeedBits(speed string) float64 {
	return speedBits[speed]
}

// DefaultMTU is the MTU assigned to every derived interface.
const DefaultMTU = 1500

// VLAN is a single VLAN declared by an intent.
type VLAN struct {
	// ID is the 802.1Q tag.
	ID int `json:"id" yaml:"id" validate:"min=1,max=4094"`

	// Name is an optional human-readable label.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// NetworkIntent is the declarative description of the desired network.
type NetworkIntent struct {
	// NetworkName names the network; it prefixes derived range names.
	NetworkName string `json:"networkName" yaml:"networkName" validate:"required,max=64,networkname"`

	// NetworkRange is the IPv4 network address, e.g. "10.0.0.0".
	NetworkRange string `json:"networkRange" yaml:"networkRange" validate:"required"`

	// SubnetMask is a prefix length ("24") or a dotted mask ("255.255.255.0").
	SubnetMask string `json:"subnetMask" yaml:"subnetMask" validate:"required"`

	// InterfaceSpeed is one of SupportedSpeeds.
	InterfaceSpeed string `json:"interfaceSpeed" yaml:"interfaceSpeed" validate:"required"`

	// VLANs is the ordered VLAN list; the first entry tags derived interfaces.
	VLANs []VLAN `json:"vlans" yaml:"vlans" validate:"required,min=1,dive"`

	FailoverEnabled   bool `json:"failoverEnabled" yaml:"failoverEnabled"`
	MonitoringEnabled bool `json:"monitoringEnabled" yaml:"monitoringEnabled"`
}

// InterfaceConfig is a concrete interface derived from an intent.
type InterfaceConfig struct {
	Name             string `json:"name" yaml:"name"`
	Description      string `json:"description" yaml:"description"`
	Speed            string `json:"speed" yaml:"speed"`
	IPAddress        string `json:"ipAddress" yaml:"ipAddress"`
	VLANID           int    `json:"vlanId" yaml:"vlanId"`
	MTU              int    `json:"mtu" yaml:"mtu"`
	FailoverPriority int    `json:"failoverPriority" yaml:"failoverPriority"`
	Enabled          bool   `json:"enabled" yaml:"enabled"`
}

// NetworkRange is an addressable range carved out of the intent.
type NetworkRange struct {
	Name   string `json:"name" yaml:"name"`
	Subnet string `json:"subnet" yaml:"subnet"`
	VLANID int    `json:"vlanId" yaml:"vlanId"`
}

// FailoverGroup names a set of primary and backup interfaces with one active member.
type FailoverGroup struct {
	Name              string   `json:"name" yaml:"name"`
	PrimaryInterfaces []string `json:"primaryInterfaces" yaml:"primaryInterfaces"`
	BackupInterfaces  []string `json:"backupInterfaces" yaml:"backupInterfaces"`
}

// Members returns every interface referenced by the group, primaries first.
func (g FailoverGroup) Members() []string {
	out := make([]string, 0, len(g.PrimaryInterfaces)+len(g.BackupInterfaces))
	out = append(out, g.PrimaryInterfaces...)
	return append(out, g.BackupInterfaces...)
}

// Clone returns a deep copy of the group.
func (g FailoverGroup) Clone() FailoverGroup {
	return FailoverGroup{
		Name:              g.Name,
		PrimaryInterfaces: append([]string(nil), g.PrimaryInterfaces...),
		BackupInterfaces:  append([]string(nil), g.BackupInterfaces...),
	}
}

// CompiledConfiguration is the compiler's sole output.
type CompiledConfiguration struct {
	NetworkName       string            `json:"networkName" yaml:"networkName"`
	Interfaces        []InterfaceConfig `json:"interfaces" yaml:"interfaces"`
	NetworkRanges     []NetworkRange    `json:"networkRanges" yaml:"networkRanges"`
	FailoverGroups    []FailoverGroup   `json:"failoverGroups" yaml:"failoverGroups"`
	FailoverEnabled   bool              `json:"failoverEnabled" yaml:"failoverEnabled"`
	MonitoringEnabled bool              `json:"monitoringEnabled" yaml:"monitoringEnabled"`
}

// Interface returns the named interface, if present.
func (c *CompiledConfiguration) Interface(name string) (InterfaceConfig, bool) {
	for _, iface := range c.Interfaces {
		if iface.Name == name {
			return iface, true
		}
	}
	return InterfaceConfig{}, false
}

// InterfaceNames returns the interface names in generation order.
func (c *CompiledConfiguration) InterfaceNames() []string {
	names := make([]string, len(c.Interfaces))
	for i, iface := range c.Interfaces {
		names[i] = iface.Name
	}
	return names
}
