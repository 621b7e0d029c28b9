package intent

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"net/netip"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Options tunes interface derivation and group selection.
type Options struct {
	// InterfaceCount is the number of interfaces derived per intent.
	InterfaceCount int

	// InterfacePrefix is prepended to the interface index to form its name.
	InterfacePrefix string

	// AddressOffset is added to the network address to form the first host address.
	AddressOffset int

	// Strategy derives failover groups. Nil selects PairStrategy.
	Strategy GroupingStrategy
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		InterfaceCount:  4,
		InterfacePrefix: "eth",
		AddressOffset:   10,
		Strategy:        PairStrategy{},
	}
}

// privateRanges is the RFC1918 address space.
var privateRanges = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
}

var networkNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Compiler validates intents and derives compiled configurations.
// It holds no runtime state; a single Compiler may be shared between goroutines.
type Compiler struct {
	opts     Options
	validate *validator.Validate
}

// NewCompiler creates a compiler. Zero-valued options fall back to DefaultOptions.
func NewCompiler(opts Options) *Compiler {
	defaults := DefaultOptions()
	if opts.InterfaceCount <= 0 {
		opts.InterfaceCount = defaults.InterfaceCount
	}
	if opts.InterfacePrefix == "" {
		opts.InterfacePrefix = defaults.InterfacePrefix
	}
	if opts.AddressOffset <= 0 {
		opts.AddressOffset = defaults.AddressOffset
	}
	if opts.Strategy == nil {
		opts.Strategy = defaults.Strategy
	}

	return &Compiler{
		opts:     opts,
		validate: newValidator(),
	}
}

// Options returns the effective compiler options.
func (c *Compiler) Options() Options {
	return c.opts
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("networkname", func(fl validator.FieldLevel) bool {
		return networkNamePattern.MatchString(fl.Field().String())
	})
	return v
}

// Validate runs every validation step and reports all violations together.
func (c *Compiler) Validate(in NetworkIntent) error {
	verr := &ValidationError{}
	c.validateInto(in, verr)
	return verr.errOrNil()
}

func (c *Compiler) validateInto(in NetworkIntent, verr *ValidationError) netip.Prefix {
	c.validateStructure(in, verr)

	var prefix netip.Prefix
	if in.NetworkRange != "" && in.SubnetMask != "" {
		p, err := ParseNetwork(in.NetworkRange, in.SubnetMask)
		switch {
		case err != nil:
			verr.add("networkRange", CodeInvalidNetworkRange, "%v", err)
		case !IsPrivate(p):
			verr.add("networkRange", CodeInvalidNetworkRange, "%s is not within RFC1918 private address space", p)
		default:
			prefix = p
		}
	}

	if in.InterfaceSpeed != "" && SpeedBits(in.InterfaceSpeed) == 0 {
		verr.add("interfaceSpeed", CodeUnsupportedSpeed, "%q is not supported (supported: %s)",
			in.InterfaceSpeed, strings.Join(SupportedSpeeds, ", "))
	}

	return prefix
}

func (c *Compiler) validateStructure(in NetworkIntent, verr *ValidationError) {
	err := c.validate.Struct(in)
	if err == nil {
		return
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		verr.add("", CodeInvalidField, "%v", err)
		return
	}

	for _, fe := range fieldErrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}

		switch {
		case fe.Tag() == "required":
			verr.add(field, CodeMissingField, "is required")
		case fe.Tag() == "min" && fe.Kind() == reflect.Slice:
			verr.add(field, CodeMissingField, "at least %s entry is required", fe.Param())
		case fe.Tag() == "networkname":
			verr.add(field, CodeInvalidField, "%q may contain only letters, digits, '-' and '_'", fe.Value())
		case fe.Tag() == "min" || fe.Tag() == "max":
			verr.add(field, CodeInvalidField, "value %v violates %s=%s", fe.Value(), fe.Tag(), fe.Param())
		default:
			verr.add(field, CodeInvalidField, "failed %s validation", fe.Tag())
		}
	}
}

// Compile validates in and derives the compiled configuration.
// The returned error is always a *ValidationError.
func (c *Compiler) Compile(in NetworkIntent) (*CompiledConfiguration, error) {
	verr := &ValidationError{}
	prefix := c.validateInto(in, verr)
	if err := verr.errOrNil(); err != nil {
		return nil, err
	}

	interfaces, err := c.deriveInterfaces(in, prefix)
	if err != nil {
		verr.add("subnetMask", CodeInvalidNetworkRange, "%v", err)
		return nil, verr
	}

	vlanID := in.VLANs[0].ID
	cfg := &CompiledConfiguration{
		NetworkName: in.NetworkName,
		Interfaces:  interfaces,
		NetworkRanges: []NetworkRange{{
			Name:   in.NetworkName + "_main",
			Subnet: prefix.String(),
			VLANID: vlanID,
		}},
		FailoverGroups:    []FailoverGroup{},
		FailoverEnabled:   in.FailoverEnabled,
		MonitoringEnabled: in.MonitoringEnabled,
	}

	if in.FailoverEnabled && len(interfaces) >= 2 {
		groups, err := c.opts.Strategy.Groups(in, interfaces)
		if err != nil {
			verr.add("failoverGroups", CodeInvalidGrouping, "strategy %s: %v", c.opts.Strategy.Name(), err)
			return nil, verr
		}
		checkGroups(groups, cfg.InterfaceNames(), verr)
		if err := verr.errOrNil(); err != nil {
			return nil, err
		}
		cfg.FailoverGroups = groups
	}

	return cfg, nil
}

func (c *Compiler) deriveInterfaces(in NetworkIntent, prefix netip.Prefix) ([]InterfaceConfig, error) {
	addrs, err := HostAddresses(prefix, c.opts.AddressOffset, c.opts.InterfaceCount)
	if err != nil {
		return nil, err
	}

	interfaces := make([]InterfaceConfig, c.opts.InterfaceCount)
	for i := range interfaces {
		interfaces[i] = InterfaceConfig{
			Name:             fmt.Sprintf("%s%d", c.opts.InterfacePrefix, i),
			Description:      fmt.Sprintf("%s interface %d", in.NetworkName, i),
			Speed:            in.InterfaceSpeed,
			IPAddress:        addrs[i],
			VLANID:           in.VLANs[0].ID,
			MTU:              DefaultMTU,
			FailoverPriority: i + 1,
			Enabled:          true,
		}
	}
	return interfaces, nil
}

// checkGroups enforces group invariants on strategy output.
func checkGroups(groups []FailoverGroup, known []string, verr *ValidationError) {
	knownSet := make(map[string]bool, len(known))
	for _, n := range known {
		knownSet[n] = true
	}

	seen := make(map[string]bool, len(groups))
	for i, g := range groups {
		field := fmt.Sprintf("failoverGroups[%d]", i)
		if g.Name == "" {
			verr.add(field, CodeInvalidGrouping, "group name is required")
		} else if seen[g.Name] {
			verr.add(field, CodeInvalidGrouping, "duplicate group name %q", g.Name)
		}
		seen[g.Name] = true

		if len(g.PrimaryInterfaces) == 0 {
			verr.add(field, CodeInvalidGrouping, "group %q has no primary interface", g.Name)
		}

		primaries := make(map[string]bool, len(g.PrimaryInterfaces))
		for _, p := range g.PrimaryInterfaces {
			primaries[p] = true
		}
		for _, b := range g.BackupInterfaces {
			if primaries[b] {
				verr.add(field, CodeInvalidGrouping, "interface %q is both primary and backup in group %q", b, g.Name)
			}
		}
		for _, m := range g.Members() {
			if !knownSet[m] {
				verr.add(field, CodeInvalidGrouping, "group %q references unknown interface %q", g.Name, m)
			}
		}
	}
}

// ParseNetwork parses an IPv4 network address and a prefix length or dotted
// mask into a masked prefix.
func ParseNetwork(network, mask string) (netip.Prefix, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(network))
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid network address %q", network)
	}
	if !addr.Is4() {
		return netip.Prefix{}, fmt.Errorf("network address %q is not IPv4", network)
	}

	prefixLen, err := parseMask(mask)
	if err != nil {
		return netip.Prefix{}, err
	}

	return netip.PrefixFrom(addr, prefixLen).Masked(), nil
}

func parseMask(mask string) (int, error) {
	mask = strings.TrimPrefix(strings.TrimSpace(mask), "/")

	if strings.Contains(mask, ".") {
		m, err := netip.ParseAddr(mask)
		if err != nil || !m.Is4() {
			return 0, fmt.Errorf("invalid subnet mask %q", mask)
		}
		b := m.As4()
		v := binary.BigEndian.Uint32(b[:])
		ones := bits.OnesCount32(v)
		if v != ^uint32(0)<<(32-ones) {
			return 0, fmt.Errorf("subnet mask %q is not contiguous", mask)
		}
		return ones, nil
	}

	n, err := strconv.Atoi(mask)
	if err != nil || n < 0 || n > 32 {
		return 0, fmt.Errorf("invalid prefix length %q", mask)
	}
	return n, nil
}

// IsPrivate reports whether the whole prefix lies inside RFC1918 space.
func IsPrivate(p netip.Prefix) bool {
	for _, private := range privateRanges {
		if p.Bits() >= private.Bits() && private.Contains(p.Addr()) {
			return true
		}
	}
	return false
}

// HostAddresses returns count host addresses in CIDR form, starting offset
// hosts past the network address.
func HostAddresses(p netip.Prefix, offset, count int) ([]string, error) {
	hostBits := 32 - p.Bits()
	if hostBits < 2 {
		return nil, fmt.Errorf("prefix %s has no room for host addresses", p)
	}

	// The broadcast address is excluded.
	usable := uint64(1)<<hostBits - 2
	last := uint64(offset) + uint64(count) - 1
	if last > usable {
		return nil, fmt.Errorf("prefix %s cannot hold %d addresses starting at offset %d", p, count, offset)
	}

	b := p.Masked().Addr().As4()
	base := binary.BigEndian.Uint32(b[:])

	out := make([]string, count)
	for i := 0; i < count; i++ {
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], base+uint32(offset+i))
		out[i] = fmt.Sprintf("%s/%d", netip.AddrFrom4(buf), p.Bits())
	}
	return out, nil
}
