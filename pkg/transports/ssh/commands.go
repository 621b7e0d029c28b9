package ssh

import (
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
	"strings"

	"github.com/openfroyo/pathguard/pkg/intent"
	"github.com/openfroyo/pathguard/pkg/transports"
)

// Linux limits interface names to 15 bytes.
var ifaceNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.:@-]{1,15}$`)

// iffUp is IFF_UP in /sys/class/net/*/flags.
const iffUp = 0x1

func checkInterfaceName(name string) error {
	if !ifaceNamePattern.MatchString(name) {
		return fmt.Errorf("invalid interface name %q", name)
	}
	return nil
}

// interfaceCommands returns the ip(8) commands that bring entry to its
// desired state. The link is always left up so a disabled interface can
// still be probed; disabling removes its global addresses.
func interfaceCommands(entry intent.InterfaceEntry) ([]string, error) {
	if err := checkInterfaceName(entry.Name); err != nil {
		return nil, err
	}

	var cmds []string
	if entry.MTU > 0 {
		cmds = append(cmds, fmt.Sprintf("ip link set dev %s mtu %d", entry.Name, entry.MTU))
	}
	cmds = append(cmds, fmt.Sprintf("ip link set dev %s up", entry.Name))

	if !entry.Enabled {
		return append(cmds, fmt.Sprintf("ip addr flush dev %s scope global", entry.Name)), nil
	}

	if entry.IPAddress != "" {
		prefix, err := netip.ParsePrefix(entry.IPAddress)
		if err != nil {
			return nil, fmt.Errorf("interface %s: invalid address %q", entry.Name, entry.IPAddress)
		}
		cmds = append(cmds, fmt.Sprintf("ip addr replace %s dev %s", prefix, entry.Name))
	}
	return cmds, nil
}

func healthCommand(name string) string {
	return fmt.Sprintf("cat /sys/class/net/%s/operstate", name)
}

// parseOperState maps an operstate value to link health. Interfaces without
// carrier detection report "unknown" and are treated as up.
func parseOperState(s string) bool {
	switch strings.TrimSpace(s) {
	case "up", "unknown":
		return true
	default:
		return false
	}
}

const listSeparator = "---"

const listCommand = `for d in /sys/class/net/*; do ` +
	`printf '%s %s %s %s %s\n' "${d##*/}" "$(cat $d/operstate)" "$(cat $d/flags)" "$(cat $d/mtu)" "$(cat $d/speed 2>/dev/null || echo -1)"; ` +
	`done; echo ` + listSeparator + `; ip -o -4 addr show scope global`

// parseInterfaceListing parses the output of listCommand. An interface is
// reported enabled when it is administratively up and holds a global address.
func parseInterfaceListing(out string) ([]transports.InterfaceStatus, error) {
	sysfs, addrs, _ := strings.Cut(out, listSeparator)

	var result []transports.InterfaceStatus
	index := make(map[string]int)

	for _, line := range strings.Split(sysfs, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 5 {
			return nil, fmt.Errorf("malformed interface line %q", line)
		}
		if fields[0] == "lo" {
			continue
		}

		flags, err := strconv.ParseUint(strings.TrimPrefix(fields[2], "0x"), 16, 32)
		if err != nil {
			return nil, fmt.Errorf("interface %s: bad flags %q", fields[0], fields[2])
		}
		mtu, err := strconv.Atoi(fields[3])
		if err != nil {
			return nil, fmt.Errorf("interface %s: bad mtu %q", fields[0], fields[3])
		}
		speed, err := strconv.Atoi(fields[4])
		if err != nil {
			speed = -1
		}

		index[fields[0]] = len(result)
		result = append(result, transports.InterfaceStatus{
			Name:    fields[0],
			Up:      parseOperState(fields[1]),
			Enabled: flags&iffUp != 0,
			Speed:   formatSpeed(speed),
			MTU:     mtu,
		})
	}

	// 2: eth0    inet 10.0.0.10/24 brd 10.0.0.255 scope global eth0\ ...
	for _, line := range strings.Split(addrs, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 || fields[2] != "inet" {
			continue
		}
		i, ok := index[fields[1]]
		if !ok || result[i].Address != "" {
			continue
		}
		result[i].Address = fields[3]
	}

	for i := range result {
		if result[i].Address == "" {
			result[i].Enabled = false
		}
	}
	return result, nil
}

// formatSpeed renders a sysfs speed in Mb/s using the intent speed labels.
func formatSpeed(mbps int) string {
	switch {
	case mbps <= 0:
		return ""
	case mbps%1000 == 0:
		return fmt.Sprintf("%dG", mbps/1000)
	default:
		return fmt.Sprintf("%dM", mbps)
	}
}
