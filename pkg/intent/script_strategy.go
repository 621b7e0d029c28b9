package intent

import (
	"fmt"
	"os"
	"sort"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// scriptEntryPoint is the function a grouping script must define.
const scriptEntryPoint = "groups"

// maxScriptSteps bounds the work a grouping script may do.
const maxScriptSteps = 1_000_000

// ScriptStrategy derives failover groups by running a Starlark script.
//
// The script must define:
//
//	def groups(intent, interfaces):
//	    return [{"name": "uplink", "primary": ["eth0"], "backup": ["eth1", "eth2"]}]
//
// intent is a dict with the intent's fields and interfaces is a list of dicts
// in priority order. Each returned entry may be a dict or a struct with
// name, primary and backup fields.
type ScriptStrategy struct {
	name    string
	source  string
	timeout time.Duration
}

// NewScriptStrategy creates a strategy from Starlark source.
func NewScriptStrategy(name, source string, timeout time.Duration) (*ScriptStrategy, error) {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	if name == "" {
		name = "grouping.star"
	}

	// Compile once up front so syntax errors surface at construction.
	if _, _, err := starlark.SourceProgram(name, source, isPredeclared); err != nil {
		return nil, fmt.Errorf("failed to parse grouping script: %w", err)
	}

	return &ScriptStrategy{name: name, source: source, timeout: timeout}, nil
}

// NewScriptStrategyFromFile loads a grouping script from disk.
func NewScriptStrategyFromFile(path string, timeout time.Duration) (*ScriptStrategy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read grouping script: %w", err)
	}
	return NewScriptStrategy(path, string(data), timeout)
}

func isPredeclared(name string) bool {
	return name == "struct"
}

// Name implements GroupingStrategy.
func (s *ScriptStrategy) Name() string { return "script" }

// Groups implements GroupingStrategy.
func (s *ScriptStrategy) Groups(in NetworkIntent, interfaces []InterfaceConfig) ([]FailoverGroup, error) {
	thread := &starlark.Thread{
		Name:  "grouping",
		Print: func(_ *starlark.Thread, _ string) {},
	}
	thread.SetMaxExecutionSteps(maxScriptSteps)

	timer := time.AfterFunc(s.timeout, func() {
		thread.Cancel(fmt.Sprintf("grouping script exceeded %v", s.timeout))
	})
	defer timer.Stop()

	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
	}

	globals, err := starlark.ExecFile(thread, s.name, s.source, predeclared)
	if err != nil {
		return nil, fmt.Errorf("grouping script failed: %w", err)
	}

	fn, ok := globals[scriptEntryPoint].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("grouping script must define %s(intent, interfaces)", scriptEntryPoint)
	}

	intentVal, err := toStarlarkValue(intentInput(in))
	if err != nil {
		return nil, err
	}
	ifaceVal, err := toStarlarkValue(interfacesInput(interfaces))
	if err != nil {
		return nil, err
	}

	result, err := starlark.Call(thread, fn, starlark.Tuple{intentVal, ifaceVal}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s() failed: %w", scriptEntryPoint, err)
	}

	raw, err := fromStarlarkValue(result)
	if err != nil {
		return nil, err
	}
	return decodeGroups(raw)
}

func intentInput(in NetworkIntent) map[string]interface{} {
	vlans := make([]interface{}, len(in.VLANs))
	for i, v := range in.VLANs {
		vlans[i] = map[string]interface{}{"id": v.ID, "name": v.Name}
	}
	return map[string]interface{}{
		"networkName":       in.NetworkName,
		"networkRange":      in.NetworkRange,
		"subnetMask":        in.SubnetMask,
		"interfaceSpeed":    in.InterfaceSpeed,
		"vlans":             vlans,
		"failoverEnabled":   in.FailoverEnabled,
		"monitoringEnabled": in.MonitoringEnabled,
	}
}

func interfacesInput(interfaces []InterfaceConfig) []interface{} {
	out := make([]interface{}, len(interfaces))
	for i, iface := range interfaces {
		out[i] = map[string]interface{}{
			"name":             iface.Name,
			"speed":            iface.Speed,
			"ipAddress":        iface.IPAddress,
			"vlanId":           iface.VLANID,
			"mtu":              iface.MTU,
			"failoverPriority": iface.FailoverPriority,
		}
	}
	return out
}

func decodeGroups(raw interface{}) ([]FailoverGroup, error) {
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%s() must return a list, got %T", scriptEntryPoint, raw)
	}

	groups := make([]FailoverGroup, 0, len(list))
	for i, item := range list {
		entry, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("group %d must be a dict or struct, got %T", i, item)
		}

		name, _ := entry["name"].(string)
		primary, err := stringList(firstOf(entry, "primary", "primaryInterfaces"))
		if err != nil {
			return nil, fmt.Errorf("group %d primary: %w", i, err)
		}
		backup, err := stringList(firstOf(entry, "backup", "backupInterfaces"))
		if err != nil {
			return nil, fmt.Errorf("group %d backup: %w", i, err)
		}

		groups = append(groups, FailoverGroup{
			Name:              name,
			PrimaryInterfaces: primary,
			BackupInterfaces:  backup,
		})
	}
	return groups, nil
}

func firstOf(m map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}

func stringList(v interface{}) ([]string, error) {
	if v == nil {
		return []string{}, nil
	}
	list, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected a list of names, got %T", v)
	}
	out := make([]string, len(list))
	for i, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string at index %d, got %T", i, item)
		}
		out[i] = s
	}
	return out, nil
}

// toStarlarkValue converts a Go value to a Starlark value. Map keys are
// inserted in sorted order so scripts observe a stable iteration order.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		dict := starlark.NewDict(len(val))
		for _, k := range keys {
			sv, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]interface{}, len(val))
		for i, item := range val {
			gv, err := fromStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = gv
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
