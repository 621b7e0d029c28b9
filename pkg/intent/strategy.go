package intent

import "fmt"

// DefaultGroupName is the name of the group produced by the built-in strategies.
const DefaultGroupName = "primary_failover"

// GroupingStrategy derives failover groups from generated interfaces.
// Implementations must be deterministic; the compiler checks their output
// against group invariants.
type GroupingStrategy interface {
	// Name identifies the strategy in configuration and errors.
	Name() string

	// Groups returns the failover groups for the interfaces, which are in
	// generation (priority) order. It is only called with two or more interfaces.
	Groups(in NetworkIntent, interfaces []InterfaceConfig) ([]FailoverGroup, error)
}

// PairStrategy pairs the first interface as sole primary with the second as sole backup.
type PairStrategy struct{}

// Name implements GroupingStrategy.
func (PairStrategy) Name() string { return "pair" }

// Groups implements GroupingStrategy.
func (PairStrategy) Groups(_ NetworkIntent, interfaces []InterfaceConfig) ([]FailoverGroup, error) {
	if len(interfaces) < 2 {
		return nil, fmt.Errorf("need at least 2 interfaces, got %d", len(interfaces))
	}
	return []FailoverGroup{{
		Name:              DefaultGroupName,
		PrimaryInterfaces: []string{interfaces[0].Name},
		BackupInterfaces:  []string{interfaces[1].Name},
	}}, nil
}

// ChainStrategy keeps the first interface as primary and every other interface
// as an ordered backup.
type ChainStrategy struct{}

// Name implements GroupingStrategy.
func (ChainStrategy) Name() string { return "chain" }

// Groups implements GroupingStrategy.
func (ChainStrategy) Groups(_ NetworkIntent, interfaces []InterfaceConfig) ([]FailoverGroup, error) {
	if len(interfaces) < 2 {
		return nil, fmt.Errorf("need at least 2 interfaces, got %d", len(interfaces))
	}
	backups := make([]string, 0, len(interfaces)-1)
	for _, iface := range interfaces[1:] {
		backups = append(backups, iface.Name)
	}
	return []FailoverGroup{{
		Name:              DefaultGroupName,
		PrimaryInterfaces: []string{interfaces[0].Name},
		BackupInterfaces:  backups,
	}}, nil
}

// StrategyByName returns a built-in strategy. The "script" strategy needs a
// script and is built with NewScriptStrategy instead.
func StrategyByName(name string) (GroupingStrategy, error) {
	switch name {
	case "", "pair":
		return PairStrategy{}, nil
	case "chain":
		return ChainStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown grouping strategy: %s", name)
	}
}
