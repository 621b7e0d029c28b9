package failover

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/pathguard/pkg/intent"
	"github.com/openfroyo/pathguard/pkg/transports"
)

// recordingSink is a mock MetricsSink that keeps every event.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (r *recordingSink) last(t EventType) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == t {
			return r.events[i], true
		}
	}
	return Event{}, false
}

func compileOffice(t *testing.T, strategy intent.GroupingStrategy) *intent.CompiledConfiguration {
	t.Helper()
	compiler := intent.NewCompiler(intent.Options{Strategy: strategy})
	compiled, err := compiler.Compile(intent.NetworkIntent{
		NetworkName:       "office",
		NetworkRange:      "10.0.0.0",
		SubnetMask:        "24",
		InterfaceSpeed:    "1G",
		VLANs:             []intent.VLAN{{ID: 10}},
		FailoverEnabled:   true,
		MonitoringEnabled: true,
	})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	return compiled
}

func testConfig() Config {
	return Config{
		Interval:          20 * time.Millisecond,
		FailureThreshold:  3,
		RecoveryThreshold: 5,
		ProbeTimeout:      time.Second,
		StopTimeout:       time.Second,
	}
}

// newTestOrchestrator returns an orchestrator with one connected simulated
// device "lab" (eth0..eth3) carrying the pair-strategy configuration.
func newTestOrchestrator(t *testing.T) (*Orchestrator, *transports.Simulated, *recordingSink) {
	t.Helper()

	sim := transports.NewSimulated("lab", "eth0", "eth1", "eth2", "eth3")
	sink := &recordingSink{}
	o := NewOrchestrator(testConfig(), sink, zerolog.Nop())

	if err := o.AddDevice("lab", sim); err != nil {
		t.Fatalf("AddDevice failed: %v", err)
	}
	if err := o.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := o.Apply("lab", compileOffice(t, nil)); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	return o, sim, sink
}

func runCycles(t *testing.T, o *Orchestrator, group string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := o.RunCycle(context.Background(), group); err != nil {
			t.Fatalf("RunCycle %d failed: %v", i+1, err)
		}
	}
}

func mustStatus(t *testing.T, o *Orchestrator, name string) GroupStatus {
	t.Helper()
	s, ok := o.Status(name)
	if !ok {
		t.Fatalf("group %s not found", name)
	}
	return s
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Interval != 10*time.Second {
		t.Errorf("expected interval 10s, got %v", cfg.Interval)
	}
	if cfg.FailureThreshold != 3 || cfg.RecoveryThreshold != 5 {
		t.Errorf("unexpected thresholds %d/%d", cfg.FailureThreshold, cfg.RecoveryThreshold)
	}

	got := Config{FailureThreshold: 2}.withDefaults()
	if got.FailureThreshold != 2 {
		t.Errorf("expected explicit threshold to be kept, got %d", got.FailureThreshold)
	}
	if got.StopTimeout != 15*time.Second {
		t.Errorf("expected default stop timeout, got %v", got.StopTimeout)
	}
}

func TestOrchestrator_InitialState(t *testing.T) {
	o, _, sink := newTestOrchestrator(t)

	s := mustStatus(t, o, "primary_failover")
	if s.Phase != PhasePrimaryActive {
		t.Errorf("expected %s, got %s", PhasePrimaryActive, s.Phase)
	}
	if s.CurrentActive != "eth0" {
		t.Errorf("expected eth0 active, got %s", s.CurrentActive)
	}
	if s.Device != "lab" {
		t.Errorf("expected device lab, got %s", s.Device)
	}
	if sink.count(EventGroupState) != 1 {
		t.Errorf("expected one group_state event on registration, got %d", sink.count(EventGroupState))
	}
}

func TestOrchestrator_FailoverAndFailback(t *testing.T) {
	o, sim, sink := newTestOrchestrator(t)

	sim.QueueProbes("eth0", transports.Unhealthy, transports.Unhealthy, transports.Unhealthy)

	runCycles(t, o, "primary_failover", 2)
	s := mustStatus(t, o, "primary_failover")
	if s.Phase != PhasePrimaryActive || s.Failures != 2 {
		t.Fatalf("expected primary active with 2 failures, got %s with %d", s.Phase, s.Failures)
	}

	runCycles(t, o, "primary_failover", 1)
	s = mustStatus(t, o, "primary_failover")
	if s.Phase != PhaseBackupActive {
		t.Fatalf("expected %s after 3 failures, got %s", PhaseBackupActive, s.Phase)
	}
	if s.CurrentActive != "eth1" {
		t.Errorf("expected eth1 active, got %s", s.CurrentActive)
	}
	if s.Failures != 0 || s.Recoveries != 0 {
		t.Errorf("expected counters reset, got %d/%d", s.Failures, s.Recoveries)
	}

	pushes := sim.Pushes()
	if len(pushes) != 2 {
		t.Fatalf("expected 2 targeted pushes, got %d", len(pushes))
	}
	first, second := pushes[0].Network.Interfaces[0], pushes[1].Network.Interfaces[0]
	if first.Name != "eth1" || !first.Enabled {
		t.Errorf("expected eth1 enabled first, got %s enabled=%t", first.Name, first.Enabled)
	}
	if second.Name != "eth0" || second.Enabled {
		t.Errorf("expected eth0 disabled second, got %s enabled=%t", second.Name, second.Enabled)
	}

	if n := sink.count(EventFailover); n != 1 {
		t.Fatalf("expected exactly one failover_triggered event, got %d", n)
	}
	ev, _ := sink.last(EventFailover)
	if ev.From != "eth0" || ev.To != "eth1" || ev.Group != "primary_failover" {
		t.Errorf("unexpected failover event %+v", ev)
	}

	// Primary link is healthy again once its script is exhausted.
	runCycles(t, o, "primary_failover", 4)
	s = mustStatus(t, o, "primary_failover")
	if s.Phase != PhaseBackupActive || s.Recoveries != 4 {
		t.Fatalf("expected backup active with 4 recoveries, got %s with %d", s.Phase, s.Recoveries)
	}

	runCycles(t, o, "primary_failover", 1)
	s = mustStatus(t, o, "primary_failover")
	if s.Phase != PhasePrimaryActive || s.CurrentActive != "eth0" {
		t.Fatalf("expected failback to eth0, got %s on %s", s.Phase, s.CurrentActive)
	}
	if s.Switches != 2 {
		t.Errorf("expected 2 switches, got %d", s.Switches)
	}
	if sink.count(EventFailback) != 1 {
		t.Errorf("expected one failback_triggered event, got %d", sink.count(EventFailback))
	}

	eth1, _ := sim.Interface("eth1")
	eth0, _ := sim.Interface("eth0")
	if !eth0.Enabled || eth1.Enabled {
		t.Errorf("expected eth0 enabled and eth1 disabled, got %t/%t", eth0.Enabled, eth1.Enabled)
	}
}

func TestOrchestrator_Hysteresis(t *testing.T) {
	u, h := transports.Unhealthy, transports.Healthy

	tests := []struct {
		name       string
		primary    []transports.ProbeResult
		backup     []transports.ProbeResult
		cycles     int
		wantPhase  Phase
		wantActive string
		wantFails  int
	}{
		{
			name:       "blip does not switch",
			primary:    []transports.ProbeResult{u, u, h},
			cycles:     3,
			wantPhase:  PhasePrimaryActive,
			wantActive: "eth0",
			wantFails:  0,
		},
		{
			name:       "failures reset by a healthy probe",
			primary:    []transports.ProbeResult{u, u, h, u, u},
			cycles:     5,
			wantPhase:  PhasePrimaryActive,
			wantActive: "eth0",
			wantFails:  2,
		},
		{
			name:       "threshold switches",
			primary:    []transports.ProbeResult{u, u, u},
			cycles:     3,
			wantPhase:  PhaseBackupActive,
			wantActive: "eth1",
		},
		{
			name:       "unhealthy backup is still chosen as last resort",
			primary:    []transports.ProbeResult{u, u, u},
			backup:     []transports.ProbeResult{u},
			cycles:     3,
			wantPhase:  PhaseBackupActive,
			wantActive: "eth1",
		},
		{
			name:       "probe errors count as unhealthy",
			primary:    []transports.ProbeResult{{Err: errors.New("timeout")}, {Err: errors.New("timeout")}, {Err: errors.New("timeout")}},
			cycles:     3,
			wantPhase:  PhaseBackupActive,
			wantActive: "eth1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, sim, _ := newTestOrchestrator(t)
			sim.QueueProbes("eth0", tt.primary...)
			sim.QueueProbes("eth1", tt.backup...)

			runCycles(t, o, "primary_failover", tt.cycles)

			s := mustStatus(t, o, "primary_failover")
			if s.Phase != tt.wantPhase {
				t.Errorf("expected phase %s, got %s", tt.wantPhase, s.Phase)
			}
			if s.CurrentActive != tt.wantActive {
				t.Errorf("expected active %s, got %s", tt.wantActive, s.CurrentActive)
			}
			if s.Failures != tt.wantFails {
				t.Errorf("expected %d failures, got %d", tt.wantFails, s.Failures)
			}
		})
	}
}

// erroringTransport fails every health probe.
type erroringTransport struct {
	*transports.Simulated
}

func (e *erroringTransport) CheckHealth(ctx context.Context, name string) (bool, error) {
	return false, transports.NewError("health", "lab", errors.New("i/o timeout"), true)
}

func TestOrchestrator_SustainedProbeErrors(t *testing.T) {
	et := &erroringTransport{Simulated: transports.NewSimulated("lab", "eth0", "eth1", "eth2", "eth3")}
	sink := &recordingSink{}
	o := NewOrchestrator(testConfig(), sink, zerolog.Nop())
	if err := o.AddDevice("lab", et); err != nil {
		t.Fatalf("AddDevice failed: %v", err)
	}
	if err := o.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := o.Apply("lab", compileOffice(t, nil)); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	runCycles(t, o, "primary_failover", 24)

	s := mustStatus(t, o, "primary_failover")
	if s.Phase != PhaseBackupActive || s.CurrentActive != "eth1" {
		t.Errorf("expected backup active on eth1, got %s on %s", s.Phase, s.CurrentActive)
	}
	if n := sink.count(EventFailover); n != 1 {
		t.Errorf("expected exactly one failover, got %d", n)
	}
	if n := sink.count(EventFailback); n != 0 {
		t.Errorf("expected no failback, got %d", n)
	}
}

func TestOrchestrator_CancelledCycleLeavesStateAlone(t *testing.T) {
	o, sim, sink := newTestOrchestrator(t)

	sim.SetLink("eth0", false)
	runCycles(t, o, "primary_failover", 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := o.RunCycle(ctx, "primary_failover"); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	s := mustStatus(t, o, "primary_failover")
	if s.Phase != PhasePrimaryActive || s.CurrentActive != "eth0" {
		t.Errorf("expected primary active on eth0, got %s on %s", s.Phase, s.CurrentActive)
	}
	if s.Failures != 2 {
		t.Errorf("expected failures to stay at 2, got %d", s.Failures)
	}
	if sink.count(EventFailover) != 0 {
		t.Error("cancelled cycle must not emit failover_triggered")
	}
	if len(sim.Pushes()) != 0 {
		t.Errorf("expected no pushes, got %d", len(sim.Pushes()))
	}
}

func TestOrchestrator_FailoverKeepsOldInterfaceWhenActivationFails(t *testing.T) {
	o, sim, _ := newTestOrchestrator(t)

	sim.SetLink("eth0", false)
	sim.FailPush(errors.New("device busy"))
	runCycles(t, o, "primary_failover", 3)

	if s := mustStatus(t, o, "primary_failover"); s.Phase != PhaseBackupActive {
		t.Errorf("expected %s, got %s", PhaseBackupActive, s.Phase)
	}
	if eth0, _ := sim.Interface("eth0"); !eth0.Enabled {
		t.Error("expected eth0 to stay enabled when eth1 could not be activated")
	}
}

func TestOrchestrator_RecoveryResetsOnUnhealthyPrimary(t *testing.T) {
	o, sim, _ := newTestOrchestrator(t)
	u, h := transports.Unhealthy, transports.Healthy

	sim.QueueProbes("eth0", u, u, u)
	runCycles(t, o, "primary_failover", 3)

	sim.QueueProbes("eth0", h, h, h, h, u)
	runCycles(t, o, "primary_failover", 5)

	s := mustStatus(t, o, "primary_failover")
	if s.Phase != PhaseBackupActive {
		t.Fatalf("expected backup still active, got %s", s.Phase)
	}
	if s.Recoveries != 0 {
		t.Errorf("expected recoveries reset, got %d", s.Recoveries)
	}

	runCycles(t, o, "primary_failover", 5)
	if s := mustStatus(t, o, "primary_failover"); s.Phase != PhasePrimaryActive {
		t.Errorf("expected failback after 5 healthy probes, got %s", s.Phase)
	}
}

func TestOrchestrator_ChainPicksFirstHealthyBackup(t *testing.T) {
	sim := transports.NewSimulated("lab", "eth0", "eth1", "eth2", "eth3")
	o := NewOrchestrator(testConfig(), nil, zerolog.Nop())
	if err := o.AddDevice("lab", sim); err != nil {
		t.Fatalf("AddDevice failed: %v", err)
	}
	if err := o.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := o.Apply("lab", compileOffice(t, intent.ChainStrategy{})); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	groups := o.Snapshot()
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	name := groups[0].Name

	sim.SetLink("eth0", false)
	sim.SetLink("eth1", false)
	runCycles(t, o, name, 3)

	if s := mustStatus(t, o, name); s.CurrentActive != "eth2" {
		t.Errorf("expected eth2 (first healthy backup), got %s", s.CurrentActive)
	}
}

func TestOrchestrator_NoBackupsKeepsPrimary(t *testing.T) {
	o, sim, sink := newTestOrchestrator(t)

	if err := o.RegisterGroup("lab", intent.FailoverGroup{Name: "solo", PrimaryInterfaces: []string{"eth2"}}); err != nil {
		t.Fatalf("RegisterGroup failed: %v", err)
	}
	sim.SetLink("eth2", false)
	runCycles(t, o, "solo", 3)

	s := mustStatus(t, o, "solo")
	if s.Phase != PhasePrimaryActive || s.CurrentActive != "eth2" {
		t.Errorf("expected group to stay on eth2, got %s on %s", s.Phase, s.CurrentActive)
	}
	if s.Failures != 0 {
		t.Errorf("expected failures reset at threshold, got %d", s.Failures)
	}
	if sink.count(EventFailover) != 0 {
		t.Error("expected no failover event")
	}
}

func TestOrchestrator_FailbackAbortedWhenPrimaryActivationFails(t *testing.T) {
	o, sim, sink := newTestOrchestrator(t)

	sim.SetLink("eth0", false)
	runCycles(t, o, "primary_failover", 3)
	if s := mustStatus(t, o, "primary_failover"); s.Phase != PhaseBackupActive {
		t.Fatalf("expected failover, got %s", s.Phase)
	}

	sim.SetLink("eth0", true)
	sim.FailPush(errors.New("device busy"))
	runCycles(t, o, "primary_failover", 5)

	s := mustStatus(t, o, "primary_failover")
	if s.Phase != PhaseBackupActive || s.CurrentActive != "eth1" {
		t.Fatalf("expected backup to stay active, got %s on %s", s.Phase, s.CurrentActive)
	}
	if s.Recoveries != 0 {
		t.Errorf("expected recoveries reset, got %d", s.Recoveries)
	}
	ev, ok := sink.last(EventSwitchError)
	if !ok {
		t.Fatal("expected switch_error event")
	}
	if ev.Interface != "eth0" || !ev.Healthy {
		t.Errorf("expected failed enable of eth0, got %+v", ev)
	}

	sim.FailPush(nil)
	runCycles(t, o, "primary_failover", 5)
	if s := mustStatus(t, o, "primary_failover"); s.Phase != PhasePrimaryActive {
		t.Errorf("expected failback once pushes succeed, got %s", s.Phase)
	}
}

func TestOrchestrator_RegisterConflicts(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	tests := []struct {
		name  string
		group intent.FailoverGroup
		code  string
	}{
		{
			name:  "unknown interface",
			group: intent.FailoverGroup{Name: "g", PrimaryInterfaces: []string{"eth0"}, BackupInterfaces: []string{"eth9"}},
			code:  CodeUnknownInterface,
		},
		{
			name:  "empty primary",
			group: intent.FailoverGroup{Name: "g", BackupInterfaces: []string{"eth1"}},
			code:  CodeEmptyPrimary,
		},
		{
			name:  "overlap",
			group: intent.FailoverGroup{Name: "g", PrimaryInterfaces: []string{"eth0"}, BackupInterfaces: []string{"eth0"}},
			code:  CodeOverlap,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := o.RegisterGroup("lab", tt.group)
			if err == nil {
				t.Fatal("expected error")
			}
			if !IsConflict(err) {
				t.Errorf("expected conflict, got %v", err)
			}
			if !HasCode(err, tt.code) {
				t.Errorf("expected code %s, got %v", tt.code, err)
			}
			if _, ok := o.Status("g"); ok {
				t.Error("rejected group must not be registered")
			}
		})
	}
}

func TestOrchestrator_RegisterRequiresConfiguration(t *testing.T) {
	o := NewOrchestrator(testConfig(), nil, zerolog.Nop())
	if err := o.AddDevice("lab", transports.NewSimulated("lab", "eth0")); err != nil {
		t.Fatalf("AddDevice failed: %v", err)
	}

	err := o.RegisterGroup("lab", intent.FailoverGroup{Name: "g", PrimaryInterfaces: []string{"eth0"}})
	if !IsState(err) || !HasCode(err, CodeNoConfiguration) {
		t.Errorf("expected NO_CONFIGURATION state error, got %v", err)
	}

	err = o.RegisterGroup("other", intent.FailoverGroup{Name: "g", PrimaryInterfaces: []string{"eth0"}})
	if !HasCode(err, CodeUnknownDevice) {
		t.Errorf("expected UNKNOWN_DEVICE, got %v", err)
	}

	if err := o.AddDevice("lab", transports.NewSimulated("lab")); !HasCode(err, CodeDuplicateDevice) {
		t.Errorf("expected DUPLICATE_DEVICE, got %v", err)
	}
}

func TestOrchestrator_ReregisterResetsState(t *testing.T) {
	o, sim, _ := newTestOrchestrator(t)

	sim.SetLink("eth0", false)
	runCycles(t, o, "primary_failover", 3)
	if s := mustStatus(t, o, "primary_failover"); s.Phase != PhaseBackupActive {
		t.Fatalf("expected failover, got %s", s.Phase)
	}

	err := o.RegisterGroup("lab", intent.FailoverGroup{
		Name:              "primary_failover",
		PrimaryInterfaces: []string{"eth2"},
		BackupInterfaces:  []string{"eth3"},
	})
	if err != nil {
		t.Fatalf("RegisterGroup failed: %v", err)
	}

	s := mustStatus(t, o, "primary_failover")
	if s.Phase != PhasePrimaryActive || s.CurrentActive != "eth2" {
		t.Errorf("expected fresh state on eth2, got %s on %s", s.Phase, s.CurrentActive)
	}
	if s.Failures != 0 || s.Switches != 0 {
		t.Errorf("expected counters reset, got failures=%d switches=%d", s.Failures, s.Switches)
	}
}

func TestOrchestrator_ApplyDeregistersRemovedGroups(t *testing.T) {
	o, _, sink := newTestOrchestrator(t)

	compiled := compileOffice(t, nil)
	compiled.FailoverGroups = nil
	if err := o.Apply("lab", compiled); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if len(o.Snapshot()) != 0 {
		t.Errorf("expected no groups, got %d", len(o.Snapshot()))
	}
	if sink.count(EventGroupRemoved) != 1 {
		t.Errorf("expected group_removed event, got %d", sink.count(EventGroupRemoved))
	}
	if err := o.RunCycle(context.Background(), "primary_failover"); !HasCode(err, CodeUnknownGroup) {
		t.Errorf("expected UNKNOWN_GROUP, got %v", err)
	}
	if o.DeregisterGroup("primary_failover") {
		t.Error("expected DeregisterGroup to report a missing group")
	}
}

func TestOrchestrator_ApplyRejectsWholeConfiguration(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	compiled := compileOffice(t, nil)
	compiled.FailoverGroups = append(compiled.FailoverGroups, intent.FailoverGroup{
		Name:              "broken",
		PrimaryInterfaces: []string{"eth7"},
	})
	if err := o.Apply("lab", compiled); !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, ok := o.Status("broken"); ok {
		t.Error("expected no partial registration")
	}
}

func TestOrchestrator_Snapshot(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	for _, fg := range []intent.FailoverGroup{
		{Name: "b_group", PrimaryInterfaces: []string{"eth2"}, BackupInterfaces: []string{"eth3"}},
		{Name: "a_group", PrimaryInterfaces: []string{"eth3"}, BackupInterfaces: []string{"eth2"}},
	} {
		if err := o.RegisterGroup("lab", fg); err != nil {
			t.Fatalf("RegisterGroup %s failed: %v", fg.Name, err)
		}
	}

	snap := o.Snapshot()
	want := []string{"a_group", "b_group", "primary_failover"}
	if len(snap) != len(want) {
		t.Fatalf("expected %d groups, got %d", len(want), len(snap))
	}
	for i, name := range want {
		if snap[i].Name != name {
			t.Errorf("snapshot[%d]: expected %s, got %s", i, name, snap[i].Name)
		}
	}

	snap[0].Primaries[0] = "mutated"
	if s := mustStatus(t, o, "a_group"); s.Primaries[0] != "eth3" {
		t.Error("snapshot must not share state with the orchestrator")
	}
}

func TestOrchestrator_StartStopMonitoring(t *testing.T) {
	o, sim, sink := newTestOrchestrator(t)
	ctx := context.Background()

	if err := o.StopMonitoring(); !HasCode(err, CodeNotRunning) {
		t.Errorf("expected NOT_RUNNING, got %v", err)
	}

	sim.SetLink("eth0", false)
	if err := o.StartMonitoring(ctx); err != nil {
		t.Fatalf("StartMonitoring failed: %v", err)
	}
	if !o.IsMonitoring() {
		t.Error("expected monitoring to be running")
	}
	if err := o.StartMonitoring(ctx); !HasCode(err, CodeAlreadyRunning) {
		t.Errorf("expected ALREADY_RUNNING, got %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if s := mustStatus(t, o, "primary_failover"); s.Phase == PhaseBackupActive {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for failover")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := o.StopMonitoring(); err != nil {
		t.Fatalf("StopMonitoring failed: %v", err)
	}
	if o.IsMonitoring() {
		t.Error("expected monitoring to be stopped")
	}
	if sink.count(EventMonitoringStarted) != 1 || sink.count(EventMonitoringStopped) != 1 {
		t.Error("expected one monitoring_started and one monitoring_stopped event")
	}
	if sink.count(EventInterfaceInventory) == 0 {
		t.Error("expected at least one interface inventory refresh")
	}

	// Monitoring can be restarted.
	if err := o.StartMonitoring(ctx); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if err := o.StopMonitoring(); err != nil {
		t.Fatalf("second StopMonitoring failed: %v", err)
	}
}

func TestOrchestrator_GroupRegisteredWhileMonitoring(t *testing.T) {
	o, sim, _ := newTestOrchestrator(t)

	if err := o.StartMonitoring(context.Background()); err != nil {
		t.Fatalf("StartMonitoring failed: %v", err)
	}
	defer func() { _ = o.StopMonitoring() }()

	if err := o.RegisterGroup("lab", intent.FailoverGroup{
		Name:              "late",
		PrimaryInterfaces: []string{"eth2"},
		BackupInterfaces:  []string{"eth3"},
	}); err != nil {
		t.Fatalf("RegisterGroup failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sim.ProbeCount("eth2") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("group registered while monitoring was never probed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// blockingTransport ignores cancellation while a health probe is held.
type blockingTransport struct {
	*transports.Simulated
	release chan struct{}
	entered chan struct{}
	once    sync.Once
}

func (b *blockingTransport) CheckHealth(ctx context.Context, name string) (bool, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return true, nil
}

func TestOrchestrator_StopTimeout(t *testing.T) {
	bt := &blockingTransport{
		Simulated: transports.NewSimulated("lab", "eth0", "eth1"),
		release:   make(chan struct{}),
		entered:   make(chan struct{}),
	}
	cfg := testConfig()
	cfg.StopTimeout = 50 * time.Millisecond

	o := NewOrchestrator(cfg, nil, zerolog.Nop())
	if err := o.AddDevice("lab", bt); err != nil {
		t.Fatalf("AddDevice failed: %v", err)
	}
	compiled := compileOffice(t, nil)
	compiled.Interfaces = compiled.Interfaces[:2]
	if err := o.Apply("lab", compiled); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if err := o.StartMonitoring(context.Background()); err != nil {
		t.Fatalf("StartMonitoring failed: %v", err)
	}

	<-bt.entered
	err := o.StopMonitoring()
	close(bt.release)

	if !HasCode(err, CodeStopTimeout) {
		t.Errorf("expected STOP_TIMEOUT, got %v", err)
	}
	if o.IsMonitoring() {
		t.Error("expected monitoring to be reported stopped after timeout")
	}
}

func TestOrchestrator_ReregisterDuringHungProbe(t *testing.T) {
	bt := &blockingTransport{
		Simulated: transports.NewSimulated("lab", "eth0", "eth1"),
		release:   make(chan struct{}),
		entered:   make(chan struct{}),
	}
	cfg := testConfig()
	cfg.StopTimeout = 50 * time.Millisecond

	o := NewOrchestrator(cfg, nil, zerolog.Nop())
	if err := o.AddDevice("lab", bt); err != nil {
		t.Fatalf("AddDevice failed: %v", err)
	}
	compiled := compileOffice(t, nil)
	compiled.Interfaces = compiled.Interfaces[:2]
	if err := o.Apply("lab", compiled); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if err := o.StartMonitoring(context.Background()); err != nil {
		t.Fatalf("StartMonitoring failed: %v", err)
	}
	defer close(bt.release)

	<-bt.entered

	registered := make(chan error, 1)
	go func() {
		registered <- o.RegisterGroup("lab", intent.FailoverGroup{
			Name:              "primary_failover",
			PrimaryInterfaces: []string{"eth1"},
			BackupInterfaces:  []string{"eth0"},
		})
	}()
	select {
	case err := <-registered:
		if err != nil {
			t.Fatalf("RegisterGroup failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("RegisterGroup blocked behind a hung probe")
	}

	if s := mustStatus(t, o, "primary_failover"); s.CurrentActive != "eth1" {
		t.Errorf("expected re-registered group to be published, got active %s", s.CurrentActive)
	}

	stopped := make(chan error, 1)
	go func() { stopped <- o.StopMonitoring() }()
	select {
	case err := <-stopped:
		if !HasCode(err, CodeStopTimeout) {
			t.Errorf("expected STOP_TIMEOUT, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("StopMonitoring blocked behind a hung probe")
	}
}

func TestOrchestrator_HungDeviceDoesNotDelayOtherGroups(t *testing.T) {
	bt := &blockingTransport{
		Simulated: transports.NewSimulated("slow", "eth0", "eth1", "eth2", "eth3"),
		release:   make(chan struct{}),
		entered:   make(chan struct{}),
	}
	fast := transports.NewSimulated("fast", "eth0", "eth1", "eth2", "eth3")

	cfg := testConfig()
	cfg.StopTimeout = 50 * time.Millisecond
	o := NewOrchestrator(cfg, nil, zerolog.Nop())
	if err := o.AddDevice("slow", bt); err != nil {
		t.Fatalf("AddDevice slow failed: %v", err)
	}
	if err := o.AddDevice("fast", fast); err != nil {
		t.Fatalf("AddDevice fast failed: %v", err)
	}
	if err := fast.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	slowCompiled := compileOffice(t, nil)
	slowCompiled.FailoverGroups[0].Name = "slow_failover"
	if err := o.Apply("slow", slowCompiled); err != nil {
		t.Fatalf("Apply slow failed: %v", err)
	}
	if err := o.Apply("fast", compileOffice(t, nil)); err != nil {
		t.Fatalf("Apply fast failed: %v", err)
	}

	fast.SetLink("eth0", false)
	if err := o.StartMonitoring(context.Background()); err != nil {
		t.Fatalf("StartMonitoring failed: %v", err)
	}
	defer close(bt.release)
	<-bt.entered

	deadline := time.Now().Add(2 * time.Second)
	for mustStatus(t, o, "primary_failover").Phase != PhaseBackupActive {
		if time.Now().After(deadline) {
			t.Fatal("fast group did not fail over while the slow device was hung")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if s := mustStatus(t, o, "slow_failover"); s.Phase != PhasePrimaryActive {
		t.Errorf("expected slow group untouched, got %s", s.Phase)
	}

	_ = o.StopMonitoring()
}

// gatedTransport holds the next health check of iface once armed.
type gatedTransport struct {
	*transports.Simulated
	iface string

	mu      sync.Mutex
	gate    chan struct{}
	entered chan struct{}
}

func (g *gatedTransport) arm() (entered, release chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entered, g.gate = make(chan struct{}), make(chan struct{})
	return g.entered, g.gate
}

func (g *gatedTransport) CheckHealth(ctx context.Context, name string) (bool, error) {
	g.mu.Lock()
	gate, entered := g.gate, g.entered
	if name == g.iface {
		g.gate, g.entered = nil, nil
	} else {
		gate = nil
	}
	g.mu.Unlock()

	if gate != nil {
		close(entered)
		<-gate
	}
	return g.Simulated.CheckHealth(ctx, name)
}

func TestOrchestrator_ReregisterDuringCycleSkipsSwitch(t *testing.T) {
	gt := &gatedTransport{
		Simulated: transports.NewSimulated("lab", "eth0", "eth1", "eth2", "eth3"),
		iface:     "eth0",
	}
	sink := &recordingSink{}
	o := NewOrchestrator(testConfig(), sink, zerolog.Nop())
	if err := o.AddDevice("lab", gt); err != nil {
		t.Fatalf("AddDevice failed: %v", err)
	}
	if err := o.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := o.Apply("lab", compileOffice(t, nil)); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	gt.SetLink("eth0", false)
	runCycles(t, o, "primary_failover", 2)

	entered, release := gt.arm()
	done := make(chan error, 1)
	go func() { done <- o.RunCycle(context.Background(), "primary_failover") }()
	<-entered

	if err := o.RegisterGroup("lab", intent.FailoverGroup{
		Name:              "primary_failover",
		PrimaryInterfaces: []string{"eth0"},
		BackupInterfaces:  []string{"eth1"},
	}); err != nil {
		t.Fatalf("RegisterGroup failed: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	s := mustStatus(t, o, "primary_failover")
	if s.Phase != PhasePrimaryActive || s.CurrentActive != "eth0" || s.Failures != 0 {
		t.Errorf("expected fresh state on eth0, got %s on %s with %d failures", s.Phase, s.CurrentActive, s.Failures)
	}
	if n := sink.count(EventFailover); n != 0 {
		t.Errorf("expected the superseded cycle not to fail over, got %d failovers", n)
	}
	ev, ok := sink.last(EventGroupState)
	if !ok {
		t.Fatal("expected group_state event")
	}
	if ev.Phase != PhasePrimaryActive || ev.Interface != "eth0" {
		t.Errorf("expected gauge PRIMARY_ACTIVE on eth0, got %s on %s", ev.Phase, ev.Interface)
	}
	if eth0, _ := gt.Interface("eth0"); !eth0.Enabled {
		t.Error("expected eth0 to stay enabled")
	}
	if n := len(gt.Pushes()); n != 0 {
		t.Errorf("expected no pushes, got %d", n)
	}
}

// cancellingTransport cancels the cycle context right after a push lands.
type cancellingTransport struct {
	*transports.Simulated
	cancel context.CancelFunc
}

func (c *cancellingTransport) PushConfig(ctx context.Context, doc *intent.Document) error {
	err := c.Simulated.PushConfig(ctx, doc)
	c.cancel()
	return err
}

func TestOrchestrator_CancelAfterActivationCommitsSwitch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ct := &cancellingTransport{
		Simulated: transports.NewSimulated("lab", "eth0", "eth1", "eth2", "eth3"),
		cancel:    cancel,
	}
	sink := &recordingSink{}
	o := NewOrchestrator(testConfig(), sink, zerolog.Nop())
	if err := o.AddDevice("lab", ct); err != nil {
		t.Fatalf("AddDevice failed: %v", err)
	}
	if err := o.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := o.Apply("lab", compileOffice(t, nil)); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	ct.SetLink("eth0", false)
	runCycles(t, o, "primary_failover", 2)
	if err := o.RunCycle(ctx, "primary_failover"); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	s := mustStatus(t, o, "primary_failover")
	if s.Phase != PhaseBackupActive || s.CurrentActive != "eth1" {
		t.Errorf("expected committed switch to eth1, got %s on %s", s.Phase, s.CurrentActive)
	}
	if s.Failures != 0 {
		t.Errorf("expected failures reset after the switch, got %d", s.Failures)
	}
	if n := sink.count(EventFailover); n != 1 {
		t.Errorf("expected one failover_triggered, got %d", n)
	}

	// The disable of eth0 ran on a cancelled context and never reached the device.
	if n := len(ct.Pushes()); n != 1 {
		t.Errorf("expected only the enable push, got %d", n)
	}
	eth0, _ := ct.Interface("eth0")
	eth1, _ := ct.Interface("eth1")
	if !eth0.Enabled || !eth1.Enabled {
		t.Errorf("expected both interfaces enabled, got eth0=%t eth1=%t", eth0.Enabled, eth1.Enabled)
	}
}

func TestWithDevice_CancelledContextSkipsCall(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	d := o.devices["lab"]

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 50; i++ {
		called := false
		err := o.withDevice(ctx, d, time.Second, func(context.Context) error {
			called = true
			return nil
		})
		if err == nil || called {
			t.Fatalf("attempt %d: expected no call on a cancelled context, err=%v called=%t", i, err, called)
		}
	}
}

// panickingTransport panics on the first health probe only.
type panickingTransport struct {
	*transports.Simulated
	mu       sync.Mutex
	panicked bool
}

func (p *panickingTransport) CheckHealth(ctx context.Context, name string) (bool, error) {
	p.mu.Lock()
	first := !p.panicked
	p.panicked = true
	p.mu.Unlock()
	if first {
		panic("driver bug")
	}
	return p.Simulated.CheckHealth(ctx, name)
}

func TestOrchestrator_PanicContained(t *testing.T) {
	pt := &panickingTransport{Simulated: transports.NewSimulated("lab", "eth0", "eth1", "eth2", "eth3")}
	o := NewOrchestrator(testConfig(), nil, zerolog.Nop())
	if err := o.AddDevice("lab", pt); err != nil {
		t.Fatalf("AddDevice failed: %v", err)
	}
	if err := o.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := o.Apply("lab", compileOffice(t, nil)); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	err := o.RunCycle(context.Background(), "primary_failover")
	if !HasCode(err, CodePanic) {
		t.Fatalf("expected PANIC error, got %v", err)
	}

	// The device semaphore and group lock were released.
	if err := o.RunCycle(context.Background(), "primary_failover"); err != nil {
		t.Fatalf("cycle after panic failed: %v", err)
	}
	if s := mustStatus(t, o, "primary_failover"); s.Failures != 0 {
		t.Errorf("expected healthy cycle, got %d failures", s.Failures)
	}
}

func TestOrchestrator_PushAndInventory(t *testing.T) {
	o, sim, _ := newTestOrchestrator(t)
	ctx := context.Background()

	doc := compileOffice(t, nil).Document()
	if err := o.Push(ctx, "lab", doc); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	eth0, _ := sim.Interface("eth0")
	if eth0.Address != "10.0.0.10/24" {
		t.Errorf("expected pushed address, got %q", eth0.Address)
	}

	if err := o.Push(ctx, "missing", doc); !HasCode(err, CodeUnknownDevice) {
		t.Errorf("expected UNKNOWN_DEVICE, got %v", err)
	}

	sim.FailPush(errors.New("read-only"))
	if err := o.Push(ctx, "lab", doc); !IsTransport(err) {
		t.Errorf("expected transport error, got %v", err)
	}

	inv, err := o.Inventory(ctx)
	if err != nil {
		t.Fatalf("Inventory failed: %v", err)
	}
	if len(inv["lab"]) != 4 {
		t.Errorf("expected 4 interfaces, got %d", len(inv["lab"]))
	}
}

func TestOrchestrator_ConnectFailure(t *testing.T) {
	sim := transports.NewSimulated("lab", "eth0")
	sim.FailConnect(errors.New("connection refused"))

	o := NewOrchestrator(testConfig(), nil, zerolog.Nop())
	if err := o.AddDevice("lab", sim); err != nil {
		t.Fatalf("AddDevice failed: %v", err)
	}

	err := o.Connect(context.Background())
	if !IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	var terr *transports.TransportError
	if !errors.As(err, &terr) || terr.Device != "lab" {
		t.Errorf("expected wrapped TransportError for lab, got %v", err)
	}
}
