package failover

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/pathguard/pkg/intent"
	"github.com/openfroyo/pathguard/pkg/transports"
)

// device is a managed device. sem serializes every transport call to it.
type device struct {
	name      string
	transport transports.Transport
	sem       chan struct{}
	compiled  *intent.CompiledConfiguration
}

// group is a registered failover group. mu is held for a whole monitoring
// cycle, so registration never waits on it: a replacement state is parked in
// pending and adopted by the cycle at its next boundary.
type group struct {
	mu      sync.Mutex
	state   GroupState
	device  *device
	pending atomic.Pointer[GroupState]
	removed atomic.Bool

	// cancel stops the group's monitoring task. Guarded by Orchestrator.mu.
	cancel context.CancelFunc
}

// Orchestrator monitors failover groups and switches their active interface.
type Orchestrator struct {
	cfg    Config
	sink   MetricsSink
	logger zerolog.Logger

	// mu protects devices, groups and group cancel funcs.
	mu      sync.RWMutex
	devices map[string]*device
	groups  map[string]*group

	// snapMu protects the published snapshot read by Status and Snapshot.
	snapMu   sync.RWMutex
	snapshot map[string]GroupStatus

	// runMu serializes monitoring start, stop and group (de)registration.
	runMu   sync.Mutex
	running atomic.Bool
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      *sync.WaitGroup
}

// NewOrchestrator creates an orchestrator. Zero config fields take their
// defaults and a nil sink discards events.
func NewOrchestrator(cfg Config, sink MetricsSink, logger zerolog.Logger) *Orchestrator {
	if sink == nil {
		sink = NopSink{}
	}
	return &Orchestrator{
		cfg:      cfg.withDefaults(),
		sink:     sink,
		logger:   logger.With().Str("component", "failover").Logger(),
		devices:  make(map[string]*device),
		groups:   make(map[string]*group),
		snapshot: make(map[string]GroupStatus),
	}
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// AddDevice registers a device under name.
func (o *Orchestrator) AddDevice(name string, t transports.Transport) error {
	if name == "" || t == nil {
		return fmt.Errorf("device name and transport are required")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.devices[name]; exists {
		return newConflict(CodeDuplicateDevice, "device already registered").WithDevice(name)
	}
	o.devices[name] = &device{
		name:      name,
		transport: t,
		sem:       make(chan struct{}, 1),
	}
	return nil
}

// Devices returns the registered device names in sorted order.
func (o *Orchestrator) Devices() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	names := make([]string, 0, len(o.devices))
	for name := range o.devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (o *Orchestrator) sortedDevices() []*device {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]*device, 0, len(o.devices))
	for _, d := range o.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Connect connects every device. Failures are joined; devices that connected
// stay connected.
func (o *Orchestrator) Connect(ctx context.Context) error {
	var errs []error
	for _, d := range o.sortedDevices() {
		err := o.withDevice(ctx, d, 0, func(ctx context.Context) error {
			return d.transport.Connect(ctx)
		})
		if err != nil {
			errs = append(errs, newTransportError("connect failed", err).WithDevice(d.name))
			continue
		}
		o.logger.Info().Str("device", d.name).Msg("Device connected")
	}
	return errors.Join(errs...)
}

// Close disconnects every device.
func (o *Orchestrator) Close() error {
	var errs []error
	for _, d := range o.sortedDevices() {
		if err := d.transport.Disconnect(); err != nil {
			errs = append(errs, newTransportError("disconnect failed", err).WithDevice(d.name))
		}
	}
	return errors.Join(errs...)
}

// Apply records the compiled configuration of a device, registers all of its
// failover groups and deregisters groups of that device it no longer has.
// Every group is checked before anything changes.
func (o *Orchestrator) Apply(deviceName string, compiled *intent.CompiledConfiguration) error {
	if compiled == nil {
		return newStateError(CodeNoConfiguration, "compiled configuration is nil").WithDevice(deviceName)
	}

	o.runMu.Lock()
	defer o.runMu.Unlock()
	o.mu.Lock()
	defer o.mu.Unlock()

	dev, ok := o.devices[deviceName]
	if !ok {
		return newConflict(CodeUnknownDevice, "unknown device").WithDevice(deviceName)
	}

	wanted := make(map[string]bool, len(compiled.FailoverGroups))
	for _, fg := range compiled.FailoverGroups {
		if err := o.checkGroupLocked(dev, compiled, fg); err != nil {
			return err
		}
		wanted[fg.Name] = true
	}

	dev.compiled = compiled

	for name, g := range o.groups {
		if g.device == dev && !wanted[name] {
			o.deregisterLocked(name)
		}
	}
	for _, fg := range compiled.FailoverGroups {
		o.registerLocked(dev, fg)
	}

	o.logger.Info().
		Str("device", deviceName).
		Str("network", compiled.NetworkName).
		Int("groups", len(compiled.FailoverGroups)).
		Msg("Configuration applied")
	return nil
}

// RegisterGroup registers fg on a device whose configuration has been
// applied. Registering an existing name replaces the group and resets its
// state.
func (o *Orchestrator) RegisterGroup(deviceName string, fg intent.FailoverGroup) error {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	o.mu.Lock()
	defer o.mu.Unlock()

	dev, ok := o.devices[deviceName]
	if !ok {
		return newConflict(CodeUnknownDevice, "unknown device").WithDevice(deviceName)
	}
	if dev.compiled == nil {
		return newStateError(CodeNoConfiguration, "no configuration applied").WithDevice(deviceName).WithGroup(fg.Name)
	}
	if err := o.checkGroupLocked(dev, dev.compiled, fg); err != nil {
		return err
	}

	o.registerLocked(dev, fg)
	return nil
}

func (o *Orchestrator) checkGroupLocked(dev *device, compiled *intent.CompiledConfiguration, fg intent.FailoverGroup) error {
	if fg.Name == "" {
		return newConflict(CodeUnknownGroup, "group name is required").WithDevice(dev.name)
	}
	if len(fg.PrimaryInterfaces) == 0 {
		return newConflict(CodeEmptyPrimary, "group has no primary interfaces").WithDevice(dev.name).WithGroup(fg.Name)
	}

	primaries := make(map[string]bool, len(fg.PrimaryInterfaces))
	for _, name := range fg.PrimaryInterfaces {
		primaries[name] = true
	}
	for _, name := range fg.BackupInterfaces {
		if primaries[name] {
			return newConflict(CodeOverlap, "interface is both primary and backup").
				WithDevice(dev.name).WithGroup(fg.Name).WithInterface(name)
		}
	}
	for _, name := range fg.Members() {
		if _, ok := compiled.Interface(name); !ok {
			return newConflict(CodeUnknownInterface, "interface not in compiled configuration").
				WithDevice(dev.name).WithGroup(fg.Name).WithInterface(name)
		}
	}

	if existing, ok := o.groups[fg.Name]; ok && existing.device != dev {
		return newConflict(CodeGroupOwned, "group is registered on device %s", existing.device.name).
			WithDevice(dev.name).WithGroup(fg.Name)
	}
	return nil
}

func initialState(dev *device, fg intent.FailoverGroup) GroupState {
	return GroupState{
		Group:         fg.Clone(),
		Device:        dev.name,
		Phase:         PhasePrimaryActive,
		CurrentActive: fg.PrimaryInterfaces[0],
	}
}

// registerLocked installs or replaces a checked group. Requires runMu and mu.
func (o *Orchestrator) registerLocked(dev *device, fg intent.FailoverGroup) {
	state := initialState(dev, fg)

	if g, ok := o.groups[fg.Name]; ok {
		if g.mu.TryLock() {
			g.pending.Store(nil)
			g.state = state
			g.mu.Unlock()
		} else {
			next := state
			g.pending.Store(&next)
		}
		o.logger.Info().Str("group", fg.Name).Str("device", dev.name).Msg("Failover group re-registered, state reset")
	} else {
		g = &group{state: state, device: dev}
		o.groups[fg.Name] = g
		if o.running.Load() {
			o.spawnLocked(g)
		}
		o.logger.Info().
			Str("group", fg.Name).
			Str("device", dev.name).
			Strs("primaries", fg.PrimaryInterfaces).
			Strs("backups", fg.BackupInterfaces).
			Msg("Failover group registered")
	}

	o.publish(state.Status())
	o.recordState(&state)
}

// DeregisterGroup removes a group and stops its monitoring task. It reports
// whether the group existed.
func (o *Orchestrator) DeregisterGroup(name string) bool {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.deregisterLocked(name)
}

func (o *Orchestrator) deregisterLocked(name string) bool {
	g, ok := o.groups[name]
	if !ok {
		return false
	}
	delete(o.groups, name)
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}

	g.removed.Store(true)

	o.snapMu.Lock()
	delete(o.snapshot, name)
	o.snapMu.Unlock()

	o.sink.Record(Event{Type: EventGroupRemoved, Group: name, Device: g.device.name, Time: time.Now()})
	o.logger.Info().Str("group", name).Msg("Failover group deregistered")
	return true
}

// StartMonitoring starts one monitoring task per group plus an interface
// inventory task. Tasks stop when ctx is done or StopMonitoring is called.
func (o *Orchestrator) StartMonitoring(ctx context.Context) error {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	if o.running.Load() {
		return newStateError(CodeAlreadyRunning, "monitoring is already running")
	}

	o.runCtx, o.cancel = context.WithCancel(ctx)
	o.wg = &sync.WaitGroup{}
	o.running.Store(true)

	o.mu.Lock()
	for _, g := range o.groups {
		o.spawnLocked(g)
	}
	count := len(o.groups)
	o.mu.Unlock()

	runCtx, wg := o.runCtx, o.wg
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.inventoryLoop(runCtx)
	}()

	o.sink.Record(Event{Type: EventMonitoringStarted, Groups: count, Time: time.Now()})
	o.logger.Info().
		Int("groups", count).
		Dur("interval", o.cfg.Interval).
		Int("failure_threshold", o.cfg.FailureThreshold).
		Int("recovery_threshold", o.cfg.RecoveryThreshold).
		Msg("Monitoring started")
	return nil
}

// spawnLocked starts the monitoring task of g. Requires runMu and mu.
func (o *Orchestrator) spawnLocked(g *group) {
	ctx, cancel := context.WithCancel(o.runCtx)
	g.cancel = cancel

	wg := o.wg
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.monitor(ctx, g)
	}()
}

// StopMonitoring cancels every monitoring task and waits up to StopTimeout
// for in-flight cycles. Tasks still running after that are abandoned.
func (o *Orchestrator) StopMonitoring() error {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	if !o.running.Load() {
		return newStateError(CodeNotRunning, "monitoring is not running")
	}

	o.cancel()
	o.running.Store(false)

	o.mu.Lock()
	for _, g := range o.groups {
		g.cancel = nil
	}
	count := len(o.groups)
	o.mu.Unlock()

	done := make(chan struct{})
	wg := o.wg
	go func() {
		wg.Wait()
		close(done)
	}()

	var err error
	timer := time.NewTimer(o.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		err = newStateError(CodeStopTimeout, "monitoring tasks still running after %s", o.cfg.StopTimeout)
		o.logger.Warn().Dur("timeout", o.cfg.StopTimeout).Msg("Abandoning monitoring tasks that did not stop in time")
	}

	o.sink.Record(Event{Type: EventMonitoringStopped, Groups: count, Time: time.Now()})
	o.logger.Info().Msg("Monitoring stopped")
	return err
}

// IsMonitoring reports whether monitoring is running.
func (o *Orchestrator) IsMonitoring() bool {
	return o.running.Load()
}

// RunCycle runs one monitoring cycle of the named group.
func (o *Orchestrator) RunCycle(ctx context.Context, name string) error {
	o.mu.RLock()
	g, ok := o.groups[name]
	o.mu.RUnlock()
	if !ok {
		return newStateError(CodeUnknownGroup, "unknown group").WithGroup(name)
	}
	return o.runCycle(ctx, g)
}

func (o *Orchestrator) monitor(ctx context.Context, g *group) {
	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		if err := o.runCycle(ctx, g); err != nil {
			o.logger.Error().Err(err).Msg("Monitoring cycle failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) inventoryLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := o.Inventory(ctx); err != nil && ctx.Err() == nil {
			o.logger.Warn().Err(err).Msg("Interface inventory refresh failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Status returns the published snapshot of one group.
func (o *Orchestrator) Status(name string) (GroupStatus, bool) {
	o.snapMu.RLock()
	defer o.snapMu.RUnlock()

	s, ok := o.snapshot[name]
	return s.clone(), ok
}

// Snapshot returns the published snapshot of every group, sorted by name.
func (o *Orchestrator) Snapshot() []GroupStatus {
	o.snapMu.RLock()
	out := make([]GroupStatus, 0, len(o.snapshot))
	for _, s := range o.snapshot {
		out = append(out, s.clone())
	}
	o.snapMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (o *Orchestrator) publish(s GroupStatus) {
	o.snapMu.Lock()
	o.snapshot[s.Name] = s
	o.snapMu.Unlock()
}

// publishGroup publishes the state of g unless it has been deregistered or
// replaced by a registration the task has not adopted yet.
func (o *Orchestrator) publishGroup(g *group) {
	o.snapMu.Lock()
	defer o.snapMu.Unlock()
	if g.removed.Load() || g.pending.Load() != nil {
		return
	}
	o.snapshot[g.state.Group.Name] = g.state.Status()
}

// Inventory lists the interfaces of every device. Devices that fail are
// omitted from the result and their errors joined.
func (o *Orchestrator) Inventory(ctx context.Context) (map[string][]transports.InterfaceStatus, error) {
	out := make(map[string][]transports.InterfaceStatus)
	var errs []error

	for _, d := range o.sortedDevices() {
		var list []transports.InterfaceStatus
		err := o.withDevice(ctx, d, o.cfg.ProbeTimeout, func(ctx context.Context) error {
			var err error
			list, err = d.transport.ListInterfaces(ctx)
			return err
		})
		if err != nil {
			errs = append(errs, newTransportError("list interfaces failed", err).WithDevice(d.name))
			continue
		}
		out[d.name] = list
		o.sink.Record(Event{Type: EventInterfaceInventory, Device: d.name, Interfaces: list, Time: time.Now()})
	}
	return out, errors.Join(errs...)
}

// Push sends a document to a device, serialized with monitoring traffic.
func (o *Orchestrator) Push(ctx context.Context, deviceName string, doc *intent.Document) error {
	o.mu.RLock()
	d, ok := o.devices[deviceName]
	o.mu.RUnlock()
	if !ok {
		return newConflict(CodeUnknownDevice, "unknown device").WithDevice(deviceName)
	}

	err := o.withDevice(ctx, d, 0, func(ctx context.Context) error {
		return d.transport.PushConfig(ctx, doc)
	})
	if err != nil {
		return newTransportError("push failed", err).WithDevice(deviceName)
	}
	return nil
}

// withDevice runs fn while holding the device semaphore. A positive timeout
// bounds both the wait and the call.
func (o *Orchestrator) withDevice(ctx context.Context, d *device, timeout time.Duration, fn func(context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := ctx.Err(); err != nil {
		return transports.NewError("acquire", d.name, err, true)
	}
	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return transports.NewError("acquire", d.name, ctx.Err(), true)
	}
	defer func() { <-d.sem }()

	return fn(ctx)
}
