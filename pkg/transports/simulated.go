package transports

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/openfroyo/pathguard/pkg/intent"
)

var errNotConnected = errors.New("not connected")

// ProbeResult is a scripted health probe outcome.
type ProbeResult struct {
	Healthy bool
	Err     error
}

// Healthy and Unhealthy are shorthand scripted outcomes.
var (
	Healthy   = ProbeResult{Healthy: true}
	Unhealthy = ProbeResult{Healthy: false}
)

// Simulated is an in-memory device. Link state is independent of the
// enable state pushed through PushConfig, so a disabled standby interface
// still reports its link health. Health can be scripted per interface with
// QueueProbes; once a script is exhausted the link state is reported.
type Simulated struct {
	name string

	mu         sync.Mutex
	connected  bool
	order      []string
	interfaces map[string]*InterfaceStatus
	scripts    map[string][]ProbeResult
	pushes     []*intent.Document
	probes     map[string]int
	latency    time.Duration
	connectErr error
	pushErr    error
}

// NewSimulated creates a device with the named interfaces, all link-up and
// enabled.
func NewSimulated(name string, interfaces ...string) *Simulated {
	s := &Simulated{
		name:       name,
		interfaces: make(map[string]*InterfaceStatus, len(interfaces)),
		scripts:    make(map[string][]ProbeResult),
		probes:     make(map[string]int),
	}
	for _, n := range interfaces {
		s.order = append(s.order, n)
		s.interfaces[n] = &InterfaceStatus{Name: n, Up: true, Enabled: true}
	}
	return s
}

// Name returns the device name.
func (s *Simulated) Name() string { return s.name }

// SetLink sets the physical link state of an interface.
func (s *Simulated) SetLink(name string, up bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if iface, ok := s.interfaces[name]; ok {
		iface.Up = up
	}
}

// QueueProbes appends scripted results for the next health probes of name.
func (s *Simulated) QueueProbes(name string, results ...ProbeResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[name] = append(s.scripts[name], results...)
}

// SetLatency delays every call by d, honoring ctx cancellation.
func (s *Simulated) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// FailConnect makes Connect return err. Nil clears it.
func (s *Simulated) FailConnect(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectErr = err
}

// FailPush makes PushConfig return err. Nil clears it.
func (s *Simulated) FailPush(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushErr = err
}

// Pushes returns every document accepted by PushConfig, oldest first.
func (s *Simulated) Pushes() []*intent.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*intent.Document(nil), s.pushes...)
}

// ProbeCount returns how many health probes name has received.
func (s *Simulated) ProbeCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.probes[name]
}

// Interface returns the current state of name.
func (s *Simulated) Interface(name string) (InterfaceStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	iface, ok := s.interfaces[name]
	if !ok {
		return InterfaceStatus{}, false
	}
	return *iface, true
}

func (s *Simulated) wait(ctx context.Context, op string) error {
	s.mu.Lock()
	d := s.latency
	s.mu.Unlock()

	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return NewError(op, s.name, err, true)
		}
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return NewError(op, s.name, ctx.Err(), true)
	case <-timer.C:
		return nil
	}
}

// Connect implements Transport.
func (s *Simulated) Connect(ctx context.Context) error {
	if err := s.wait(ctx, "connect"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connectErr != nil {
		return NewError("connect", s.name, s.connectErr, true)
	}
	s.connected = true
	return nil
}

// Disconnect implements Transport.
func (s *Simulated) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

// PushConfig implements Transport. Every listed interface must exist; a
// rejected document changes nothing.
func (s *Simulated) PushConfig(ctx context.Context, doc *intent.Document) error {
	if err := s.wait(ctx, "push"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return NewError("push", s.name, errNotConnected, false)
	}
	if s.pushErr != nil {
		return NewError("push", s.name, s.pushErr, true)
	}
	if doc == nil {
		return NewError("push", s.name, errors.New("nil document"), false)
	}

	for _, entry := range doc.Network.Interfaces {
		if _, ok := s.interfaces[entry.Name]; !ok {
			return NewError("push", s.name, fmt.Errorf("interface %s not present on device", entry.Name), false)
		}
	}

	targeted := doc.IsTargeted()
	for _, entry := range doc.Network.Interfaces {
		iface := s.interfaces[entry.Name]
		iface.Enabled = entry.Enabled
		if targeted {
			continue
		}
		iface.Speed = entry.Speed
		iface.MTU = entry.MTU
		iface.Address = entry.IPAddress
	}

	s.pushes = append(s.pushes, doc)
	return nil
}

// CheckHealth implements Transport.
func (s *Simulated) CheckHealth(ctx context.Context, name string) (bool, error) {
	if err := s.wait(ctx, "health"); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return false, NewError("health", s.name, errNotConnected, false)
	}
	iface, ok := s.interfaces[name]
	if !ok {
		return false, NewError("health", s.name, fmt.Errorf("unknown interface %s", name), false)
	}

	s.probes[name]++
	if script := s.scripts[name]; len(script) > 0 {
		result := script[0]
		s.scripts[name] = script[1:]
		if result.Err != nil {
			return false, NewError("health", s.name, result.Err, true)
		}
		return result.Healthy, nil
	}
	return iface.Up, nil
}

// ListInterfaces implements Transport.
func (s *Simulated) ListInterfaces(ctx context.Context) ([]InterfaceStatus, error) {
	if err := s.wait(ctx, "list"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil, NewError("list", s.name, errNotConnected, false)
	}
	out := make([]InterfaceStatus, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, *s.interfaces[n])
	}
	return out, nil
}
