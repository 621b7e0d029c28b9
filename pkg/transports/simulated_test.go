package transports

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openfroyo/pathguard/pkg/intent"
)

func connectedDevice(t *testing.T) *Simulated {
	t.Helper()
	s := NewSimulated("demo", "eth0", "eth1", "eth2", "eth3")
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	return s
}

func TestSimulated_RequiresConnection(t *testing.T) {
	s := NewSimulated("demo", "eth0")
	ctx := context.Background()

	if _, err := s.CheckHealth(ctx, "eth0"); err == nil {
		t.Error("expected error before connect")
	}
	if _, err := s.ListInterfaces(ctx); err == nil {
		t.Error("expected error before connect")
	}

	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if err := s.Disconnect(); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}
	if err := s.PushConfig(ctx, intent.EnableDocument("eth0", true)); err == nil {
		t.Error("expected error after disconnect")
	}
}

func TestSimulated_ScriptedHealth(t *testing.T) {
	s := connectedDevice(t)
	ctx := context.Background()

	boom := errors.New("timeout")
	s.QueueProbes("eth0", Unhealthy, ProbeResult{Err: boom}, Healthy)

	if ok, err := s.CheckHealth(ctx, "eth0"); ok || err != nil {
		t.Errorf("probe 1: expected unhealthy, got %v %v", ok, err)
	}

	ok, err := s.CheckHealth(ctx, "eth0")
	if ok || !errors.Is(err, boom) {
		t.Errorf("probe 2: expected scripted error, got %v %v", ok, err)
	}
	if !IsTemporary(err) {
		t.Error("scripted probe errors should be temporary")
	}

	if ok, err := s.CheckHealth(ctx, "eth0"); !ok || err != nil {
		t.Errorf("probe 3: expected healthy, got %v %v", ok, err)
	}

	// Script exhausted: link state is reported.
	s.SetLink("eth0", false)
	if ok, _ := s.CheckHealth(ctx, "eth0"); ok {
		t.Error("expected link-down interface to be unhealthy")
	}

	if got := s.ProbeCount("eth0"); got != 4 {
		t.Errorf("expected 4 probes, got %d", got)
	}

	if _, err := s.CheckHealth(ctx, "eth9"); err == nil {
		t.Error("expected error for unknown interface")
	}
}

func TestSimulated_PushConfig(t *testing.T) {
	s := connectedDevice(t)
	ctx := context.Background()

	cfg, err := intent.NewCompiler(intent.DefaultOptions()).Compile(intent.NetworkIntent{
		NetworkName:     "office",
		NetworkRange:    "10.0.0.0",
		SubnetMask:      "24",
		InterfaceSpeed:  intent.Speed10G,
		VLANs:           []intent.VLAN{{ID: 10}},
		FailoverEnabled: true,
	})
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	if err := s.PushConfig(ctx, cfg.Document()); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	iface, ok := s.Interface("eth2")
	if !ok {
		t.Fatal("eth2 missing")
	}
	if iface.Address != "10.0.0.12/24" || iface.Speed != intent.Speed10G || iface.MTU != intent.DefaultMTU {
		t.Errorf("unexpected interface after push: %+v", iface)
	}

	// A targeted document only changes the enable state.
	if err := s.PushConfig(ctx, intent.EnableDocument("eth2", false)); err != nil {
		t.Fatalf("targeted push failed: %v", err)
	}
	iface, _ = s.Interface("eth2")
	if iface.Enabled || iface.Address != "10.0.0.12/24" {
		t.Errorf("unexpected interface after targeted push: %+v", iface)
	}

	// A disabled interface still reports its link.
	if ok, _ := s.CheckHealth(ctx, "eth2"); !ok {
		t.Error("disabled interface with link up should be healthy")
	}

	if got := len(s.Pushes()); got != 2 {
		t.Errorf("expected 2 recorded pushes, got %d", got)
	}
}

func TestSimulated_PushRejectsUnknownInterface(t *testing.T) {
	s := connectedDevice(t)

	err := s.PushConfig(context.Background(), intent.EnableDocument("wlan0", true))
	if err == nil {
		t.Fatal("expected error for unknown interface")
	}
	var te *TransportError
	if !errors.As(err, &te) || te.Op != "push" || te.Device != "demo" {
		t.Errorf("expected push TransportError, got %v", err)
	}
	if len(s.Pushes()) != 0 {
		t.Error("rejected document must not be recorded")
	}
}

func TestSimulated_FailureInjection(t *testing.T) {
	s := NewSimulated("demo", "eth0")
	ctx := context.Background()

	s.FailConnect(errors.New("refused"))
	if err := s.Connect(ctx); err == nil {
		t.Fatal("expected connect error")
	}
	s.FailConnect(nil)
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	s.FailPush(errors.New("busy"))
	if err := s.PushConfig(ctx, intent.EnableDocument("eth0", false)); !IsTemporary(err) {
		t.Errorf("expected temporary push error, got %v", err)
	}
}

func TestSimulated_LatencyHonorsContext(t *testing.T) {
	s := connectedDevice(t)
	s.SetLatency(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := s.CheckHealth(ctx, "eth0")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("probe did not return promptly on cancellation")
	}
}

func TestSimulated_ListInterfaces(t *testing.T) {
	s := connectedDevice(t)
	s.SetLink("eth1", false)

	list, err := s.ListInterfaces(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 4 || list[0].Name != "eth0" || list[3].Name != "eth3" {
		t.Fatalf("unexpected interface list: %+v", list)
	}
	if list[1].Up {
		t.Error("expected eth1 down")
	}
}
