package ssh

import (
	"reflect"
	"testing"

	"github.com/openfroyo/pathguard/pkg/intent"
	"github.com/openfroyo/pathguard/pkg/transports"
)

func TestInterfaceCommands(t *testing.T) {
	tests := []struct {
		name    string
		entry   intent.InterfaceEntry
		want    []string
		wantErr bool
	}{
		{
			name:  "full enabled entry",
			entry: intent.InterfaceEntry{Name: "eth0", Enabled: true, MTU: 1500, IPAddress: "10.0.0.10/24"},
			want: []string{
				"ip link set dev eth0 mtu 1500",
				"ip link set dev eth0 up",
				"ip addr replace 10.0.0.10/24 dev eth0",
			},
		},
		{
			name:  "disabled entry keeps the link up",
			entry: intent.InterfaceEntry{Name: "eth1", Enabled: false, IPAddress: "10.0.0.11/24"},
			want: []string{
				"ip link set dev eth1 up",
				"ip addr flush dev eth1 scope global",
			},
		},
		{
			name:  "enabled without address",
			entry: intent.InterfaceEntry{Name: "eth2", Enabled: true},
			want:  []string{"ip link set dev eth2 up"},
		},
		{
			name:    "shell metacharacters in name",
			entry:   intent.InterfaceEntry{Name: "eth0;reboot", Enabled: true},
			wantErr: true,
		},
		{
			name:    "name too long",
			entry:   intent.InterfaceEntry{Name: "averyveryverylongname0", Enabled: true},
			wantErr: true,
		},
		{
			name:    "malformed address",
			entry:   intent.InterfaceEntry{Name: "eth0", Enabled: true, IPAddress: "10.0.0.10/24 dev lo"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := interfaceCommands(tt.entry)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got commands %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("commands mismatch:\n got: %v\nwant: %v", got, tt.want)
			}
		})
	}
}

func TestParseOperState(t *testing.T) {
	tests := map[string]bool{
		"up\n":           true,
		"unknown":        true,
		"down":           false,
		"lowerlayerdown": false,
		"dormant":        false,
		"":               false,
	}
	for in, want := range tests {
		if got := parseOperState(in); got != want {
			t.Errorf("parseOperState(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseInterfaceListing(t *testing.T) {
	out := `lo unknown 0x9 65536 -1
eth0 up 0x1003 1500 1000
eth1 down 0x1003 9000 10000
eth2 up 0x1002 1500 -1
---
1: lo    inet 127.0.0.1/8 scope host lo\       valid_lft forever preferred_lft forever
2: eth0    inet 10.0.0.10/24 brd 10.0.0.255 scope global eth0\       valid_lft forever preferred_lft forever
3: eth1    inet 10.0.0.11/24 brd 10.0.0.255 scope global eth1\       valid_lft forever preferred_lft forever
`

	got, err := parseInterfaceListing(out)
	if err != nil {
		t.Fatalf("parseInterfaceListing failed: %v", err)
	}

	want := []transports.InterfaceStatus{
		{Name: "eth0", Up: true, Enabled: true, Speed: "1G", MTU: 1500, Address: "10.0.0.10/24"},
		{Name: "eth1", Up: false, Enabled: true, Speed: "10G", MTU: 9000, Address: "10.0.0.11/24"},
		{Name: "eth2", Up: true, Enabled: false, MTU: 1500},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("listing mismatch:\n got: %+v\nwant: %+v", got, want)
	}
}

func TestParseInterfaceListing_Malformed(t *testing.T) {
	if _, err := parseInterfaceListing("eth0 up 0x1003\n---\n"); err == nil {
		t.Error("expected error for truncated line")
	}
	if _, err := parseInterfaceListing("eth0 up zz 1500 1000\n---\n"); err == nil {
		t.Error("expected error for bad flags")
	}
}

func TestFormatSpeed(t *testing.T) {
	tests := map[int]string{
		-1:     "",
		0:      "",
		100:    "100M",
		1000:   "1G",
		2500:   "2500M",
		25000:  "25G",
		100000: "100G",
	}
	for in, want := range tests {
		if got := formatSpeed(in); got != want {
			t.Errorf("formatSpeed(%d) = %q, want %q", in, got, want)
		}
	}
}
