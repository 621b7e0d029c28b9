package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := newRootCommand("test", "none", "today")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// initWorkspace runs init in a temp dir and returns the config path.
func initWorkspace(t *testing.T) (string, string) {
	t.Helper()

	dir := t.TempDir()
	out, err := execute(t, "init", "--dir", dir)
	if err != nil {
		t.Fatalf("init failed: %v\n%s", err, out)
	}

	cfgPath := filepath.Join(dir, "pathguard.yaml")
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	// Keep test logs quiet.
	data = bytes.Replace(data, []byte("level: info"), []byte("level: error"), 1)
	if err := os.WriteFile(cfgPath, data, 0o644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}
	return dir, cfgPath
}

func TestInitCommand(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "init", "--dir", dir)
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}

	for _, name := range []string{"pathguard.yaml", "intent.yaml", filepath.Join("policies", "management_vlan.rego")} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s to be created: %v", name, err)
		}
	}
	if !strings.Contains(out, "Workspace initialized") {
		t.Errorf("unexpected output:\n%s", out)
	}

	intentPath := filepath.Join(dir, "intent.yaml")
	if err := os.WriteFile(intentPath, []byte("custom\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err = execute(t, "init", "--dir", dir)
	if err != nil {
		t.Fatalf("second init failed: %v", err)
	}
	if !strings.Contains(out, "already exists") {
		t.Errorf("expected existing files to be reported:\n%s", out)
	}
	data, _ := os.ReadFile(intentPath)
	if string(data) != "custom\n" {
		t.Error("init without --force must not overwrite files")
	}

	if _, err := execute(t, "init", "--dir", dir, "--force"); err != nil {
		t.Fatalf("forced init failed: %v", err)
	}
	data, _ = os.ReadFile(intentPath)
	if string(data) != sampleIntent {
		t.Error("init --force should restore the sample intent")
	}
}

func TestValidateCommand(t *testing.T) {
	_, cfgPath := initWorkspace(t)

	out, err := execute(t, "validate", "-c", cfgPath)
	if err != nil {
		t.Fatalf("validate failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "is valid") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestValidateCommand_ReportsEveryViolation(t *testing.T) {
	dir, cfgPath := initWorkspace(t)

	bad := filepath.Join(dir, "bad.yaml")
	doc := `networkName: office
networkRange: 8.8.8.0
subnetMask: "24"
interfaceSpeed: 3G
vlans:
  - id: 10
`
	if err := os.WriteFile(bad, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "validate", "-c", cfgPath, bad)
	if !errors.Is(err, errInvalid) {
		t.Fatalf("expected errInvalid, got %v\n%s", err, out)
	}
	for _, code := range []string{"InvalidNetworkRange", "UnsupportedSpeed"} {
		if !strings.Contains(out, code) {
			t.Errorf("expected %s in output:\n%s", code, out)
		}
	}
	if !strings.Contains(out, "is invalid") {
		t.Errorf("expected summary line:\n%s", out)
	}
}

func TestValidateCommand_PolicyViolation(t *testing.T) {
	dir, cfgPath := initWorkspace(t)

	mgmt := filepath.Join(dir, "mgmt.yaml")
	doc := strings.Replace(sampleIntent, "id: 10", "id: 1", 1)
	if err := os.WriteFile(mgmt, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "validate", "-c", cfgPath, "--json", mgmt)
	if !errors.Is(err, errInvalid) {
		t.Fatalf("expected errInvalid, got %v\n%s", err, out)
	}

	var report validationReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if report.Valid {
		t.Error("expected report to be invalid")
	}
	if report.Policy == nil || len(report.Policy.Violations) == 0 {
		t.Fatalf("expected policy violations, got %+v", report.Policy)
	}
	for _, v := range report.Policy.Violations {
		if v.Policy != "management_vlan" {
			t.Errorf("unexpected violation %s", v.String())
		}
	}
}

func TestCompileCommand(t *testing.T) {
	dir, cfgPath := initWorkspace(t)

	out, err := execute(t, "compile", "-c", cfgPath, "--format", "json")
	if err != nil {
		t.Fatalf("compile failed: %v\n%s", err, out)
	}

	var doc struct {
		Network struct {
			Interfaces []struct {
				Name      string `json:"name"`
				IPAddress string `json:"ip-address"`
			} `json:"interfaces"`
			FailoverSystem struct {
				Groups []struct {
					Name string `json:"name"`
				} `json:"failover-groups"`
			} `json:"failover-system"`
		} `json:"network"`
	}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(doc.Network.Interfaces) != 4 {
		t.Fatalf("expected 4 interfaces, got %d", len(doc.Network.Interfaces))
	}
	if doc.Network.Interfaces[0].Name != "eth0" || doc.Network.Interfaces[0].IPAddress != "10.0.0.10/24" {
		t.Errorf("unexpected first interface: %+v", doc.Network.Interfaces[0])
	}
	if len(doc.Network.FailoverSystem.Groups) != 1 {
		t.Errorf("expected one failover group, got %+v", doc.Network.FailoverSystem.Groups)
	}

	target := filepath.Join(dir, "office.yaml")
	if _, err := execute(t, "compile", "-c", cfgPath, "--output", target); err != nil {
		t.Fatalf("compile --output failed: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("document not written: %v", err)
	}
	if !strings.Contains(string(data), "failover-system") {
		t.Errorf("unexpected document:\n%s", data)
	}
}

func TestHistoryCommand_Empty(t *testing.T) {
	_, cfgPath := initWorkspace(t)

	out, err := execute(t, "history", "-c", cfgPath)
	if err != nil {
		t.Fatalf("history failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "No events recorded") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestApplyCommand_Simulated(t *testing.T) {
	_, cfgPath := initWorkspace(t)

	out, err := execute(t, "apply", "-c", cfgPath, "--simulate")
	if err != nil {
		t.Fatalf("apply failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Applied office to demo") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "primary_failover") {
		t.Errorf("expected failover group in output:\n%s", out)
	}
}
