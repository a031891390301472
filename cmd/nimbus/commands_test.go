package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mercator-hq/nimbus/pkg/cli"
)

func TestValidateCommand(t *testing.T) {
	path, _ := writeTestConfig(t)

	out, err := runCLI(t, "validate", "--config", path, "--format", "json")
	if err != nil {
		t.Fatalf("validate error = %v\n%s", err, out)
	}
	var got validateResult
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if !got.Valid || len(got.Tiers) != 2 || got.Tiers[0].Name != "free" {
		t.Errorf("unexpected result %+v", got)
	}
}

func TestValidateCommand_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("tiers:\n  free:\n    retention: -1m\n"), 0600); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "validate", "--config", path, "--format", "text")
	if err == nil {
		t.Fatal("validate error = nil for invalid config")
	}
	if cli.ExitCode(err) != cli.ExitConfig {
		t.Errorf("ExitCode() = %d, want %d", cli.ExitCode(err), cli.ExitConfig)
	}
	if !strings.Contains(out, "Configuration invalid") {
		t.Errorf("output = %q", out)
	}
}

func TestValidateCommand_MissingFile(t *testing.T) {
	_, err := runCLI(t, "validate", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	if cli.ExitCode(err) != cli.ExitConfig {
		t.Errorf("ExitCode() = %d, want %d (err %v)", cli.ExitCode(err), cli.ExitConfig, err)
	}
}

func TestKeysCommands(t *testing.T) {
	path, dir := writeTestConfig(t)

	out, err := runCLI(t, "keys", "list", "--config", path, "--format", "json")
	if err != nil {
		t.Fatalf("keys list error = %v", err)
	}
	var before keyList
	if err := json.Unmarshal([]byte(out), &before); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if before.Provider != "hsm" || before.Active == "" {
		t.Errorf("unexpected list %+v", before)
	}

	out, err = runCLI(t, "keys", "rotate", "--config", path, "--format", "json")
	if err != nil {
		t.Fatalf("keys rotate error = %v", err)
	}
	var rot keyRotation
	if err := json.Unmarshal([]byte(out), &rot); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if rot.Previous != before.Active || rot.Active == rot.Previous {
		t.Errorf("unexpected rotation %+v", rot)
	}
	if _, err := os.Stat(filepath.Join(dir, "keys", rot.Active+".key")); err != nil {
		t.Errorf("rotated key file missing: %v", err)
	}

	out, err = runCLI(t, "keys", "list", "--config", path, "--format", "text")
	if err != nil {
		t.Fatalf("keys list error = %v", err)
	}
	if !strings.Contains(out, "* "+rot.Active) || !strings.Contains(out, before.Active) {
		t.Errorf("list after rotation:\n%s", out)
	}
}

func TestEvidenceCommands(t *testing.T) {
	path, _ := writeTestConfig(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"query empty", []string{"evidence", "query", "--format", "text"}, "No evidence records found"},
		{"report", []string{"evidence", "report", "--format", "text"}, "✓ Compliant"},
		{"prune dry run", []string{"evidence", "prune", "--dry-run", "--format", "text"}, "Would prune 0 records"},
		{"prune", []string{"evidence", "prune", "--dry-run=false", "--days", "7", "--format", "text"}, "Pruned 0 records"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCLI(t, append(tt.args, "--config", path)...)
			if err != nil {
				t.Fatalf("%v error = %v\n%s", tt.args, err, out)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("output missing %q:\n%s", tt.want, out)
			}
		})
	}
}

func TestParseTimeRange(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantNil bool
		wantErr bool
	}{
		{"empty", "", true, false},
		{"valid", "2026-05-01T00:00:00Z/2026-06-01T00:00:00Z", false, false},
		{"single", "2026-05-01T00:00:00Z", false, true},
		{"bad start", "yesterday/2026-06-01T00:00:00Z", false, true},
		{"reversed", "2026-06-01T00:00:00Z/2026-05-01T00:00:00Z", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := parseTimeRange(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseTimeRange(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if (start == nil) != tt.wantNil || (end == nil) != tt.wantNil {
				t.Errorf("parseTimeRange(%q) = %v, %v", tt.in, start, end)
			}
		})
	}
}

func TestRunCommand_DryRun(t *testing.T) {
	path, _ := writeTestConfig(t)
	defer func() { runFlags.dryRun = false }()

	out, err := runCLI(t, "run", "--config", path, "--dry-run", "--log-level", "error")
	if err != nil {
		t.Fatalf("run --dry-run error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "Configuration valid") {
		t.Errorf("output = %q", out)
	}
}
