package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// writeTestConfig writes a config using memory storage and queue, an HSM
// keyring and a SQLite evidence store under a temp dir.
func writeTestConfig(t *testing.T) (path, dir string) {
	t.Helper()
	dir = t.TempDir()
	content := fmt.Sprintf(`
tiers:
  free:
    retention: 2m
    max_file_size: 1048576
    features: [restricted_bandwidth]
  pro:
    retention: 1h
    max_file_size: 10485760

security:
  encryption:
    kms_provider: hsm
    hsm:
      key_dir: %s

storage:
  provider: memory

queue:
  provider: memory

evidence:
  backend: sqlite
  retention_days: 30
  sqlite:
    path: %s

server:
  listen_address: 127.0.0.1:0

telemetry:
  metrics:
    enabled: false
`, filepath.Join(dir, "keys"), filepath.Join(dir, "evidence.db"))

	path = filepath.Join(dir, "nimbus.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path, dir
}

// runCLI executes the root command with args and returns its stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}
