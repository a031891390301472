// Nimbus retains uploaded objects for their tier's retention window and
// then securely deletes them, keeping encrypted evidence of every
// deletion.
//
// Usage:
//
//	# Start the worker and access server
//	nimbus run --config /etc/nimbus/nimbus.yaml
//
//	# Check a configuration file
//	nimbus validate --config nimbus.yaml
//
//	# Rotate the envelope key
//	nimbus keys rotate
//
//	# Prune evidence older than evidence.retention_days
//	nimbus evidence prune
//
//	# Summarize deletion evidence for an audit window
//	nimbus evidence report --from 2026-01-01T00:00:00Z --to 2026-02-01T00:00:00Z
package main

import "os"

func main() {
	os.Exit(Execute())
}
