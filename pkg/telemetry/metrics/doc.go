// Package metrics provides Prometheus metrics collection for Nimbus.
//
// # Metrics Categories
//
//   - Deletion: attempts by tier and outcome, duration, overwrite passes,
//     retries, dead letters, queue length, compliance decisions
//   - Audit: flushes by result, entries per batch, buffered entries
//   - Tokens: issued, validations by result, active count
//   - Storage: uploads and uploaded bytes by tier
//
// # Usage
//
//	collector := metrics.NewCollector(prometheus.NewRegistry())
//	collector.RecordDeletion("free", metrics.OutcomeSuccess, elapsed)
//
//	mux.Handle("/metrics", collector.Handler())
//
// A nil *Collector is a valid no-op collector.
package metrics
