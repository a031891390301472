// Package tracing provides OpenTelemetry tracing for Nimbus.
//
// # Spans
//
//   - deletion.execute: one secure deletion, with a child span per
//     overwrite pass and one for verification
//   - nimbus.upload: storing an object and scheduling its retention
//   - HTTP GET: token-authorized object reads served by pkg/server
//
// Span attributes use the "nimbus.*" namespace (see attributes.go).
//
// # Configuration
//
//	telemetry:
//	  tracing:
//	    enabled: true
//	    endpoint: "otel-collector:4317"
//	    insecure: true
//	    sampler: ratio
//	    sample_ratio: 0.25
//
// When tracing is disabled New returns a no-op Tracer and components fall
// back to the global provider, which is also a no-op until New installs
// a real one.
//
// # Propagation
//
// Trace context crosses process boundaries as W3C traceparent headers on
// HTTP requests and as Pub/Sub message attributes on deletion events.
package tracing
