// Package telemetry groups the observability packages of Nimbus.
//
//   - logging: slog logger construction with secret redaction
//   - metrics: Prometheus collectors for deletions, audit, tokens and uploads
//   - tracing: OpenTelemetry spans exported over OTLP/gRPC
//   - health: liveness and readiness probes over the service backends
package telemetry
