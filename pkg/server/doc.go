// Package server serves retained objects to access token holders.
//
// # Routes
//
//   - GET /api/v1/objects/{id}/access - object body; requires a token with
//     the read permission issued for {id}, passed as ?token= or as an
//     "Authorization: Bearer" header
//   - GET /api/v1/health - service summary (queue length, tokens, checks)
//   - GET /health - liveness probe
//   - GET /ready - readiness probe over the storage, queue, evidence and
//     key provider checks
//
// With server.tls.enabled the access API is served over HTTPS; see
// pkg/security/tls for certificate reload.
//
// Metrics are served on telemetry.metrics.listen_address when
// telemetry.metrics.enabled is set.
//
// Tokens issued for tiers with restricted_bandwidth are served at
// tokens.BandwidthBytesPerSecond.
//
// # Middleware Chain
//
// Requests pass through, outermost first: Recovery, Tracing, Logging,
// RequestID. Token validation wraps only the object routes. Tracing
// continues a W3C traceparent sent by the client.
//
// Start blocks until ctx is done or a listener fails, then shuts both
// listeners down within server.shutdown_timeout.
package server
