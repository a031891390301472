// Package nimbus wires the retention and secure-deletion subsystem into a
// single Service.
//
// New builds every component from configuration: the object store, the
// deletion queue, the key provider, the evidence store, the compliance
// gate, the audit logger, the retention scheduler, the deletion engine and
// worker, and the access token manager. Components passed in Options are
// used as given, which is how tests and embedders swap backends.
// Options.TracerProvider is shared by the engine and the upload path;
// without one the global provider is used.
//
// Lifecycle:
//
//	svc, err := nimbus.New(ctx, cfg, nimbus.Options{Version: version})
//	if err := svc.Start(ctx); err != nil { ... }
//	defer svc.Shutdown(shutdownCtx)
//
// Start launches the deletion worker, the audit flush timer, evidence
// pruning and the housekeeping cron (token sweep and key rotation).
// Shutdown drains in-flight deletions, flushes the audit buffer and closes
// every backend New opened.
package nimbus
