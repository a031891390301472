// Package health provides liveness and readiness probes for Nimbus.
//
// The service registers one check per backend (storage, queue, evidence,
// key provider); /ready reports degraded when any of them fails.
//
//	checker := health.New(5 * time.Second)
//	checker.Register("queue", func(ctx context.Context) error {
//	    _, err := q.Len(ctx)
//	    return err
//	})
//	health.Register(mux, checker)
package health
