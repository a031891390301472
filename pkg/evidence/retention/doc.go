// Package retention enforces the evidence retention period.
//
// Evidence is kept for evidence.retention_days (seven years by default)
// and then deleted by the pruner, which runs on a cron schedule:
//
//	pruner := retention.NewPruner(store, &retention.Config{
//	    RetentionDays: 2555,
//	    PruneSchedule: "0 3 * * *", // Daily at 3 AM
//	})
//	if err := pruner.Start(ctx); err != nil {
//	    return err
//	}
//	defer pruner.Stop()
//
// A RetentionDays of 0 keeps evidence forever. An empty PruneSchedule
// disables scheduled pruning; Prune can still be called directly, which is
// what the "nimbus evidence prune" command does.
//
// Stop waits for a running prune to finish.
package retention
