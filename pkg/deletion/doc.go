// Package deletion runs secure deletions of retained objects.
//
// The Engine performs one deletion: compliance gate, overwrite passes,
// delete, verification, witness hash, evidence. A Worker feeds the Engine
// from the durable queue and owns the retry policy:
//
//	Scheduled -> Claimed -> ComplianceBlocked            (terminal, acked)
//	                     -> Executing -> Completed        (acked)
//	                     -> Error -> Retrying              (requeued with backoff)
//	                     -> Error, retries exhausted -> DeadLettered (acked)
//
// Every terminal outcome writes exactly one terminal audit entry
// (DELETION_COMPLETED or DELETION_FAILED). Retries write a WARN-level
// DELETION_RETRY entry. Outcomes are delivered to registered Observers.
//
// An interrupted deletion is redelivered by the queue and restarts at
// pass 1; every pass overwrites the whole object, so repeating passes is
// safe.
package deletion
