// Package retention turns a stored object and its tier into a scheduled
// deletion job.
//
// ScheduleRetention computes the deadline from the tier's retention
// period, picks the job priority from the tier's features and enqueues a
// queue.Job. The returned Policy is an immutable snapshot of what was
// scheduled.
//
// Priority rules, first match wins:
//
//	immediate_post_signal_deletion       critical
//	retention <= 1h or priority_processing  high
//	otherwise                             normal
package retention
