// Package evidence provides the durable store behind deletion compliance.
//
// Three kinds of record are kept:
//
//   - audit_batch: one flushed, encrypted batch of audit log entries
//   - deletion: the compliance record of a completed secure deletion,
//     carrying the witness hash, approval hash and encrypted audit trail
//   - dead_letter: a deletion job that exhausted its retry budget and
//     needs manual intervention
//
// Payloads are envelope-encrypted tokens produced by the encryption
// manager; the store never sees plaintext audit data.
//
// # Storage Backends
//
// Backends live in the storage subpackage:
//
//   - SQLite: durable single-node store (github.com/mattn/go-sqlite3)
//   - Memory: in-process store for tests and ephemeral runs
//
// # Retention
//
// The retention subpackage prunes records older than
// evidence.retention_days on the evidence.prune_schedule cron expression.
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStorage(&storage.SQLiteConfig{
//	    Path:    "data/evidence.db",
//	    WALMode: true,
//	})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	err = store.Store(ctx, &evidence.Record{
//	    ID:         uuid.NewString(),
//	    Kind:       evidence.KindDeadLetter,
//	    ObjectID:   job.ObjectID,
//	    JobID:      job.ID,
//	    RecordedAt: time.Now(),
//	    Error:      err.Error(),
//	})
//
//	verified := true
//	n, err := store.Count(ctx, &evidence.Query{Kind: evidence.KindDeletion, Verified: &verified})
package evidence
