// Package audit implements the buffered, encrypted compliance audit log.
//
// Write appends an Entry to an in-memory buffer under a mutex and returns;
// it never touches durable storage. Entries reach storage in batches:
//
//   - when the buffer reaches the flush threshold the batch is swapped out
//     synchronously and flushed in the background
//   - on every flush interval tick (robfig/cron "@every <interval>")
//   - on Flush and Close
//
// Flushes are single-flight. A flush serializes the batch to JSON,
// encrypts it into an envelope token and hands both to the Sink. When the
// sink or the encryption fails the batch goes back to the front of the
// buffer and the size trigger pauses until the next successful flush, so
// a failing store is retried on the interval tick rather than on every
// write. Delivery is at least once: consumers of stored batches must
// tolerate duplicates.
//
// Entries at or above the mirror level are also written to slog.
package audit
