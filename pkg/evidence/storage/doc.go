// Package storage provides storage backends for evidence records.
//
// # Storage Backends
//
//   - SQLite: durable single-node store with WAL mode, a prepared insert
//     statement, indexes on kind, object and time, and a busy timeout for
//     lock contention
//   - Memory: in-memory store for tests and ephemeral deployments
//
// Both backends satisfy evidence.Storage and pass the same behavioural
// tests.
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStorage(&storage.SQLiteConfig{
//	    Path:         "data/evidence.db",
//	    MaxOpenConns: 10,
//	    MaxIdleConns: 5,
//	    WALMode:      true,
//	    BusyTimeout:  5 * time.Second,
//	})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
// # Schema
//
// Timestamps are stored as Unix nanoseconds so range filters compare
// integers. Optional text columns hold empty strings rather than NULL.
package storage
