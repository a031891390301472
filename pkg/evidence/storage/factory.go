package storage

import (
	"fmt"

	"mercator-hq/nimbus/pkg/config"
	"mercator-hq/nimbus/pkg/evidence"
)

// Open creates the evidence backend selected by cfg.Backend.
func Open(cfg config.EvidenceConfig) (evidence.Storage, error) {
	switch cfg.Backend {
	case config.EvidenceBackendMemory:
		return NewMemoryStorage(), nil
	case config.EvidenceBackendSQLite, "":
		s, err := NewSQLiteStorage(&SQLiteConfig{
			Path:         cfg.SQLite.Path,
			MaxOpenConns: cfg.SQLite.MaxOpenConns,
			MaxIdleConns: cfg.SQLite.MaxIdleConns,
			WALMode:      cfg.SQLite.WALMode,
			BusyTimeout:  cfg.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("evidence: unsupported backend %q", cfg.Backend)
	}
}
