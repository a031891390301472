package nimbus

import (
	"context"
	"fmt"
	"time"

	"mercator-hq/nimbus/pkg/config"
	"mercator-hq/nimbus/pkg/queue"
	queuemem "mercator-hq/nimbus/pkg/queue/memory"
	queuesqlite "mercator-hq/nimbus/pkg/queue/sqlite"
	"mercator-hq/nimbus/pkg/storage"
	"mercator-hq/nimbus/pkg/storage/memory"
	"mercator-hq/nimbus/pkg/storage/s3"
)

// NewStorage creates the object store selected by storage.provider.
func NewStorage(ctx context.Context, cfg config.StorageConfig) (storage.Adapter, error) {
	switch cfg.Provider {
	case config.StorageProviderMemory, "":
		return memory.New(), nil
	case config.StorageProviderS3:
		return s3.New(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("nimbus: unsupported storage provider %q", cfg.Provider)
	}
}

// NewQueue creates the deletion queue selected by queue.provider.
func NewQueue(cfg config.QueueConfig, now func() time.Time) (queue.Adapter, error) {
	switch cfg.Provider {
	case config.QueueProviderMemory, "":
		return queuemem.New(queuemem.Config{
			VisibilityTimeout: cfg.VisibilityTimeout,
			Now:               now,
		}), nil
	case config.QueueProviderSQLite:
		return queuesqlite.New(queuesqlite.Config{
			Path:              cfg.SQLite.Path,
			BusyTimeout:       cfg.SQLite.BusyTimeout,
			VisibilityTimeout: cfg.VisibilityTimeout,
			Now:               now,
		})
	default:
		return nil, fmt.Errorf("nimbus: unsupported queue provider %q", cfg.Provider)
	}
}
