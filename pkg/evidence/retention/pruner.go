package retention

import (
	"context"
	"log/slog"
	"time"

	"mercator-hq/nimbus/pkg/evidence"
)

// Config contains configuration for the retention pruner.
type Config struct {
	// RetentionDays is the number of days to retain evidence.
	// 0 means keep evidence forever.
	RetentionDays int

	// PruneSchedule is a cron expression for scheduled pruning.
	// Example: "0 3 * * *" (daily at 3 AM)
	PruneSchedule string

	// Now returns the current time. Default: time.Now
	Now func() time.Time
}

// DefaultConfig returns the default retention configuration.
func DefaultConfig() *Config {
	return &Config{
		RetentionDays: 2555,
		PruneSchedule: "0 3 * * *",
	}
}

// Pruner deletes evidence older than the retention period.
type Pruner struct {
	storage   evidence.Storage
	config    *Config
	logger    *slog.Logger
	scheduler *Scheduler
}

// NewPruner creates a new retention pruner.
func NewPruner(storage evidence.Storage, config *Config) *Pruner {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	pruner := &Pruner{
		storage: storage,
		config:  config,
		logger:  slog.Default().With("component", "evidence.retention"),
	}
	pruner.scheduler = NewScheduler(pruner)
	return pruner
}

// Cutoff returns the recording time at or before which evidence is pruned.
func (p *Pruner) Cutoff() time.Time {
	return p.config.Now().AddDate(0, 0, -p.config.RetentionDays)
}

// Prune deletes evidence recorded before the cutoff and returns the number
// of records deleted.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	if p.config.RetentionDays <= 0 {
		p.logger.Debug("retention disabled, nothing pruned")
		return 0, nil
	}

	cutoff := p.Cutoff()
	deleted, err := p.storage.Delete(ctx, &evidence.Query{EndTime: &cutoff})
	if err != nil {
		return 0, evidence.NewRetentionError(p.config.RetentionDays, err)
	}

	if deleted == 0 {
		p.logger.Debug("no records pruned",
			"cutoff_time", cutoff,
			"retention_days", p.config.RetentionDays,
		)
	} else {
		p.logger.Info("evidence pruning completed",
			"deleted_count", deleted,
			"cutoff_time", cutoff,
			"retention_days", p.config.RetentionDays,
		)
	}
	return deleted, nil
}

// Start starts the pruning scheduler.
func (p *Pruner) Start(ctx context.Context) error {
	return p.scheduler.Start(ctx)
}

// Stop stops the pruning scheduler.
func (p *Pruner) Stop() {
	p.scheduler.Stop()
}

// NextPruning returns the time of the next scheduled pruning.
func (p *Pruner) NextPruning() *time.Time {
	return p.scheduler.NextRun()
}
