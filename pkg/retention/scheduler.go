package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"time"

	"github.com/google/uuid"

	"mercator-hq/nimbus/pkg/audit"
	"mercator-hq/nimbus/pkg/config"
	"mercator-hq/nimbus/pkg/queue"
)

// Job metadata keys added by the scheduler.
const (
	MetadataUploadTime     = "upload_time"
	MetadataRetentionHours = "retention_hours"
)

// AuditRequirer reports whether deletions need a full audit trail.
type AuditRequirer interface {
	RequiresAudit() bool
}

// Options configures optional Scheduler dependencies.
type Options struct {
	Audit audit.Writer

	// Compliance decides Policy.AuditRequired. When nil, audit is required
	// for any audit level above basic.
	Compliance AuditRequirer

	Logger *slog.Logger

	// Now returns the current time. Default: time.Now
	Now func() time.Time
}

// Scheduler enqueues deletion jobs for stored objects.
type Scheduler struct {
	cfg        *config.Config
	queue      queue.Adapter
	audit      audit.Writer
	compliance AuditRequirer
	logger     *slog.Logger
	now        func() time.Time
}

// NewScheduler creates a Scheduler enqueueing to q.
func NewScheduler(cfg *config.Config, q queue.Adapter, opts Options) (*Scheduler, error) {
	if cfg == nil {
		return nil, errors.New("retention: config is required")
	}
	if q == nil {
		return nil, errors.New("retention: queue is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		cfg:        cfg,
		queue:      q,
		audit:      opts.Audit,
		compliance: opts.Compliance,
		logger:     opts.Logger.With("component", "retention"),
		now:        opts.Now,
	}, nil
}

// PolicyFor returns the unscheduled policy of a tier.
func (s *Scheduler) PolicyFor(tier string) (*Policy, error) {
	tc, ok := s.cfg.Tier(tier)
	if !ok {
		return nil, config.NewUnknownTierError(tier)
	}
	return &Policy{
		Tier:            tier,
		Retention:       tc.RetentionDuration(),
		OverwritePasses: s.cfg.OverwritePasses(tier),
		AuditRequired:   s.auditRequired(),
		Priority:        PriorityFor(tc),
	}, nil
}

func (s *Scheduler) auditRequired() bool {
	if s.compliance != nil {
		return s.compliance.RequiresAudit()
	}
	return s.cfg.Compliance.AuditLevel != config.AuditLevelBasic
}

// ScheduleRetention enqueues the deletion of objectID at now plus the
// tier's retention.
func (s *Scheduler) ScheduleRetention(ctx context.Context, objectID, tier string, metadata map[string]string) (*Policy, error) {
	policy, err := s.PolicyFor(tier)
	if err != nil {
		return nil, err
	}

	now := s.now()
	policy.ObjectID = objectID
	policy.DeleteAt = now.Add(policy.Retention)

	md := maps.Clone(metadata)
	if md == nil {
		md = make(map[string]string, 2)
	}
	md[MetadataUploadTime] = now.UTC().Format(time.RFC3339Nano)
	md[MetadataRetentionHours] = strconv.FormatFloat(policy.Retention.Hours(), 'f', -1, 64)

	job := &queue.Job{
		ID:           uuid.NewString(),
		ObjectID:     objectID,
		Tier:         tier,
		ScheduledFor: policy.DeleteAt,
		Priority:     policy.Priority,
		Metadata:     md,
	}
	jobID, err := s.queue.Enqueue(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("retention: failed to schedule deletion of %s: %w", objectID, err)
	}
	policy.JobID = jobID

	s.logger.Info("deletion scheduled",
		"object_id", objectID,
		"tier", tier,
		"job_id", jobID,
		"delete_at", policy.DeleteAt,
		"priority", policy.Priority)

	if s.audit != nil {
		s.audit.Write(audit.EventRetentionScheduled, map[string]any{
			"objectId":             objectID,
			"tier":                 tier,
			"retentionHours":       policy.Retention.Hours(),
			"scheduledDeletion":    policy.DeleteAt.UTC().Format(time.RFC3339Nano),
			"complianceFrameworks": s.cfg.Compliance.Frameworks,
			"metadata":             maps.Clone(metadata),
			"queueJobId":           jobID,
		}, audit.LevelInfo)
	}

	return policy, nil
}
