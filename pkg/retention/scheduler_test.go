package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"mercator-hq/nimbus/internal/testutil"
	"mercator-hq/nimbus/pkg/audit"
	"mercator-hq/nimbus/pkg/audit/audittest"
	"mercator-hq/nimbus/pkg/config"
	"mercator-hq/nimbus/pkg/queue"
	"mercator-hq/nimbus/pkg/queue/memory"
)

type fixedAudit bool

func (f fixedAudit) RequiresAudit() bool { return bool(f) }

func newScheduler(t *testing.T, opts Options) (*Scheduler, *memory.Queue, *testutil.Clock) {
	t.Helper()
	cfg := testutil.Config(t)
	cfg.Tiers["archive"] = config.TierConfig{Retention: 48 * time.Hour}

	clock := testutil.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	q := memory.New(memory.Config{Now: clock.Now})
	opts.Now = clock.Now
	s, err := NewScheduler(cfg, q, opts)
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	return s, q, clock
}

func TestScheduleRetention(t *testing.T) {
	tests := []struct {
		tier     string
		delay    time.Duration
		priority queue.Priority
	}{
		{"free", 120 * time.Second, queue.PriorityHigh},
		{"pro", time.Hour, queue.PriorityHigh},
		{"enterprise", 24 * time.Hour, queue.PriorityCritical},
		{"archive", 48 * time.Hour, queue.PriorityNormal},
	}

	for _, tt := range tests {
		t.Run(tt.tier, func(t *testing.T) {
			rec := &audittest.Recorder{}
			s, q, clock := newScheduler(t, Options{Audit: rec})
			ctx := context.Background()

			policy, err := s.ScheduleRetention(ctx, "obj-1", tt.tier, map[string]string{"name": "clip.mp4"})
			testutil.AssertNoError(t, err)

			wantAt := clock.Now().Add(tt.delay)
			if !policy.DeleteAt.Equal(wantAt) {
				t.Errorf("DeleteAt = %v, want %v", policy.DeleteAt, wantAt)
			}
			if policy.Priority != tt.priority {
				t.Errorf("Priority = %s, want %s", policy.Priority, tt.priority)
			}
			if policy.OverwritePasses != 3 {
				t.Errorf("OverwritePasses = %d, want 3", policy.OverwritePasses)
			}

			jobs := q.Jobs()
			if len(jobs) != 1 {
				t.Fatalf("queue holds %d jobs, want 1", len(jobs))
			}
			job := jobs[0]
			if job.ID != policy.JobID || job.ObjectID != "obj-1" || job.Tier != tt.tier || job.RetryCount != 0 {
				t.Errorf("unexpected job %+v", job)
			}
			if !job.ScheduledFor.Equal(wantAt) || job.Priority != tt.priority {
				t.Errorf("job schedule = %v/%s", job.ScheduledFor, job.Priority)
			}
			if job.Metadata["name"] != "clip.mp4" || job.Metadata[MetadataUploadTime] == "" || job.Metadata[MetadataRetentionHours] == "" {
				t.Errorf("job metadata = %v", job.Metadata)
			}

			entries := rec.Events(audit.EventRetentionScheduled)
			if len(entries) != 1 {
				t.Fatalf("got %d RETENTION_SCHEDULED entries, want 1", len(entries))
			}
			if entries[0].Data["queueJobId"] != policy.JobID || entries[0].Data["objectId"] != "obj-1" {
				t.Errorf("audit data = %v", entries[0].Data)
			}
		})
	}
}

func TestScheduleRetention_UnknownTier(t *testing.T) {
	rec := &audittest.Recorder{}
	s, q, _ := newScheduler(t, Options{Audit: rec})

	_, err := s.ScheduleRetention(context.Background(), "obj-1", "platinum", nil)
	var tierErr *UnknownTierError
	if !errors.As(err, &tierErr) || tierErr.Tier != "platinum" {
		t.Fatalf("error = %v, want UnknownTierError", err)
	}
	if !errors.Is(err, config.ErrUnknownTier) {
		t.Error("error does not match config.ErrUnknownTier")
	}
	if len(q.Jobs()) != 0 || len(rec.Records()) != 0 {
		t.Error("unknown tier scheduled a job or wrote audit")
	}
}

func TestScheduleRetention_DoesNotMutateMetadata(t *testing.T) {
	s, _, _ := newScheduler(t, Options{})
	md := map[string]string{"name": "clip.mp4"}

	_, err := s.ScheduleRetention(context.Background(), "obj-1", "free", md)
	testutil.AssertNoError(t, err)
	if len(md) != 1 {
		t.Errorf("caller metadata modified: %v", md)
	}
}

func TestScheduleRetention_QueueFailure(t *testing.T) {
	s, q, _ := newScheduler(t, Options{})
	q.Stop(context.Background())

	_, err := s.ScheduleRetention(context.Background(), "obj-1", "free", nil)
	testutil.AssertErrorIs(t, err, queue.ErrStopped)
}

func TestPolicyFor_AuditRequired(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want bool
	}{
		{"basic level without gate", Options{}, false},
		{"gate requires audit", Options{Compliance: fixedAudit(true)}, true},
		{"gate waives audit", Options{Compliance: fixedAudit(false)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, _ := newScheduler(t, tt.opts)
			p, err := s.PolicyFor("pro")
			testutil.AssertNoError(t, err)
			if p.AuditRequired != tt.want {
				t.Errorf("AuditRequired = %v, want %v", p.AuditRequired, tt.want)
			}
			if p.JobID != "" || !p.DeleteAt.IsZero() {
				t.Errorf("unscheduled policy carries schedule: %+v", p)
			}
		})
	}
}

func TestNewScheduler_RequiresDependencies(t *testing.T) {
	cfg := testutil.Config(t)
	if _, err := NewScheduler(nil, memory.New(memory.Config{}), Options{}); err == nil {
		t.Error("expected error without config")
	}
	if _, err := NewScheduler(cfg, nil, Options{}); err == nil {
		t.Error("expected error without queue")
	}
}
