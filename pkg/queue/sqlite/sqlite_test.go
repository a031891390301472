package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"mercator-hq/nimbus/internal/testutil"
	"mercator-hq/nimbus/pkg/queue"
	"mercator-hq/nimbus/pkg/queue/queuetest"
)

func TestQueue_Contract(t *testing.T) {
	clock := func() queuetest.Clock {
		return testutil.NewClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	}
	queuetest.Run(t, clock, func(t *testing.T, c queuetest.Clock, visibility time.Duration) queue.Adapter {
		q, err := New(Config{
			Path:              filepath.Join(t.TempDir(), "queue.db"),
			VisibilityTimeout: visibility,
			Now:               c.Now,
		})
		if err != nil {
			t.Fatalf("failed to open queue: %v", err)
		}
		t.Cleanup(func() { q.Stop(context.Background()) })
		return q
	})
}

func TestQueue_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")
	clock := testutil.NewClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	q, err := New(Config{Path: path, Now: clock.Now})
	if err != nil {
		t.Fatal(err)
	}
	scheduled := clock.Now().Add(time.Hour)
	if _, err := q.Enqueue(ctx, &queue.Job{
		ID:           "j1",
		ObjectID:     "v1",
		Tier:         "pro",
		ScheduledFor: scheduled,
		Priority:     queue.PriorityHigh,
		Metadata:     map[string]string{"name": "clip.mp4"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := q.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	reopened, err := New(Config{Path: path, Now: clock.Now})
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Stop(ctx)

	if n, _ := reopened.Len(ctx); n != 1 {
		t.Fatalf("Len() = %d after reopen, want 1", n)
	}

	clock.Advance(time.Hour)
	job, err := reopened.Dequeue(ctx)
	if err != nil || job == nil {
		t.Fatalf("Dequeue() = %v, %v", job, err)
	}
	if !job.ScheduledFor.Equal(scheduled) || job.Tier != "pro" || job.Metadata["name"] != "clip.mp4" {
		t.Errorf("job fields not persisted: %+v", job)
	}
}

func TestQueue_RequeueAfterAck(t *testing.T) {
	ctx := context.Background()
	q, err := New(Config{Path: filepath.Join(t.TempDir(), "queue.db")})
	if err != nil {
		t.Fatal(err)
	}
	defer q.Stop(ctx)

	job := &queue.Job{ID: "j1", ObjectID: "v1", ScheduledFor: time.Now()}
	q.Enqueue(ctx, job)
	q.DeleteJob(ctx, "j1")

	job.RetryCount = 1
	if _, err := q.RequeueJob(ctx, job, time.Second); err != nil {
		t.Fatalf("RequeueJob() error = %v", err)
	}
	if n, _ := q.Len(ctx); n != 1 {
		t.Errorf("Len() = %d, want 1", n)
	}
}

func TestNew_RequiresPath(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error without path, got nil")
	}
}
