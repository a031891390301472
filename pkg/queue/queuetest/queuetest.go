// Package queuetest provides a conformance suite for queue.Adapter
// implementations.
package queuetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"mercator-hq/nimbus/pkg/queue"
)

// Clock is the manual clock the suite drives.
type Clock interface {
	Now() time.Time
	Advance(d time.Duration)
}

// Factory creates a fresh adapter whose notion of time is clock and whose
// visibility timeout is visibility.
type Factory func(t *testing.T, clock Clock, visibility time.Duration) queue.Adapter

// Run exercises the adapter contract.
func Run(t *testing.T, clock func() Clock, newAdapter Factory) {
	const visibility = time.Minute

	t.Run("empty dequeue returns nil", func(t *testing.T) {
		q := newAdapter(t, clock(), visibility)
		job, err := q.Dequeue(context.Background())
		if err != nil || job != nil {
			t.Errorf("Dequeue() = %v, %v, want nil, nil", job, err)
		}
	})

	t.Run("jobs become due at ScheduledFor", func(t *testing.T) {
		c := clock()
		q := newAdapter(t, c, visibility)
		ctx := context.Background()

		mustEnqueue(t, q, &queue.Job{ID: "j1", ObjectID: "v1", Tier: "free", ScheduledFor: c.Now().Add(2 * time.Minute), Priority: queue.PriorityNormal})

		if job, _ := q.Dequeue(ctx); job != nil {
			t.Fatalf("job dequeued before it was due: %+v", job)
		}
		c.Advance(2 * time.Minute)
		job, err := q.Dequeue(ctx)
		if err != nil || job == nil {
			t.Fatalf("Dequeue() = %v, %v, want job", job, err)
		}
		if job.ID != "j1" || job.ObjectID != "v1" || job.Tier != "free" {
			t.Errorf("unexpected job %+v", job)
		}
	})

	t.Run("priority then deadline ordering", func(t *testing.T) {
		c := clock()
		q := newAdapter(t, c, visibility)
		ctx := context.Background()
		now := c.Now()

		mustEnqueue(t, q, &queue.Job{ID: "normal-early", ObjectID: "a", ScheduledFor: now.Add(-3 * time.Second), Priority: queue.PriorityNormal})
		mustEnqueue(t, q, &queue.Job{ID: "normal-late", ObjectID: "b", ScheduledFor: now.Add(-1 * time.Second), Priority: queue.PriorityNormal})
		mustEnqueue(t, q, &queue.Job{ID: "critical", ObjectID: "c", ScheduledFor: now, Priority: queue.PriorityCritical})
		mustEnqueue(t, q, &queue.Job{ID: "high", ObjectID: "d", ScheduledFor: now, Priority: queue.PriorityHigh})

		want := []string{"critical", "high", "normal-early", "normal-late"}
		for _, id := range want {
			job, err := q.Dequeue(ctx)
			if err != nil || job == nil {
				t.Fatalf("Dequeue() = %v, %v, want %s", job, err, id)
			}
			if job.ID != id {
				t.Errorf("Dequeue() = %s, want %s", job.ID, id)
			}
		}
	})

	t.Run("claimed job is redelivered after visibility timeout", func(t *testing.T) {
		c := clock()
		q := newAdapter(t, c, visibility)
		ctx := context.Background()

		mustEnqueue(t, q, &queue.Job{ID: "j1", ObjectID: "v1", ScheduledFor: c.Now(), Priority: queue.PriorityNormal})

		if job, _ := q.Dequeue(ctx); job == nil {
			t.Fatal("expected first delivery")
		}
		if job, _ := q.Dequeue(ctx); job != nil {
			t.Fatal("claimed job delivered twice within visibility timeout")
		}
		c.Advance(visibility + time.Second)
		if job, _ := q.Dequeue(ctx); job == nil || job.ID != "j1" {
			t.Fatalf("expected redelivery of j1, got %+v", job)
		}
	})

	t.Run("requeue persists retry state and delay", func(t *testing.T) {
		c := clock()
		q := newAdapter(t, c, visibility)
		ctx := context.Background()

		mustEnqueue(t, q, &queue.Job{ID: "j1", ObjectID: "v1", ScheduledFor: c.Now(), Priority: queue.PriorityHigh, Metadata: map[string]string{"k": "v"}})
		job, _ := q.Dequeue(ctx)
		if job == nil {
			t.Fatal("expected job")
		}

		job.RetryCount = 2
		job.ScheduledFor = c.Now().Add(4 * time.Second)
		if id, err := q.RequeueJob(ctx, job, 4*time.Second); err != nil || id != "j1" {
			t.Fatalf("RequeueJob() = %q, %v", id, err)
		}

		c.Advance(3 * time.Second)
		if got, _ := q.Dequeue(ctx); got != nil {
			t.Fatal("requeued job delivered before its delay")
		}
		c.Advance(time.Second)
		got, err := q.Dequeue(ctx)
		if err != nil || got == nil {
			t.Fatalf("Dequeue() = %v, %v", got, err)
		}
		if got.RetryCount != 2 || got.Metadata["k"] != "v" || got.Priority != queue.PriorityHigh {
			t.Errorf("retry state not persisted: %+v", got)
		}
	})

	t.Run("delete acknowledges", func(t *testing.T) {
		c := clock()
		q := newAdapter(t, c, visibility)
		ctx := context.Background()

		mustEnqueue(t, q, &queue.Job{ID: "j1", ObjectID: "v1", ScheduledFor: c.Now()})
		if n, _ := q.Len(ctx); n != 1 {
			t.Errorf("Len() = %d, want 1", n)
		}

		if ok, err := q.DeleteJob(ctx, "j1"); err != nil || !ok {
			t.Errorf("DeleteJob() = %v, %v, want true", ok, err)
		}
		if ok, _ := q.DeleteJob(ctx, "j1"); ok {
			t.Error("second DeleteJob() = true, want false")
		}
		if n, _ := q.Len(ctx); n != 0 {
			t.Errorf("Len() = %d after delete, want 0", n)
		}
		c.Advance(2 * visibility)
		if job, _ := q.Dequeue(ctx); job != nil {
			t.Errorf("acknowledged job redelivered: %+v", job)
		}
	})

	t.Run("invalid jobs rejected", func(t *testing.T) {
		q := newAdapter(t, clock(), visibility)
		for _, job := range []*queue.Job{nil, {ObjectID: "v1"}, {ID: "j1"}} {
			if _, err := q.Enqueue(context.Background(), job); !errors.Is(err, queue.ErrInvalidJob) {
				t.Errorf("Enqueue(%+v) error = %v, want ErrInvalidJob", job, err)
			}
		}
	})

	t.Run("stop", func(t *testing.T) {
		q := newAdapter(t, clock(), visibility)
		ctx := context.Background()
		if err := q.Stop(ctx); err != nil {
			t.Fatalf("Stop() error = %v", err)
		}
		if _, err := q.Dequeue(ctx); !errors.Is(err, queue.ErrStopped) {
			t.Errorf("Dequeue() after Stop error = %v, want ErrStopped", err)
		}
		if _, err := q.Enqueue(ctx, &queue.Job{ID: "j1", ObjectID: "v1"}); !errors.Is(err, queue.ErrStopped) {
			t.Errorf("Enqueue() after Stop error = %v, want ErrStopped", err)
		}
	})
}

func mustEnqueue(t *testing.T, q queue.Adapter, job *queue.Job) {
	t.Helper()
	if _, err := q.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue(%s) error = %v", job.ID, err)
	}
}
