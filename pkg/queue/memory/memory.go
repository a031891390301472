// Package memory provides an in-process queue.Adapter with visibility
// timeout redelivery. Jobs do not survive a restart.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"mercator-hq/nimbus/pkg/queue"
)

// Config configures the memory queue.
type Config struct {
	// VisibilityTimeout is how long a claimed job stays hidden.
	// Default: 5 minutes
	VisibilityTimeout time.Duration

	// Now returns the current time. Default: time.Now
	Now func() time.Time
}

type entry struct {
	job       *queue.Job
	visibleAt time.Time
	seq       uint64
}

// Queue implements queue.Adapter in memory.
type Queue struct {
	mu      sync.Mutex
	entries map[string]*entry
	seq     uint64
	stopped bool

	visibility time.Duration
	now        func() time.Time
}

// New creates an empty queue.
func New(cfg Config) *Queue {
	if cfg.VisibilityTimeout == 0 {
		cfg.VisibilityTimeout = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Queue{
		entries:    make(map[string]*entry),
		visibility: cfg.VisibilityTimeout,
		now:        cfg.Now,
	}
}

// Enqueue stores a copy of job.
func (q *Queue) Enqueue(ctx context.Context, job *queue.Job) (string, error) {
	if err := queue.ValidateJob(job); err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return "", queue.ErrStopped
	}

	q.seq++
	q.entries[job.ID] = &entry{job: job.Clone(), visibleAt: job.ScheduledFor, seq: q.seq}
	return job.ID, nil
}

// Dequeue claims the highest-priority due job.
func (q *Queue) Dequeue(ctx context.Context) (*queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return nil, queue.ErrStopped
	}

	now := q.now()
	var best *entry
	for _, e := range q.entries {
		if e.visibleAt.After(now) {
			continue
		}
		if best == nil || less(e, best) {
			best = e
		}
	}
	if best == nil {
		return nil, nil
	}

	best.visibleAt = now.Add(q.visibility)
	return best.job.Clone(), nil
}

func less(a, b *entry) bool {
	if ra, rb := a.job.Priority.Rank(), b.job.Priority.Rank(); ra != rb {
		return ra > rb
	}
	if !a.job.ScheduledFor.Equal(b.job.ScheduledFor) {
		return a.job.ScheduledFor.Before(b.job.ScheduledFor)
	}
	return a.seq < b.seq
}

// DeleteJob removes a job.
func (q *Queue) DeleteJob(ctx context.Context, jobID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return false, queue.ErrStopped
	}

	_, ok := q.entries[jobID]
	delete(q.entries, jobID)
	return ok, nil
}

// RequeueJob replaces the stored job and makes it visible after delay.
func (q *Queue) RequeueJob(ctx context.Context, job *queue.Job, delay time.Duration) (string, error) {
	if err := queue.ValidateJob(job); err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return "", queue.ErrStopped
	}

	q.seq++
	q.entries[job.ID] = &entry{job: job.Clone(), visibleAt: q.now().Add(delay), seq: q.seq}
	return job.ID, nil
}

// Len returns the number of stored jobs.
func (q *Queue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries), nil
}

// Jobs returns copies of all stored jobs ordered by id.
func (q *Queue) Jobs() []*queue.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]*queue.Job, 0, len(q.entries))
	for _, e := range q.entries {
		jobs = append(jobs, e.job.Clone())
	}
	slices.SortFunc(jobs, func(a, b *queue.Job) int {
		return strings.Compare(a.ID, b.ID)
	})
	return jobs
}

// Stop marks the queue stopped.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true
	return nil
}

var _ queue.Adapter = (*Queue)(nil)
