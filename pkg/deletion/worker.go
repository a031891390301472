package deletion

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"mercator-hq/nimbus/pkg/audit"
	"mercator-hq/nimbus/pkg/compliance"
	"mercator-hq/nimbus/pkg/config"
	"mercator-hq/nimbus/pkg/evidence"
	"mercator-hq/nimbus/pkg/queue"
	"mercator-hq/nimbus/pkg/telemetry/metrics"
	"mercator-hq/nimbus/pkg/telemetry/tracing"
)

// ReasonScheduled is the reason recorded for queued deletions.
const ReasonScheduled = "scheduled_retention_policy"

// Backoff returns the retry delay after retryCount failed attempts:
// min(base * 2^retryCount, cap).
func Backoff(p config.RetryPolicyConfig, retryCount int) time.Duration {
	delay := p.Backoff
	for i := 0; i < retryCount; i++ {
		if delay >= p.MaxBackoff || delay > time.Duration(1<<62) {
			return p.MaxBackoff
		}
		delay *= 2
	}
	return min(delay, p.MaxBackoff)
}

// Worker consumes the deletion queue.
type Worker struct {
	engine  *Engine
	queue   queue.Adapter
	cfg     config.QueueConfig
	logger  *slog.Logger
	metrics *metrics.Collector
	now     func() time.Time

	slots chan struct{}
	jobs  sync.WaitGroup

	// jobCtx outlives Run so in-flight jobs can drain during Shutdown.
	jobCtx     context.Context
	cancelJobs context.CancelFunc

	done     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
	loopDone chan struct{}
}

// NewWorker creates a Worker feeding engine from q.
func NewWorker(engine *Engine, q queue.Adapter, cfg config.QueueConfig) (*Worker, error) {
	if engine == nil {
		return nil, errors.New("deletion: engine is required")
	}
	if q == nil {
		return nil, errors.New("deletion: queue is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 10 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	return &Worker{
		engine:     engine,
		queue:      q,
		cfg:        cfg,
		logger:     engine.logger.With("subsystem", "worker"),
		metrics:    engine.metrics,
		now:        engine.now,
		slots:      make(chan struct{}, cfg.Workers),
		jobCtx:     jobCtx,
		cancelJobs: cancel,
		done:       make(chan struct{}),
		loopDone:   make(chan struct{}),
	}, nil
}

// Run polls the queue until ctx is done or Shutdown is called.
func (w *Worker) Run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return errors.New("deletion: worker already running")
	}
	defer close(w.loopDone)

	w.logger.Info("deletion worker started", "workers", w.cfg.Workers, "poll_interval", w.cfg.PollInterval)

	for {
		select {
		case <-w.done:
			return nil
		default:
		}

		select {
		case <-w.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case w.slots <- struct{}{}:
		}

		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			<-w.slots
			if errors.Is(err, queue.ErrStopped) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("dequeue failed", "error", err)
			w.idle(ctx, w.cfg.ErrorBackoff)
			continue
		}
		if job == nil {
			<-w.slots
			w.updateQueueLength(ctx)
			w.idle(ctx, w.cfg.PollInterval)
			continue
		}

		w.jobs.Add(1)
		go func() {
			defer w.jobs.Done()
			defer func() { <-w.slots }()
			w.process(w.jobCtx, job)
			w.updateQueueLength(w.jobCtx)
		}()
	}
}

func (w *Worker) idle(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-w.done:
	case <-ctx.Done():
	}
}

func (w *Worker) updateQueueLength(ctx context.Context) {
	if n, err := w.queue.Len(ctx); err == nil {
		w.metrics.SetQueueLength(n)
	}
}

// process runs one claimed job to its outcome.
func (w *Worker) process(ctx context.Context, job *queue.Job) {
	key := job.InFlightKey()
	if !w.engine.acquire(job.ObjectID, key) {
		w.logger.Debug("job already in flight, skipping", "job_id", job.ID, "object_id", job.ObjectID)
		return
	}
	defer w.engine.release(job.ObjectID)

	req := Request{
		ObjectID:     job.ObjectID,
		Tier:         job.Tier,
		Method:       compliance.MethodAutomatic,
		Reason:       ReasonScheduled,
		JobID:        job.ID,
		ScheduledFor: job.ScheduledFor,
		Metadata:     job.Metadata,
	}

	ctx, span := w.engine.startSpan(ctx, req)
	span.SetAttributes(tracing.AttrRetryCount.Int(job.RetryCount))
	defer span.End()

	start := w.now()
	outcome := metrics.OutcomeFailure
	defer func() {
		w.metrics.RecordDeletion(job.Tier, outcome, w.now().Sub(start))
	}()

	completed, decision, err := w.engine.run(ctx, req)
	tracing.SetError(span, err)
	if err == nil {
		w.ack(ctx, job)
		outcome = metrics.OutcomeSuccess
		w.engine.complete(ctx, completed)
		return
	}

	var blocked *compliance.BlockedError
	if errors.As(err, &blocked) {
		w.ack(ctx, job)
		outcome = metrics.OutcomeBlocked
		w.engine.fail(ctx, req, err, decision, false, job.RetryCount)
		return
	}

	if ctx.Err() != nil {
		w.logger.Warn("job interrupted, leaving for redelivery", "job_id", job.ID, "error", err)
		return
	}

	if job.RetryCount >= w.cfg.RetryPolicy.Retries() {
		w.deadLetter(ctx, job, req, err, decision)
		outcome = metrics.OutcomeDeadLettered
		return
	}

	if w.retry(ctx, job, err) {
		outcome = metrics.OutcomeRetried
	}
}

func (w *Worker) ack(ctx context.Context, job *queue.Job) {
	if _, err := w.queue.DeleteJob(ctx, job.ID); err != nil {
		w.logger.Warn("failed to acknowledge job, it will be redelivered", "job_id", job.ID, "error", err)
	}
}

func (w *Worker) retry(ctx context.Context, job *queue.Job, cause error) bool {
	delay := Backoff(w.cfg.RetryPolicy, job.RetryCount)
	next := job.Clone()
	next.RetryCount++
	next.ScheduledFor = w.now().Add(delay)

	if _, err := w.queue.RequeueJob(ctx, next, delay); err != nil {
		w.logger.Error("failed to requeue job, relying on redelivery", "job_id", job.ID, "error", err)
		return false
	}

	w.metrics.RecordRetry(job.Tier)
	w.engine.write(audit.EventDeletionRetry, map[string]any{
		"objectId":   job.ObjectID,
		"tier":       job.Tier,
		"jobId":      job.ID,
		"error":      cause.Error(),
		"retryCount": next.RetryCount,
		"backoffMs":  delay.Milliseconds(),
	}, audit.LevelWarn)
	w.logger.Warn("deletion failed, retrying",
		"job_id", job.ID,
		"object_id", job.ObjectID,
		"attempt", next.RetryCount,
		"backoff", delay,
		"error", cause)

	w.engine.emit(ctx, &Retried{Job: next, Err: cause, Backoff: delay})
	return true
}

// deadLetter records a job that exhausted its retries and acknowledges
// it. The object itself is left untouched. The dead-letter row is best
// effort: the DELETION_FAILED entry and the Failed outcome are written
// even when the evidence store is down.
func (w *Worker) deadLetter(ctx context.Context, job *queue.Job, req Request, cause error, decision *compliance.Decision) {
	if w.engine.evidence != nil {
		err := w.engine.evidence.Store(ctx, &evidence.Record{
			ID:         uuid.NewString(),
			Kind:       evidence.KindDeadLetter,
			RecordedAt: w.now().UTC(),
			ObjectID:   job.ObjectID,
			Tier:       job.Tier,
			JobID:      job.ID,
			Method:     string(req.Method),
			RetryCount: job.RetryCount,
			Error:      cause.Error(),
		})
		if err != nil {
			w.logger.Error("failed to store dead letter", "job_id", job.ID, "object_id", job.ObjectID, "error", err)
		}
	}

	w.ack(ctx, job)
	w.metrics.RecordDeadLetter(job.Tier)
	w.engine.fail(ctx, req, cause, decision, true, job.RetryCount)
}

// Shutdown stops claiming jobs, waits up to the drain timeout for
// in-flight jobs and stops the queue. Jobs still running after the drain
// window are cancelled and left for redelivery.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.done) })

	if w.running.Load() {
		select {
		case <-w.loopDone:
		case <-ctx.Done():
		}
	}

	drained := make(chan struct{})
	go func() {
		w.jobs.Wait()
		close(drained)
	}()

	timer := time.NewTimer(w.cfg.DrainTimeout)
	defer timer.Stop()
	select {
	case <-drained:
	case <-timer.C:
		w.logger.Warn("drain timeout reached, leaving jobs for redelivery", "in_flight", w.engine.InFlight())
		w.cancelJobs()
	case <-ctx.Done():
		w.cancelJobs()
	}
	w.cancelJobs()

	w.logger.Info("deletion worker stopped")
	return w.queue.Stop(ctx)
}
