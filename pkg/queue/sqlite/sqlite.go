// Package sqlite provides a durable queue.Adapter on SQLite.
//
// Claims are a single UPDATE ... RETURNING statement that moves the job's
// visible_at forward by the visibility timeout, so a claim is atomic even
// with several processes sharing the database file. A job whose claim
// expires is delivered again.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	msqlite "modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"mercator-hq/nimbus/pkg/queue"
)

// Config configures the SQLite queue.
type Config struct {
	// Path is the database file path.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// VisibilityTimeout is how long a claimed job stays hidden.
	// Default: 5 minutes
	VisibilityTimeout time.Duration

	// Now returns the current time. Default: time.Now
	Now func() time.Time
}

// Queue implements queue.Adapter on SQLite.
type Queue struct {
	db         *sql.DB
	visibility time.Duration
	now        func() time.Time

	mu      sync.RWMutex
	stopped bool

	enqueueStmt *sql.Stmt
	claimStmt   *sql.Stmt
	deleteStmt  *sql.Stmt
	requeueStmt *sql.Stmt
	countStmt   *sql.Stmt
}

// New opens (creating if needed) the queue database.
func New(cfg Config) (*Queue, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.VisibilityTimeout == 0 {
		cfg.VisibilityTimeout = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	q := &Queue{
		db:         db,
		visibility: cfg.VisibilityTimeout,
		now:        cfg.Now,
	}

	if err := q.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := q.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	return q, nil
}

func (q *Queue) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS deletion_jobs (
		id TEXT PRIMARY KEY,
		object_id TEXT NOT NULL,
		tier TEXT NOT NULL,
		scheduled_for INTEGER NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		priority TEXT NOT NULL,
		priority_rank INTEGER NOT NULL,
		metadata TEXT,
		visible_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_deletion_jobs_due
		ON deletion_jobs(visible_at, priority_rank DESC, scheduled_for);
	`
	_, err := q.db.Exec(schema)
	return err
}

func (q *Queue) prepareStatements() error {
	var err error

	q.enqueueStmt, err = q.db.Prepare(`
		INSERT INTO deletion_jobs (id, object_id, tier, scheduled_for, retry_count, priority, priority_rank, metadata, visible_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			scheduled_for = excluded.scheduled_for,
			retry_count = excluded.retry_count,
			priority = excluded.priority,
			priority_rank = excluded.priority_rank,
			metadata = excluded.metadata,
			visible_at = excluded.visible_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare enqueue statement: %w", err)
	}

	q.claimStmt, err = q.db.Prepare(`
		UPDATE deletion_jobs SET visible_at = ?
		WHERE id = (
			SELECT id FROM deletion_jobs
			WHERE visible_at <= ?
			ORDER BY priority_rank DESC, scheduled_for ASC, created_at ASC
			LIMIT 1
		)
		RETURNING id, object_id, tier, scheduled_for, retry_count, priority, metadata
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare claim statement: %w", err)
	}

	q.deleteStmt, err = q.db.Prepare(`DELETE FROM deletion_jobs WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}

	q.requeueStmt, err = q.db.Prepare(`
		UPDATE deletion_jobs
		SET scheduled_for = ?, retry_count = ?, metadata = ?, visible_at = ?
		WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare requeue statement: %w", err)
	}

	q.countStmt, err = q.db.Prepare(`SELECT COUNT(*) FROM deletion_jobs`)
	if err != nil {
		return fmt.Errorf("failed to prepare count statement: %w", err)
	}

	return nil
}

func (q *Queue) checkStopped() error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		return queue.ErrStopped
	}
	return nil
}

// Enqueue inserts job. Enqueueing an existing id replaces its schedule.
func (q *Queue) Enqueue(ctx context.Context, job *queue.Job) (string, error) {
	if err := queue.ValidateJob(job); err != nil {
		return "", err
	}
	if err := q.checkStopped(); err != nil {
		return "", err
	}

	metadata, err := encodeMetadata(job.Metadata)
	if err != nil {
		return "", err
	}

	_, err = q.enqueueStmt.ExecContext(ctx,
		job.ID,
		job.ObjectID,
		job.Tier,
		job.ScheduledFor.UnixMilli(),
		job.RetryCount,
		string(job.Priority),
		job.Priority.Rank(),
		metadata,
		job.ScheduledFor.UnixMilli(),
		q.now().UnixMilli(),
	)
	if err != nil {
		return "", wrapError("enqueue", err)
	}
	return job.ID, nil
}

// Dequeue claims the next due job.
func (q *Queue) Dequeue(ctx context.Context) (*queue.Job, error) {
	if err := q.checkStopped(); err != nil {
		return nil, err
	}

	now := q.now()
	row := q.claimStmt.QueryRowContext(ctx, now.Add(q.visibility).UnixMilli(), now.UnixMilli())

	var (
		job          queue.Job
		scheduledFor int64
		priority     string
		metadata     sql.NullString
	)
	err := row.Scan(&job.ID, &job.ObjectID, &job.Tier, &scheduledFor, &job.RetryCount, &priority, &metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError("dequeue", err)
	}

	job.ScheduledFor = time.UnixMilli(scheduledFor)
	job.Priority = queue.Priority(priority)
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &job.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode job metadata: %w", err)
		}
	}
	return &job, nil
}

// DeleteJob acknowledges a job.
func (q *Queue) DeleteJob(ctx context.Context, jobID string) (bool, error) {
	if err := q.checkStopped(); err != nil {
		return false, err
	}

	res, err := q.deleteStmt.ExecContext(ctx, jobID)
	if err != nil {
		return false, wrapError("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapError("delete", err)
	}
	return n > 0, nil
}

// RequeueJob persists the job's retry state and releases its claim.
func (q *Queue) RequeueJob(ctx context.Context, job *queue.Job, delay time.Duration) (string, error) {
	if err := queue.ValidateJob(job); err != nil {
		return "", err
	}
	if err := q.checkStopped(); err != nil {
		return "", err
	}

	metadata, err := encodeMetadata(job.Metadata)
	if err != nil {
		return "", err
	}

	res, err := q.requeueStmt.ExecContext(ctx,
		job.ScheduledFor.UnixMilli(),
		job.RetryCount,
		metadata,
		q.now().Add(delay).UnixMilli(),
		job.ID,
	)
	if err != nil {
		return "", wrapError("requeue", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// The row was acknowledged elsewhere; store it again.
		return q.Enqueue(ctx, job)
	}
	return job.ID, nil
}

// Len returns the number of stored jobs.
func (q *Queue) Len(ctx context.Context) (int, error) {
	if err := q.checkStopped(); err != nil {
		return 0, err
	}

	var n int
	if err := q.countStmt.QueryRowContext(ctx).Scan(&n); err != nil {
		return 0, wrapError("count", err)
	}
	return n, nil
}

// Stop closes the statements and the database.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	q.mu.Unlock()

	for _, stmt := range []*sql.Stmt{q.enqueueStmt, q.claimStmt, q.deleteStmt, q.requeueStmt, q.countStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return q.db.Close()
}

func encodeMetadata(md map[string]string) (string, error) {
	if len(md) == 0 {
		return "", nil
	}
	data, err := json.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("failed to encode job metadata: %w", err)
	}
	return string(data), nil
}

// wrapError marks lock contention as transient.
func wrapError(op string, err error) error {
	var serr *msqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() & 0xff {
		case sqlitelib.SQLITE_BUSY, sqlitelib.SQLITE_LOCKED:
			return queue.NewTransientError(op, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return queue.NewTransientError(op, err)
	}
	return fmt.Errorf("queue %s: %w", op, err)
}

var _ queue.Adapter = (*Queue)(nil)
