// Package queue defines the durable deletion queue contract.
//
// A Job is owned by the queue from Enqueue until a worker claims it with
// Dequeue. A claimed job is invisible to other consumers for the visibility
// timeout; if it is neither acknowledged (DeleteJob) nor requeued within
// that window it is delivered again. This is the only cross-process
// exclusivity guarantee: workers in one process additionally de-duplicate
// through their in-flight set.
package queue

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"
)

// Priority orders due jobs. Higher priorities are dequeued first.
type Priority string

// Job priorities.
const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank returns a sortable rank for p; unknown priorities rank as normal.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityHigh:
		return 2
	case PriorityCritical:
		return 3
	default:
		return 1
	}
}

// Job is a scheduled deletion of one object.
type Job struct {
	ID           string            `json:"id"`
	ObjectID     string            `json:"object_id"`
	Tier         string            `json:"tier"`
	ScheduledFor time.Time         `json:"scheduled_for"`
	RetryCount   int               `json:"retry_count"`
	Priority     Priority          `json:"priority"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	c := *j
	c.Metadata = maps.Clone(j.Metadata)
	return &c
}

// InFlightKey identifies one delivery of a job within a process.
func (j *Job) InFlightKey() string {
	return j.ObjectID + "_" + j.ID
}

// Adapter is the durable queue contract.
type Adapter interface {
	// Enqueue stores job and returns its id.
	Enqueue(ctx context.Context, job *Job) (string, error)

	// Dequeue claims the next due job, or returns nil if none is ready.
	// Due jobs are ordered by priority, then by ScheduledFor.
	Dequeue(ctx context.Context) (*Job, error)

	// DeleteJob acknowledges a job, removing it permanently. It reports
	// whether the job existed.
	DeleteJob(ctx context.Context, jobID string) (bool, error)

	// RequeueJob stores the job's current fields (RetryCount, ScheduledFor)
	// and releases its claim. The job becomes due after delay.
	RequeueJob(ctx context.Context, job *Job, delay time.Duration) (string, error)

	// Len returns the number of jobs held, claimed or not.
	Len(ctx context.Context) (int, error)

	// Stop releases the adapter. Later calls return ErrStopped.
	Stop(ctx context.Context) error
}

var (
	// ErrStopped is returned by an adapter after Stop.
	ErrStopped = errors.New("queue stopped")

	// ErrInvalidJob is returned when a job is missing required fields.
	ErrInvalidJob = errors.New("invalid job")
)

// TransientError marks a queue failure that is expected to succeed on retry.
type TransientError struct {
	Op    string
	Cause error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return fmt.Sprintf("queue: transient %s failure: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying error.
func (e *TransientError) Unwrap() error {
	return e.Cause
}

// NewTransientError creates a new TransientError.
func NewTransientError(op string, cause error) *TransientError {
	return &TransientError{Op: op, Cause: cause}
}

// ValidateJob checks the fields every adapter requires.
func ValidateJob(job *Job) error {
	switch {
	case job == nil:
		return fmt.Errorf("%w: nil job", ErrInvalidJob)
	case job.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidJob)
	case job.ObjectID == "":
		return fmt.Errorf("%w: object id is required", ErrInvalidJob)
	}
	return nil
}
