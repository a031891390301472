package deletion

import (
	"context"
	"time"

	"mercator-hq/nimbus/pkg/compliance"
	"mercator-hq/nimbus/pkg/queue"
)

// Outcome is the result of one deletion attempt: *Completed, *Retried or
// *Failed.
type Outcome interface {
	outcome()
}

// PassResult reports one overwrite pass.
type PassResult struct {
	Pass         int       `json:"pass"`
	Pattern      string    `json:"pattern"`
	Checksum     string    `json:"checksum"`
	BytesWritten int64     `json:"bytesWritten"`
	Timestamp    time.Time `json:"timestamp"`
}

// Completed reports a finished secure deletion.
type Completed struct {
	ObjectID string
	Tier     string
	JobID    string
	Method   compliance.Method
	Reason   string

	DeletedAt time.Time
	Duration  time.Duration

	// Verified is true when both the existence check and the metadata
	// lookup confirmed the object is gone.
	Verified bool

	// AlreadyAbsent is true when the object was gone before the first pass.
	AlreadyAbsent bool

	Passes       []PassResult
	WitnessHash  string
	ApprovalHash string
	Frameworks   []string

	// AuditTrail is the encryption envelope of the full deletion record.
	AuditTrail string
}

// Retried reports a failed attempt that was requeued.
type Retried struct {
	Job     *queue.Job
	Err     error
	Backoff time.Duration
}

// Failed reports a terminal failure: a compliance block, an out-of-band
// deletion error or a dead-lettered job.
type Failed struct {
	ObjectID string
	Tier     string
	JobID    string
	Method   compliance.Method
	Err      error

	// DeadLettered is true when the job exhausted its retries. The object
	// is left in place for operator action.
	DeadLettered bool
	RetryCount   int

	// Impact lists the regulatory impact of the failure.
	Impact []string
}

func (*Completed) outcome() {}
func (*Retried) outcome()   {}
func (*Failed) outcome()    {}

// Observer receives deletion outcomes. Implementations must not block for
// long: they run on the deleting goroutine.
type Observer interface {
	Observe(ctx context.Context, o Outcome)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, o Outcome)

// Observe implements Observer.
func (f ObserverFunc) Observe(ctx context.Context, o Outcome) {
	f(ctx, o)
}
