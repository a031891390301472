package events

import (
	"time"

	"mercator-hq/nimbus/pkg/deletion"
)

// Event types.
const (
	TypeCompleted = "deletion.completed"
	TypeRetried   = "deletion.retried"
	TypeFailed    = "deletion.failed"
)

// Event is the wire form of a deletion outcome.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	ObjectID  string    `json:"objectId"`
	Tier      string    `json:"tier"`
	JobID     string    `json:"jobId,omitempty"`
	Method    string    `json:"method,omitempty"`

	Verified      bool   `json:"verified,omitempty"`
	AlreadyAbsent bool   `json:"alreadyAbsent,omitempty"`
	Passes        int    `json:"passes,omitempty"`
	WitnessHash   string `json:"witnessHash,omitempty"`

	RetryCount   int      `json:"retryCount,omitempty"`
	BackoffMs    int64    `json:"backoffMs,omitempty"`
	DeadLettered bool     `json:"deadLettered,omitempty"`
	Error        string   `json:"error,omitempty"`
	Impact       []string `json:"impact,omitempty"`
}

// FromOutcome converts o, stamping it with now. It returns false for
// outcome types it does not know.
func FromOutcome(o deletion.Outcome, now time.Time) (Event, bool) {
	switch o := o.(type) {
	case *deletion.Completed:
		return Event{
			Type:          TypeCompleted,
			Timestamp:     o.DeletedAt,
			ObjectID:      o.ObjectID,
			Tier:          o.Tier,
			JobID:         o.JobID,
			Method:        string(o.Method),
			Verified:      o.Verified,
			AlreadyAbsent: o.AlreadyAbsent,
			Passes:        len(o.Passes),
			WitnessHash:   o.WitnessHash,
		}, true
	case *deletion.Retried:
		ev := Event{
			Type:       TypeRetried,
			Timestamp:  now,
			ObjectID:   o.Job.ObjectID,
			Tier:       o.Job.Tier,
			JobID:      o.Job.ID,
			RetryCount: o.Job.RetryCount,
			BackoffMs:  o.Backoff.Milliseconds(),
		}
		if o.Err != nil {
			ev.Error = o.Err.Error()
		}
		return ev, true
	case *deletion.Failed:
		ev := Event{
			Type:         TypeFailed,
			Timestamp:    now,
			ObjectID:     o.ObjectID,
			Tier:         o.Tier,
			JobID:        o.JobID,
			Method:       string(o.Method),
			RetryCount:   o.RetryCount,
			DeadLettered: o.DeadLettered,
			Impact:       o.Impact,
		}
		if o.Err != nil {
			ev.Error = o.Err.Error()
		}
		return ev, true
	}
	return Event{}, false
}
