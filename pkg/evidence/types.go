package evidence

import (
	"context"
	"time"
)

// Kind identifies what a record is evidence of.
type Kind string

const (
	// KindAuditBatch is a flushed batch of audit log entries.
	KindAuditBatch Kind = "audit_batch"

	// KindDeletion is the compliance record of a completed deletion.
	KindDeletion Kind = "deletion"

	// KindDeadLetter is a deletion job that exhausted its retries.
	KindDeadLetter Kind = "dead_letter"
)

// Record is one immutable evidence row.
type Record struct {
	// Identity
	ID   string `json:"id"`   // UUID v4
	Kind Kind   `json:"kind"` // Record kind

	RecordedAt time.Time `json:"recorded_at"`

	// Subject
	ObjectID string `json:"object_id,omitempty"`
	Tier     string `json:"tier,omitempty"`
	JobID    string `json:"job_id,omitempty"`
	Method   string `json:"method,omitempty"`

	// Deletion evidence
	Verified     bool   `json:"verified,omitempty"`
	Passes       int    `json:"passes,omitempty"`
	WitnessHash  string `json:"witness_hash,omitempty"`
	ApprovalHash string `json:"approval_hash,omitempty"`

	// Dead letters
	RetryCount int    `json:"retry_count,omitempty"`
	Error      string `json:"error,omitempty"`

	// Audit batches
	BatchID string `json:"batch_id,omitempty"`
	Entries int    `json:"entries,omitempty"`

	// Payload is an encryption envelope token. Empty for dead letters.
	Payload string `json:"payload,omitempty"`
}

// Query defines filter parameters for evidence records.
type Query struct {
	Kind     Kind   `json:"kind,omitempty"`
	ObjectID string `json:"object_id,omitempty"`

	// Time range on RecordedAt, both inclusive.
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	// Verified filters deletion records by their verification outcome.
	Verified *bool `json:"verified,omitempty"`

	// Pagination
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`

	// SortOrder orders by RecordedAt: "asc" or "desc" (default).
	SortOrder string `json:"sort_order,omitempty"`
}

// Storage defines the interface for evidence storage backends.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Store persists a record. Storing an existing ID fails.
	Store(ctx context.Context, record *Record) error

	// Query returns records matching the filters. Returns an empty slice
	// if none match.
	Query(ctx context.Context, query *Query) ([]*Record, error)

	// Count returns the number of records matching the filters.
	// Pagination is ignored.
	Count(ctx context.Context, query *Query) (int64, error)

	// Delete removes records matching the filters and returns how many
	// were removed. Used for retention enforcement.
	Delete(ctx context.Context, query *Query) (int64, error)

	// Close releases any resources held by the backend.
	Close() error
}
