package audit

import (
	"context"
	"time"

	"mercator-hq/nimbus/pkg/evidence"
)

// Batch is a flushed group of entries.
type Batch struct {
	ID        string
	CreatedAt time.Time
	Entries   []Entry

	// Token is the encryption envelope of the JSON-encoded entries.
	Token string
}

// Sink stores flushed batches durably.
type Sink interface {
	StoreBatch(ctx context.Context, batch *Batch) error
}

// Encrypter seals flushed batches.
type Encrypter interface {
	Encrypt(ctx context.Context, plaintext []byte) (string, error)
}

// EvidenceSink stores batches as audit_batch evidence records.
type EvidenceSink struct {
	store evidence.Storage
}

// NewEvidenceSink creates a sink writing to store.
func NewEvidenceSink(store evidence.Storage) *EvidenceSink {
	return &EvidenceSink{store: store}
}

// StoreBatch implements Sink.
func (s *EvidenceSink) StoreBatch(ctx context.Context, batch *Batch) error {
	return s.store.Store(ctx, &evidence.Record{
		ID:         batch.ID,
		Kind:       evidence.KindAuditBatch,
		RecordedAt: batch.CreatedAt,
		BatchID:    batch.ID,
		Entries:    len(batch.Entries),
		Payload:    batch.Token,
	})
}
