package storage

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"mercator-hq/nimbus/pkg/evidence"
)

// MemoryStorage implements evidence.Storage in memory. Records are lost
// when the process exits.
type MemoryStorage struct {
	records map[string]*evidence.Record
	mu      sync.RWMutex
}

// NewMemoryStorage creates a new in-memory storage backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		records: make(map[string]*evidence.Record),
	}
}

// Store persists a copy of record.
func (s *MemoryStorage) Store(ctx context.Context, record *evidence.Record) error {
	if record == nil || record.ID == "" {
		return evidence.NewStorageError("memory", "store", fmt.Errorf("record id is required"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[record.ID]; ok {
		return evidence.NewStorageError("memory", "store", fmt.Errorf("%w: %s", evidence.ErrDuplicateRecord, record.ID))
	}
	recordCopy := *record
	s.records[record.ID] = &recordCopy
	return nil
}

// Query retrieves records matching the query filters.
func (s *MemoryStorage) Query(ctx context.Context, query *evidence.Query) ([]*evidence.Record, error) {
	q := query.WithDefaults()
	if err := q.Validate(); err != nil {
		return nil, err
	}

	results := []*evidence.Record{}
	for _, record := range s.matching(&q) {
		recordCopy := *record
		results = append(results, &recordCopy)
	}

	slices.SortFunc(results, func(a, b *evidence.Record) int {
		c := a.RecordedAt.Compare(b.RecordedAt)
		if c == 0 {
			c = strings.Compare(a.ID, b.ID)
		}
		if q.SortOrder == "desc" {
			return -c
		}
		return c
	})

	if q.Offset >= len(results) {
		return []*evidence.Record{}, nil
	}
	end := min(q.Offset+q.Limit, len(results))
	return results[q.Offset:end], nil
}

// Count returns the number of records matching the query filters.
func (s *MemoryStorage) Count(ctx context.Context, query *evidence.Query) (int64, error) {
	q := query.WithDefaults()
	if err := q.Validate(); err != nil {
		return 0, err
	}
	return int64(len(s.matching(&q))), nil
}

// Delete removes records matching the query filters.
func (s *MemoryStorage) Delete(ctx context.Context, query *evidence.Query) (int64, error) {
	q := query.WithDefaults()
	if err := q.Validate(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for id, record := range s.records {
		if q.Matches(record) {
			delete(s.records, id)
			count++
		}
	}
	return count, nil
}

// Close clears all records.
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*evidence.Record)
	return nil
}

func (s *MemoryStorage) matching(q *evidence.Query) []*evidence.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*evidence.Record
	for _, record := range s.records {
		if q.Matches(record) {
			out = append(out, record)
		}
	}
	return out
}

var _ evidence.Storage = (*MemoryStorage)(nil)
