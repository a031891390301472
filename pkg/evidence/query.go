package evidence

import "fmt"

const (
	// DefaultLimit is the number of records returned when Limit is zero.
	DefaultLimit = 100

	// MaxLimit is the maximum number of records a single query returns.
	MaxLimit = 10000
)

var validKinds = map[Kind]bool{
	KindAuditBatch: true,
	KindDeletion:   true,
	KindDeadLetter: true,
}

// Validate checks the query's parameters.
func (q *Query) Validate() error {
	if q.Kind != "" && !validKinds[q.Kind] {
		return NewQueryError(q, fmt.Errorf("invalid kind: %s", q.Kind))
	}
	if q.Limit < 0 {
		return NewQueryError(q, fmt.Errorf("limit must be >= 0, got %d", q.Limit))
	}
	if q.Limit > MaxLimit {
		return NewQueryError(q, fmt.Errorf("limit must be <= %d, got %d", MaxLimit, q.Limit))
	}
	if q.Offset < 0 {
		return NewQueryError(q, fmt.Errorf("offset must be >= 0, got %d", q.Offset))
	}
	if q.SortOrder != "" && q.SortOrder != "asc" && q.SortOrder != "desc" {
		return NewQueryError(q, fmt.Errorf("invalid sort order: %s (must be 'asc' or 'desc')", q.SortOrder))
	}
	if q.StartTime != nil && q.EndTime != nil && q.StartTime.After(*q.EndTime) {
		return NewQueryError(q, fmt.Errorf("start_time must be before end_time"))
	}
	return nil
}

// WithDefaults returns a copy of q with the default limit and sort order
// applied. A nil query selects everything.
func (q *Query) WithDefaults() Query {
	var out Query
	if q != nil {
		out = *q
	}
	if out.Limit == 0 {
		out.Limit = DefaultLimit
	}
	if out.SortOrder == "" {
		out.SortOrder = "desc"
	}
	return out
}

// Matches reports whether r satisfies the query's filters.
func (q *Query) Matches(r *Record) bool {
	if q == nil {
		return true
	}
	if q.Kind != "" && r.Kind != q.Kind {
		return false
	}
	if q.ObjectID != "" && r.ObjectID != q.ObjectID {
		return false
	}
	if q.StartTime != nil && r.RecordedAt.Before(*q.StartTime) {
		return false
	}
	if q.EndTime != nil && r.RecordedAt.After(*q.EndTime) {
		return false
	}
	if q.Verified != nil && (r.Kind != KindDeletion || r.Verified != *q.Verified) {
		return false
	}
	return true
}
