// Package audittest provides an in-memory audit.Writer for tests.
package audittest

import (
	"maps"
	"sync"

	"mercator-hq/nimbus/pkg/audit"
)

// Record is one captured write.
type Record struct {
	Event string
	Data  map[string]any
	Level audit.Level
}

// Recorder captures audit writes.
type Recorder struct {
	mu      sync.Mutex
	records []Record
}

// Write implements audit.Writer.
func (r *Recorder) Write(event string, data map[string]any, level audit.Level) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, Record{Event: event, Data: maps.Clone(data), Level: level})
}

// Records returns every captured write in order.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

// Events returns the captured records of one event kind.
func (r *Recorder) Events(event string) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, rec := range r.records {
		if rec.Event == event {
			out = append(out, rec)
		}
	}
	return out
}

// Count returns how many records of event were captured.
func (r *Recorder) Count(event string) int {
	return len(r.Events(event))
}

var _ audit.Writer = (*Recorder)(nil)
