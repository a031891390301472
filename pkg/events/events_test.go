package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"mercator-hq/nimbus/pkg/compliance"
	"mercator-hq/nimbus/pkg/deletion"
	"mercator-hq/nimbus/pkg/queue"
)

var now = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func TestFromOutcome(t *testing.T) {
	tests := []struct {
		name    string
		outcome deletion.Outcome
		want    Event
	}{
		{
			name: "completed",
			outcome: &deletion.Completed{
				ObjectID: "o1", Tier: "free", JobID: "j1", Method: compliance.MethodAutomatic,
				DeletedAt: now, Verified: true, WitnessHash: "abc",
				Passes: []deletion.PassResult{{Pass: 1}, {Pass: 2}},
			},
			want: Event{
				Type: TypeCompleted, Timestamp: now, ObjectID: "o1", Tier: "free", JobID: "j1",
				Method: "automatic", Verified: true, Passes: 2, WitnessHash: "abc",
			},
		},
		{
			name: "retried",
			outcome: &deletion.Retried{
				Job:     &queue.Job{ID: "j1", ObjectID: "o1", Tier: "free", RetryCount: 1},
				Err:     errors.New("503"),
				Backoff: 2 * time.Second,
			},
			want: Event{
				Type: TypeRetried, Timestamp: now, ObjectID: "o1", Tier: "free", JobID: "j1",
				RetryCount: 1, BackoffMs: 2000, Error: "503",
			},
		},
		{
			name: "dead lettered",
			outcome: &deletion.Failed{
				ObjectID: "o1", Tier: "free", JobID: "j1", Method: compliance.MethodAutomatic,
				Err: errors.New("503"), DeadLettered: true, RetryCount: 3,
			},
			want: Event{
				Type: TypeFailed, Timestamp: now, ObjectID: "o1", Tier: "free", JobID: "j1",
				Method: "automatic", RetryCount: 3, DeadLettered: true, Error: "503",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FromOutcome(tt.outcome, now)
			if !ok {
				t.Fatal("FromOutcome() ok = false")
			}
			gotJSON, _ := json.Marshal(got)
			wantJSON, _ := json.Marshal(tt.want)
			if !bytes.Equal(gotJSON, wantJSON) {
				t.Errorf("FromOutcome() = %s, want %s", gotJSON, wantJSON)
			}
		})
	}

	if _, ok := FromOutcome(nil, now); ok {
		t.Error("FromOutcome(nil) ok = true")
	}
}

func TestLogObserver(t *testing.T) {
	var buf bytes.Buffer
	obs := NewLogObserver(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	obs.Observe(context.Background(), &deletion.Failed{ObjectID: "o1", Tier: "free", Err: errors.New("boom"), DeadLettered: true})

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if line["level"] != "ERROR" || line["type"] != TypeFailed || line["dead_lettered"] != true || line["component"] != "events" {
		t.Errorf("unexpected log line %v", line)
	}
}

func TestMulti(t *testing.T) {
	var calls []string
	record := func(name string) deletion.Observer {
		return deletion.ObserverFunc(func(ctx context.Context, o deletion.Outcome) {
			calls = append(calls, name)
		})
	}

	m := Multi{record("a"), nil, record("b")}
	m.Observe(context.Background(), &deletion.Completed{})

	if got := strings.Join(calls, ","); got != "a,b" {
		t.Errorf("calls = %s, want a,b", got)
	}
}
