package retention

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"mercator-hq/nimbus/internal/testutil"
	"mercator-hq/nimbus/pkg/evidence"
	"mercator-hq/nimbus/pkg/evidence/storage"
)

func seedAges(t *testing.T, s evidence.Storage, now time.Time, ages ...int) {
	t.Helper()
	for i, days := range ages {
		err := s.Store(context.Background(), &evidence.Record{
			ID:         fmt.Sprintf("r%d", i),
			Kind:       evidence.KindDeletion,
			RecordedAt: now.AddDate(0, 0, -days),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestPruner_Prune(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		retentionDays int
		ages          []int
		wantDeleted   int64
	}{
		{"prunes older than retention", 30, []int{1, 10, 31, 90}, 2},
		{"boundary is inclusive", 30, []int{30, 29}, 1},
		{"nothing old enough", 365, []int{1, 2, 3}, 0},
		{"disabled keeps everything", 0, []int{1000, 5000}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemoryStorage()
			seedAges(t, store, now, tt.ages...)

			clock := testutil.NewClock(now)
			p := NewPruner(store, &Config{RetentionDays: tt.retentionDays, Now: clock.Now})

			deleted, err := p.Prune(context.Background())
			if err != nil {
				t.Fatalf("Prune() error = %v", err)
			}
			if deleted != tt.wantDeleted {
				t.Errorf("Prune() = %d, want %d", deleted, tt.wantDeleted)
			}
			left, _ := store.Count(context.Background(), nil)
			if left != int64(len(tt.ages))-tt.wantDeleted {
				t.Errorf("remaining = %d, want %d", left, int64(len(tt.ages))-tt.wantDeleted)
			}
		})
	}
}

type failingStorage struct {
	evidence.Storage
}

func (failingStorage) Delete(context.Context, *evidence.Query) (int64, error) {
	return 0, errors.New("disk full")
}

func TestPruner_StorageError(t *testing.T) {
	p := NewPruner(failingStorage{storage.NewMemoryStorage()}, &Config{RetentionDays: 1})
	_, err := p.Prune(context.Background())

	var rerr *evidence.RetentionError
	if !errors.As(err, &rerr) || rerr.RetentionDays != 1 {
		t.Errorf("Prune() error = %v, want RetentionError", err)
	}
}
