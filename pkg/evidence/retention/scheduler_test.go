package retention

import (
	"context"
	"testing"
	"time"

	"mercator-hq/nimbus/pkg/evidence/storage"
)

func TestScheduler_StartStop(t *testing.T) {
	p := NewPruner(storage.NewMemoryStorage(), &Config{RetentionDays: 30, PruneSchedule: "0 3 * * *"})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !p.scheduler.IsRunning() {
		t.Error("scheduler not running after Start")
	}
	next := p.NextPruning()
	if next == nil {
		t.Fatal("NextPruning() = nil")
	}
	if next.Hour() != 3 || next.Minute() != 0 {
		t.Errorf("NextPruning() = %v, want 03:00", next)
	}
	if err := p.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}

	p.Stop()
	if p.scheduler.IsRunning() {
		t.Error("scheduler still running after Stop")
	}
}

func TestScheduler_Disabled(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{"no schedule", &Config{RetentionDays: 30}},
		{"retention disabled", &Config{PruneSchedule: "0 3 * * *"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPruner(storage.NewMemoryStorage(), tt.config)
			if err := p.Start(context.Background()); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			if p.scheduler.IsRunning() || p.NextPruning() != nil {
				t.Error("scheduler should not run")
			}
		})
	}
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	p := NewPruner(storage.NewMemoryStorage(), &Config{RetentionDays: 30, PruneSchedule: "every day"})
	if err := p.Start(context.Background()); err == nil {
		t.Error("expected error for invalid cron expression")
	}
}

func TestScheduler_StopsWithContext(t *testing.T) {
	p := NewPruner(storage.NewMemoryStorage(), &Config{RetentionDays: 30, PruneSchedule: "@every 1h"})
	ctx, cancel := context.WithCancel(context.Background())
	if err := p.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for p.scheduler.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("scheduler still running after context cancel")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
