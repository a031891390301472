package events

import (
	"context"
	"log/slog"
	"time"

	"mercator-hq/nimbus/pkg/deletion"
)

// LogObserver logs each outcome.
type LogObserver struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewLogObserver creates a LogObserver. A nil logger uses slog.Default.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger.With("component", "events"), now: time.Now}
}

// Observe implements deletion.Observer.
func (l *LogObserver) Observe(ctx context.Context, o deletion.Outcome) {
	ev, ok := FromOutcome(o, l.now())
	if !ok {
		return
	}

	level := slog.LevelInfo
	switch {
	case ev.Type == TypeRetried:
		level = slog.LevelWarn
	case ev.Type == TypeFailed:
		level = slog.LevelError
	case !ev.Verified:
		level = slog.LevelWarn
	}

	attrs := []slog.Attr{
		slog.String("type", ev.Type),
		slog.String("object_id", ev.ObjectID),
		slog.String("tier", ev.Tier),
	}
	if ev.JobID != "" {
		attrs = append(attrs, slog.String("job_id", ev.JobID))
	}
	if ev.Error != "" {
		attrs = append(attrs, slog.String("error", ev.Error))
	}
	if ev.Type == TypeCompleted {
		attrs = append(attrs, slog.Bool("verified", ev.Verified), slog.Int("passes", ev.Passes))
	}
	if ev.DeadLettered {
		attrs = append(attrs, slog.Bool("dead_lettered", true))
	}
	l.logger.LogAttrs(ctx, level, "deletion event", attrs...)
}
