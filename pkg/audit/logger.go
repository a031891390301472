package audit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"mercator-hq/nimbus/pkg/telemetry/metrics"
)

// Config configures a Logger.
type Config struct {
	// FlushThreshold is the buffer size that triggers a flush.
	// Default: 100
	FlushThreshold int

	// FlushInterval is the period of the timer flush.
	// Default: 30 seconds
	FlushInterval time.Duration

	// MirrorLevel is the lowest level mirrored to slog. Default: INFO
	MirrorLevel Level

	NodeID  string
	Version string

	Logger  *slog.Logger
	Metrics *metrics.Collector

	// Now returns the current time. Default: time.Now
	Now func() time.Time
}

// Logger buffers audit entries and flushes them encrypted to a Sink.
type Logger struct {
	encrypter Encrypter
	sink      Sink
	threshold int
	interval  time.Duration
	mirror    slog.Level
	session   string
	system    SystemInfo
	logger    *slog.Logger
	metrics   *metrics.Collector
	now       func() time.Time

	mu      sync.Mutex
	buffer  []Entry
	pending [][]Entry
	seq     uint64
	paused  bool

	// flushSem admits one flush at a time.
	flushSem chan struct{}
	wg       sync.WaitGroup

	cronMu sync.Mutex
	cron   *cron.Cron
}

// New creates a Logger. Both encrypter and sink are required.
func New(encrypter Encrypter, sink Sink, cfg Config) (*Logger, error) {
	if encrypter == nil {
		return nil, errors.New("audit: encrypter is required")
	}
	if sink == nil {
		return nil, errors.New("audit: sink is required")
	}
	if cfg.FlushThreshold <= 0 {
		cfg.FlushThreshold = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	if cfg.MirrorLevel == "" {
		cfg.MirrorLevel = LevelInfo
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	session, err := newSessionID()
	if err != nil {
		return nil, err
	}

	return &Logger{
		encrypter: encrypter,
		sink:      sink,
		threshold: cfg.FlushThreshold,
		interval:  cfg.FlushInterval,
		mirror:    cfg.MirrorLevel.SlogLevel(),
		session:   session,
		system: SystemInfo{
			NodeID:    cfg.NodeID,
			ProcessID: os.Getpid(),
			Version:   cfg.Version,
		},
		logger:   cfg.Logger.With("component", "audit"),
		metrics:  cfg.Metrics,
		now:      cfg.Now,
		flushSem: make(chan struct{}, 1),
	}, nil
}

func newSessionID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("audit: failed to generate session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// SessionID returns the id stamped on every entry from this Logger.
func (l *Logger) SessionID() string {
	return l.session
}

// Write appends an entry to the buffer. It never blocks on storage.
func (l *Logger) Write(event string, data map[string]any, level Level) {
	if level == "" {
		level = LevelInfo
	}
	entry := Entry{
		Timestamp: l.now().UTC(),
		Event:     event,
		Level:     level,
		Data:      maps.Clone(data),
		SessionID: l.session,
		System:    l.system,
	}

	l.mu.Lock()
	l.seq++
	entry.Sequence = l.seq
	l.buffer = append(l.buffer, entry)
	trigger := false
	if len(l.buffer) >= l.threshold && !l.paused {
		l.pending = append(l.pending, l.buffer)
		l.buffer = nil
		trigger = true
		l.wg.Add(1)
	}
	buffered := l.bufferedLocked()
	l.mu.Unlock()

	l.metrics.SetAuditBufferSize(buffered)
	l.mirrorEntry(entry)

	if trigger {
		go func() {
			defer l.wg.Done()
			l.flushSem <- struct{}{}
			defer func() { <-l.flushSem }()
			if err := l.flush(context.Background(), false); err != nil {
				l.logger.Warn("threshold flush failed", "error", err)
			}
		}()
	}
}

func (l *Logger) mirrorEntry(e Entry) {
	lvl := e.Level.SlogLevel()
	if lvl < l.mirror {
		return
	}
	l.logger.LogAttrs(context.Background(), lvl, e.Event,
		slog.Any("data", e.Data),
		slog.Uint64("sequence", e.Sequence),
	)
}

// Buffered returns the number of entries not yet stored.
func (l *Logger) Buffered() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bufferedLocked()
}

func (l *Logger) bufferedLocked() int {
	n := len(l.buffer)
	for _, b := range l.pending {
		n += len(b)
	}
	return n
}

// Flush stores everything buffered. It waits for a running flush to
// finish first.
func (l *Logger) Flush(ctx context.Context) error {
	select {
	case l.flushSem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.flushSem }()
	return l.flush(ctx, true)
}

// flush stores pending batches and, when all is set, the partial buffer.
// The caller holds flushSem.
func (l *Logger) flush(ctx context.Context, all bool) error {
	l.mu.Lock()
	batches := l.pending
	l.pending = nil
	if all && len(l.buffer) > 0 {
		batches = append(batches, l.buffer)
		l.buffer = nil
	}
	l.mu.Unlock()

	for i, batch := range batches {
		if err := l.store(ctx, batch); err != nil {
			l.requeue(batches[i:])
			l.metrics.RecordAuditFlush(len(batch), err)
			l.metrics.SetAuditBufferSize(l.Buffered())
			return err
		}
		l.metrics.RecordAuditFlush(len(batch), nil)
	}

	l.mu.Lock()
	if len(batches) > 0 {
		l.paused = false
	}
	buffered := l.bufferedLocked()
	l.mu.Unlock()
	l.metrics.SetAuditBufferSize(buffered)
	return nil
}

// requeue puts failed batches back at the front of the buffer in order
// and pauses the size trigger.
func (l *Logger) requeue(batches [][]Entry) {
	var failed []Entry
	for _, b := range batches {
		failed = append(failed, b...)
	}

	l.mu.Lock()
	l.buffer = append(failed, l.buffer...)
	l.paused = true
	l.mu.Unlock()
}

func (l *Logger) store(ctx context.Context, entries []Entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("audit: failed to encode batch: %w", err)
	}
	token, err := l.encrypter.Encrypt(ctx, data)
	if err != nil {
		return fmt.Errorf("audit: failed to encrypt batch: %w", err)
	}

	batch := &Batch{
		ID:        uuid.NewString(),
		CreatedAt: l.now().UTC(),
		Entries:   entries,
		Token:     token,
	}
	if err := l.sink.StoreBatch(ctx, batch); err != nil {
		return fmt.Errorf("audit: failed to store batch %s: %w", batch.ID, err)
	}

	l.logger.Debug("audit batch stored", "batch_id", batch.ID, "entries", len(entries))
	return nil
}

// Start begins the interval flush. It stops when ctx is done or Stop is
// called.
func (l *Logger) Start(ctx context.Context) error {
	l.cronMu.Lock()
	defer l.cronMu.Unlock()
	if l.cron != nil {
		return errors.New("audit: logger already started")
	}

	c := cron.New()
	_, err := c.AddFunc(fmt.Sprintf("@every %s", l.interval), func() {
		if err := l.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Warn("interval flush failed", "error", err, "buffered", l.Buffered())
		}
	})
	if err != nil {
		return fmt.Errorf("audit: invalid flush interval %s: %w", l.interval, err)
	}
	c.Start()
	l.cron = c

	go func() {
		<-ctx.Done()
		l.Stop()
	}()
	return nil
}

// Stop ends the interval flush and waits for a running tick.
func (l *Logger) Stop() {
	l.cronMu.Lock()
	c := l.cron
	l.cron = nil
	l.cronMu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Close stops the timer, waits for background flushes and stores what
// remains in the buffer.
func (l *Logger) Close(ctx context.Context) error {
	l.Stop()
	l.wg.Wait()
	return l.Flush(ctx)
}

var _ Writer = (*Logger)(nil)
