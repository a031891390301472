package deletion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"mercator-hq/nimbus/internal/testutil"
	"mercator-hq/nimbus/pkg/audit/audittest"
	"mercator-hq/nimbus/pkg/compliance"
	"mercator-hq/nimbus/pkg/config"
	"mercator-hq/nimbus/pkg/evidence"
	evstorage "mercator-hq/nimbus/pkg/evidence/storage"
	"mercator-hq/nimbus/pkg/queue"
	queuemem "mercator-hq/nimbus/pkg/queue/memory"
	"mercator-hq/nimbus/pkg/security/encryption"
	"mercator-hq/nimbus/pkg/storage"
	"mercator-hq/nimbus/pkg/storage/memory"
	"mercator-hq/nimbus/pkg/telemetry/metrics"
)

// flakyStore fails DeleteObject with a transient error deleteFailures
// times before delegating.
type flakyStore struct {
	*memory.Store

	mu             sync.Mutex
	deleteFailures int
}

func (f *flakyStore) DeleteObject(ctx context.Context, id string) error {
	f.mu.Lock()
	if f.deleteFailures != 0 {
		if f.deleteFailures > 0 {
			f.deleteFailures--
		}
		f.mu.Unlock()
		return storage.NewTransientError("delete", id, errors.New("503 service unavailable"))
	}
	f.mu.Unlock()
	return f.Store.DeleteObject(ctx, id)
}

// brokenEvidence fails every Store.
type brokenEvidence struct {
	*evstorage.MemoryStorage
}

func (brokenEvidence) Store(ctx context.Context, record *evidence.Record) error {
	return evidence.NewStorageError("memory", "store", errors.New("disk full"))
}

type outcomes struct {
	mu  sync.Mutex
	all []Outcome
}

func (o *outcomes) Observe(ctx context.Context, out Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.all = append(o.all, out)
}

func (o *outcomes) list() []Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Outcome(nil), o.all...)
}

type harness struct {
	cfg      *config.Config
	clock    *testutil.Clock
	store    *flakyStore
	queue    *queuemem.Queue
	evidence *evstorage.MemoryStorage
	audit    *audittest.Recorder
	enc      *encryption.Manager
	metrics  *metrics.Collector
	engine   *Engine
	worker   *Worker
	seen     *outcomes
	spans    *tracetest.SpanRecorder
}

func newHarness(t *testing.T, tweak func(cfg *config.Config)) *harness {
	t.Helper()

	cfg := testutil.Config(t)
	cfg.Tiers["demo"] = config.TierConfig{Retention: 120 * time.Second}
	cfg.Tiers["secret"] = config.TierConfig{Retention: 24 * time.Hour, Frameworks: []string{compliance.FrameworkNIST}}
	cfg.Compliance.AuditLevel = config.AuditLevelEnhanced
	cfg.Deployment.NodeID = "node-test"
	if tweak != nil {
		tweak(cfg)
	}

	h := &harness{
		cfg:      cfg,
		clock:    testutil.NewClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)),
		store:    &flakyStore{Store: memory.New()},
		evidence: evstorage.NewMemoryStorage(),
		audit:    &audittest.Recorder{},
		metrics:  metrics.NewCollector(nil),
		seen:     &outcomes{},
		spans:    tracetest.NewSpanRecorder(),
	}
	h.queue = queuemem.New(queuemem.Config{Now: h.clock.Now})

	gate, err := compliance.NewGate(cfg, compliance.Options{Metrics: h.metrics, Now: h.clock.Now})
	testutil.AssertNoError(t, err)

	h.enc, err = encryption.NewManager(testutil.Keyring(t), "")
	testutil.AssertNoError(t, err)

	h.engine, err = NewEngine(cfg, h.store, gate, h.enc, Options{
		Audit:    h.audit,
		Evidence: h.evidence,
		Metrics:  h.metrics,
		Now:      h.clock.Now,

		TracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(h.spans)),
	})
	testutil.AssertNoError(t, err)
	h.engine.Subscribe(h.seen)

	qcfg := cfg.Queue
	qcfg.PollInterval = 10 * time.Millisecond
	qcfg.ErrorBackoff = 10 * time.Millisecond
	h.worker, err = NewWorker(h.engine, h.queue, qcfg)
	testutil.AssertNoError(t, err)
	return h
}

func (h *harness) upload(t *testing.T, id, tier string, data []byte) {
	t.Helper()
	_, err := h.store.UploadObject(context.Background(), id, data, map[string]string{storage.MetaTier: tier})
	testutil.AssertNoError(t, err)
}

func (h *harness) exists(t *testing.T, id string) bool {
	t.Helper()
	md, err := h.store.GetMetadata(context.Background(), id)
	testutil.AssertNoError(t, err)
	return md != nil
}

// claim dequeues the next due job, failing the test if none is ready.
func (h *harness) claim(t *testing.T) *queue.Job {
	t.Helper()
	job, err := h.queue.Dequeue(context.Background())
	testutil.AssertNoError(t, err)
	if job == nil {
		t.Fatal("no job ready")
	}
	return job
}
