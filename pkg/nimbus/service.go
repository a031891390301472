package nimbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/nimbus/pkg/audit"
	"mercator-hq/nimbus/pkg/compliance"
	"mercator-hq/nimbus/pkg/config"
	"mercator-hq/nimbus/pkg/deletion"
	"mercator-hq/nimbus/pkg/events"
	"mercator-hq/nimbus/pkg/evidence"
	evretention "mercator-hq/nimbus/pkg/evidence/retention"
	evstorage "mercator-hq/nimbus/pkg/evidence/storage"
	"mercator-hq/nimbus/pkg/queue"
	"mercator-hq/nimbus/pkg/retention"
	"mercator-hq/nimbus/pkg/security/encryption"
	"mercator-hq/nimbus/pkg/security/kms"
	"mercator-hq/nimbus/pkg/storage"
	"mercator-hq/nimbus/pkg/telemetry/health"
	"mercator-hq/nimbus/pkg/telemetry/metrics"
	"mercator-hq/nimbus/pkg/telemetry/tracing"
	"mercator-hq/nimbus/pkg/tokens"
)

// Options overrides Service dependencies. Nil backends are built from
// configuration and closed by Shutdown; backends passed here are closed
// too, since the Service takes ownership.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Collector

	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider

	// Version is reported by Health and stamped on audit entries.
	Version string

	Storage     storage.Adapter
	Queue       queue.Adapter
	KeyProvider kms.Provider
	Evidence    evidence.Storage

	// Observers receive every deletion outcome in addition to the log
	// observer and, when enabled, the Pub/Sub publisher.
	Observers []deletion.Observer

	// Now returns the current time. Default: time.Now
	Now func() time.Time
}

// Service is the retention and secure-deletion subsystem.
type Service struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer
	now     func() time.Time
	version string
	created time.Time

	store    storage.Adapter
	queue    queue.Adapter
	provider kms.Provider
	evidence evidence.Storage

	enc       *encryption.Manager
	gate      *compliance.Gate
	audit     *audit.Logger
	scheduler *retention.Scheduler
	engine    *deletion.Engine
	worker    *deletion.Worker
	tokens    *tokens.Manager
	pruner    *evretention.Pruner
	publisher *events.PubSubPublisher
	health    *health.Checker
	uploads   *uploadSlots

	mu         sync.Mutex
	started    bool
	stopped    bool
	cron       *cron.Cron
	cancel     context.CancelFunc
	workerDone chan error
}

// New builds a Service from cfg. cfg must already be validated.
func New(ctx context.Context, cfg *config.Config, opts Options) (_ *Service, err error) {
	if cfg == nil {
		return nil, errors.New("nimbus: config is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Service{
		cfg:      cfg,
		logger:   opts.Logger.With("component", "nimbus"),
		metrics:  opts.Metrics,
		tracer:   tracing.TracerFrom(opts.TracerProvider),
		now:      opts.Now,
		version:  opts.Version,
		created:  opts.Now(),
		store:    opts.Storage,
		queue:    opts.Queue,
		provider: opts.KeyProvider,
		evidence: opts.Evidence,
		uploads:  newUploadSlots(),
	}
	defer func() {
		if err != nil {
			s.closeBackends()
		}
	}()

	if s.store == nil {
		if s.store, err = NewStorage(ctx, cfg.Storage); err != nil {
			return nil, fmt.Errorf("nimbus: storage: %w", err)
		}
	}
	if s.queue == nil {
		if s.queue, err = NewQueue(cfg.Queue, opts.Now); err != nil {
			return nil, fmt.Errorf("nimbus: queue: %w", err)
		}
	}
	if s.provider == nil {
		if s.provider, err = kms.NewProvider(ctx, cfg.Security.Encryption); err != nil {
			return nil, fmt.Errorf("nimbus: key provider: %w", err)
		}
	}
	if s.evidence == nil {
		if s.evidence, err = evstorage.Open(cfg.Evidence); err != nil {
			return nil, fmt.Errorf("nimbus: evidence: %w", err)
		}
	}

	if s.enc, err = encryption.NewManager(s.provider, cfg.Security.Encryption.Algorithm); err != nil {
		return nil, err
	}
	if s.gate, err = compliance.NewGate(cfg, compliance.Options{
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
		Now:     opts.Now,
	}); err != nil {
		return nil, err
	}
	if s.audit, err = audit.New(s.enc, audit.NewEvidenceSink(s.evidence), audit.Config{
		FlushThreshold: cfg.Audit.FlushThreshold,
		FlushInterval:  cfg.Audit.FlushInterval,
		MirrorLevel:    audit.ParseLevel(cfg.Telemetry.Logging.Level),
		NodeID:         cfg.Deployment.NodeID,
		Version:        opts.Version,
		Logger:         opts.Logger,
		Metrics:        opts.Metrics,
		Now:            opts.Now,
	}); err != nil {
		return nil, err
	}
	if s.scheduler, err = retention.NewScheduler(cfg, s.queue, retention.Options{
		Audit:      s.audit,
		Compliance: s.gate,
		Logger:     opts.Logger,
		Now:        opts.Now,
	}); err != nil {
		return nil, err
	}
	if s.engine, err = deletion.NewEngine(cfg, s.store, s.gate, s.enc, deletion.Options{
		Audit:    s.audit,
		Evidence: s.evidence,
		Metrics:  opts.Metrics,
		Logger:   opts.Logger,
		Now:      opts.Now,

		TracerProvider: opts.TracerProvider,
	}); err != nil {
		return nil, err
	}
	if s.worker, err = deletion.NewWorker(s.engine, s.queue, cfg.Queue); err != nil {
		return nil, err
	}
	if s.tokens, err = tokens.NewManager(cfg, tokens.Options{
		Audit:   s.audit,
		Metrics: opts.Metrics,
		Logger:  opts.Logger,
		Now:     opts.Now,
	}); err != nil {
		return nil, err
	}

	s.engine.Subscribe(events.NewLogObserver(opts.Logger))
	if cfg.Events.PubSub.Enabled {
		if s.publisher, err = events.NewPubSubPublisher(ctx, cfg.Events.PubSub, events.PubSubOptions{
			Logger:  opts.Logger,
			Metrics: opts.Metrics,
		}); err != nil {
			return nil, fmt.Errorf("nimbus: pubsub: %w", err)
		}
		s.engine.Subscribe(s.publisher)
	}
	for _, o := range opts.Observers {
		s.engine.Subscribe(o)
	}

	s.pruner = evretention.NewPruner(s.evidence, &evretention.Config{
		RetentionDays: cfg.Evidence.RetentionDays,
		PruneSchedule: cfg.Evidence.PruneSchedule,
		Now:           opts.Now,
	})

	s.health = health.New(0)
	s.health.Register("storage", func(ctx context.Context) error {
		_, err := s.store.GetMetadata(ctx, "nimbus-health-probe")
		return err
	})
	s.health.Register("queue", func(ctx context.Context) error {
		_, err := s.queue.Len(ctx)
		return err
	})
	s.health.Register("evidence", func(ctx context.Context) error {
		_, err := s.evidence.Count(ctx, &evidence.Query{Kind: evidence.KindAuditBatch})
		return err
	})
	s.health.Register("kms", func(ctx context.Context) error {
		return kms.Probe(ctx, s.provider)
	})

	s.logger.Info("service initialized",
		"storage", s.store.Provider(),
		"queue", cfg.Queue.Provider,
		"kms", s.provider.Name(),
		"evidence", cfg.Evidence.Backend,
		"frameworks", cfg.Compliance.Frameworks,
		"audit_level", cfg.Compliance.AuditLevel,
	)
	return s, nil
}

// Start launches the background loops. The worker runs until Shutdown or
// until ctx is done.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)

	if err := s.audit.Start(runCtx); err != nil {
		cancel()
		return err
	}
	if err := s.pruner.Start(runCtx); err != nil {
		cancel()
		s.audit.Stop()
		return fmt.Errorf("nimbus: evidence pruning: %w", err)
	}
	c, err := s.housekeeping(runCtx)
	if err != nil {
		cancel()
		s.audit.Stop()
		s.pruner.Stop()
		return err
	}
	c.Start()

	s.cron = c
	s.cancel = cancel
	s.workerDone = make(chan error, 1)
	go func() {
		s.workerDone <- s.worker.Run(runCtx)
	}()

	s.started = true
	s.logger.Info("service started", "workers", s.cfg.Queue.Workers)
	return nil
}

// Shutdown stops the background loops, drains in-flight deletions,
// flushes the audit log and closes the backends. It is safe to call more
// than once and without Start.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	var errs []error

	if err := s.worker.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("worker: %w", err))
	}
	if started {
		if err := <-s.workerDone; err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, fmt.Errorf("worker: %w", err))
		}
		<-s.cron.Stop().Done()
		s.pruner.Stop()
		s.cancel()
	}

	if err := s.audit.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("audit: %w", err))
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("pubsub: %w", err))
		}
	}
	s.closeBackends()

	s.logger.Info("service stopped")
	return errors.Join(errs...)
}

// closeBackends closes storage, evidence and the key provider. The queue
// is stopped by the worker.
func (s *Service) closeBackends() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("failed to close storage", "error", err)
		}
	}
	if s.evidence != nil {
		if err := s.evidence.Close(); err != nil {
			s.logger.Warn("failed to close evidence store", "error", err)
		}
	}
	if s.provider != nil {
		if err := s.provider.Close(); err != nil {
			s.logger.Warn("failed to close key provider", "error", err)
		}
	}
	if s.worker == nil && s.queue != nil {
		_ = s.queue.Stop(context.Background())
	}
}

// Subscribe registers an observer for deletion outcomes.
func (s *Service) Subscribe(o deletion.Observer) {
	s.engine.Subscribe(o)
}

// Tokens returns the access token manager.
func (s *Service) Tokens() *tokens.Manager {
	return s.tokens
}

// Tracer returns the tracer the Service records spans with.
func (s *Service) Tracer() trace.Tracer {
	return s.tracer
}

// HealthChecker returns the backend readiness checker.
func (s *Service) HealthChecker() *health.Checker {
	return s.health
}

// Config returns the service configuration.
func (s *Service) Config() *config.Config {
	return s.cfg
}
