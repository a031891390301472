package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"mercator-hq/nimbus/pkg/config"
	"mercator-hq/nimbus/pkg/deletion"
	"mercator-hq/nimbus/pkg/telemetry/metrics"
	"mercator-hq/nimbus/pkg/telemetry/tracing"
)

// PubSubOptions configures optional PubSubPublisher dependencies.
type PubSubOptions struct {
	Logger  *slog.Logger
	Metrics *metrics.Collector

	// ClientOptions are passed to pubsub.NewClient, e.g. an emulator
	// connection.
	ClientOptions []option.ClientOption
}

// PubSubPublisher publishes outcomes to a Pub/Sub topic.
type PubSubPublisher struct {
	client  *pubsub.Client
	topic   *pubsub.Topic
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Collector
	now     func() time.Time

	pending sync.WaitGroup
	once    sync.Once
}

// NewPubSubPublisher connects to cfg.ProjectID and publishes to
// cfg.TopicID. The topic must exist.
func NewPubSubPublisher(ctx context.Context, cfg config.PubSubConfig, opts PubSubOptions) (*PubSubPublisher, error) {
	if cfg.ProjectID == "" || cfg.TopicID == "" {
		return nil, errors.New("events: pubsub project_id and topic_id are required")
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = config.DefaultPubSubPublishTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts.ClientOptions...)
	if err != nil {
		return nil, err
	}

	return &PubSubPublisher{
		client:  client,
		topic:   client.Topic(cfg.TopicID),
		timeout: cfg.PublishTimeout,
		logger:  opts.Logger.With("component", "events", "topic", cfg.TopicID),
		metrics: opts.Metrics,
		now:     time.Now,
	}, nil
}

// Observe implements deletion.Observer. The publish result is awaited in
// the background.
func (p *PubSubPublisher) Observe(ctx context.Context, o deletion.Outcome) {
	ev, ok := FromOutcome(o, p.now())
	if !ok {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("event marshal failed", "type", ev.Type, "error", err)
		return
	}

	attrs := map[string]string{
		"type":     ev.Type,
		"tier":     ev.Tier,
		"objectId": ev.ObjectID,
	}
	tracing.InjectToMap(ctx, attrs)

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	res := p.topic.Publish(pubCtx, &pubsub.Message{Data: data, Attributes: attrs})

	p.pending.Add(1)
	go func() {
		defer p.pending.Done()
		defer cancel()
		_, err := res.Get(pubCtx)
		p.metrics.RecordEventPublish(ev.Type, err)
		if err != nil {
			p.logger.Warn("event publish failed", "type", ev.Type, "object_id", ev.ObjectID, "error", err)
			return
		}
		p.logger.Debug("event published", "type", ev.Type, "object_id", ev.ObjectID)
	}()
}

// Close waits for pending publishes and closes the client.
func (p *PubSubPublisher) Close() error {
	var err error
	p.once.Do(func() {
		p.pending.Wait()
		p.topic.Stop()
		err = p.client.Close()
	})
	return err
}
