package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace is the Prometheus namespace of every Nimbus metric.
const Namespace = "nimbus"

// Deletion outcomes used as label values.
const (
	OutcomeSuccess      = "success"
	OutcomeFailure      = "failure"
	OutcomeRetried      = "retried"
	OutcomeBlocked      = "blocked"
	OutcomeDeadLettered = "dead_lettered"
)

// Collector owns every Prometheus collector used by Nimbus.
//
// All Record methods are safe to call on a nil *Collector, which lets
// components run without metrics in tests.
type Collector struct {
	registry *prometheus.Registry

	deletions         *prometheus.CounterVec
	deletionDuration  *prometheus.HistogramVec
	overwritePasses   *prometheus.CounterVec
	retries           *prometheus.CounterVec
	deadLetters       *prometheus.CounterVec
	queueLength       prometheus.Gauge
	complianceResults *prometheus.CounterVec

	auditFlushes    *prometheus.CounterVec
	auditFlushSize  prometheus.Histogram
	auditBufferSize prometheus.Gauge

	tokensIssued     *prometheus.CounterVec
	tokenValidations *prometheus.CounterVec
	activeTokens     prometheus.Gauge

	uploads     *prometheus.CounterVec
	uploadBytes *prometheus.CounterVec

	eventsPublished *prometheus.CounterVec
}

// NewCollector creates the collectors and registers them with registry.
// If registry is nil a new registry is created.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: registry,

		deletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "deletion",
			Name:      "attempts_total",
			Help:      "Deletion attempts by tier and outcome.",
		}, []string{"tier", "outcome"}),

		deletionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "deletion",
			Name:      "duration_seconds",
			Help:      "Duration of secure deletion attempts.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"tier"}),

		overwritePasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "deletion",
			Name:      "overwrite_passes_total",
			Help:      "Overwrite passes executed by pattern.",
		}, []string{"pattern"}),

		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "deletion",
			Name:      "retries_total",
			Help:      "Deletion jobs re-enqueued with backoff.",
		}, []string{"tier"}),

		deadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "deletion",
			Name:      "dead_letters_total",
			Help:      "Deletion jobs that exhausted their retry budget.",
		}, []string{"tier"}),

		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "queue",
			Name:      "length",
			Help:      "Deletion jobs waiting in the queue.",
		}),

		complianceResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "compliance",
			Name:      "decisions_total",
			Help:      "Compliance gate decisions by result.",
		}, []string{"result"}),

		auditFlushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "audit",
			Name:      "flushes_total",
			Help:      "Audit buffer flushes by result.",
		}, []string{"result"}),

		auditFlushSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "audit",
			Name:      "flush_entries",
			Help:      "Entries per flushed audit batch.",
			Buckets:   []float64{1, 10, 50, 100, 250, 500, 1000},
		}),

		auditBufferSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "audit",
			Name:      "buffer_entries",
			Help:      "Audit entries waiting to be flushed.",
		}),

		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "tokens",
			Name:      "issued_total",
			Help:      "Access tokens issued by tier.",
		}, []string{"tier"}),

		tokenValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "tokens",
			Name:      "validations_total",
			Help:      "Access token validations by result.",
		}, []string{"result"}),

		activeTokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "tokens",
			Name:      "active",
			Help:      "Access tokens currently registered.",
		}),

		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "storage",
			Name:      "uploads_total",
			Help:      "Objects uploaded by tier.",
		}, []string{"tier"}),

		uploadBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "storage",
			Name:      "upload_bytes_total",
			Help:      "Bytes uploaded by tier.",
		}, []string{"tier"}),

		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Lifecycle events published by type and result.",
		}, []string{"type", "result"}),
	}

	registry.MustRegister(
		c.deletions,
		c.deletionDuration,
		c.overwritePasses,
		c.retries,
		c.deadLetters,
		c.queueLength,
		c.complianceResults,
		c.auditFlushes,
		c.auditFlushSize,
		c.auditBufferSize,
		c.tokensIssued,
		c.tokenValidations,
		c.activeTokens,
		c.uploads,
		c.uploadBytes,
		c.eventsPublished,
	)

	return c
}

// Registry returns the registry the collectors are registered with.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordDeletion records the outcome and duration of one deletion attempt.
func (c *Collector) RecordDeletion(tier, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.deletions.WithLabelValues(tier, outcome).Inc()
	c.deletionDuration.WithLabelValues(tier).Observe(duration.Seconds())
}

// RecordOverwritePass records one completed overwrite pass.
func (c *Collector) RecordOverwritePass(pattern string) {
	if c == nil {
		return
	}
	c.overwritePasses.WithLabelValues(pattern).Inc()
}

// RecordRetry records a job re-enqueued with backoff.
func (c *Collector) RecordRetry(tier string) {
	if c == nil {
		return
	}
	c.retries.WithLabelValues(tier).Inc()
}

// RecordDeadLetter records a job that exhausted its retries.
func (c *Collector) RecordDeadLetter(tier string) {
	if c == nil {
		return
	}
	c.deadLetters.WithLabelValues(tier).Inc()
}

// SetQueueLength records the current queue length.
func (c *Collector) SetQueueLength(n int) {
	if c == nil {
		return
	}
	c.queueLength.Set(float64(n))
}

// RecordComplianceDecision records a compliance gate decision.
func (c *Collector) RecordComplianceDecision(approved bool) {
	if c == nil {
		return
	}
	result := "approved"
	if !approved {
		result = "blocked"
	}
	c.complianceResults.WithLabelValues(result).Inc()
}

// RecordAuditFlush records an audit flush and the number of entries in it.
func (c *Collector) RecordAuditFlush(entries int, err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.auditFlushes.WithLabelValues("error").Inc()
		return
	}
	c.auditFlushes.WithLabelValues("ok").Inc()
	c.auditFlushSize.Observe(float64(entries))
}

// SetAuditBufferSize records the number of buffered audit entries.
func (c *Collector) SetAuditBufferSize(n int) {
	if c == nil {
		return
	}
	c.auditBufferSize.Set(float64(n))
}

// RecordTokenIssued records an issued access token.
func (c *Collector) RecordTokenIssued(tier string) {
	if c == nil {
		return
	}
	c.tokensIssued.WithLabelValues(tier).Inc()
}

// RecordTokenValidation records a token validation result, e.g. "ok",
// "expired", "not_found", "denied", "limit".
func (c *Collector) RecordTokenValidation(result string) {
	if c == nil {
		return
	}
	c.tokenValidations.WithLabelValues(result).Inc()
}

// SetActiveTokens records the number of registered tokens.
func (c *Collector) SetActiveTokens(n int) {
	if c == nil {
		return
	}
	c.activeTokens.Set(float64(n))
}

// RecordUpload records an uploaded object.
func (c *Collector) RecordUpload(tier string, size int64) {
	if c == nil {
		return
	}
	c.uploads.WithLabelValues(tier).Inc()
	c.uploadBytes.WithLabelValues(tier).Add(float64(size))
}

// RecordEventPublish records one lifecycle event publish.
func (c *Collector) RecordEventPublish(eventType string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.eventsPublished.WithLabelValues(eventType, result).Inc()
}
