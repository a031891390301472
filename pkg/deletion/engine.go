package deletion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/nimbus/pkg/audit"
	"mercator-hq/nimbus/pkg/compliance"
	"mercator-hq/nimbus/pkg/config"
	"mercator-hq/nimbus/pkg/evidence"
	"mercator-hq/nimbus/pkg/retention"
	"mercator-hq/nimbus/pkg/storage"
	"mercator-hq/nimbus/pkg/telemetry/metrics"
	"mercator-hq/nimbus/pkg/telemetry/tracing"
)

// Gate approves deletions.
type Gate interface {
	ValidateDeletion(ctx context.Context, objectID, tier string, method compliance.Method) (*compliance.Decision, error)
	AssessImpact(d *compliance.Decision) []string
}

// Encrypter seals audit-trail records.
type Encrypter interface {
	Encrypt(ctx context.Context, plaintext []byte) (string, error)
}

// Request describes one deletion.
type Request struct {
	ObjectID string
	Tier     string
	Method   compliance.Method
	Reason   string

	// JobID and ScheduledFor are set for queued deletions.
	JobID        string
	ScheduledFor time.Time
	Metadata     map[string]string
}

// Options configures optional Engine dependencies.
type Options struct {
	Audit audit.Writer

	// Evidence stores deletion and dead-letter records. Nil disables
	// evidence persistence.
	Evidence evidence.Storage

	Metrics *metrics.Collector
	Logger  *slog.Logger

	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider

	// Now returns the current time. Default: time.Now
	Now func() time.Time
}

// Engine performs secure deletions.
type Engine struct {
	cfg      *config.Config
	store    storage.Adapter
	gate     Gate
	enc      Encrypter
	evidence evidence.Storage
	audit    audit.Writer
	metrics  *metrics.Collector
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
	nodeID   string
	pid      int

	mu       sync.Mutex
	inflight map[string]string // object id -> in-flight key

	obsMu     sync.RWMutex
	observers []Observer
}

// NewEngine creates an Engine.
func NewEngine(cfg *config.Config, store storage.Adapter, gate Gate, enc Encrypter, opts Options) (*Engine, error) {
	switch {
	case cfg == nil:
		return nil, errors.New("deletion: config is required")
	case store == nil:
		return nil, errors.New("deletion: storage adapter is required")
	case gate == nil:
		return nil, errors.New("deletion: compliance gate is required")
	case enc == nil:
		return nil, errors.New("deletion: encrypter is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Engine{
		cfg:      cfg,
		store:    store,
		gate:     gate,
		enc:      enc,
		evidence: opts.Evidence,
		audit:    opts.Audit,
		metrics:  opts.Metrics,
		logger:   opts.Logger.With("component", "deletion"),
		tracer:   tracing.TracerFrom(opts.TracerProvider),
		now:      opts.Now,
		nodeID:   cfg.Deployment.NodeID,
		pid:      os.Getpid(),
		inflight: make(map[string]string),
	}, nil
}

// Subscribe registers an observer for every outcome.
func (e *Engine) Subscribe(o Observer) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.observers = append(e.observers, o)
}

func (e *Engine) emit(ctx context.Context, o Outcome) {
	e.obsMu.RLock()
	observers := e.observers
	e.obsMu.RUnlock()
	for _, obs := range observers {
		obs.Observe(ctx, o)
	}
}

func (e *Engine) write(event string, data map[string]any, level audit.Level) {
	if e.audit != nil {
		e.audit.Write(event, data, level)
	}
}

// acquire marks objectID in flight under key. It fails if a deletion of
// the object is already running in this process.
func (e *Engine) acquire(objectID, key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inflight[objectID]; busy {
		return false
	}
	e.inflight[objectID] = key
	return true
}

func (e *Engine) release(objectID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, objectID)
}

// InFlight returns the number of deletions running in this process.
func (e *Engine) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inflight)
}

// Execute deletes an object outside the queue, e.g. for a manual request
// or an upstream signal. Any failure is terminal for this call. A
// compliance rejection is returned as *compliance.BlockedError.
func (e *Engine) Execute(ctx context.Context, req Request) (*Completed, error) {
	if req.Method == "" {
		req.Method = compliance.MethodManual
	}
	if !e.acquire(req.ObjectID, req.ObjectID+"_"+string(req.Method)) {
		return nil, fmt.Errorf("%w: %s", ErrInFlight, req.ObjectID)
	}
	defer e.release(req.ObjectID)

	ctx, span := e.startSpan(ctx, req)
	defer span.End()

	start := e.now()
	outcome := metrics.OutcomeFailure
	defer func() {
		e.metrics.RecordDeletion(req.Tier, outcome, e.now().Sub(start))
	}()

	completed, decision, err := e.run(ctx, req)
	if err != nil {
		var blocked *compliance.BlockedError
		if errors.As(err, &blocked) {
			outcome = metrics.OutcomeBlocked
		}
		tracing.SetError(span, err)
		e.fail(ctx, req, err, decision, false, 0)
		return nil, err
	}

	outcome = metrics.OutcomeSuccess
	e.complete(ctx, completed)
	return completed, nil
}

// startSpan starts the span covering one deletion attempt, its audit
// entries and its outcome events.
func (e *Engine) startSpan(ctx context.Context, req Request) (context.Context, trace.Span) {
	attrs := append(tracing.Object(req.ObjectID, req.Tier),
		tracing.AttrMethod.String(string(req.Method)),
		tracing.AttrReason.String(req.Reason),
	)
	if req.JobID != "" {
		attrs = append(attrs, tracing.AttrJobID.String(req.JobID))
	}
	return e.tracer.Start(ctx, "deletion.execute", trace.WithAttributes(attrs...))
}

// run performs the gate, passes, delete, verification and evidence steps.
// It writes no terminal audit entry; the caller decides the outcome.
func (e *Engine) run(ctx context.Context, req Request) (*Completed, *compliance.Decision, error) {
	start := e.now()
	logger := e.logger.With("object_id", req.ObjectID, "tier", req.Tier, "method", req.Method)

	decision, err := e.gate.ValidateDeletion(ctx, req.ObjectID, req.Tier, req.Method)
	if err != nil {
		return nil, nil, fmt.Errorf("compliance validation of %s: %w", req.ObjectID, err)
	}
	if !decision.Approved {
		return nil, decision, compliance.NewBlockedError(decision)
	}

	md, err := e.store.GetMetadata(ctx, req.ObjectID)
	if err != nil {
		return nil, decision, fmt.Errorf("lookup of %s: %w", req.ObjectID, err)
	}
	absent := md == nil

	var passes []PassResult
	if !absent {
		passes, err = e.overwrite(ctx, req)
		if err != nil {
			return nil, decision, err
		}
		if err := e.store.DeleteObject(ctx, req.ObjectID); err != nil {
			return nil, decision, fmt.Errorf("delete of %s: %w", req.ObjectID, err)
		}
	} else {
		logger.Info("object already absent, skipping overwrite")
	}

	checks := e.verify(ctx, req.ObjectID)
	verified := allPassed(checks)
	if !verified {
		logger.Warn("deletion not verified", "checks", checks)
	}
	trace.SpanFromContext(ctx).SetAttributes(tracing.AttrVerified.Bool(verified), tracing.AttrAbsent.Bool(absent))

	deletedAt := e.now()
	completed := &Completed{
		ObjectID:      req.ObjectID,
		Tier:          req.Tier,
		JobID:         req.JobID,
		Method:        req.Method,
		Reason:        req.Reason,
		DeletedAt:     deletedAt,
		Verified:      verified,
		AlreadyAbsent: absent,
		Passes:        passes,
		WitnessHash:   witnessHash(passes, e.nodeID, e.pid),
		ApprovalHash:  decision.ApprovalHash,
		Frameworks:    decision.Frameworks(),
	}

	trail, err := e.sealTrail(ctx, completed, req, checks)
	if err != nil {
		return nil, decision, err
	}
	completed.AuditTrail = trail

	if err := e.storeEvidence(ctx, completed); err != nil {
		return nil, decision, err
	}

	completed.Duration = e.now().Sub(start)
	return completed, decision, nil
}

func (e *Engine) overwrite(ctx context.Context, req Request) ([]PassResult, error) {
	n := e.cfg.OverwritePasses(req.Tier)
	passes := make([]PassResult, 0, n)

	for pass := 1; pass <= n; pass++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, name, err := e.overwritePass(ctx, req.ObjectID, pass)
		if err != nil {
			return nil, err
		}

		result := PassResult{
			Pass:         pass,
			Pattern:      name,
			Checksum:     res.Checksum,
			BytesWritten: res.BytesWritten,
			Timestamp:    e.now().UTC(),
		}
		passes = append(passes, result)
		e.metrics.RecordOverwritePass(name)
		e.write(audit.EventDeletionPass, map[string]any{
			"objectId":             req.ObjectID,
			"pass":                 pass,
			"algorithm":            name,
			"checksum":             res.Checksum,
			"bytesWritten":         res.BytesWritten,
			"complianceFrameworks": e.cfg.Compliance.Frameworks,
		}, audit.LevelInfo)
	}
	return passes, nil
}

func (e *Engine) overwritePass(ctx context.Context, objectID string, pass int) (_ *storage.OverwriteResult, name string, err error) {
	ctx, span := e.tracer.Start(ctx, "deletion.overwrite_pass", trace.WithAttributes(tracing.AttrPass.Int(pass)))
	defer func() {
		tracing.SetError(span, err)
		span.End()
	}()

	name, buf, err := PatternFor(pass)
	span.SetAttributes(tracing.AttrPattern.String(name))
	if err != nil {
		return nil, name, NewPassError(objectID, pass, name, err)
	}
	res, err := e.store.SecureOverwrite(ctx, objectID, buf, pass)
	if err != nil {
		return nil, name, NewPassError(objectID, pass, name, err)
	}
	if !res.Success {
		return nil, name, NewPassError(objectID, pass, name, errors.New("adapter reported failure"))
	}
	span.SetAttributes(tracing.AttrBytes.Int64(res.BytesWritten))
	return res, name, nil
}

// VerificationCheck is one absence check.
type VerificationCheck struct {
	Method  string `json:"method"`
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
}

func (e *Engine) verify(ctx context.Context, objectID string) []VerificationCheck {
	ctx, span := e.tracer.Start(ctx, "deletion.verify")
	defer span.End()
	existence := VerificationCheck{Method: "storage_adapter_verification"}
	gone, err := e.store.VerifyDeletion(ctx, objectID)
	switch {
	case err != nil:
		existence.Reason = "verification_failed: " + err.Error()
	case gone:
		existence.Success, existence.Reason = true, "deletion_verified"
	default:
		existence.Reason = "deletion_not_verified"
	}

	lookup := VerificationCheck{Method: "metadata_lookup"}
	md, err := e.store.GetMetadata(ctx, objectID)
	switch {
	case errors.Is(err, storage.ErrNotFound), err == nil && md == nil:
		lookup.Success, lookup.Reason = true, "metadata_not_found"
	case err != nil:
		lookup.Reason = "lookup_failed: " + err.Error()
	default:
		lookup.Reason = "metadata_still_exists"
	}

	span.SetAttributes(
		attribute.Bool("nimbus.verify.existence", existence.Success),
		attribute.Bool("nimbus.verify.metadata", lookup.Success),
	)
	return []VerificationCheck{existence, lookup}
}

func allPassed(checks []VerificationCheck) bool {
	for _, c := range checks {
		if !c.Success {
			return false
		}
	}
	return len(checks) > 0
}

type witnessPass struct {
	Pass     int    `json:"pass"`
	Checksum string `json:"checksum"`
}

type witness struct {
	Passes    []witnessPass `json:"passes"`
	NodeID    string        `json:"nodeId"`
	ProcessID int           `json:"processId"`
}

// witnessHash is the hex SHA-256 over the pass checksums and the identity
// of the deleting process.
func witnessHash(passes []PassResult, nodeID string, pid int) string {
	w := witness{Passes: make([]witnessPass, 0, len(passes)), NodeID: nodeID, ProcessID: pid}
	for _, p := range passes {
		w.Passes = append(w.Passes, witnessPass{Pass: p.Pass, Checksum: p.Checksum})
	}
	data, _ := json.Marshal(w)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type trailTimeline struct {
	Uploaded       string    `json:"uploaded,omitempty"`
	Scheduled      time.Time `json:"scheduled,omitzero"`
	Deleted        time.Time `json:"deleted"`
	RetentionHours string    `json:"retentionHours,omitempty"`
}

type auditTrail struct {
	ObjectID     string              `json:"objectId"`
	Tier         string              `json:"tier"`
	JobID        string              `json:"jobId,omitempty"`
	Method       compliance.Method   `json:"method"`
	Reason       string              `json:"reason,omitempty"`
	Timeline     trailTimeline       `json:"timeline"`
	Passes       []PassResult        `json:"passes"`
	Frameworks   []string            `json:"frameworks"`
	ApprovalHash string              `json:"approvalHash"`
	WitnessHash  string              `json:"witnessHash"`
	Verification []VerificationCheck `json:"verification"`
	NodeID       string              `json:"nodeId"`
}

func (e *Engine) sealTrail(ctx context.Context, c *Completed, req Request, checks []VerificationCheck) (string, error) {
	data, err := json.Marshal(auditTrail{
		ObjectID: c.ObjectID,
		Tier:     c.Tier,
		JobID:    c.JobID,
		Method:   c.Method,
		Reason:   c.Reason,
		Timeline: trailTimeline{
			Uploaded:       req.Metadata[retention.MetadataUploadTime],
			Scheduled:      req.ScheduledFor.UTC(),
			Deleted:        c.DeletedAt.UTC(),
			RetentionHours: req.Metadata[retention.MetadataRetentionHours],
		},
		Passes:       c.Passes,
		Frameworks:   c.Frameworks,
		ApprovalHash: c.ApprovalHash,
		WitnessHash:  c.WitnessHash,
		Verification: checks,
		NodeID:       e.nodeID,
	})
	if err != nil {
		return "", fmt.Errorf("encode audit trail of %s: %w", c.ObjectID, err)
	}
	token, err := e.enc.Encrypt(ctx, data)
	if err != nil {
		return "", fmt.Errorf("encrypt audit trail of %s: %w", c.ObjectID, err)
	}
	return token, nil
}

func (e *Engine) storeEvidence(ctx context.Context, c *Completed) error {
	if e.evidence == nil {
		return nil
	}
	err := e.evidence.Store(ctx, &evidence.Record{
		ID:           uuid.NewString(),
		Kind:         evidence.KindDeletion,
		RecordedAt:   c.DeletedAt.UTC(),
		ObjectID:     c.ObjectID,
		Tier:         c.Tier,
		JobID:        c.JobID,
		Method:       string(c.Method),
		Verified:     c.Verified,
		Passes:       len(c.Passes),
		WitnessHash:  c.WitnessHash,
		ApprovalHash: c.ApprovalHash,
		Payload:      c.AuditTrail,
	})
	if err != nil {
		return fmt.Errorf("store compliance record of %s: %w", c.ObjectID, err)
	}
	return nil
}

// complete writes the terminal success entry and notifies observers.
func (e *Engine) complete(ctx context.Context, c *Completed) {
	e.write(audit.EventDeletionCompleted, map[string]any{
		"objectId":      c.ObjectID,
		"tier":          c.Tier,
		"jobId":         c.JobID,
		"method":        string(c.Method),
		"reason":        c.Reason,
		"passes":        len(c.Passes),
		"verified":      c.Verified,
		"alreadyAbsent": c.AlreadyAbsent,
		"durationMs":    c.Duration.Milliseconds(),
		"witnessHash":   c.WitnessHash,
		"approvalHash":  c.ApprovalHash,
		"frameworks":    c.Frameworks,
	}, audit.LevelInfo)

	e.logger.Info("secure deletion completed",
		"object_id", c.ObjectID,
		"job_id", c.JobID,
		"verified", c.Verified,
		"duration", c.Duration)

	e.emit(ctx, c)
}

// fail writes the terminal failure entry and notifies observers.
func (e *Engine) fail(ctx context.Context, req Request, err error, decision *compliance.Decision, deadLettered bool, retryCount int) *Failed {
	f := &Failed{
		ObjectID:     req.ObjectID,
		Tier:         req.Tier,
		JobID:        req.JobID,
		Method:       req.Method,
		Err:          err,
		DeadLettered: deadLettered,
		RetryCount:   retryCount,
		Impact:       e.gate.AssessImpact(decision),
	}

	e.write(audit.EventDeletionFailed, map[string]any{
		"objectId":         f.ObjectID,
		"tier":             f.Tier,
		"jobId":            f.JobID,
		"method":           string(f.Method),
		"error":            err.Error(),
		"deadLettered":     deadLettered,
		"retryCount":       retryCount,
		"complianceImpact": f.Impact,
	}, audit.LevelError)

	e.logger.Error("secure deletion failed",
		"object_id", f.ObjectID,
		"job_id", f.JobID,
		"dead_lettered", deadLettered,
		"error", err)

	e.emit(ctx, f)
	return f
}
