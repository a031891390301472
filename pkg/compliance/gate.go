package compliance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"mercator-hq/nimbus/pkg/config"
	"mercator-hq/nimbus/pkg/telemetry/metrics"
)

const (
	reasonNoFrameworks = "no frameworks configured"
	reasonApproved     = "all compliance requirements met"
	reasonRejected     = "compliance requirements not satisfied"
)

// Options configures a Gate.
type Options struct {
	// Logger receives decision logs. Default: slog.Default()
	Logger *slog.Logger

	// Metrics records approved and rejected decisions. Optional.
	Metrics *metrics.Collector

	// Now returns the evaluation time. Default: time.Now
	Now func() time.Time
}

// Gate evaluates deletions against the configured frameworks and
// requirements.
type Gate struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Collector
	now     func() time.Time

	// declared holds requirements from configuration. It never changes
	// after NewGate.
	declared []requirement

	mu         sync.RWMutex
	validators []requirement
}

// NewGate creates a gate for cfg. cfg must not be modified afterwards.
func NewGate(cfg *config.Config, opts Options) (*Gate, error) {
	if cfg == nil {
		return nil, fmt.Errorf("compliance: config cannot be nil")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default().With("component", "compliance")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	g := &Gate{
		cfg:     cfg,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
	for _, rc := range cfg.Compliance.Requirements {
		r, err := fromConfig(rc)
		if err != nil {
			return nil, fmt.Errorf("compliance: requirement %q: %w", rc.Name, err)
		}
		g.declared = append(g.declared, r)
	}
	return g, nil
}

// AddValidator registers a custom requirement. Validators run in
// registration order after the declarative requirements.
func (g *Gate) AddValidator(name string, v Validator) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.validators = append(g.validators, fromValidator(name, v))
}

// Frameworks returns the frameworks evaluated for tier: the global list
// followed by the tier's own, without duplicates.
func (g *Gate) Frameworks(tier string) []string {
	frameworks := slices.Clone(g.cfg.Compliance.Frameworks)
	if t, ok := g.cfg.Tier(tier); ok {
		for _, f := range t.Frameworks {
			if !slices.Contains(frameworks, f) {
				frameworks = append(frameworks, f)
			}
		}
	}
	return frameworks
}

// ValidateDeletion evaluates a deletion of objectID in tier triggered by
// method. A rejection is reported through Decision.Approved; the error is
// non-nil only when ctx is done.
func (g *Gate) ValidateDeletion(ctx context.Context, objectID, tier string, method Method) (*Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tierCfg, known := g.cfg.Tier(tier)
	e := &evaluation{
		cfg:       g.cfg,
		req:       Request{ObjectID: objectID, Tier: tier, Method: method},
		tier:      tierCfg,
		tierKnown: known,
	}

	g.mu.RLock()
	custom := append(slices.Clone(g.declared), g.validators...)
	g.mu.RUnlock()

	frameworks := g.Frameworks(tier)
	decision := &Decision{EvaluatedAt: g.now()}

	if len(frameworks) == 0 && len(custom) == 0 {
		decision.Approved = true
		decision.Reason = reasonNoFrameworks
		decision.ApprovalHash = approvalHash(nil)
		g.record(decision, e.req)
		return decision, nil
	}

	for _, name := range frameworks {
		decision.Results = append(decision.Results, evaluateFramework(name, e))
	}
	for _, r := range custom {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		decision.Results = append(decision.Results, r.evaluate(ctx, e))
	}

	failing := decision.Failing()
	decision.Approved = len(failing) == 0
	if decision.Approved {
		decision.Reason = reasonApproved
	} else {
		decision.Reason = fmt.Sprintf("%s: %s", reasonRejected, strings.Join(failing, ", "))
	}
	decision.ApprovalHash = approvalHash(decision.Results)

	g.record(decision, e.req)
	return decision, nil
}

func (g *Gate) record(d *Decision, req Request) {
	g.metrics.RecordComplianceDecision(d.Approved)
	if d.Approved {
		g.logger.Debug("deletion approved",
			"object_id", req.ObjectID,
			"tier", req.Tier,
			"method", req.Method,
			"frameworks", len(d.Results),
		)
		return
	}
	g.logger.Warn("deletion rejected",
		"object_id", req.ObjectID,
		"tier", req.Tier,
		"method", req.Method,
		"reason", d.Reason,
	)
}

// RequiresAudit reports whether deletions must carry a full audit trail:
// the audit level is above basic or at least one framework is configured.
func (g *Gate) RequiresAudit() bool {
	return g.cfg.Compliance.AuditLevel != config.AuditLevelBasic || len(g.cfg.Compliance.Frameworks) > 0
}

// AssessImpact lists the regulatory impact of a failed deletion. With a nil
// decision every configured framework is considered at risk.
func (g *Gate) AssessImpact(d *Decision) []string {
	var frameworks []string
	if d == nil {
		frameworks = g.cfg.Compliance.Frameworks
	} else {
		for _, name := range d.Failing() {
			if !strings.HasPrefix(name, "custom_") {
				frameworks = append(frameworks, name)
			}
		}
	}

	impacts := make([]string, 0, len(frameworks))
	for _, f := range frameworks {
		impacts = append(impacts, impactFor(f))
	}
	return impacts
}

type hashedResult struct {
	Framework string          `json:"framework"`
	Approved  bool            `json:"approved"`
	Checks    map[string]bool `json:"checks"`
}

// approvalHash hashes the framework outcomes. encoding/json sorts map keys,
// so the encoding is stable.
func approvalHash(results []Result) string {
	hashed := make([]hashedResult, 0, len(results))
	for _, r := range results {
		hashed = append(hashed, hashedResult{Framework: r.Framework, Approved: r.Approved, Checks: r.Checks})
	}
	data, _ := json.Marshal(hashed)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
