package nimbus

import (
	"context"
	"fmt"
	"time"

	"mercator-hq/nimbus/pkg/config"
	"mercator-hq/nimbus/pkg/evidence"
	"mercator-hq/nimbus/pkg/telemetry/health"
)

// Health summarizes the running service.
type Health struct {
	Status       string        `json:"status"`
	Version      string        `json:"version,omitempty"`
	Uptime       time.Duration `json:"uptime"`
	QueueLength  int           `json:"queueLength"`
	InFlight     int           `json:"inFlight"`
	ActiveTokens int           `json:"activeTokens"`
	Frameworks   []string      `json:"frameworks"`
	AuditLevel   string        `json:"auditLevel"`
	AuditBuffer  int           `json:"auditBuffer"`
	Checks       health.Report `json:"checks"`
}

// Health runs the backend checks and reports the service state. Status is
// the readiness status: "ready" or "degraded".
func (s *Service) Health(ctx context.Context) *Health {
	h := &Health{
		Version:      s.version,
		Uptime:       s.now().Sub(s.created),
		InFlight:     s.engine.InFlight(),
		ActiveTokens: s.tokens.Active(),
		Frameworks:   s.cfg.Compliance.Frameworks,
		AuditLevel:   s.cfg.Compliance.AuditLevel,
		AuditBuffer:  s.audit.Buffered(),
		Checks:       s.health.Readiness(ctx),
	}
	h.Status = h.Checks.Status
	if n, err := s.queue.Len(ctx); err == nil {
		h.QueueLength = n
	}
	return h
}

// ComplianceReport summarizes the evidence recorded between from and to.
type ComplianceReport struct {
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	GeneratedAt time.Time `json:"generatedAt"`
	Frameworks  []string  `json:"frameworks"`
	AuditLevel  string    `json:"auditLevel"`

	Deletions         int64 `json:"deletions"`
	VerifiedDeletions int64 `json:"verifiedDeletions"`
	DeadLetters       int64 `json:"deadLetters"`
	AuditBatches      int64 `json:"auditBatches"`

	// Compliant is true when every deletion was verified and no job was
	// dead-lettered.
	Compliant bool `json:"compliant"`
}

// ComplianceReport flushes the audit log and counts evidence in [from, to].
func (s *Service) ComplianceReport(ctx context.Context, from, to time.Time) (*ComplianceReport, error) {
	if err := s.audit.Flush(ctx); err != nil {
		return nil, fmt.Errorf("nimbus: audit flush before report: %w", err)
	}
	r, err := BuildComplianceReport(ctx, s.evidence, s.cfg.Compliance, from, to)
	if err != nil {
		return nil, err
	}
	r.GeneratedAt = s.now()
	return r, nil
}

// BuildComplianceReport counts the evidence in ev recorded in [from, to].
func BuildComplianceReport(ctx context.Context, ev evidence.Storage, cfg config.ComplianceConfig, from, to time.Time) (*ComplianceReport, error) {
	count := func(kind evidence.Kind, verified *bool) (int64, error) {
		return ev.Count(ctx, &evidence.Query{
			Kind:      kind,
			StartTime: &from,
			EndTime:   &to,
			Verified:  verified,
		})
	}

	r := &ComplianceReport{
		From:        from,
		To:          to,
		GeneratedAt: time.Now(),
		Frameworks:  cfg.Frameworks,
		AuditLevel:  cfg.AuditLevel,
	}
	verified := true
	var err error
	if r.Deletions, err = count(evidence.KindDeletion, nil); err != nil {
		return nil, err
	}
	if r.VerifiedDeletions, err = count(evidence.KindDeletion, &verified); err != nil {
		return nil, err
	}
	if r.DeadLetters, err = count(evidence.KindDeadLetter, nil); err != nil {
		return nil, err
	}
	if r.AuditBatches, err = count(evidence.KindAuditBatch, nil); err != nil {
		return nil, err
	}
	r.Compliant = r.Deletions == r.VerifiedDeletions && r.DeadLetters == 0
	return r, nil
}
