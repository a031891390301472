package compliance

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"mercator-hq/nimbus/pkg/config"
)

// Known framework names.
const (
	FrameworkHIPAA   = "HIPAA"
	FrameworkGDPR    = "GDPR"
	FrameworkNIST    = "NIST-800-53"
	FrameworkFedRAMP = "FedRAMP-High"
	FrameworkDoD     = "DoD-8570"
)

// maxStorageLimitation is the longest retention GDPR storage limitation
// accepts.
const maxStorageLimitation = 8760 * time.Hour

var (
	unauthorizedMethods = []Method{"unauthorized", "breach", "compromised"}

	erasureMethods = []Method{
		MethodAutomatic,
		MethodManual,
		MethodPolicyTrigger,
		MethodExternalSignal,
		MethodUserRequest,
	}
)

// evaluation is the input every framework check reads.
type evaluation struct {
	cfg       *config.Config
	req       Request
	tier      config.TierConfig
	tierKnown bool
}

func (e *evaluation) auditLevel() string {
	return e.cfg.Compliance.AuditLevel
}

func (e *evaluation) strongCipher() bool {
	switch e.cfg.Security.Encryption.Algorithm {
	case config.AlgorithmAES256GCM, config.AlgorithmChaCha20Poly1305:
		return true
	}
	return false
}

func (e *evaluation) hsmBacked() bool {
	enc := e.cfg.Security.Encryption
	return enc.RequireHSM || enc.KMSProvider == config.KMSProviderHSM
}

func (e *evaluation) authorized() bool {
	return !slices.Contains(unauthorizedMethods, e.req.Method)
}

func (e *evaluation) passes() int {
	return e.cfg.OverwritePasses(e.req.Tier)
}

// frameworkChecks maps a framework to its check table.
var frameworkChecks = map[string]func(e *evaluation) map[string]bool{
	FrameworkHIPAA: func(e *evaluation) map[string]bool {
		level := e.auditLevel()
		return map[string]bool{
			"encryption_required":       e.strongCipher(),
			"audit_trail_required":      level == config.AuditLevelEnhanced || level == config.AuditLevelForensic,
			"retention_limits_enforced": e.tierKnown && e.tier.RetentionDuration() > 0,
			"authorized_access_only":    e.authorized(),
			"multi_factor":              e.cfg.Security.Access.RequireMFA,
			"deletion_verified":         e.passes() >= 1,
		}
	},
	FrameworkGDPR: func(e *evaluation) map[string]bool {
		retention := e.tier.RetentionDuration()
		return map[string]bool{
			"right_to_erasure":   slices.Contains(erasureMethods, e.req.Method),
			"data_minimization":  e.tierKnown,
			"storage_limitation": e.tierKnown && retention > 0 && retention <= maxStorageLimitation,
			"lawful_basis":       e.authorized(),
			"technical_measures": e.cfg.Security.Encryption.Algorithm != "" && e.auditLevel() != config.AuditLevelBasic,
		}
	},
	FrameworkNIST: func(e *evaluation) map[string]bool {
		return map[string]bool{
			"access_controls":          e.authorized(),
			"audit_and_accountability": e.auditLevel() != config.AuditLevelBasic,
			"cryptographic_protection": e.strongCipher(),
			"media_sanitization":       e.passes() >= 1,
		}
	},
	FrameworkFedRAMP: func(e *evaluation) map[string]bool {
		return map[string]bool{
			"audit_and_accountability":          e.auditLevel() == config.AuditLevelForensic,
			"identification_and_authentication": e.cfg.Security.Access.RequireMFA,
			"cryptographic_protection":          e.strongCipher() && e.hsmBacked(),
			"access_control":                    e.authorized(),
		}
	},
	FrameworkDoD: func(e *evaluation) map[string]bool {
		return map[string]bool{
			"risk_management_framework": e.auditLevel() != config.AuditLevelBasic,
			"security_categorization":   e.tierKnown,
			"stig_compliance":           e.cfg.Security.Encryption.RequireHSM,
		}
	},
}

// evaluateFramework runs one framework's check table.
func evaluateFramework(name string, e *evaluation) Result {
	checksFor, ok := frameworkChecks[name]
	if !ok {
		return Result{
			Framework: name,
			Approved:  true,
			Checks:    map[string]bool{"custom": true},
			Reason:    fmt.Sprintf("%s has no built-in checks", name),
		}
	}

	checks := checksFor(e)
	failed := failedChecks(checks)
	if len(failed) == 0 {
		return Result{Framework: name, Approved: true, Checks: checks, Reason: fmt.Sprintf("%s requirements satisfied", name)}
	}
	return Result{
		Framework: name,
		Checks:    checks,
		Reason:    fmt.Sprintf("%s violations: %s", name, strings.Join(failed, ", ")),
	}
}

func failedChecks(checks map[string]bool) []string {
	var failed []string
	for name, ok := range checks {
		if !ok {
			failed = append(failed, name)
		}
	}
	sort.Strings(failed)
	return failed
}

// impactFor returns the regulatory impact of a failing framework.
func impactFor(framework string) string {
	switch framework {
	case FrameworkHIPAA:
		return "Potential PHI retention violation"
	case FrameworkGDPR:
		return "Right to erasure non-compliance"
	case FrameworkNIST:
		return "Data sanitization control failure"
	default:
		return fmt.Sprintf("%s compliance at risk", framework)
	}
}
