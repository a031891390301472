package config

import (
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "tiers.free.max_file_size").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It is fatal at construction time.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateTiers(cfg.Tiers)...)
	errs = append(errs, validateSecurity(&cfg.Security)...)
	errs = append(errs, validateCompliance(&cfg.Compliance)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateQueue(&cfg.Queue)...)
	errs = append(errs, validateAudit(&cfg.Audit)...)
	errs = append(errs, validateEvidence(&cfg.Evidence)...)
	errs = append(errs, validateEvents(&cfg.Events)...)
	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

var knownFeatures = map[string]bool{
	FeatureImmediatePostSignalDeletion: true,
	FeaturePriorityProcessing:          true,
	FeatureModificationAllowed:         true,
	FeatureTranscodingAllowed:          true,
	FeatureUnlimitedAccess:             true,
	FeatureRestrictedBandwidth:         true,
}

func validateTiers(tiers map[string]TierConfig) []FieldError {
	var errs []FieldError

	if len(tiers) == 0 {
		return []FieldError{{Field: "tiers", Message: "at least one tier must be configured"}}
	}

	// Sorted for stable error output.
	names := make([]string, 0, len(tiers))
	for name := range tiers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		tier := tiers[name]
		prefix := "tiers." + name

		if tier.Retention < 0 || tier.RetentionHours < 0 {
			errs = append(errs, FieldError{Field: prefix + ".retention", Message: "retention must be positive"})
		} else if tier.RetentionDuration() <= 0 {
			errs = append(errs, FieldError{Field: prefix + ".retention", Message: "retention or retention_hours is required"})
		}
		if tier.MaxFileSize <= 0 {
			errs = append(errs, FieldError{Field: prefix + ".max_file_size", Message: "max file size must be positive"})
		}
		if tier.ConcurrentUploads < 0 {
			errs = append(errs, FieldError{Field: prefix + ".concurrent_uploads", Message: "concurrent uploads must be non-negative"})
		}
		if tier.OverwritePasses < 0 {
			errs = append(errs, FieldError{Field: prefix + ".overwrite_passes", Message: "overwrite passes must be non-negative"})
		}
		for _, f := range tier.Features {
			if !knownFeatures[f] {
				errs = append(errs, FieldError{Field: prefix + ".features", Message: fmt.Sprintf("unknown feature %q", f)})
			}
		}
	}

	return errs
}

func validateSecurity(cfg *SecurityConfig) []FieldError {
	var errs []FieldError

	enc := cfg.Encryption
	switch enc.Algorithm {
	case AlgorithmAES256GCM, AlgorithmChaCha20Poly1305:
	default:
		errs = append(errs, FieldError{
			Field:   "security.encryption.algorithm",
			Message: fmt.Sprintf("unsupported algorithm %q (must be %s or %s)", enc.Algorithm, AlgorithmAES256GCM, AlgorithmChaCha20Poly1305),
		})
	}
	if enc.KeyRotation < 0 {
		errs = append(errs, FieldError{Field: "security.encryption.key_rotation", Message: "key rotation must be non-negative"})
	}

	provider := enc.KMSProvider
	if enc.RequireHSM {
		provider = KMSProviderHSM
	}
	switch provider {
	case KMSProviderAWS:
		if enc.AWS.KeyID == "" {
			errs = append(errs, FieldError{Field: "security.encryption.aws.key_id", Message: "key id is required for the aws provider"})
		}
	case KMSProviderHSM:
		if enc.HSM.KeyDir == "" {
			errs = append(errs, FieldError{Field: "security.encryption.hsm.key_dir", Message: "key directory is required for the hsm provider"})
		}
		if strings.ContainsAny(enc.HSM.DefaultKeyID, `/\`) || strings.Contains(enc.HSM.DefaultKeyID, "..") {
			errs = append(errs, FieldError{Field: "security.encryption.hsm.default_key_id", Message: "key id must not contain path separators"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "security.encryption.kms_provider",
			Message: fmt.Sprintf("unsupported key provider %q (must be %s or %s)", provider, KMSProviderAWS, KMSProviderHSM),
		})
	}

	access := cfg.Access
	if access.TokenTTL <= 0 {
		errs = append(errs, FieldError{Field: "security.access.token_ttl", Message: "token ttl must be positive"})
	}
	if access.MaxConcurrentAccess < 0 {
		errs = append(errs, FieldError{Field: "security.access.max_concurrent_access", Message: "must be non-negative"})
	}
	if access.MaxRequestsPerToken < 0 {
		errs = append(errs, FieldError{Field: "security.access.max_requests_per_token", Message: "must be non-negative"})
	}
	for _, entry := range access.IPAllowlist {
		if _, _, err := net.ParseCIDR(entry); err == nil {
			continue
		}
		if net.ParseIP(entry) == nil {
			errs = append(errs, FieldError{Field: "security.access.ip_allowlist", Message: fmt.Sprintf("invalid address or CIDR %q", entry)})
		}
	}

	if cfg.Deletion.OverwritePasses < 1 {
		errs = append(errs, FieldError{Field: "security.deletion.overwrite_passes", Message: "at least one overwrite pass is required"})
	}

	return errs
}

func validateCompliance(cfg *ComplianceConfig) []FieldError {
	var errs []FieldError

	if AuditLevelRank(cfg.AuditLevel) == 0 {
		errs = append(errs, FieldError{
			Field:   "compliance.audit_level",
			Message: fmt.Sprintf("invalid audit level %q (must be basic, enhanced or forensic)", cfg.AuditLevel),
		})
	}

	seen := make(map[string]bool)
	for i, req := range cfg.Requirements {
		prefix := fmt.Sprintf("compliance.requirements[%d]", i)
		if req.Name == "" {
			errs = append(errs, FieldError{Field: prefix + ".name", Message: "name is required"})
		} else if seen[req.Name] {
			errs = append(errs, FieldError{Field: prefix + ".name", Message: fmt.Sprintf("duplicate requirement %q", req.Name)})
		}
		seen[req.Name] = true

		switch req.Type {
		case RequirementMaxRetention:
			if req.MaxRetention <= 0 {
				errs = append(errs, FieldError{Field: prefix + ".max_retention", Message: "max retention must be positive"})
			}
		case RequirementAllowedMethods:
			if len(req.Methods) == 0 {
				errs = append(errs, FieldError{Field: prefix + ".methods", Message: "at least one method is required"})
			}
		case RequirementMinPasses:
			if req.MinPasses < 1 {
				errs = append(errs, FieldError{Field: prefix + ".min_passes", Message: "min passes must be at least 1"})
			}
		case RequirementMinAuditLevel:
			if AuditLevelRank(req.MinAuditLevel) == 0 {
				errs = append(errs, FieldError{Field: prefix + ".min_audit_level", Message: fmt.Sprintf("invalid audit level %q", req.MinAuditLevel)})
			}
		case RequirementRequireHSM:
		default:
			errs = append(errs, FieldError{Field: prefix + ".type", Message: fmt.Sprintf("unknown requirement type %q", req.Type)})
		}
	}

	return errs
}

func validateStorage(cfg *StorageConfig) []FieldError {
	var errs []FieldError

	switch cfg.Provider {
	case StorageProviderMemory:
	case StorageProviderS3:
		if cfg.S3.Bucket == "" {
			errs = append(errs, FieldError{Field: "storage.s3.bucket", Message: "bucket is required for the s3 provider"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "storage.provider",
			Message: fmt.Sprintf("unsupported storage provider %q (must be memory or s3)", cfg.Provider),
		})
	}

	return errs
}

func validateQueue(cfg *QueueConfig) []FieldError {
	var errs []FieldError

	switch cfg.Provider {
	case QueueProviderMemory:
	case QueueProviderSQLite:
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "queue.sqlite.path", Message: "path is required for the sqlite queue"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "queue.provider",
			Message: fmt.Sprintf("unsupported queue provider %q (must be memory or sqlite)", cfg.Provider),
		})
	}

	rp := cfg.RetryPolicy
	if rp.MaxRetries != nil && *rp.MaxRetries < 0 {
		errs = append(errs, FieldError{Field: "queue.retry_policy.max_retries", Message: "max retries must be non-negative"})
	}
	if rp.Backoff <= 0 {
		errs = append(errs, FieldError{Field: "queue.retry_policy.backoff", Message: "backoff must be positive"})
	}
	if rp.MaxBackoff < rp.Backoff {
		errs = append(errs, FieldError{Field: "queue.retry_policy.max_backoff", Message: "max backoff must not be less than backoff"})
	}
	if cfg.PollInterval <= 0 {
		errs = append(errs, FieldError{Field: "queue.poll_interval", Message: "poll interval must be positive"})
	}
	if cfg.ErrorBackoff <= 0 {
		errs = append(errs, FieldError{Field: "queue.error_backoff", Message: "error backoff must be positive"})
	}
	if cfg.DrainTimeout <= 0 {
		errs = append(errs, FieldError{Field: "queue.drain_timeout", Message: "drain timeout must be positive"})
	}
	if cfg.VisibilityTimeout <= 0 {
		errs = append(errs, FieldError{Field: "queue.visibility_timeout", Message: "visibility timeout must be positive"})
	}
	if cfg.Workers < 1 {
		errs = append(errs, FieldError{Field: "queue.workers", Message: "at least one worker is required"})
	}

	return errs
}

func validateAudit(cfg *AuditConfig) []FieldError {
	var errs []FieldError

	if cfg.FlushThreshold < 1 {
		errs = append(errs, FieldError{Field: "audit.flush_threshold", Message: "flush threshold must be at least 1"})
	}
	if cfg.FlushInterval < 0 {
		errs = append(errs, FieldError{Field: "audit.flush_interval", Message: "flush interval must be non-negative"})
	}

	return errs
}

func validateEvidence(cfg *EvidenceConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case EvidenceBackendMemory:
	case EvidenceBackendSQLite:
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "evidence.sqlite.path", Message: "path is required for the sqlite backend"})
		}
		if cfg.SQLite.MaxOpenConns < 1 {
			errs = append(errs, FieldError{Field: "evidence.sqlite.max_open_conns", Message: "must be at least 1"})
		}
		if cfg.SQLite.MaxIdleConns > cfg.SQLite.MaxOpenConns {
			errs = append(errs, FieldError{Field: "evidence.sqlite.max_idle_conns", Message: "must not exceed max_open_conns"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "evidence.backend",
			Message: fmt.Sprintf("unsupported evidence backend %q (must be sqlite or memory)", cfg.Backend),
		})
	}

	if cfg.RetentionDays < 0 {
		errs = append(errs, FieldError{Field: "evidence.retention_days", Message: "retention days must be non-negative"})
	}
	if _, err := cron.ParseStandard(cfg.PruneSchedule); err != nil {
		errs = append(errs, FieldError{Field: "evidence.prune_schedule", Message: fmt.Sprintf("invalid cron expression: %v", err)})
	}

	return errs
}

func validateEvents(cfg *EventsConfig) []FieldError {
	var errs []FieldError

	if cfg.PubSub.Enabled {
		if cfg.PubSub.ProjectID == "" {
			errs = append(errs, FieldError{Field: "events.pubsub.project_id", Message: "project id is required when pubsub is enabled"})
		}
		if cfg.PubSub.TopicID == "" {
			errs = append(errs, FieldError{Field: "events.pubsub.topic_id", Message: "topic id is required when pubsub is enabled"})
		}
	}

	return errs
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{Field: "server.listen_address", Message: "listen address is required"})
	}
	timeouts := []struct {
		field string
		value time.Duration
	}{
		{"server.read_timeout", cfg.ReadTimeout},
		{"server.write_timeout", cfg.WriteTimeout},
		{"server.idle_timeout", cfg.IdleTimeout},
		{"server.shutdown_timeout", cfg.ShutdownTimeout},
	}
	for _, t := range timeouts {
		if t.value < 0 {
			errs = append(errs, FieldError{Field: t.field, Message: "must not be negative"})
		}
	}

	if tls := cfg.TLS; tls.Enabled {
		if tls.CertFile == "" {
			errs = append(errs, FieldError{Field: "server.tls.cert_file", Message: "required when TLS is enabled"})
		}
		if tls.KeyFile == "" {
			errs = append(errs, FieldError{Field: "server.tls.key_file", Message: "required when TLS is enabled"})
		}
		if tls.MinVersion != "1.2" && tls.MinVersion != "1.3" {
			errs = append(errs, FieldError{Field: "server.tls.min_version", Message: fmt.Sprintf("unsupported TLS version %q (must be 1.2 or 1.3)", tls.MinVersion)})
		}
		switch tls.ClientAuth {
		case ClientAuthNone:
		case ClientAuthRequest, ClientAuthRequire:
			if tls.ClientCAFile == "" {
				errs = append(errs, FieldError{Field: "server.tls.client_ca_file", Message: "required when client_auth is " + tls.ClientAuth})
			}
		default:
			errs = append(errs, FieldError{Field: "server.tls.client_auth", Message: fmt.Sprintf("unsupported client auth %q (must be none, request or require)", tls.ClientAuth)})
		}
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid log level %q (must be debug, info, warn or error)", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid log format %q (must be json or text)", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.ListenAddress == "" {
			errs = append(errs, FieldError{Field: "telemetry.metrics.listen_address", Message: "listen address is required when metrics are enabled"})
		}
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "path must start with /"})
		}
	}

	if tr := cfg.Tracing; tr.Enabled {
		if tr.Endpoint == "" {
			errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "endpoint is required when tracing is enabled"})
		}
		switch tr.Sampler {
		case SamplerAlways, SamplerNever:
		case SamplerRatio:
			if tr.SampleRatio < 0 || tr.SampleRatio > 1 {
				errs = append(errs, FieldError{
					Field:   "telemetry.tracing.sample_ratio",
					Message: fmt.Sprintf("sample ratio %g must be between 0 and 1", tr.SampleRatio),
				})
			}
		default:
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sampler",
				Message: fmt.Sprintf("invalid sampler %q (must be always, never or ratio)", tr.Sampler),
			})
		}
	}

	return errs
}
