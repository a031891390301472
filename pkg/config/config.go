package config

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Config is the root configuration structure for Nimbus.
// It is loaded once at construction time and treated as immutable afterwards.
type Config struct {
	// Tiers maps a tier name to its retention and feature settings.
	// At least one tier must be configured.
	Tiers map[string]TierConfig `yaml:"tiers"`

	// Security contains encryption, token access and deletion settings.
	Security SecurityConfig `yaml:"security"`

	// Compliance contains the regulatory frameworks evaluated before
	// every destructive action.
	Compliance ComplianceConfig `yaml:"compliance"`

	// Storage selects the object storage backend.
	Storage StorageConfig `yaml:"storage"`

	// Queue selects the deletion queue backend and its retry policy.
	Queue QueueConfig `yaml:"queue"`

	// Audit contains audit buffer flush settings.
	Audit AuditConfig `yaml:"audit"`

	// Evidence contains the durable store for flushed audit batches,
	// deletion records and dead letters.
	Evidence EvidenceConfig `yaml:"evidence"`

	// Events contains outbound lifecycle event publishing settings.
	Events EventsConfig `yaml:"events"`

	// Server contains the token access HTTP listener settings.
	Server ServerConfig `yaml:"server"`

	// Telemetry contains logging and metrics settings.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Deployment identifies the running node.
	Deployment DeploymentConfig `yaml:"deployment"`
}

// Tier feature flags.
const (
	// FeatureImmediatePostSignalDeletion deletes the object as soon as the
	// external processing-complete signal arrives.
	FeatureImmediatePostSignalDeletion = "immediate_post_signal_deletion"

	// FeaturePriorityProcessing schedules deletion jobs with high priority.
	FeaturePriorityProcessing = "priority_processing"

	// FeatureModificationAllowed allows tokens carrying the modify permission.
	FeatureModificationAllowed = "modification_allowed"

	// FeatureTranscodingAllowed allows tokens carrying the transcode permission.
	FeatureTranscodingAllowed = "transcoding_allowed"

	// FeatureUnlimitedAccess removes the per-token usage cap.
	FeatureUnlimitedAccess = "unlimited_access"

	// FeatureRestrictedBandwidth marks issued tokens as bandwidth limited.
	FeatureRestrictedBandwidth = "restricted_bandwidth"
)

// TierConfig contains the settings for one uploader tier.
type TierConfig struct {
	// Retention is how long objects in this tier are kept before deletion.
	// Either Retention or RetentionHours must be set; Retention wins when both are.
	Retention time.Duration `yaml:"retention"`

	// RetentionHours is the retention period expressed in hours.
	RetentionHours float64 `yaml:"retention_hours"`

	// MaxFileSize is the maximum object size in bytes.
	MaxFileSize int64 `yaml:"max_file_size"`

	// ConcurrentUploads is the number of parallel uploads allowed per uploader.
	ConcurrentUploads int `yaml:"concurrent_uploads"`

	// Features lists the feature flags enabled for this tier.
	Features []string `yaml:"features"`

	// Frameworks lists compliance frameworks evaluated for this tier in
	// addition to compliance.frameworks.
	Frameworks []string `yaml:"frameworks"`

	// OverwritePasses overrides security.deletion.overwrite_passes for this tier.
	// Zero means use the global value.
	OverwritePasses int `yaml:"overwrite_passes"`
}

// RetentionDuration returns the effective retention period.
func (t TierConfig) RetentionDuration() time.Duration {
	if t.Retention > 0 {
		return t.Retention
	}
	return time.Duration(t.RetentionHours * float64(time.Hour))
}

// HasFeature reports whether the tier enables the named feature.
func (t TierConfig) HasFeature(feature string) bool {
	return slices.Contains(t.Features, feature)
}

// Tier returns the named tier configuration.
func (c *Config) Tier(name string) (TierConfig, bool) {
	tier, ok := c.Tiers[name]
	return tier, ok
}

// OverwritePasses returns the number of overwrite passes for the tier.
func (c *Config) OverwritePasses(tier string) int {
	if t, ok := c.Tiers[tier]; ok && t.OverwritePasses > 0 {
		return t.OverwritePasses
	}
	return c.Security.Deletion.OverwritePasses
}

// ErrUnknownTier matches every UnknownTierError with errors.Is.
var ErrUnknownTier = errors.New("unknown tier")

// UnknownTierError is returned when an operation names a tier that is not
// configured.
type UnknownTierError struct {
	Tier string
}

// Error implements the error interface.
func (e *UnknownTierError) Error() string {
	return fmt.Sprintf("unknown tier %q", e.Tier)
}

// Is reports whether target is ErrUnknownTier.
func (e *UnknownTierError) Is(target error) bool {
	return target == ErrUnknownTier
}

// NewUnknownTierError creates a new UnknownTierError.
func NewUnknownTierError(tier string) *UnknownTierError {
	return &UnknownTierError{Tier: tier}
}

// SecurityConfig contains security-related configuration.
type SecurityConfig struct {
	// Encryption contains envelope encryption and key provider settings.
	Encryption EncryptionConfig `yaml:"encryption"`

	// Access contains access token settings.
	Access AccessConfig `yaml:"access"`

	// Deletion contains secure deletion settings.
	Deletion DeletionConfig `yaml:"deletion"`
}

// Supported envelope algorithms.
const (
	AlgorithmAES256GCM        = "AES-256-GCM"
	AlgorithmChaCha20Poly1305 = "ChaCha20-Poly1305"
)

// Supported key-management providers.
const (
	KMSProviderAWS = "aws"
	KMSProviderHSM = "hsm"
)

// EncryptionConfig contains envelope encryption settings.
type EncryptionConfig struct {
	// Algorithm is the payload cipher.
	// Options: "AES-256-GCM", "ChaCha20-Poly1305"
	// Default: "AES-256-GCM"
	Algorithm string `yaml:"algorithm"`

	// KeyRotation is the interval between automatic key rotations.
	// Zero disables scheduled rotation.
	// Default: 24h
	KeyRotation time.Duration `yaml:"key_rotation"`

	// RequireHSM forces the hsm provider regardless of KMSProvider.
	RequireHSM bool `yaml:"require_hsm"`

	// KMSProvider selects the key-management provider.
	// Options: "aws", "hsm"
	// Default: "aws"
	KMSProvider string `yaml:"kms_provider"`

	// AWS contains AWS KMS settings, used when KMSProvider is "aws".
	AWS AWSKMSConfig `yaml:"aws"`

	// HSM contains keyring settings, used when KMSProvider is "hsm".
	HSM HSMConfig `yaml:"hsm"`
}

// AWSKMSConfig contains AWS KMS settings.
type AWSKMSConfig struct {
	// Region is the AWS region.
	Region string `yaml:"region"`

	// KeyID is the KMS key id or ARN used for wrapping data keys.
	KeyID string `yaml:"key_id"`

	// Endpoint overrides the KMS endpoint (e.g. a local KMS emulator).
	Endpoint string `yaml:"endpoint"`

	// AccessKeyID and SecretAccessKey configure static credentials.
	// When empty the default AWS credential chain is used.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// HSMConfig contains settings for the keyring-backed HSM provider.
type HSMConfig struct {
	// KeyDir is the directory holding key-encryption-key files.
	// Default: "data/keys"
	KeyDir string `yaml:"key_dir"`

	// DefaultKeyID is the key used for new envelopes.
	// Default: "nimbus-master"
	DefaultKeyID string `yaml:"default_key_id"`

	// Watch reloads the keyring when key files change.
	Watch bool `yaml:"watch"`
}

// AccessConfig contains access token settings.
type AccessConfig struct {
	// TokenTTL is the lifetime of an issued token.
	// Default: 30m
	TokenTTL time.Duration `yaml:"token_ttl"`

	// MaxConcurrentAccess is the number of concurrent streams a token allows.
	// Default: 5
	MaxConcurrentAccess int `yaml:"max_concurrent_access"`

	// MaxRequestsPerToken caps token usage for tiers without unlimited access.
	// Default: 100
	MaxRequestsPerToken int `yaml:"max_requests_per_token"`

	// RequireMFA records that token issuers authenticate with MFA.
	RequireMFA bool `yaml:"require_mfa"`

	// IPAllowlist lists CIDRs or addresses tokens may be used from.
	// Empty allows any address.
	IPAllowlist []string `yaml:"ip_allowlist"`

	// SweepInterval is how often expired tokens are evicted.
	// Default: 1m
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DeletionConfig contains secure deletion settings.
type DeletionConfig struct {
	// OverwritePasses is the number of overwrite passes before delete.
	// Default: 3
	OverwritePasses int `yaml:"overwrite_passes"`
}

// Audit levels, in increasing order of detail.
const (
	AuditLevelBasic    = "basic"
	AuditLevelEnhanced = "enhanced"
	AuditLevelForensic = "forensic"
)

// AuditLevelRank orders audit levels; unknown levels rank below basic.
func AuditLevelRank(level string) int {
	switch level {
	case AuditLevelBasic:
		return 1
	case AuditLevelEnhanced:
		return 2
	case AuditLevelForensic:
		return 3
	default:
		return 0
	}
}

// ComplianceConfig contains compliance gate settings.
type ComplianceConfig struct {
	// Frameworks lists the frameworks evaluated for every deletion.
	// Known: "HIPAA", "GDPR", "NIST-800-53", "FedRAMP-High", "DoD-8570".
	Frameworks []string `yaml:"frameworks"`

	// AuditLevel is the audit detail level.
	// Options: "basic", "enhanced", "forensic"
	// Default: "basic"
	AuditLevel string `yaml:"audit_level"`

	// Requirements lists declarative custom requirements.
	Requirements []RequirementConfig `yaml:"requirements"`
}

// Declarative requirement types.
const (
	RequirementMaxRetention   = "max_retention"
	RequirementAllowedMethods = "allowed_methods"
	RequirementMinPasses      = "min_passes"
	RequirementMinAuditLevel  = "min_audit_level"
	RequirementRequireHSM     = "require_hsm"
)

// RequirementConfig declares a custom compliance requirement.
type RequirementConfig struct {
	// Name identifies the requirement in decisions ("custom_<name>").
	Name string `yaml:"name"`

	// Type selects the check. See the Requirement* constants.
	Type string `yaml:"type"`

	// MaxRetention bounds tier retention for max_retention.
	MaxRetention time.Duration `yaml:"max_retention"`

	// Methods lists permitted deletion methods for allowed_methods.
	Methods []string `yaml:"methods"`

	// MinPasses is the minimum overwrite pass count for min_passes.
	MinPasses int `yaml:"min_passes"`

	// MinAuditLevel is the minimum audit level for min_audit_level.
	MinAuditLevel string `yaml:"min_audit_level"`
}

// Storage providers.
const (
	StorageProviderMemory = "memory"
	StorageProviderS3     = "s3"
)

// StorageConfig contains object storage settings.
type StorageConfig struct {
	// Provider selects the storage backend.
	// Options: "memory", "s3"
	// Default: "memory"
	Provider string `yaml:"provider"`

	// S3 contains S3 settings, used when Provider is "s3".
	S3 S3Config `yaml:"s3"`
}

// S3Config contains S3-compatible object storage settings.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// Queue providers.
const (
	QueueProviderMemory = "memory"
	QueueProviderSQLite = "sqlite"
)

// QueueConfig contains deletion queue settings.
type QueueConfig struct {
	// Provider selects the queue backend.
	// Options: "memory", "sqlite"
	// Default: "memory"
	Provider string `yaml:"provider"`

	// SQLite contains durable queue settings, used when Provider is "sqlite".
	SQLite QueueSQLiteConfig `yaml:"sqlite"`

	// RetryPolicy controls deletion retries.
	RetryPolicy RetryPolicyConfig `yaml:"retry_policy"`

	// PollInterval is the idle period after an empty dequeue.
	// Default: 5s
	PollInterval time.Duration `yaml:"poll_interval"`

	// ErrorBackoff is the idle period after a dequeue error.
	// Default: 10s
	ErrorBackoff time.Duration `yaml:"error_backoff"`

	// DrainTimeout bounds how long shutdown waits for in-flight jobs.
	// Default: 30s
	DrainTimeout time.Duration `yaml:"drain_timeout"`

	// VisibilityTimeout is how long a claimed job stays hidden before it is
	// redelivered.
	// Default: 5m
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`

	// Workers bounds the number of jobs processed concurrently.
	// Default: 1
	Workers int `yaml:"workers"`
}

// QueueSQLiteConfig contains settings for the durable SQLite queue.
type QueueSQLiteConfig struct {
	// Path is the database file.
	// Default: "data/queue.db"
	Path string `yaml:"path"`

	// BusyTimeout is the SQLite busy timeout.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// RetryPolicyConfig contains the deletion retry policy.
type RetryPolicyConfig struct {
	// MaxRetries is the retry budget before a job is dead-lettered. Zero
	// dead-letters on the first failure; nil takes the default.
	// Default: 3
	MaxRetries *int `yaml:"max_retries"`

	// Backoff is the base delay.
	// Default: 1s
	Backoff time.Duration `yaml:"backoff"`

	// MaxBackoff caps the delay.
	// Default: 30s
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Retries returns MaxRetries, or DefaultMaxRetries when it is unset.
func (p RetryPolicyConfig) Retries() int {
	if p.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *p.MaxRetries
}

// AuditConfig contains audit logger settings.
type AuditConfig struct {
	// FlushThreshold is the buffer size that triggers an immediate flush.
	// Default: 100
	FlushThreshold int `yaml:"flush_threshold"`

	// FlushInterval is the periodic flush interval.
	// Default: 30s
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// Evidence backends.
const (
	EvidenceBackendSQLite = "sqlite"
	EvidenceBackendMemory = "memory"
)

// EvidenceConfig contains evidence store settings.
type EvidenceConfig struct {
	// Backend selects the evidence backend.
	// Options: "sqlite", "memory"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite contains SQLite settings.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// RetentionDays is how long evidence is kept.
	// Default: 2555 (seven years)
	RetentionDays int `yaml:"retention_days"`

	// PruneSchedule is the cron expression for evidence pruning.
	// Default: "0 3 * * *"
	PruneSchedule string `yaml:"prune_schedule"`
}

// SQLiteConfig contains SQLite-specific configuration.
type SQLiteConfig struct {
	// Path is the database file.
	// Default: "data/evidence.db"
	Path string `yaml:"path"`

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int `yaml:"max_idle_conns"`

	// WALMode enables write-ahead logging.
	// Default: true
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is the SQLite busy timeout.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// EventsConfig contains lifecycle event publishing settings.
type EventsConfig struct {
	// PubSub publishes deletion outcomes to a Google Cloud Pub/Sub topic.
	PubSub PubSubConfig `yaml:"pubsub"`
}

// PubSubConfig contains Pub/Sub settings.
type PubSubConfig struct {
	Enabled   bool   `yaml:"enabled"`
	ProjectID string `yaml:"project_id"`
	TopicID   string `yaml:"topic_id"`

	// PublishTimeout bounds a single publish.
	// Default: 10s
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// ServerConfig contains the HTTP listener that serves object access to
// token holders, health probes and, when telemetry.metrics.listen_address
// is empty, metrics.
type ServerConfig struct {
	// ListenAddress is the HTTP listen address.
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout bounds reading a request.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds writing a response, including object bodies.
	// Default: 5m
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout bounds idle keep-alive connections.
	// Default: 2m
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TLS serves the access API over HTTPS.
	TLS ServerTLSConfig `yaml:"tls"`
}

// Client certificate modes for ServerTLSConfig.ClientAuth.
const (
	ClientAuthNone    = "none"
	ClientAuthRequest = "request"
	ClientAuthRequire = "require"
)

// ServerTLSConfig contains HTTPS settings for the access server.
type ServerTLSConfig struct {
	Enabled bool `yaml:"enabled"`

	// CertFile and KeyFile are PEM files. Both are required when enabled.
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// MinVersion is "1.2" or "1.3".
	// Default: "1.3"
	MinVersion string `yaml:"min_version"`

	// CipherSuites restricts TLS 1.2 suites. Empty uses Go's defaults.
	CipherSuites []string `yaml:"cipher_suites"`

	// ClientCAFile enables client certificate verification against the
	// PEM-encoded CAs it holds.
	ClientCAFile string `yaml:"client_ca_file"`

	// ClientAuth is "none", "request" or "require".
	// Default: "require" when ClientCAFile is set, otherwise "none"
	ClientAuth string `yaml:"client_auth"`

	// Reload watches CertFile and KeyFile and swaps in renewed pairs.
	Reload bool `yaml:"reload"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// Tracing samplers.
const (
	SamplerAlways = "always"
	SamplerNever  = "never"
	SamplerRatio  = "ratio"
)

// TracingConfig contains OpenTelemetry tracing configuration. Spans are
// exported over OTLP/gRPC.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP collector address.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service.name resource attribute.
	// Default: "nimbus"
	ServiceName string `yaml:"service_name"`

	// Sampler is one of "always", "never" or "ratio". Every sampler
	// follows the parent's decision when one is propagated.
	// Default: "always"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces kept by the ratio sampler.
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Insecure disables TLS to the collector.
	Insecure bool `yaml:"insecure"`

	// Timeout bounds each export.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig contains structured logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level. It also gates audit mirroring to the log.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format is the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes source file and line in log records.
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	// Enabled controls whether the metrics endpoint is served.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// ListenAddress is the metrics HTTP listen address.
	// Default: "127.0.0.1:9090"
	ListenAddress string `yaml:"listen_address"`

	// Path is the metrics HTTP path.
	// Default: "/metrics"
	Path string `yaml:"path"`
}

// DeploymentConfig identifies the running node.
type DeploymentConfig struct {
	// Environment is a free-form deployment label (e.g. "production").
	// Default: "development"
	Environment string `yaml:"environment"`

	// NodeID identifies this process in audit entries and witness hashes.
	// Default: the host name.
	NodeID string `yaml:"node_id"`

	// PublicBaseURL is used to build token access URLs.
	PublicBaseURL string `yaml:"public_base_url"`
}
