package config

import (
	"os"
	"time"
)

// Default values for configuration fields.
const (
	// Security defaults
	DefaultAlgorithm           = AlgorithmAES256GCM
	DefaultKeyRotation         = 24 * time.Hour
	DefaultKMSProvider         = KMSProviderAWS
	DefaultHSMKeyDir           = "data/keys"
	DefaultHSMKeyID            = "nimbus-master"
	DefaultTokenTTL            = 30 * time.Minute
	DefaultMaxConcurrentAccess = 5
	DefaultMaxRequestsPerToken = 100
	DefaultTokenSweepInterval  = time.Minute
	DefaultOverwritePasses     = 3

	// Compliance defaults
	DefaultAuditLevel = AuditLevelBasic

	// Storage defaults
	DefaultStorageProvider = StorageProviderMemory
	DefaultS3Prefix        = "objects/"

	// Queue defaults
	DefaultQueueProvider          = QueueProviderMemory
	DefaultQueueSQLitePath        = "data/queue.db"
	DefaultQueueSQLiteBusyTimeout = 5 * time.Second
	DefaultMaxRetries             = 3
	DefaultBackoff                = time.Second
	DefaultMaxBackoff             = 30 * time.Second
	DefaultPollInterval           = 5 * time.Second
	DefaultErrorBackoff           = 10 * time.Second
	DefaultDrainTimeout           = 30 * time.Second
	DefaultVisibilityTimeout      = 5 * time.Minute
	DefaultWorkers                = 1

	// Audit defaults
	DefaultFlushThreshold = 100
	DefaultFlushInterval  = 30 * time.Second

	// Evidence defaults
	DefaultEvidenceBackend            = EvidenceBackendSQLite
	DefaultEvidenceSQLitePath         = "data/evidence.db"
	DefaultEvidenceSQLiteMaxOpenConns = 10
	DefaultEvidenceSQLiteMaxIdleConns = 5
	DefaultEvidenceSQLiteBusyTimeout  = 5 * time.Second
	DefaultEvidenceRetentionDays      = 2555
	DefaultEvidencePruneSchedule      = "0 3 * * *"

	// Events defaults
	DefaultPubSubPublishTimeout = 10 * time.Second

	// Server defaults
	DefaultServerAddress         = "127.0.0.1:8080"
	DefaultServerReadTimeout     = 30 * time.Second
	DefaultServerWriteTimeout    = 5 * time.Minute
	DefaultServerIdleTimeout     = 2 * time.Minute
	DefaultServerShutdownTimeout = 30 * time.Second
	DefaultServerTLSMinVersion   = "1.3"

	// Telemetry defaults
	DefaultLoggingLevel   = "info"
	DefaultLoggingFormat  = "json"
	DefaultMetricsAddress = "127.0.0.1:9090"
	DefaultMetricsPath    = "/metrics"

	// Tracing defaults
	DefaultTracingEndpoint    = "localhost:4317"
	DefaultTracingServiceName = "nimbus"
	DefaultTracingSampler     = SamplerAlways
	DefaultTracingSampleRatio = 0.1
	DefaultTracingTimeout     = 10 * time.Second

	// Deployment defaults
	DefaultEnvironment = "development"
)

// Default returns a configuration with every default applied and no tiers.
// Boolean settings that default to true are only set here, so LoadConfig
// starts from Default before decoding YAML on top of it.
func Default() *Config {
	cfg := &Config{}
	cfg.Evidence.SQLite.WALMode = true
	cfg.Telemetry.Metrics.Enabled = true
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Security defaults
	enc := &cfg.Security.Encryption
	if enc.Algorithm == "" {
		enc.Algorithm = DefaultAlgorithm
	}
	if enc.KeyRotation == 0 {
		enc.KeyRotation = DefaultKeyRotation
	}
	if enc.KMSProvider == "" {
		enc.KMSProvider = DefaultKMSProvider
	}
	if enc.HSM.KeyDir == "" {
		enc.HSM.KeyDir = DefaultHSMKeyDir
	}
	if enc.HSM.DefaultKeyID == "" {
		enc.HSM.DefaultKeyID = DefaultHSMKeyID
	}

	access := &cfg.Security.Access
	if access.TokenTTL == 0 {
		access.TokenTTL = DefaultTokenTTL
	}
	if access.MaxConcurrentAccess == 0 {
		access.MaxConcurrentAccess = DefaultMaxConcurrentAccess
	}
	if access.MaxRequestsPerToken == 0 {
		access.MaxRequestsPerToken = DefaultMaxRequestsPerToken
	}
	if access.SweepInterval == 0 {
		access.SweepInterval = DefaultTokenSweepInterval
	}
	if cfg.Security.Deletion.OverwritePasses == 0 {
		cfg.Security.Deletion.OverwritePasses = DefaultOverwritePasses
	}

	// Compliance defaults
	if cfg.Compliance.AuditLevel == "" {
		cfg.Compliance.AuditLevel = DefaultAuditLevel
	}

	// Storage defaults
	if cfg.Storage.Provider == "" {
		cfg.Storage.Provider = DefaultStorageProvider
	}
	if cfg.Storage.S3.Prefix == "" {
		cfg.Storage.S3.Prefix = DefaultS3Prefix
	}

	// Queue defaults
	q := &cfg.Queue
	if q.Provider == "" {
		q.Provider = DefaultQueueProvider
	}
	if q.SQLite.Path == "" {
		q.SQLite.Path = DefaultQueueSQLitePath
	}
	if q.SQLite.BusyTimeout == 0 {
		q.SQLite.BusyTimeout = DefaultQueueSQLiteBusyTimeout
	}
	if q.RetryPolicy.MaxRetries == nil {
		n := DefaultMaxRetries
		q.RetryPolicy.MaxRetries = &n
	}
	if q.RetryPolicy.Backoff == 0 {
		q.RetryPolicy.Backoff = DefaultBackoff
	}
	if q.RetryPolicy.MaxBackoff == 0 {
		q.RetryPolicy.MaxBackoff = DefaultMaxBackoff
	}
	if q.PollInterval == 0 {
		q.PollInterval = DefaultPollInterval
	}
	if q.ErrorBackoff == 0 {
		q.ErrorBackoff = DefaultErrorBackoff
	}
	if q.DrainTimeout == 0 {
		q.DrainTimeout = DefaultDrainTimeout
	}
	if q.VisibilityTimeout == 0 {
		q.VisibilityTimeout = DefaultVisibilityTimeout
	}
	if q.Workers == 0 {
		q.Workers = DefaultWorkers
	}

	// Audit defaults
	if cfg.Audit.FlushThreshold == 0 {
		cfg.Audit.FlushThreshold = DefaultFlushThreshold
	}
	if cfg.Audit.FlushInterval == 0 {
		cfg.Audit.FlushInterval = DefaultFlushInterval
	}

	// Evidence defaults
	ev := &cfg.Evidence
	if ev.Backend == "" {
		ev.Backend = DefaultEvidenceBackend
	}
	if ev.SQLite.Path == "" {
		ev.SQLite.Path = DefaultEvidenceSQLitePath
	}
	if ev.SQLite.MaxOpenConns == 0 {
		ev.SQLite.MaxOpenConns = DefaultEvidenceSQLiteMaxOpenConns
	}
	if ev.SQLite.MaxIdleConns == 0 {
		ev.SQLite.MaxIdleConns = DefaultEvidenceSQLiteMaxIdleConns
	}
	if ev.SQLite.BusyTimeout == 0 {
		ev.SQLite.BusyTimeout = DefaultEvidenceSQLiteBusyTimeout
	}
	if ev.RetentionDays == 0 {
		ev.RetentionDays = DefaultEvidenceRetentionDays
	}
	if ev.PruneSchedule == "" {
		ev.PruneSchedule = DefaultEvidencePruneSchedule
	}

	// Events defaults
	if cfg.Events.PubSub.PublishTimeout == 0 {
		cfg.Events.PubSub.PublishTimeout = DefaultPubSubPublishTimeout
	}

	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultServerAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultServerReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultServerWriteTimeout
	}
	if cfg.Server.TLS.MinVersion == "" {
		cfg.Server.TLS.MinVersion = DefaultServerTLSMinVersion
	}
	if cfg.Server.TLS.ClientAuth == "" {
		cfg.Server.TLS.ClientAuth = ClientAuthNone
		if cfg.Server.TLS.ClientCAFile != "" {
			cfg.Server.TLS.ClientAuth = ClientAuthRequire
		}
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultServerIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultServerShutdownTimeout
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.ListenAddress == "" {
		cfg.Telemetry.Metrics.ListenAddress = DefaultMetricsAddress
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	tr := &cfg.Telemetry.Tracing
	if tr.Endpoint == "" {
		tr.Endpoint = DefaultTracingEndpoint
	}
	if tr.ServiceName == "" {
		tr.ServiceName = DefaultTracingServiceName
	}
	if tr.Sampler == "" {
		tr.Sampler = DefaultTracingSampler
	}
	if tr.Sampler == SamplerRatio && tr.SampleRatio == 0 {
		tr.SampleRatio = DefaultTracingSampleRatio
	}
	if tr.Timeout == 0 {
		tr.Timeout = DefaultTracingTimeout
	}

	// Deployment defaults
	if cfg.Deployment.Environment == "" {
		cfg.Deployment.Environment = DefaultEnvironment
	}
	if cfg.Deployment.NodeID == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			cfg.Deployment.NodeID = host
		} else {
			cfg.Deployment.NodeID = "nimbus-node"
		}
	}
}
