package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// envPrefix is the prefix for environment variable overrides.
const envPrefix = "NIMBUS_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML on top of the defaults without validating.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention NIMBUS_SECTION_FIELD (e.g., NIMBUS_QUEUE_PROVIDER).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Security overrides
	envString("SECURITY_ENCRYPTION_ALGORITHM", &cfg.Security.Encryption.Algorithm)
	envString("SECURITY_ENCRYPTION_KMS_PROVIDER", &cfg.Security.Encryption.KMSProvider)
	envBool("SECURITY_ENCRYPTION_REQUIRE_HSM", &cfg.Security.Encryption.RequireHSM)
	envDuration("SECURITY_ENCRYPTION_KEY_ROTATION", &cfg.Security.Encryption.KeyRotation)
	envString("SECURITY_ENCRYPTION_AWS_REGION", &cfg.Security.Encryption.AWS.Region)
	envString("SECURITY_ENCRYPTION_AWS_KEY_ID", &cfg.Security.Encryption.AWS.KeyID)
	envString("SECURITY_ENCRYPTION_AWS_ENDPOINT", &cfg.Security.Encryption.AWS.Endpoint)
	envString("SECURITY_ENCRYPTION_HSM_KEY_DIR", &cfg.Security.Encryption.HSM.KeyDir)
	envString("SECURITY_ENCRYPTION_HSM_DEFAULT_KEY_ID", &cfg.Security.Encryption.HSM.DefaultKeyID)
	envDuration("SECURITY_ACCESS_TOKEN_TTL", &cfg.Security.Access.TokenTTL)
	envInt("SECURITY_ACCESS_MAX_CONCURRENT_ACCESS", &cfg.Security.Access.MaxConcurrentAccess)
	envInt("SECURITY_ACCESS_MAX_REQUESTS_PER_TOKEN", &cfg.Security.Access.MaxRequestsPerToken)
	envBool("SECURITY_ACCESS_REQUIRE_MFA", &cfg.Security.Access.RequireMFA)
	envList("SECURITY_ACCESS_IP_ALLOWLIST", &cfg.Security.Access.IPAllowlist)
	envInt("SECURITY_DELETION_OVERWRITE_PASSES", &cfg.Security.Deletion.OverwritePasses)

	// Compliance overrides
	envList("COMPLIANCE_FRAMEWORKS", &cfg.Compliance.Frameworks)
	envString("COMPLIANCE_AUDIT_LEVEL", &cfg.Compliance.AuditLevel)

	// Storage overrides
	envString("STORAGE_PROVIDER", &cfg.Storage.Provider)
	envString("STORAGE_S3_BUCKET", &cfg.Storage.S3.Bucket)
	envString("STORAGE_S3_REGION", &cfg.Storage.S3.Region)
	envString("STORAGE_S3_ENDPOINT", &cfg.Storage.S3.Endpoint)
	envString("STORAGE_S3_PREFIX", &cfg.Storage.S3.Prefix)
	envString("STORAGE_S3_ACCESS_KEY_ID", &cfg.Storage.S3.AccessKeyID)
	envString("STORAGE_S3_SECRET_ACCESS_KEY", &cfg.Storage.S3.SecretAccessKey)
	envBool("STORAGE_S3_USE_PATH_STYLE", &cfg.Storage.S3.UsePathStyle)

	// Queue overrides
	envString("QUEUE_PROVIDER", &cfg.Queue.Provider)
	envString("QUEUE_SQLITE_PATH", &cfg.Queue.SQLite.Path)
	envIntPtr("QUEUE_RETRY_POLICY_MAX_RETRIES", &cfg.Queue.RetryPolicy.MaxRetries)
	envDuration("QUEUE_RETRY_POLICY_BACKOFF", &cfg.Queue.RetryPolicy.Backoff)
	envDuration("QUEUE_RETRY_POLICY_MAX_BACKOFF", &cfg.Queue.RetryPolicy.MaxBackoff)
	envDuration("QUEUE_POLL_INTERVAL", &cfg.Queue.PollInterval)
	envDuration("QUEUE_DRAIN_TIMEOUT", &cfg.Queue.DrainTimeout)
	envInt("QUEUE_WORKERS", &cfg.Queue.Workers)

	// Audit overrides
	envInt("AUDIT_FLUSH_THRESHOLD", &cfg.Audit.FlushThreshold)
	envDuration("AUDIT_FLUSH_INTERVAL", &cfg.Audit.FlushInterval)

	// Evidence overrides
	envString("EVIDENCE_BACKEND", &cfg.Evidence.Backend)
	envString("EVIDENCE_SQLITE_PATH", &cfg.Evidence.SQLite.Path)
	envInt("EVIDENCE_RETENTION_DAYS", &cfg.Evidence.RetentionDays)
	envString("EVIDENCE_PRUNE_SCHEDULE", &cfg.Evidence.PruneSchedule)

	// Events overrides
	envBool("EVENTS_PUBSUB_ENABLED", &cfg.Events.PubSub.Enabled)
	envString("EVENTS_PUBSUB_PROJECT_ID", &cfg.Events.PubSub.ProjectID)
	envString("EVENTS_PUBSUB_TOPIC_ID", &cfg.Events.PubSub.TopicID)

	// Server overrides
	envString("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envDuration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	envBool("SERVER_TLS_ENABLED", &cfg.Server.TLS.Enabled)
	envString("SERVER_TLS_CERT_FILE", &cfg.Server.TLS.CertFile)
	envString("SERVER_TLS_KEY_FILE", &cfg.Server.TLS.KeyFile)

	// Telemetry overrides
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("TELEMETRY_METRICS_LISTEN_ADDRESS", &cfg.Telemetry.Metrics.ListenAddress)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)

	// Deployment overrides
	envString("DEPLOYMENT_ENVIRONMENT", &cfg.Deployment.Environment)
	envString("DEPLOYMENT_NODE_ID", &cfg.Deployment.NodeID)
	envString("DEPLOYMENT_PUBLIC_BASE_URL", &cfg.Deployment.PublicBaseURL)
}

func envString(key string, dst *string) {
	if val := os.Getenv(envPrefix + key); val != "" {
		*dst = val
	}
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(envPrefix + key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envInt(key string, dst *int) {
	if val := os.Getenv(envPrefix + key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envIntPtr(key string, dst **int) {
	if val := os.Getenv(envPrefix + key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = &i
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if val := os.Getenv(envPrefix + key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

// envList parses a comma-separated list. An explicitly empty value is ignored.
func envList(key string, dst *[]string) {
	val := os.Getenv(envPrefix + key)
	if val == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}
