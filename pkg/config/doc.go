// Package config provides configuration management for Nimbus.
//
// This package handles loading, validating, and managing configuration from
// YAML files with environment variable overrides.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("nimbus.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("nimbus.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention NIMBUS_SECTION_FIELD.
// For example:
//
//   - NIMBUS_QUEUE_PROVIDER overrides queue.provider
//   - NIMBUS_SECURITY_ENCRYPTION_KMS_PROVIDER overrides security.encryption.kms_provider
//   - NIMBUS_COMPLIANCE_FRAMEWORKS overrides compliance.frameworks (comma separated)
//
// Tiers can only be configured in the file.
//
// # Configuration Precedence
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Example
//
//	tiers:
//	  free:
//	    retention_hours: 24
//	    max_file_size: 104857600
//	    features: [restricted_bandwidth]
//	  enterprise:
//	    retention: 720h
//	    max_file_size: 10737418240
//	    features: [priority_processing, modification_allowed, unlimited_access]
//	    frameworks: [HIPAA]
//	security:
//	  encryption:
//	    kms_provider: hsm
//	    hsm:
//	      key_dir: /var/lib/nimbus/keys
//	compliance:
//	  frameworks: [GDPR]
//	  audit_level: enhanced
package config
