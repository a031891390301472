package config

import (
	"fmt"
	"sync"
)

var (
	// globalConfig holds the process-wide configuration used by the CLI.
	globalConfig *Config

	configMutex sync.RWMutex
)

// Initialize loads configuration from the specified path with environment
// variable overrides and stores it as the global configuration.
// A failed load leaves the previous configuration in place.
func Initialize(path string) error {
	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	SetConfig(cfg)
	return nil
}

// GetConfig returns the global configuration instance.
// It returns nil if Initialize has not been called successfully.
//
// Library packages never read the global; they receive *Config explicitly.
func GetConfig() *Config {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return globalConfig
}

// SetConfig sets the global configuration instance.
func SetConfig(cfg *Config) {
	configMutex.Lock()
	defer configMutex.Unlock()
	globalConfig = cfg
}

// MustGetConfig returns the global configuration instance.
// It panics if the configuration has not been initialized.
func MustGetConfig() *Config {
	cfg := GetConfig()
	if cfg == nil {
		panic("configuration not initialized: call Initialize first")
	}
	return cfg
}
