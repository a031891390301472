// Package testutil holds helpers shared by package tests.
package testutil

import (
	"errors"
	"sync"
	"testing"
	"time"

	"mercator-hq/nimbus/pkg/config"
	"mercator-hq/nimbus/pkg/security/kms"
)

// Clock is a manually advanced clock. Its Now method can be injected
// wherever a component takes a func() time.Time.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock set to start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Keyring opens an HSM keyring in a temporary directory. It is closed when
// the test ends.
func Keyring(t *testing.T) *kms.HSMProvider {
	t.Helper()
	p, err := kms.NewHSMProvider(t.TempDir(), "test-master", false)
	if err != nil {
		t.Fatalf("failed to open test keyring: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// Config returns a validated configuration with a "free" tier (120s
// retention), a "pro" tier (1h, modification and transcoding allowed) and
// an "enterprise" tier (24h, unlimited access, immediate post-signal
// deletion). Tests tweak the returned value as needed.
func Config(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Tiers = map[string]config.TierConfig{
		"free": {
			Retention:   120 * time.Second,
			MaxFileSize: 1 << 20,
			Features:    []string{config.FeatureRestrictedBandwidth},
		},
		"pro": {
			Retention:   time.Hour,
			MaxFileSize: 10 << 20,
			Features:    []string{config.FeatureModificationAllowed, config.FeatureTranscodingAllowed, config.FeaturePriorityProcessing},
		},
		"enterprise": {
			Retention:   24 * time.Hour,
			MaxFileSize: 100 << 20,
			Features:    []string{config.FeatureUnlimitedAccess, config.FeatureImmediatePostSignalDeletion, config.FeatureModificationAllowed},
		},
	}
	cfg.Security.Encryption.KMSProvider = config.KMSProviderHSM
	cfg.Security.Encryption.HSM.KeyDir = t.TempDir()
	cfg.Evidence.Backend = config.EvidenceBackendMemory

	if err := config.Validate(cfg); err != nil {
		t.Fatalf("test config is invalid: %v", err)
	}
	return cfg
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertErrorIs fails the test unless errors.Is(err, target).
func AssertErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected error %v, got %v", target, err)
	}
}
