package tokens

import (
	"context"
	"encoding/base64"
	"errors"
	"net/netip"
	"slices"
	"strings"
	"testing"
	"time"

	"mercator-hq/nimbus/internal/testutil"
	"mercator-hq/nimbus/pkg/audit"
	"mercator-hq/nimbus/pkg/audit/audittest"
	"mercator-hq/nimbus/pkg/config"
)

func newTestManager(t *testing.T, tweak func(cfg *config.Config)) (*Manager, *audittest.Recorder, *testutil.Clock) {
	t.Helper()
	cfg := testutil.Config(t)
	if tweak != nil {
		tweak(cfg)
	}
	rec := &audittest.Recorder{}
	clock := testutil.NewClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	m, err := NewManager(cfg, Options{Audit: rec, Now: clock.Now})
	testutil.AssertNoError(t, err)
	return m, rec, clock
}

func TestManager_GenerateIntersectsPermissions(t *testing.T) {
	tests := []struct {
		name      string
		tier      string
		requested []string
		want      []string
	}{
		{"free drops modify", "free", []string{PermissionRead, PermissionModify}, []string{PermissionRead}},
		{"pro keeps modify", "pro", []string{PermissionRead, PermissionModify}, []string{PermissionRead, PermissionModify}},
		{"enterprise drops transcode", "enterprise", []string{PermissionTranscode, PermissionAnalyze}, []string{PermissionAnalyze}},
		{"default is read", "free", nil, []string{PermissionRead}},
		{"unknown and duplicates dropped", "pro", []string{"delete", PermissionRead, PermissionRead}, []string{PermissionRead}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := newTestManager(t, nil)
			tok, err := m.Generate(context.Background(), Request{ObjectID: "o1", Tier: tt.tier, Permissions: tt.requested})
			testutil.AssertNoError(t, err)
			if !slices.Equal(tok.Permissions, tt.want) {
				t.Errorf("Permissions = %v, want %v", tok.Permissions, tt.want)
			}
		})
	}
}

func TestManager_GenerateToken(t *testing.T) {
	m, rec, clock := newTestManager(t, nil)

	tok, err := m.Generate(context.Background(), Request{ObjectID: "o1", Tier: "free", IssuerID: "analyzer"})
	testutil.AssertNoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(tok.Value)
	if err != nil || len(raw) != 32 {
		t.Errorf("token value %q is not 32 base64url bytes", tok.Value)
	}
	if !tok.ExpiresAt.Equal(clock.Now().Add(30 * time.Minute)) {
		t.Errorf("ExpiresAt = %v", tok.ExpiresAt)
	}
	if tok.MaxRequests != 100 {
		t.Errorf("MaxRequests = %d, want 100", tok.MaxRequests)
	}
	if tok.Restrictions.BandwidthLimit != BandwidthLimit {
		t.Errorf("BandwidthLimit = %q, want %q", tok.Restrictions.BandwidthLimit, BandwidthLimit)
	}
	if want := "http://localhost:8080/api/v1/objects/o1/access?token=" + tok.Value; tok.Restrictions.AccessURL != want {
		t.Errorf("AccessURL = %q, want %q", tok.Restrictions.AccessURL, want)
	}
	if rec.Count(audit.EventTokenGenerated) != 1 {
		t.Error("TOKEN_GENERATED not written")
	}
	if m.Active() != 1 {
		t.Errorf("Active() = %d, want 1", m.Active())
	}

	ent, err := m.Generate(context.Background(), Request{ObjectID: "o2", Tier: "enterprise"})
	testutil.AssertNoError(t, err)
	if ent.MaxRequests != 0 || ent.Restrictions.BandwidthLimit != "" {
		t.Errorf("enterprise token restricted: %+v", ent)
	}
}

func TestManager_GenerateUnknownTier(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	_, err := m.Generate(context.Background(), Request{ObjectID: "o1", Tier: "platinum"})
	testutil.AssertErrorIs(t, err, config.ErrUnknownTier)
}

func TestManager_Validate(t *testing.T) {
	ctx := context.Background()
	m, rec, clock := newTestManager(t, nil)

	tok, err := m.Generate(ctx, Request{ObjectID: "o1", Tier: "free"})
	testutil.AssertNoError(t, err)

	got, err := m.Validate(ctx, tok.Value, PermissionRead)
	testutil.AssertNoError(t, err)
	if got.UsageCount != 1 {
		t.Errorf("UsageCount = %d, want 1", got.UsageCount)
	}

	entries := rec.Events(audit.EventTokenAccess)
	if len(entries) != 1 {
		t.Fatalf("TOKEN_ACCESS entries = %d, want 1", len(entries))
	}
	logged, _ := entries[0].Data["token"].(string)
	if strings.Contains(logged, tok.Value) || logged != tok.Value[:8]+"..." {
		t.Errorf("audit entry token = %q, want redacted", logged)
	}

	_, err = m.Validate(ctx, tok.Value, PermissionModify)
	testutil.AssertErrorIs(t, err, ErrPermissionDenied)

	_, err = m.Validate(ctx, "nope", PermissionRead)
	testutil.AssertErrorIs(t, err, ErrTokenNotFound)

	clock.Advance(31 * time.Minute)
	_, err = m.Validate(ctx, tok.Value, PermissionRead)
	testutil.AssertErrorIs(t, err, ErrTokenExpired)
	if m.Active() != 0 {
		t.Error("expired token not evicted")
	}
	_, err = m.Validate(ctx, tok.Value, PermissionRead)
	testutil.AssertErrorIs(t, err, ErrTokenNotFound)
}

func TestManager_UsageLimit(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, func(cfg *config.Config) {
		cfg.Security.Access.MaxRequestsPerToken = 2
	})
	tok, err := m.Generate(ctx, Request{ObjectID: "o1", Tier: "free"})
	testutil.AssertNoError(t, err)

	for range 2 {
		_, err := m.Validate(ctx, tok.Value, PermissionRead)
		testutil.AssertNoError(t, err)
	}
	_, err = m.Validate(ctx, tok.Value, PermissionRead)
	testutil.AssertErrorIs(t, err, ErrUsageLimitExceeded)

	rev, err := m.Revoke(ctx, tok.Value, "")
	testutil.AssertNoError(t, err)
	if rev.UsageCount != 2 {
		t.Errorf("UsageCount after rejected use = %d, want 2", rev.UsageCount)
	}
}

func TestManager_Revoke(t *testing.T) {
	ctx := context.Background()
	m, rec, _ := newTestManager(t, nil)
	tok, err := m.Generate(ctx, Request{ObjectID: "o1", Tier: "pro"})
	testutil.AssertNoError(t, err)
	_, _ = m.Validate(ctx, tok.Value, PermissionRead)

	rev, err := m.Revoke(ctx, tok.Value, "consumer_finished")
	testutil.AssertNoError(t, err)
	if !rev.Revoked || rev.Reason != "consumer_finished" || rev.UsageCount != 1 {
		t.Errorf("unexpected revocation %+v", rev)
	}
	if rec.Count(audit.EventTokenRevoked) != 1 {
		t.Error("TOKEN_REVOKED not written")
	}

	_, err = m.Validate(ctx, tok.Value, PermissionRead)
	testutil.AssertErrorIs(t, err, ErrTokenNotFound)

	again, err := m.Revoke(ctx, tok.Value, "")
	testutil.AssertNoError(t, err)
	if again.Revoked {
		t.Error("second revocation reported Revoked")
	}
	if rec.Count(audit.EventTokenRevoked) != 1 {
		t.Error("unknown token revocation audited")
	}
}

func TestManager_Allowlist(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, func(cfg *config.Config) {
		cfg.Security.Access.IPAllowlist = []string{"10.0.0.0/8", "192.168.1.7"}
	})
	tok, err := m.Generate(ctx, Request{ObjectID: "o1", Tier: "enterprise"})
	testutil.AssertNoError(t, err)

	tests := []struct {
		addr    string
		allowed bool
	}{
		{"10.1.2.3", true},
		{"192.168.1.7", true},
		{"::ffff:10.9.9.9", true},
		{"192.168.1.8", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			var addr netip.Addr
			if tt.addr != "" {
				addr = netip.MustParseAddr(tt.addr)
			}
			_, err := m.ValidateFrom(ctx, tok.Value, PermissionRead, addr)
			if tt.allowed {
				testutil.AssertNoError(t, err)
			} else {
				testutil.AssertErrorIs(t, err, ErrPermissionDenied)
			}
		})
	}
}

func TestManager_ValidateIgnoresAllowlist(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, func(cfg *config.Config) {
		cfg.Security.Access.IPAllowlist = []string{"10.0.0.0/8"}
	})
	tok, err := m.Generate(ctx, Request{ObjectID: "o1", Tier: "enterprise"})
	testutil.AssertNoError(t, err)

	got, err := m.Validate(ctx, tok.Value, PermissionRead)
	testutil.AssertNoError(t, err)
	if got.UsageCount != 1 {
		t.Errorf("UsageCount = %d, want 1", got.UsageCount)
	}

	_, err = m.ValidateFrom(ctx, tok.Value, PermissionRead, netip.Addr{})
	testutil.AssertErrorIs(t, err, ErrPermissionDenied)
}

func TestManager_OpenObjectMismatch(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, func(cfg *config.Config) {
		cfg.Security.Access.MaxRequestsPerToken = 1
	})
	tok, err := m.Generate(ctx, Request{ObjectID: "o1", Tier: "free"})
	testutil.AssertNoError(t, err)

	for i := 0; i < 3; i++ {
		_, _, err := m.OpenObject(ctx, tok.Value, "o2", PermissionRead, netip.Addr{})
		testutil.AssertErrorIs(t, err, ErrPermissionDenied)
	}

	got, release, err := m.OpenObject(ctx, tok.Value, "o1", PermissionRead, netip.Addr{})
	testutil.AssertNoError(t, err)
	defer release()
	if got.UsageCount != 1 {
		t.Errorf("UsageCount = %d, want 1 after rejected mismatches", got.UsageCount)
	}
}

func TestManager_OpenConcurrency(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, func(cfg *config.Config) {
		cfg.Security.Access.MaxConcurrentAccess = 1
	})
	tok, err := m.Generate(ctx, Request{ObjectID: "o1", Tier: "enterprise"})
	testutil.AssertNoError(t, err)

	_, release, err := m.Open(ctx, tok.Value, PermissionRead, netip.Addr{})
	testutil.AssertNoError(t, err)

	_, _, err = m.Open(ctx, tok.Value, PermissionRead, netip.Addr{})
	if !errors.Is(err, ErrConcurrencyLimit) {
		t.Fatalf("second Open() error = %v, want ErrConcurrencyLimit", err)
	}

	release()
	release()

	_, release2, err := m.Open(ctx, tok.Value, PermissionRead, netip.Addr{})
	testutil.AssertNoError(t, err)
	release2()
}

func TestManager_Sweep(t *testing.T) {
	ctx := context.Background()
	m, _, clock := newTestManager(t, nil)
	for _, id := range []string{"a", "b"} {
		_, err := m.Generate(ctx, Request{ObjectID: id, Tier: "free"})
		testutil.AssertNoError(t, err)
	}
	if n := m.Sweep(clock.Now()); n != 0 {
		t.Errorf("Sweep() before expiry = %d, want 0", n)
	}
	if n := m.Sweep(clock.Now().Add(time.Hour)); n != 2 {
		t.Errorf("Sweep() after expiry = %d, want 2", n)
	}
	if m.Active() != 0 {
		t.Errorf("Active() = %d after sweep", m.Active())
	}
}

func TestNewManager_InvalidAllowlist(t *testing.T) {
	cfg := testutil.Config(t)
	cfg.Security.Access.IPAllowlist = []string{"bogus"}
	_, err := NewManager(cfg, Options{})
	testutil.AssertError(t, err)
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		name string
		d    config.DeploymentConfig
		want string
	}{
		{"explicit", config.DeploymentConfig{PublicBaseURL: "https://media.example.com/"}, "https://media.example.com"},
		{"air gapped", config.DeploymentConfig{Environment: "air-gapped"}, "https://internal.nimbus.local"},
		{"development", config.DeploymentConfig{Environment: "development"}, "http://localhost:8080"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := baseURL(tt.d); got != tt.want {
				t.Errorf("baseURL() = %q, want %q", got, tt.want)
			}
		})
	}
}
