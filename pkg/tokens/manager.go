package tokens

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"mercator-hq/nimbus/pkg/audit"
	"mercator-hq/nimbus/pkg/config"
	"mercator-hq/nimbus/pkg/telemetry/logging"
	"mercator-hq/nimbus/pkg/telemetry/metrics"
)

const tokenBytes = 32

// Validation results used as metric labels.
const (
	resultOK          = "ok"
	resultNotFound    = "not_found"
	resultExpired     = "expired"
	resultDenied      = "denied"
	resultLimit       = "limit"
	resultConcurrency = "concurrency"
)

// Options configures optional Manager dependencies.
type Options struct {
	Audit   audit.Writer
	Metrics *metrics.Collector
	Logger  *slog.Logger

	// Now returns the current time. Default: time.Now
	Now func() time.Time
}

type entry struct {
	token *Token
	open  int
}

// Manager issues and validates tokens.
type Manager struct {
	cfg       *config.Config
	allowlist []netip.Prefix
	baseURL   string
	audit     audit.Writer
	metrics   *metrics.Collector
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	tokens map[string]*entry
}

// NewManager creates a Manager.
func NewManager(cfg *config.Config, opts Options) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("tokens: config is required")
	}
	allowlist, err := parseAllowlist(cfg.Security.Access.IPAllowlist)
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Manager{
		cfg:       cfg,
		allowlist: allowlist,
		baseURL:   baseURL(cfg.Deployment),
		audit:     opts.Audit,
		metrics:   opts.Metrics,
		logger:    opts.Logger.With("component", "tokens"),
		now:       opts.Now,
		tokens:    make(map[string]*entry),
	}, nil
}

func parseAllowlist(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		if p, err := netip.ParsePrefix(e); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("tokens: invalid allowlist entry %q", e)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func baseURL(d config.DeploymentConfig) string {
	switch {
	case d.PublicBaseURL != "":
		return strings.TrimRight(d.PublicBaseURL, "/")
	case d.Environment == "air-gapped":
		return "https://internal.nimbus.local"
	default:
		return "http://localhost:8080"
	}
}

// AccessURL returns the URL a consumer uses to read objectID with value.
func (m *Manager) AccessURL(objectID, value string) string {
	return fmt.Sprintf("%s/api/v1/objects/%s/access?token=%s", m.baseURL, url.PathEscape(objectID), url.QueryEscape(value))
}

func (m *Manager) write(event string, data map[string]any, level audit.Level) {
	if m.audit != nil {
		m.audit.Write(event, data, level)
	}
}

// Generate issues a token.
func (m *Manager) Generate(ctx context.Context, req Request) (*Token, error) {
	tier, ok := m.cfg.Tier(req.Tier)
	if !ok {
		return nil, config.NewUnknownTierError(req.Tier)
	}
	if req.ObjectID == "" {
		return nil, errors.New("tokens: object id is required")
	}

	requested := req.Permissions
	if len(requested) == 0 {
		requested = []string{PermissionRead}
	}

	value, err := newValue()
	if err != nil {
		return nil, err
	}

	access := m.cfg.Security.Access
	now := m.now()
	tok := &Token{
		Value:       value,
		ObjectID:    req.ObjectID,
		Tier:        req.Tier,
		Permissions: GrantedPermissions(requested, tier),
		IssuerID:    req.IssuerID,
		IssuedAt:    now,
		ExpiresAt:   now.Add(access.TokenTTL),
		Restrictions: Restrictions{
			MaxConcurrentAccess: access.MaxConcurrentAccess,
			IPAllowlist:         slices.Clone(access.IPAllowlist),
			AccessURL:           m.AccessURL(req.ObjectID, value),
		},
	}
	if !tier.HasFeature(config.FeatureUnlimitedAccess) {
		tok.MaxRequests = access.MaxRequestsPerToken
	}
	if tier.HasFeature(config.FeatureRestrictedBandwidth) {
		tok.Restrictions.BandwidthLimit = BandwidthLimit
	}

	m.mu.Lock()
	m.tokens[value] = &entry{token: tok}
	active := len(m.tokens)
	m.mu.Unlock()

	m.metrics.RecordTokenIssued(req.Tier)
	m.metrics.SetActiveTokens(active)
	m.write(audit.EventTokenGenerated, map[string]any{
		"objectId":             tok.ObjectID,
		"tier":                 tok.Tier,
		"issuerId":             tok.IssuerID,
		"permissions":          tok.Permissions,
		"expiresAt":            tok.ExpiresAt.UTC().Format(time.RFC3339Nano),
		"complianceFrameworks": m.cfg.Compliance.Frameworks,
	}, audit.LevelInfo)

	return tok.clone(), nil
}

func newValue() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("tokens: failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Validate authorizes one use of value for action and counts it. It has
// no caller address, so security.access.ip_allowlist is not applied; use
// ValidateFrom when serving a network client.
func (m *Manager) Validate(ctx context.Context, value, action string) (*Token, error) {
	return m.use(value, action, access{})
}

// ValidateFrom is Validate with the caller's address checked against
// security.access.ip_allowlist. An invalid addr fails when an allowlist
// is configured.
func (m *Manager) ValidateFrom(ctx context.Context, value, action string, addr netip.Addr) (*Token, error) {
	return m.use(value, action, access{addr: &addr})
}

// Open is ValidateFrom that also holds one of the token's concurrent
// access slots until release is called.
func (m *Manager) Open(ctx context.Context, value, action string, addr netip.Addr) (tok *Token, release func(), err error) {
	return m.OpenObject(ctx, value, "", action, addr)
}

// OpenObject is Open for a token that must have been issued for
// objectID. A mismatch is rejected before the use is counted. An empty
// objectID matches any object.
func (m *Manager) OpenObject(ctx context.Context, value, objectID, action string, addr netip.Addr) (tok *Token, release func(), err error) {
	tok, err = m.use(value, action, access{addr: &addr, objectID: objectID, open: true})
	if err != nil {
		return nil, nil, err
	}

	var once sync.Once
	release = func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if e, ok := m.tokens[value]; ok && e.open > 0 {
				e.open--
			}
		})
	}
	return tok, release, nil
}

// access describes the caller of one use.
type access struct {
	// addr is nil when the caller has no network address; the allowlist
	// is then skipped.
	addr     *netip.Addr
	objectID string
	open     bool
}

// use checks and counts one use.
func (m *Manager) use(value, action string, a access) (*Token, error) {
	now := m.now()

	m.mu.Lock()
	e, ok := m.tokens[value]
	if !ok {
		m.mu.Unlock()
		return nil, m.reject(resultNotFound, ErrTokenNotFound, value, action)
	}
	tok := e.token
	if now.After(tok.ExpiresAt) {
		delete(m.tokens, value)
		active := len(m.tokens)
		m.mu.Unlock()
		m.metrics.SetActiveTokens(active)
		return nil, m.reject(resultExpired, ErrTokenExpired, value, action)
	}
	if a.objectID != "" && a.objectID != tok.ObjectID {
		m.mu.Unlock()
		return nil, m.reject(resultDenied, fmt.Errorf("%w: token not issued for %s", ErrPermissionDenied, a.objectID), value, action)
	}
	if !tok.Allows(action) {
		m.mu.Unlock()
		return nil, m.reject(resultDenied, fmt.Errorf("%w: %s", ErrPermissionDenied, action), value, action)
	}
	if a.addr != nil && len(m.allowlist) > 0 && !m.allowed(*a.addr) {
		m.mu.Unlock()
		return nil, m.reject(resultDenied, fmt.Errorf("%w: address %s not allowed", ErrPermissionDenied, *a.addr), value, action)
	}
	if tok.MaxRequests > 0 && tok.UsageCount >= tok.MaxRequests {
		m.mu.Unlock()
		return nil, m.reject(resultLimit, ErrUsageLimitExceeded, value, action)
	}
	if a.open {
		if limit := tok.Restrictions.MaxConcurrentAccess; limit > 0 && e.open >= limit {
			m.mu.Unlock()
			return nil, m.reject(resultConcurrency, ErrConcurrencyLimit, value, action)
		}
		e.open++
	}
	tok.UsageCount++
	snapshot := tok.clone()
	m.mu.Unlock()

	m.metrics.RecordTokenValidation(resultOK)
	m.write(audit.EventTokenAccess, map[string]any{
		"token":        logging.RedactToken(value),
		"objectId":     snapshot.ObjectID,
		"action":       action,
		"issuerId":     snapshot.IssuerID,
		"requestCount": snapshot.UsageCount,
	}, audit.LevelInfo)
	return snapshot, nil
}

func (m *Manager) allowed(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	for _, p := range m.allowlist {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func (m *Manager) reject(result string, err error, value, action string) error {
	m.metrics.RecordTokenValidation(result)
	m.logger.Debug("token rejected", "token", logging.RedactToken(value), "action", action, "result", result)
	return err
}

// Revoke removes a token. Revoking an unknown token is not an error; the
// result reports Revoked false.
func (m *Manager) Revoke(ctx context.Context, value, reason string) (*Revocation, error) {
	if reason == "" {
		reason = "manual_revocation"
	}
	now := m.now()

	m.mu.Lock()
	e, ok := m.tokens[value]
	delete(m.tokens, value)
	active := len(m.tokens)
	m.mu.Unlock()

	rev := &Revocation{Revoked: ok, Reason: reason, RevokedAt: now}
	if !ok {
		return rev, nil
	}
	rev.UsageCount = e.token.UsageCount

	m.metrics.SetActiveTokens(active)
	m.write(audit.EventTokenRevoked, map[string]any{
		"objectId":   e.token.ObjectID,
		"issuerId":   e.token.IssuerID,
		"reason":     reason,
		"revokedAt":  now.UTC().Format(time.RFC3339Nano),
		"usageCount": rev.UsageCount,
	}, audit.LevelInfo)
	return rev, nil
}

// Active returns the number of registered tokens, including expired
// tokens not yet evicted.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

// Sweep evicts tokens expired at now and returns how many were removed.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	removed := 0
	for value, e := range m.tokens {
		if now.After(e.token.ExpiresAt) {
			delete(m.tokens, value)
			removed++
		}
	}
	active := len(m.tokens)
	m.mu.Unlock()

	m.metrics.SetActiveTokens(active)
	if removed > 0 {
		m.logger.Debug("expired tokens evicted", "removed", removed, "active", active)
	}
	return removed
}
