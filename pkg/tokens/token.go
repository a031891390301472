package tokens

import (
	"slices"
	"time"

	"mercator-hq/nimbus/pkg/config"
)

// Permissions a token can grant.
const (
	PermissionRead      = "read"
	PermissionAnalyze   = "analyze"
	PermissionTranscode = "transcode"
	PermissionModify    = "modify"
)

// BandwidthLimit is the limit advertised for tiers with the
// restricted_bandwidth feature. BandwidthBytesPerSecond is the same limit
// as enforced when serving.
const (
	BandwidthLimit          = "10MB/s"
	BandwidthBytesPerSecond = 10 << 20
)

// Request asks for a token on one object.
type Request struct {
	ObjectID string
	Tier     string

	// Permissions defaults to read.
	Permissions []string

	// IssuerID identifies the consumer the token is issued to.
	IssuerID string
}

// Restrictions limit how a token is used.
type Restrictions struct {
	MaxConcurrentAccess int      `json:"maxConcurrentAccess,omitempty"`
	BandwidthLimit      string   `json:"bandwidthLimit,omitempty"`
	IPAllowlist         []string `json:"ipAllowlist,omitempty"`
	AccessURL           string   `json:"accessUrl"`
}

// Token is an issued access token.
type Token struct {
	Value       string    `json:"token"`
	ObjectID    string    `json:"objectId"`
	Tier        string    `json:"tier"`
	Permissions []string  `json:"permissions"`
	IssuerID    string    `json:"issuerId"`
	IssuedAt    time.Time `json:"issuedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`

	// UsageCount is the number of successful validations.
	UsageCount int `json:"usageCount"`

	// MaxRequests caps UsageCount. Zero means unlimited.
	MaxRequests int `json:"maxRequests,omitempty"`

	Restrictions Restrictions `json:"restrictions"`
}

// Allows reports whether the token grants action.
func (t *Token) Allows(action string) bool {
	return slices.Contains(t.Permissions, action)
}

func (t *Token) clone() *Token {
	c := *t
	c.Permissions = slices.Clone(t.Permissions)
	c.Restrictions.IPAllowlist = slices.Clone(t.Restrictions.IPAllowlist)
	return &c
}

// Revocation reports a revoked token.
type Revocation struct {
	// Revoked is false when the token was not registered.
	Revoked    bool      `json:"revoked"`
	Reason     string    `json:"reason"`
	UsageCount int       `json:"usageCount"`
	RevokedAt  time.Time `json:"revokedAt"`
}

var knownPermissions = []string{PermissionRead, PermissionAnalyze, PermissionTranscode, PermissionModify}

// GrantedPermissions intersects requested with the known permissions and
// what tier allows, keeping request order and dropping duplicates.
func GrantedPermissions(requested []string, tier config.TierConfig) []string {
	granted := make([]string, 0, len(requested))
	for _, p := range requested {
		if !slices.Contains(knownPermissions, p) || slices.Contains(granted, p) {
			continue
		}
		switch p {
		case PermissionModify:
			if !tier.HasFeature(config.FeatureModificationAllowed) {
				continue
			}
		case PermissionTranscode:
			if !tier.HasFeature(config.FeatureTranscodingAllowed) {
				continue
			}
		}
		granted = append(granted, p)
	}
	return granted
}
