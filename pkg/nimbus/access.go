package nimbus

import (
	"context"

	"mercator-hq/nimbus/pkg/tokens"
)

// GenerateAccessToken issues a token on a stored object. The object's
// tier decides which of the requested permissions are granted.
func (s *Service) GenerateAccessToken(ctx context.Context, objectID string, permissions []string, issuerID string) (*tokens.Token, error) {
	tier, err := s.tierOf(ctx, objectID)
	if err != nil {
		return nil, err
	}
	return s.tokens.Generate(ctx, tokens.Request{
		ObjectID:    objectID,
		Tier:        tier,
		Permissions: permissions,
		IssuerID:    issuerID,
	})
}

// ValidateAccess authorizes one use of a token for action.
func (s *Service) ValidateAccess(ctx context.Context, token, action string) (*tokens.Token, error) {
	return s.tokens.Validate(ctx, token, action)
}

// RevokeToken revokes a token.
func (s *Service) RevokeToken(ctx context.Context, token, reason string) (*tokens.Revocation, error) {
	return s.tokens.Revoke(ctx, token, reason)
}
