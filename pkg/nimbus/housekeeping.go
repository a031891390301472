package nimbus

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

// housekeeping schedules the token sweep and, when
// security.encryption.key_rotation is set, key rotation.
func (s *Service) housekeeping(ctx context.Context) (*cron.Cron, error) {
	c := cron.New()

	if every := s.cfg.Security.Access.SweepInterval; every > 0 {
		if _, err := c.AddFunc(fmt.Sprintf("@every %s", every), s.sweepTokens); err != nil {
			return nil, fmt.Errorf("nimbus: token sweep schedule: %w", err)
		}
	}
	if every := s.cfg.Security.Encryption.KeyRotation; every > 0 {
		if _, err := c.AddFunc(fmt.Sprintf("@every %s", every), func() {
			if _, err := s.RotateKey(ctx); err != nil {
				s.logger.Error("scheduled key rotation failed", "error", err)
			}
		}); err != nil {
			return nil, fmt.Errorf("nimbus: key rotation schedule: %w", err)
		}
	}
	return c, nil
}

func (s *Service) sweepTokens() {
	if n := s.tokens.Sweep(s.now()); n > 0 {
		s.logger.Info("expired access tokens evicted", "count", n, "active", s.tokens.Active())
	}
}

// RotateKey rotates the provider's current key. New envelopes use the
// returned key id; existing envelopes keep decrypting.
func (s *Service) RotateKey(ctx context.Context) (string, error) {
	return s.enc.RotateKey(ctx, s.provider.CurrentKeyID())
}
