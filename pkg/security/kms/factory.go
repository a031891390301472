package kms

import (
	"context"
	"fmt"

	"mercator-hq/nimbus/pkg/config"
)

// NewProvider creates the provider selected by configuration.
// RequireHSM forces the hsm provider. There is no in-memory fallback: an
// unknown provider name is an error.
func NewProvider(ctx context.Context, cfg config.EncryptionConfig) (Provider, error) {
	name := cfg.KMSProvider
	if cfg.RequireHSM {
		name = config.KMSProviderHSM
	}

	switch name {
	case config.KMSProviderAWS:
		return NewAWSProvider(ctx, cfg.AWS)
	case config.KMSProviderHSM:
		return NewHSMProvider(cfg.HSM.KeyDir, cfg.HSM.DefaultKeyID, cfg.HSM.Watch)
	default:
		return nil, fmt.Errorf("kms: unsupported key provider %q", name)
	}
}
