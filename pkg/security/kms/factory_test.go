package kms

import (
	"context"
	"testing"

	"mercator-hq/nimbus/pkg/config"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.EncryptionConfig
		wantName string
		wantErr  bool
	}{
		{
			name:     "hsm provider",
			cfg:      config.EncryptionConfig{KMSProvider: config.KMSProviderHSM},
			wantName: "hsm",
		},
		{
			name:     "require hsm overrides aws",
			cfg:      config.EncryptionConfig{KMSProvider: config.KMSProviderAWS, RequireHSM: true},
			wantName: "hsm",
		},
		{
			name:    "unknown provider",
			cfg:     config.EncryptionConfig{KMSProvider: "mock"},
			wantErr: true,
		},
		{
			name:    "empty provider",
			cfg:     config.EncryptionConfig{},
			wantErr: true,
		},
		{
			name:    "aws without key id",
			cfg:     config.EncryptionConfig{KMSProvider: config.KMSProviderAWS},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.HSM = config.HSMConfig{KeyDir: t.TempDir(), DefaultKeyID: "master"}

			p, err := NewProvider(context.Background(), tt.cfg)
			if tt.wantErr {
				if err == nil {
					p.Close()
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer p.Close()

			if p.Name() != tt.wantName {
				t.Errorf("expected provider %q, got %q", tt.wantName, p.Name())
			}
		})
	}
}
