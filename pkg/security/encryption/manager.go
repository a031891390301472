// Package encryption implements envelope encryption over a kms.Provider.
//
// Each call to Encrypt draws a fresh data key from the provider, seals the
// plaintext with an AEAD under that key and returns an opaque token holding
// the wrapped key, nonce, tag and ciphertext. The data key never leaves the
// call in plaintext form.
package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"mercator-hq/nimbus/pkg/config"
	"mercator-hq/nimbus/pkg/security/kms"
)

const nonceSize = 12

// Manager encrypts and decrypts envelopes.
type Manager struct {
	provider  kms.Provider
	algorithm string
	now       func() time.Time
	logger    *slog.Logger
}

// NewManager creates a Manager sealing new envelopes with algorithm.
// An empty algorithm selects AES-256-GCM.
func NewManager(provider kms.Provider, algorithm string) (*Manager, error) {
	if provider == nil {
		return nil, errors.New("encryption: key provider is required")
	}
	if algorithm == "" {
		algorithm = config.AlgorithmAES256GCM
	}
	if _, err := newAEAD(algorithm, make([]byte, kms.DataKeySize)); err != nil {
		return nil, err
	}

	return &Manager{
		provider:  provider,
		algorithm: algorithm,
		now:       time.Now,
		logger:    slog.Default().With("component", "encryption"),
	}, nil
}

// Algorithm returns the algorithm used for new envelopes.
func (m *Manager) Algorithm() string {
	return m.algorithm
}

// Provider returns the underlying key provider.
func (m *Manager) Provider() kms.Provider {
	return m.provider
}

// Encrypt seals plaintext and returns the envelope token.
func (m *Manager) Encrypt(ctx context.Context, plaintext []byte) (string, error) {
	dk, err := m.provider.GenerateDataKey(ctx)
	if err != nil {
		return "", NewEncryptionError(fmt.Errorf("data key: %w", err))
	}
	defer clear(dk.Plaintext)

	aead, err := newAEAD(m.algorithm, dk.Plaintext)
	if err != nil {
		return "", NewEncryptionError(err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", NewEncryptionError(fmt.Errorf("nonce: %w", err))
	}

	env := &Envelope{
		Version:      EnvelopeVersion,
		Algorithm:    m.algorithm,
		KeyID:        dk.KeyID,
		EncryptedKey: base64.StdEncoding.EncodeToString(dk.Encrypted),
		IV:           base64.StdEncoding.EncodeToString(nonce),
		Timestamp:    m.now().UTC().Format(time.RFC3339Nano),
	}

	sealed := aead.Seal(nil, nonce, plaintext, env.additionalData())
	split := len(sealed) - aead.Overhead()
	env.Ciphertext = base64.StdEncoding.EncodeToString(sealed[:split])
	env.AuthTag = base64.StdEncoding.EncodeToString(sealed[split:])

	token, err := env.Encode()
	if err != nil {
		return "", NewEncryptionError(err)
	}
	return token, nil
}

// Decrypt opens an envelope token. Any failure returns a *DecryptionError.
func (m *Manager) Decrypt(ctx context.Context, token string) ([]byte, error) {
	env, err := ParseEnvelope(token)
	if err != nil {
		return nil, NewDecryptionError("malformed envelope", err)
	}
	if env.Version != EnvelopeVersion {
		return nil, NewDecryptionError(fmt.Sprintf("unsupported envelope version %q", env.Version), nil)
	}

	fields, err := env.decodeFields()
	if err != nil {
		return nil, NewDecryptionError("malformed envelope", err)
	}
	if len(fields.iv) != nonceSize {
		return nil, NewDecryptionError("invalid nonce length", nil)
	}

	// Validate the algorithm before asking the provider to unwrap anything.
	if _, err := newAEAD(env.Algorithm, make([]byte, kms.DataKeySize)); err != nil {
		return nil, NewDecryptionError("unsupported algorithm", err)
	}

	key, err := m.provider.Decrypt(ctx, fields.encryptedKey, env.KeyID)
	if err != nil {
		return nil, NewDecryptionError("data key unwrap", err)
	}
	defer clear(key)

	aead, err := newAEAD(env.Algorithm, key)
	if err != nil {
		return nil, NewDecryptionError("data key", err)
	}
	if len(fields.authTag) != aead.Overhead() {
		return nil, NewDecryptionError("invalid auth tag length", nil)
	}

	sealed := make([]byte, 0, len(fields.ciphertext)+len(fields.authTag))
	sealed = append(sealed, fields.ciphertext...)
	sealed = append(sealed, fields.authTag...)

	plain, err := aead.Open(nil, fields.iv, sealed, env.additionalData())
	if err != nil {
		return nil, NewDecryptionError("authentication failed", err)
	}
	return plain, nil
}

// RotateKey rotates keyID at the provider and returns the new key id.
// Existing envelopes keep decrypting under the key ids they embed.
func (m *Manager) RotateKey(ctx context.Context, keyID string) (string, error) {
	newID, err := m.provider.RotateKey(ctx, keyID)
	if err != nil {
		return "", err
	}
	m.logger.Info("key rotated", "provider", m.provider.Name(), "previous", keyID, "active", newID)
	return newID, nil
}

func newAEAD(algorithm string, key []byte) (cipher.AEAD, error) {
	switch algorithm {
	case config.AlgorithmAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case config.AlgorithmChaCha20Poly1305:
		return chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("encryption: unsupported algorithm %q", algorithm)
	}
}
