// Package kms defines the key-management provider contract used to wrap data
// keys, and ships two providers: AWS KMS and a local HSM-style keyring.
package kms

import (
	"bytes"
	"context"
	"errors"
	"fmt"
)

// Ciphertext is data encrypted under a provider key.
type Ciphertext struct {
	// Blob is the provider-specific ciphertext.
	Blob []byte

	// KeyID identifies the key that produced Blob. It must be passed back to
	// Decrypt.
	KeyID string

	// Algorithm names the wrapping algorithm.
	Algorithm string
}

// DataKey is a freshly generated symmetric key together with its wrapped form.
type DataKey struct {
	KeyID     string
	Plaintext []byte
	Encrypted []byte
}

// Provider wraps and unwraps key material.
//
// Every key id a provider has ever returned must stay resolvable through
// Decrypt; rotation only changes the key used for new material.
type Provider interface {
	// Encrypt wraps data. An empty keyID selects the provider's current key.
	Encrypt(ctx context.Context, data []byte, keyID string) (*Ciphertext, error)

	// Decrypt unwraps a blob produced by Encrypt under keyID.
	Decrypt(ctx context.Context, blob []byte, keyID string) ([]byte, error)

	// RotateKey creates a successor of keyID, makes it current and returns its id.
	RotateKey(ctx context.Context, keyID string) (string, error)

	// GenerateDataKey returns a random 256-bit key and its wrapped form.
	GenerateDataKey(ctx context.Context) (*DataKey, error)

	// CurrentKeyID returns the key used when Encrypt is called without one.
	CurrentKeyID() string

	// Name returns the provider name ("aws", "hsm").
	Name() string

	// Close releases provider resources.
	Close() error
}

// DataKeySize is the size in bytes of generated data keys.
const DataKeySize = 32

var (
	// ErrKeyNotFound is returned when a key id cannot be resolved.
	ErrKeyNotFound = errors.New("key not found")

	// ErrProviderClosed is returned after Close.
	ErrProviderClosed = errors.New("key provider closed")

	// ErrKeyMaterialChanged is returned when a loaded key id is found with
	// different bytes. The loaded material is kept.
	ErrKeyMaterialChanged = errors.New("key material changed for loaded key id")
)

// ProviderError describes a failed provider operation.
type ProviderError struct {
	Provider string
	Op       string
	KeyID    string
	Cause    error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.KeyID != "" {
		return fmt.Sprintf("kms %s %s (key %s): %v", e.Provider, e.Op, e.KeyID, e.Cause)
	}
	return fmt.Sprintf("kms %s %s: %v", e.Provider, e.Op, e.Cause)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

func newProviderError(provider, op, keyID string, cause error) *ProviderError {
	return &ProviderError{Provider: provider, Op: op, KeyID: keyID, Cause: cause}
}

// Probe round-trips a small payload through the provider's current key.
// It is used as a readiness check.
func Probe(ctx context.Context, p Provider) error {
	payload := []byte("nimbus-kms-probe")

	ct, err := p.Encrypt(ctx, payload, "")
	if err != nil {
		return err
	}
	pt, err := p.Decrypt(ctx, ct.Blob, ct.KeyID)
	if err != nil {
		return err
	}
	if !bytes.Equal(pt, payload) {
		return fmt.Errorf("kms %s: probe round trip mismatch", p.Name())
	}
	return nil
}
