package kms

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestHSMProvider_CreatesDefaultKey(t *testing.T) {
	dir := t.TempDir()

	p, err := NewHSMProvider(dir, "master", false)
	if err != nil {
		t.Fatalf("failed to open keyring: %v", err)
	}
	defer p.Close()

	if p.CurrentKeyID() != "master" {
		t.Errorf("expected active key 'master', got %q", p.CurrentKeyID())
	}

	info, err := os.Stat(filepath.Join(dir, "master.key"))
	if err != nil {
		t.Fatalf("key file not created: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected key file mode 0600, got %o", info.Mode().Perm())
	}

	active, err := os.ReadFile(filepath.Join(dir, "ACTIVE"))
	if err != nil {
		t.Fatalf("ACTIVE file not written: %v", err)
	}
	if strings.TrimSpace(string(active)) != "master" {
		t.Errorf("expected ACTIVE to name 'master', got %q", active)
	}
}

func TestHSMProvider_RoundTrip(t *testing.T) {
	p, err := NewHSMProvider(t.TempDir(), "master", false)
	if err != nil {
		t.Fatalf("failed to open keyring: %v", err)
	}
	defer p.Close()

	ctx := context.Background()
	payload := []byte("data encryption key material....")

	ct, err := p.Encrypt(ctx, payload, "")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if ct.KeyID != "master" {
		t.Errorf("expected key id 'master', got %q", ct.KeyID)
	}
	if bytes.Contains(ct.Blob, payload) {
		t.Error("ciphertext contains plaintext")
	}

	pt, err := p.Decrypt(ctx, ct.Blob, ct.KeyID)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if !bytes.Equal(pt, payload) {
		t.Errorf("round trip mismatch: got %q", pt)
	}
}

func TestHSMProvider_DecryptFailures(t *testing.T) {
	p, err := NewHSMProvider(t.TempDir(), "master", false)
	if err != nil {
		t.Fatalf("failed to open keyring: %v", err)
	}
	defer p.Close()

	ctx := context.Background()
	ct, err := p.Encrypt(ctx, []byte("secret"), "")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	tampered := bytes.Clone(ct.Blob)
	tampered[len(tampered)-1] ^= 0xFF

	tests := []struct {
		name     string
		blob     []byte
		keyID    string
		notFound bool
	}{
		{"empty key id", ct.Blob, "", true},
		{"unknown key id", ct.Blob, "missing", true},
		{"tampered blob", tampered, ct.KeyID, false},
		{"truncated blob", ct.Blob[:4], ct.KeyID, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Decrypt(ctx, tt.blob, tt.keyID)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			var perr *ProviderError
			if !errors.As(err, &perr) {
				t.Errorf("expected *ProviderError, got %T", err)
			}
			if errors.Is(err, ErrKeyNotFound) != tt.notFound {
				t.Errorf("errors.Is(err, ErrKeyNotFound) = %v, want %v", !tt.notFound, tt.notFound)
			}
		})
	}
}

func TestHSMProvider_RotateKeepsOldKeys(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	p, err := NewHSMProvider(dir, "master", false)
	if err != nil {
		t.Fatalf("failed to open keyring: %v", err)
	}

	old, err := p.Encrypt(ctx, []byte("before rotation"), "")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	newID, err := p.RotateKey(ctx, "")
	if err != nil {
		t.Fatalf("rotate failed: %v", err)
	}
	if newID == "master" || !strings.HasPrefix(newID, "master.r") {
		t.Errorf("unexpected rotated key id %q", newID)
	}
	if p.CurrentKeyID() != newID {
		t.Errorf("expected active key %q, got %q", newID, p.CurrentKeyID())
	}

	// Rotating a rotated key keeps the base name.
	again, err := p.RotateKey(ctx, newID)
	if err != nil {
		t.Fatalf("second rotate failed: %v", err)
	}
	if strings.Count(again, ".r") != 1 {
		t.Errorf("expected a single rotation suffix, got %q", again)
	}

	if _, err := p.Decrypt(ctx, old.Blob, old.KeyID); err != nil {
		t.Errorf("old material not decryptable after rotation: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	// The active key survives a reopen.
	reopened, err := NewHSMProvider(dir, "master", false)
	if err != nil {
		t.Fatalf("failed to reopen keyring: %v", err)
	}
	defer reopened.Close()

	if reopened.CurrentKeyID() != again {
		t.Errorf("expected active key %q after reopen, got %q", again, reopened.CurrentKeyID())
	}
	if len(reopened.KeyIDs()) != 3 {
		t.Errorf("expected 3 keys after reopen, got %d", len(reopened.KeyIDs()))
	}
	if _, err := reopened.Decrypt(ctx, old.Blob, old.KeyID); err != nil {
		t.Errorf("old material not decryptable after reopen: %v", err)
	}
}

func TestHSMProvider_RotateUnknownKey(t *testing.T) {
	p, err := NewHSMProvider(t.TempDir(), "master", false)
	if err != nil {
		t.Fatalf("failed to open keyring: %v", err)
	}
	defer p.Close()

	if _, err := p.RotateKey(context.Background(), "missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestHSMProvider_KeyFilePermissions(t *testing.T) {
	tests := []struct {
		name       string
		perm       os.FileMode
		shouldWork bool
	}{
		{"0600 permissions", 0600, true},
		{"0400 permissions", 0400, true},
		{"0644 permissions", 0644, false},
		{"0666 permissions", 0666, false},
	}

	key := hex.EncodeToString(bytes.Repeat([]byte{0x42}, DataKeySize))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "master.key")
			if err := os.WriteFile(path, []byte(key), 0600); err != nil {
				t.Fatal(err)
			}
			if err := os.Chmod(path, tt.perm); err != nil {
				t.Fatal(err)
			}

			p, err := NewHSMProvider(dir, "master", false)
			if tt.shouldWork {
				if err != nil {
					t.Fatalf("expected keyring to open, got %v", err)
				}
				p.Close()
				return
			}
			if err == nil {
				p.Close()
				t.Error("expected error for insecure key file, got nil")
			}
		})
	}
}

func TestHSMProvider_MalformedKeyFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "master.key"), []byte("not-hex"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := NewHSMProvider(dir, "master", false); err == nil {
		t.Error("expected error for malformed key file, got nil")
	}
}

func TestHSMProvider_InvalidKeyIDs(t *testing.T) {
	tests := []string{"", "../escape", "a/b", `a\b`, "ACTIVE"}

	for _, id := range tests {
		t.Run(id, func(t *testing.T) {
			if _, err := NewHSMProvider(t.TempDir(), id, false); err == nil {
				t.Errorf("expected error for key id %q, got nil", id)
			}
		})
	}
}

func TestHSMProvider_Closed(t *testing.T) {
	p, err := NewHSMProvider(t.TempDir(), "master", false)
	if err != nil {
		t.Fatalf("failed to open keyring: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}

	if _, err := p.Encrypt(context.Background(), []byte("x"), ""); !errors.Is(err, ErrProviderClosed) {
		t.Errorf("expected ErrProviderClosed, got %v", err)
	}
}

func TestHSMProvider_GenerateDataKey(t *testing.T) {
	p, err := NewHSMProvider(t.TempDir(), "master", false)
	if err != nil {
		t.Fatalf("failed to open keyring: %v", err)
	}
	defer p.Close()

	ctx := context.Background()
	dk, err := p.GenerateDataKey(ctx)
	if err != nil {
		t.Fatalf("generate data key failed: %v", err)
	}
	if len(dk.Plaintext) != DataKeySize {
		t.Errorf("expected %d byte key, got %d", DataKeySize, len(dk.Plaintext))
	}

	unwrapped, err := p.Decrypt(ctx, dk.Encrypted, dk.KeyID)
	if err != nil {
		t.Fatalf("unwrap failed: %v", err)
	}
	if !bytes.Equal(unwrapped, dk.Plaintext) {
		t.Error("unwrapped data key does not match plaintext")
	}
}

func TestHSMProvider_WatchPicksUpNewKeys(t *testing.T) {
	dir := t.TempDir()

	p, err := NewHSMProvider(dir, "master", true)
	if err != nil {
		t.Fatalf("failed to open keyring: %v", err)
	}
	defer p.Close()

	key := hex.EncodeToString(bytes.Repeat([]byte{0x24}, DataKeySize))
	if err := os.WriteFile(filepath.Join(dir, "external.key"), []byte(key), 0600); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := p.Encrypt(context.Background(), []byte("x"), "external"); err == nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("watcher did not load the new key file")
}

func TestHSMProvider_WatchKeepsLoadedKeyMaterial(t *testing.T) {
	dir := t.TempDir()

	p, err := NewHSMProvider(dir, "master", true)
	if err != nil {
		t.Fatalf("failed to open keyring: %v", err)
	}
	defer p.Close()

	ctx := context.Background()
	ct, err := p.Encrypt(ctx, []byte("wrapped"), "master")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	other := hex.EncodeToString(bytes.Repeat([]byte{0x99}, DataKeySize))
	if err := os.WriteFile(filepath.Join(dir, "master.key"), []byte(other), 0600); err != nil {
		t.Fatal(err)
	}
	// A later file acts as a marker that the rewrite event was handled.
	if err := os.WriteFile(filepath.Join(dir, "marker.key"), []byte(other), 0600); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := p.Encrypt(ctx, []byte("x"), "marker"); err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	pt, err := p.Decrypt(ctx, ct.Blob, ct.KeyID)
	if err != nil {
		t.Fatalf("decrypt after key file rewrite failed: %v", err)
	}
	if string(pt) != "wrapped" {
		t.Errorf("decrypt = %q", pt)
	}
}

func TestHSMProvider_LoadKeyRejectsChangedMaterial(t *testing.T) {
	dir := t.TempDir()
	p, err := NewHSMProvider(dir, "master", false)
	if err != nil {
		t.Fatalf("failed to open keyring: %v", err)
	}
	defer p.Close()

	if err := p.loadKey("master"); err != nil {
		t.Errorf("reloading unchanged key: %v", err)
	}

	other := hex.EncodeToString(bytes.Repeat([]byte{0x99}, DataKeySize))
	if err := os.WriteFile(filepath.Join(dir, "master.key"), []byte(other), 0600); err != nil {
		t.Fatal(err)
	}
	if err := p.loadKey("master"); !errors.Is(err, ErrKeyMaterialChanged) {
		t.Errorf("loadKey() error = %v, want ErrKeyMaterialChanged", err)
	}
}

func TestProbe(t *testing.T) {
	p, err := NewHSMProvider(t.TempDir(), "master", false)
	if err != nil {
		t.Fatalf("failed to open keyring: %v", err)
	}
	defer p.Close()

	if err := Probe(context.Background(), p); err != nil {
		t.Errorf("probe failed: %v", err)
	}

	p.Close()
	if err := Probe(context.Background(), p); err == nil {
		t.Error("expected probe to fail on a closed provider")
	}
}
