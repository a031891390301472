package kms

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

const (
	keyFileSuffix  = ".key"
	activeKeyFile  = "ACTIVE"
	hsmWrapAlgo    = "AES-256-GCM-KW"
	hsmProviderID  = "hsm"
	keyFileMode    = 0600
	keyringDirMode = 0700
)

// HSMProvider wraps data keys with key-encryption keys (KEKs) held in a
// keyring directory, one hex-encoded 256-bit key per "<keyId>.key" file.
//
// Key files must have 0600 or 0400 permissions. The ACTIVE file records the
// key id used for new material and survives restarts. With watching enabled,
// key files added or replaced on disk are picked up without a restart.
type HSMProvider struct {
	dir string

	mu      sync.RWMutex
	keys    map[string][]byte
	current string
	closed  bool

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	logger  *slog.Logger
}

// NewHSMProvider opens the keyring at dir. The directory is created if it
// does not exist, and defaultKeyID is generated if the keyring is empty.
func NewHSMProvider(dir, defaultKeyID string, watch bool) (*HSMProvider, error) {
	if err := validKeyID(defaultKeyID); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, keyringDirMode); err != nil {
		return nil, fmt.Errorf("failed to create keyring directory: %w", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat keyring directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("keyring path is not a directory: %s", dir)
	}

	p := &HSMProvider{
		dir:    dir,
		keys:   make(map[string][]byte),
		stopCh: make(chan struct{}),
		logger: slog.Default().With("component", "kms.hsm"),
	}

	if err := p.loadAll(); err != nil {
		return nil, err
	}

	p.current = p.readActive()
	if p.current == "" {
		p.current = defaultKeyID
	}
	if _, ok := p.keys[p.current]; !ok {
		if err := p.createKey(p.current); err != nil {
			return nil, err
		}
		if err := p.writeActive(p.current); err != nil {
			return nil, err
		}
	}

	if watch {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to create keyring watcher: %w", err)
		}
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("failed to watch keyring directory: %w", err)
		}
		p.watcher = watcher
		go p.watchLoop()
	}

	p.logger.Info("keyring opened", "path", dir, "keys", len(p.keys), "active", p.current, "watch", watch)
	return p, nil
}

// Name returns the provider name.
func (p *HSMProvider) Name() string {
	return hsmProviderID
}

// CurrentKeyID returns the active key id.
func (p *HSMProvider) CurrentKeyID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Encrypt wraps data with the KEK named by keyID, or the active KEK.
// The blob is nonce || sealed, with the key id bound as additional data.
func (p *HSMProvider) Encrypt(ctx context.Context, data []byte, keyID string) (*Ciphertext, error) {
	kek, keyID, err := p.kek(keyID)
	if err != nil {
		return nil, newProviderError(hsmProviderID, "encrypt", keyID, err)
	}
	defer clear(kek)

	aead, err := newGCM(kek)
	if err != nil {
		return nil, newProviderError(hsmProviderID, "encrypt", keyID, err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, newProviderError(hsmProviderID, "encrypt", keyID, err)
	}

	blob := aead.Seal(nonce, nonce, data, []byte(keyID))
	return &Ciphertext{Blob: blob, KeyID: keyID, Algorithm: hsmWrapAlgo}, nil
}

// Decrypt unwraps a blob produced by Encrypt.
func (p *HSMProvider) Decrypt(ctx context.Context, blob []byte, keyID string) ([]byte, error) {
	if keyID == "" {
		return nil, newProviderError(hsmProviderID, "decrypt", keyID, ErrKeyNotFound)
	}
	kek, _, err := p.kek(keyID)
	if err != nil {
		return nil, newProviderError(hsmProviderID, "decrypt", keyID, err)
	}
	defer clear(kek)

	aead, err := newGCM(kek)
	if err != nil {
		return nil, newProviderError(hsmProviderID, "decrypt", keyID, err)
	}
	if len(blob) < aead.NonceSize()+aead.Overhead() {
		return nil, newProviderError(hsmProviderID, "decrypt", keyID, errors.New("ciphertext too short"))
	}

	nonce, sealed := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, []byte(keyID))
	if err != nil {
		return nil, newProviderError(hsmProviderID, "decrypt", keyID, err)
	}
	return plain, nil
}

// RotateKey creates a new KEK derived in name from keyID and makes it
// active. The previous key file is kept so existing material stays readable.
func (p *HSMProvider) RotateKey(ctx context.Context, keyID string) (string, error) {
	if keyID == "" {
		keyID = p.CurrentKeyID()
	}
	if _, _, err := p.kek(keyID); err != nil {
		return "", newProviderError(hsmProviderID, "rotate", keyID, err)
	}

	newID := rotatedKeyID(keyID)
	if err := p.createKey(newID); err != nil {
		return "", newProviderError(hsmProviderID, "rotate", keyID, err)
	}
	if err := p.writeActive(newID); err != nil {
		return "", newProviderError(hsmProviderID, "rotate", keyID, err)
	}

	p.mu.Lock()
	p.current = newID
	p.mu.Unlock()

	p.logger.Info("key rotated", "previous", keyID, "active", newID)
	return newID, nil
}

// GenerateDataKey returns a random data key wrapped with the active KEK.
func (p *HSMProvider) GenerateDataKey(ctx context.Context) (*DataKey, error) {
	plain := make([]byte, DataKeySize)
	if _, err := io.ReadFull(rand.Reader, plain); err != nil {
		return nil, newProviderError(hsmProviderID, "generate data key", "", err)
	}

	ct, err := p.Encrypt(ctx, plain, "")
	if err != nil {
		return nil, err
	}
	return &DataKey{KeyID: ct.KeyID, Plaintext: plain, Encrypted: ct.Blob}, nil
}

// KeyIDs returns the ids of every loaded key.
func (p *HSMProvider) KeyIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]string, 0, len(p.keys))
	for id := range p.keys {
		ids = append(ids, id)
	}
	return ids
}

// Close stops the watcher and wipes key material from memory.
func (p *HSMProvider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for id, k := range p.keys {
		clear(k)
		delete(p.keys, id)
	}
	p.mu.Unlock()

	if p.watcher != nil {
		close(p.stopCh)
		return p.watcher.Close()
	}
	return nil
}

func (p *HSMProvider) kek(keyID string) ([]byte, string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, keyID, ErrProviderClosed
	}
	if keyID == "" {
		keyID = p.current
	}
	k, ok := p.keys[keyID]
	if !ok {
		return nil, keyID, ErrKeyNotFound
	}
	return bytes.Clone(k), keyID, nil
}

func (p *HSMProvider) loadAll() error {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return fmt.Errorf("failed to read keyring directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), keyFileSuffix) {
			continue
		}
		if err := p.loadKey(strings.TrimSuffix(entry.Name(), keyFileSuffix)); err != nil {
			return err
		}
	}
	return nil
}

// loadKey reads and validates one key file.
func (p *HSMProvider) loadKey(keyID string) error {
	path, err := p.keyPath(keyID)
	if err != nil {
		return err
	}

	info, err := os.Lstat(path)
	if err != nil {
		return fmt.Errorf("failed to stat key file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("key path is not a regular file: %s", keyID)
	}
	if mode := info.Mode().Perm(); mode != 0600 && mode != 0400 {
		return fmt.Errorf("insecure permissions on %s: %o (expected 0600 or 0400)", path, mode)
	}

	// #nosec G304 - path is confined to the keyring directory by keyPath
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil || len(key) != DataKeySize {
		return fmt.Errorf("key file %s must hold %d hex-encoded bytes", keyID, DataKeySize)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if loaded, ok := p.keys[keyID]; ok {
		if !bytes.Equal(loaded, key) {
			return fmt.Errorf("%w: %s", ErrKeyMaterialChanged, keyID)
		}
		return nil
	}
	p.keys[keyID] = key
	return nil
}

func (p *HSMProvider) createKey(keyID string) error {
	path, err := p.keyPath(keyID)
	if err != nil {
		return err
	}

	key := make([]byte, DataKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, keyFileMode)
	if err != nil {
		return fmt.Errorf("failed to create key file: %w", err)
	}
	_, werr := f.WriteString(hex.EncodeToString(key) + "\n")
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("failed to write key file: %w", werr)
	}
	if cerr != nil {
		return fmt.Errorf("failed to write key file: %w", cerr)
	}

	p.mu.Lock()
	p.keys[keyID] = key
	p.mu.Unlock()
	return nil
}

func (p *HSMProvider) readActive() string {
	// #nosec G304 - fixed file name inside the keyring directory
	data, err := os.ReadFile(filepath.Join(p.dir, activeKeyFile))
	if err != nil {
		return ""
	}
	id := strings.TrimSpace(string(data))
	if validKeyID(id) != nil {
		return ""
	}
	return id
}

func (p *HSMProvider) writeActive(keyID string) error {
	tmp := filepath.Join(p.dir, activeKeyFile+".tmp")
	if err := os.WriteFile(tmp, []byte(keyID+"\n"), keyFileMode); err != nil {
		return fmt.Errorf("failed to write active key: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(p.dir, activeKeyFile)); err != nil {
		return fmt.Errorf("failed to write active key: %w", err)
	}
	return nil
}

// keyPath resolves the file for keyID and rejects directory traversal.
func (p *HSMProvider) keyPath(keyID string) (string, error) {
	if err := validKeyID(keyID); err != nil {
		return "", err
	}

	absBase, err := filepath.Abs(p.dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve keyring path: %w", err)
	}
	absPath, err := filepath.Abs(filepath.Join(p.dir, keyID+keyFileSuffix))
	if err != nil {
		return "", fmt.Errorf("failed to resolve key path: %w", err)
	}
	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid key path: directory traversal detected")
	}
	return absPath, nil
}

func (p *HSMProvider) watchLoop() {
	for {
		select {
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(event.Name)
			if !strings.HasSuffix(name, keyFileSuffix) {
				continue
			}
			keyID := strings.TrimSuffix(name, keyFileSuffix)

			// Removed or rewritten files keep their loaded bytes so envelopes
			// they wrapped remain readable until restart.
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := p.loadKey(keyID); err != nil {
					if errors.Is(err, ErrKeyMaterialChanged) {
						p.logger.Error("key file rewritten, keeping loaded key", "key_id", keyID)
						continue
					}
					p.logger.Error("failed to reload key", "key_id", keyID, "error", err)
					continue
				}
				p.logger.Debug("key reloaded", "key_id", keyID, "op", event.Op.String())
			}

		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("keyring watcher error", "error", err)

		case <-p.stopCh:
			return
		}
	}
}

func validKeyID(keyID string) error {
	if keyID == "" {
		return errors.New("key id is required")
	}
	if strings.ContainsAny(keyID, `/\`) || strings.Contains(keyID, "..") || keyID == activeKeyFile {
		return fmt.Errorf("invalid key id %q", keyID)
	}
	return nil
}

// rotatedKeyID strips any previous rotation suffix and appends a new one.
func rotatedKeyID(keyID string) string {
	base := keyID
	if i := strings.LastIndex(keyID, ".r"); i > 0 {
		base = keyID[:i]
	}
	return base + ".r" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
