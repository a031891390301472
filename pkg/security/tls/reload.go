package tls

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reloader holds the serving key pair and, when watching, replaces it
// after the files change on disk.
type Reloader struct {
	certFile string
	keyFile  string
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.RWMutex
	cert *tls.Certificate

	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewReloader loads certFile and keyFile. With watch the containing
// directories are watched until Close.
func NewReloader(certFile, keyFile string, watch bool, logger *slog.Logger) (*Reloader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reloader{
		certFile: certFile,
		keyFile:  keyFile,
		logger:   logger.With("component", "tls"),
		now:      time.Now,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}

	if !watch {
		close(r.done)
		return r, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("tls: failed to create certificate watcher: %w", err)
	}
	dirs := map[string]bool{filepath.Dir(certFile): true, filepath.Dir(keyFile): true}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("tls: failed to watch %s: %w", dir, err)
		}
	}
	r.watcher = watcher
	go r.watchLoop()
	return r, nil
}

// Reload loads the key pair from disk. On failure the current pair is
// kept.
func (r *Reloader) Reload() error {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("tls: failed to load certificate: %w", err)
	}
	if err := ValidateCertificate(&cert, r.now()); err != nil {
		return fmt.Errorf("tls: %w", err)
	}

	r.mu.Lock()
	r.cert = &cert
	r.mu.Unlock()

	days := DaysUntilExpiry(cert.Leaf, r.now())
	attrs := []any{
		"subject", cert.Leaf.Subject.CommonName,
		"expires_at", cert.Leaf.NotAfter.Format(time.RFC3339),
		"expires_in_days", days,
	}
	if cert.Leaf.NotAfter.Sub(r.now()) < ExpiryWarning {
		r.logger.Warn("certificate expiring soon", attrs...)
	} else {
		r.logger.Info("certificate loaded", attrs...)
	}
	return nil
}

// GetCertificate implements tls.Config.GetCertificate.
func (r *Reloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert, nil
}

func (r *Reloader) watchLoop() {
	defer close(r.done)
	cert, key := filepath.Clean(r.certFile), filepath.Clean(r.keyFile)

	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Clean(event.Name)
			if name != cert && name != key {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// A renewal rewrites both files; the first event may see a
			// mismatched pair, which fails and is retried on the next.
			if err := r.Reload(); err != nil {
				r.logger.Warn("certificate reload failed, keeping current", "file", name, "error", err)
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("certificate watcher error", "error", err)

		case <-r.stopCh:
			return
		}
	}
}

// Close stops watching. It is safe to call on a nil Reloader and more
// than once.
func (r *Reloader) Close() error {
	if r == nil {
		return nil
	}
	var err error
	r.closeOnce.Do(func() {
		close(r.stopCh)
		if r.watcher != nil {
			err = r.watcher.Close()
		}
		<-r.done
	})
	return err
}
