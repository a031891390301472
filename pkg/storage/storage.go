// Package storage defines the Adapter contract for the object store holding
// retained media objects.
//
// The deletion engine only ever sees an Adapter. Two backends are provided:
// memory (physical in-place overwrite, used in tests and single-node demos)
// and s3 (object-level overwrite by rewriting the body with the pass pattern).
//
// All methods accept a context for cancellation. Implementations must be
// safe for concurrent use.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
)

// Common errors returned by Adapter implementations.
var (
	// ErrNotFound is returned when the requested object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("storage adapter closed")
)

// Metadata keys written by the service on upload.
const (
	MetaTier       = "tier"
	MetaName       = "name"
	MetaUploadedAt = "uploaded_at"
	MetaSize       = "size"
	MetaUploader   = "uploader_id"
)

// OverwriteResult reports one secure overwrite pass.
type OverwriteResult struct {
	Success      bool
	Checksum     string
	BytesWritten int64
}

// Adapter is the object storage contract.
type Adapter interface {
	// UploadObject stores data under id and returns a provider locator
	// (e.g. "s3://bucket/objects/<id>").
	UploadObject(ctx context.Context, id string, data []byte, metadata map[string]string) (string, error)

	// DownloadObject returns the object body.
	//   - ErrNotFound: object doesn't exist
	DownloadObject(ctx context.Context, id string) ([]byte, error)

	// DeleteObject removes the object. Deleting an absent object succeeds.
	DeleteObject(ctx context.Context, id string) error

	// VerifyDeletion reports whether the object is confirmed absent.
	VerifyDeletion(ctx context.Context, id string) (bool, error)

	// GetMetadata returns the object metadata, or a nil map if the object
	// is absent.
	GetMetadata(ctx context.Context, id string) (map[string]string, error)

	// SecureOverwrite overwrites the full object body with pattern, repeated
	// to the object size. pass is 1-based and used for logging only; passes
	// are safe to repeat.
	//   - ErrNotFound: object doesn't exist
	SecureOverwrite(ctx context.Context, id string, pattern []byte, pass int) (*OverwriteResult, error)

	// Provider returns the backend name ("memory", "s3").
	Provider() string

	// Close releases resources associated with the adapter.
	Close() error
}

// ObjectError wraps an error with the object id for context.
type ObjectError struct {
	Op  string
	ID  string
	Err error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("storage: %s %q: %v", e.Op, e.ID, e.Err)
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

// TransientError marks a failure that is expected to succeed on retry
// (throttling, timeouts, 5xx responses).
type TransientError struct {
	Op    string
	ID    string
	Cause error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return fmt.Sprintf("storage: transient %s failure for %q: %v", e.Op, e.ID, e.Cause)
}

// Unwrap returns the underlying error.
func (e *TransientError) Unwrap() error {
	return e.Cause
}

// NewTransientError creates a new TransientError.
func NewTransientError(op, id string, cause error) *TransientError {
	return &TransientError{Op: op, ID: id, Cause: cause}
}

// IsTransient reports whether err is, or wraps, a *TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// PatternReader returns a reader yielding pattern repeated until size bytes
// have been produced.
func PatternReader(pattern []byte, size int64) io.Reader {
	return &patternReader{pattern: pattern, remaining: size}
}

type patternReader struct {
	pattern   []byte
	off       int
	remaining int64
}

func (r *patternReader) Read(p []byte) (int, error) {
	if r.remaining <= 0 {
		return 0, io.EOF
	}
	if len(r.pattern) == 0 {
		return 0, errors.New("storage: empty overwrite pattern")
	}
	if int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}

	n := 0
	for n < len(p) {
		c := copy(p[n:], r.pattern[r.off:])
		n += c
		r.off = (r.off + c) % len(r.pattern)
	}
	r.remaining -= int64(n)
	return n, nil
}

// NewChecksum returns the hash used for overwrite checksums.
func NewChecksum() hash.Hash {
	return sha256.New()
}

// FormatChecksum renders a pass checksum: the first 16 hex characters of
// the SHA-256 over the bytes written.
func FormatChecksum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))[:16]
}
