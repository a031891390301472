// Package memory provides an in-memory storage.Adapter.
//
// SecureOverwrite writes the pattern over the stored bytes in place, so a
// test can observe the final pass pattern before the object is deleted.
package memory

import (
	"bytes"
	"context"
	"io"
	"maps"
	"sync"

	"mercator-hq/nimbus/pkg/storage"
)

type object struct {
	data     []byte
	metadata map[string]string
}

// Store implements storage.Adapter in memory.
type Store struct {
	mu      sync.RWMutex
	objects map[string]*object
	closed  bool
}

// New creates an empty store.
func New() *Store {
	return &Store{objects: make(map[string]*object)}
}

// Provider returns "memory".
func (s *Store) Provider() string {
	return "memory"
}

// UploadObject stores a copy of data.
func (s *Store) UploadObject(ctx context.Context, id string, data []byte, metadata map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", storage.ErrClosed
	}

	md := maps.Clone(metadata)
	if md == nil {
		md = make(map[string]string)
	}
	s.objects[id] = &object{data: bytes.Clone(data), metadata: md}
	return "memory://" + id, nil
}

// DownloadObject returns a copy of the object body.
func (s *Store) DownloadObject(ctx context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	obj, ok := s.objects[id]
	if !ok {
		return nil, &storage.ObjectError{Op: "Download", ID: id, Err: storage.ErrNotFound}
	}
	return bytes.Clone(obj.data), nil
}

// DeleteObject removes the object.
func (s *Store) DeleteObject(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}

	if obj, ok := s.objects[id]; ok {
		clear(obj.data)
		delete(s.objects, id)
	}
	return nil
}

// VerifyDeletion reports whether id is absent.
func (s *Store) VerifyDeletion(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, storage.ErrClosed
	}

	_, ok := s.objects[id]
	return !ok, nil
}

// GetMetadata returns a copy of the object metadata, or nil if absent.
func (s *Store) GetMetadata(ctx context.Context, id string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	obj, ok := s.objects[id]
	if !ok {
		return nil, nil
	}
	return maps.Clone(obj.metadata), nil
}

// SecureOverwrite overwrites the object body in place.
func (s *Store) SecureOverwrite(ctx context.Context, id string, pattern []byte, pass int) (*storage.OverwriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	obj, ok := s.objects[id]
	if !ok {
		return nil, &storage.ObjectError{Op: "SecureOverwrite", ID: id, Err: storage.ErrNotFound}
	}

	h := storage.NewChecksum()
	r := io.TeeReader(storage.PatternReader(pattern, int64(len(obj.data))), h)
	n, err := io.ReadFull(r, obj.data)
	if err != nil && len(obj.data) > 0 {
		return nil, &storage.ObjectError{Op: "SecureOverwrite", ID: id, Err: err}
	}

	return &storage.OverwriteResult{
		Success:      true,
		Checksum:     storage.FormatChecksum(h),
		BytesWritten: int64(n),
	}, nil
}

// Len returns the number of stored objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Close marks the store closed and drops all objects.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.objects = make(map[string]*object)
	return nil
}

var _ storage.Adapter = (*Store)(nil)
