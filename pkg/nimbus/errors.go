package nimbus

import (
	"errors"
	"fmt"
)

var (
	// ErrObjectTooLarge is returned by Upload when the object exceeds the
	// tier's max_file_size.
	ErrObjectTooLarge = errors.New("object exceeds tier size limit")

	// ErrObjectNotFound is returned when an operation names an object the
	// store does not hold.
	ErrObjectNotFound = errors.New("object not found")

	// ErrTooManyUploads is returned by Upload when the uploader already has
	// the tier's concurrent_uploads uploads in flight.
	ErrTooManyUploads = errors.New("too many concurrent uploads")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("service already started")
)

// SizeError reports an oversized upload. It matches ErrObjectTooLarge.
type SizeError struct {
	Tier  string
	Size  int64
	Limit int64
}

// Error implements the error interface.
func (e *SizeError) Error() string {
	return fmt.Sprintf("object of %d bytes exceeds %d byte limit of tier %q", e.Size, e.Limit, e.Tier)
}

// Is reports whether target is ErrObjectTooLarge.
func (e *SizeError) Is(target error) bool {
	return target == ErrObjectTooLarge
}
