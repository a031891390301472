package deletion

import (
	"errors"
	"fmt"
)

// ErrInFlight is returned by Engine.Execute when the object is already
// being deleted in this process.
var ErrInFlight = errors.New("deletion already in progress")

// PassError reports a failed overwrite pass.
type PassError struct {
	ObjectID string
	Pass     int
	Pattern  string
	Cause    error
}

// Error implements the error interface.
func (e *PassError) Error() string {
	return fmt.Sprintf("overwrite pass %d (%s) of %s failed: %v", e.Pass, e.Pattern, e.ObjectID, e.Cause)
}

// Unwrap returns the underlying error.
func (e *PassError) Unwrap() error {
	return e.Cause
}

// NewPassError creates a new PassError.
func NewPassError(objectID string, pass int, pattern string, cause error) *PassError {
	return &PassError{ObjectID: objectID, Pass: pass, Pattern: pattern, Cause: cause}
}
