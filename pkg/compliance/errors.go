package compliance

import "fmt"

// BlockedError is returned when the gate rejects a deletion.
type BlockedError struct {
	Decision *Decision
}

// Error implements the error interface.
func (e *BlockedError) Error() string {
	if e.Decision == nil {
		return "deletion blocked by compliance"
	}
	return fmt.Sprintf("deletion blocked by compliance: %s", e.Decision.Reason)
}

// NewBlockedError creates a new BlockedError.
func NewBlockedError(decision *Decision) *BlockedError {
	return &BlockedError{Decision: decision}
}
