package encryption

import "fmt"

// EncryptionError is returned when data could not be encrypted.
type EncryptionError struct {
	Cause error
}

// Error implements the error interface.
func (e *EncryptionError) Error() string {
	return fmt.Sprintf("encryption failed: %v", e.Cause)
}

// Unwrap returns the underlying error.
func (e *EncryptionError) Unwrap() error {
	return e.Cause
}

// NewEncryptionError creates a new EncryptionError.
func NewEncryptionError(cause error) *EncryptionError {
	return &EncryptionError{Cause: cause}
}

// DecryptionError is returned when an envelope could not be opened. No
// plaintext is ever returned alongside it.
type DecryptionError struct {
	// Reason is a short description safe to log.
	Reason string
	Cause  error
}

// Error implements the error interface.
func (e *DecryptionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("decryption failed: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("decryption failed: %s", e.Reason)
}

// Unwrap returns the underlying error.
func (e *DecryptionError) Unwrap() error {
	return e.Cause
}

// NewDecryptionError creates a new DecryptionError.
func NewDecryptionError(reason string, cause error) *DecryptionError {
	return &DecryptionError{Reason: reason, Cause: cause}
}
