package tokens

import "errors"

// Caller-facing validation errors.
var (
	// ErrTokenNotFound is returned for unknown or revoked tokens.
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenExpired is returned for tokens past their expiry. The token
	// is evicted.
	ErrTokenExpired = errors.New("token expired")

	// ErrPermissionDenied is returned when the token does not grant the
	// requested action or is used from an address outside the allowlist.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrUsageLimitExceeded is returned once the token's usage cap is
	// reached.
	ErrUsageLimitExceeded = errors.New("token usage limit exceeded")

	// ErrConcurrencyLimit is returned when the token already has the
	// maximum number of open accesses.
	ErrConcurrencyLimit = errors.New("token concurrent access limit reached")
)
