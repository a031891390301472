// Package tokens issues scoped, expiring access tokens for automated
// consumers of retained objects.
//
// A token grants a subset of {read, analyze, transcode, modify} on one
// object. The granted set is the requested set intersected with what the
// object's tier allows: modify needs the modification_allowed feature and
// transcode needs transcoding_allowed. Tokens expire after
// security.access.token_ttl and carry a usage cap unless the tier has
// unlimited_access.
//
// Token values are 32 random bytes, base64url encoded without padding.
// They are never logged in full: audit entries carry the first eight
// characters followed by "...".
//
// The registry lives in process memory. Several processes issuing and
// validating tokens for the same objects need an external shared store,
// which this package does not provide.
//
// # HTTP
//
// Middleware validates the token of each request (query parameter "token"
// or an "Authorization: Bearer" header) against the request's remote
// address and enforces the per-token concurrent access limit while the
// request is served.
package tokens
