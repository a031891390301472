package logging

import (
	"log/slog"
	"strings"
)

// tokenPrefixLen is the number of token characters kept when redacting.
const tokenPrefixLen = 8

// sensitiveKeys are attribute keys whose values are redacted.
var sensitiveKeys = map[string]bool{
	"token":             true,
	"access_token":      true,
	"plain_key":         true,
	"secret_access_key": true,
	"password":          true,
}

// RedactToken shortens an opaque token to its first few characters.
func RedactToken(token string) string {
	if len(token) <= tokenPrefixLen {
		return "***"
	}
	return token[:tokenPrefixLen] + "..."
}

// redactAttr is a slog ReplaceAttr hook that redacts sensitive values.
func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if !sensitiveKeys[strings.ToLower(a.Key)] {
		return a
	}
	if a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, RedactToken(a.Value.String()))
	}
	return slog.String(a.Key, "***")
}
