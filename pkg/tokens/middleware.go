package tokens

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"mercator-hq/nimbus/pkg/telemetry/logging"
)

// Source says where a token is read from.
type Source struct {
	Type   string // header, query
	Name   string // header name or query parameter
	Scheme string // optional header scheme, e.g. "Bearer"
}

// DefaultSources reads "?token=" first, then "Authorization: Bearer".
var DefaultSources = []Source{
	{Type: "query", Name: "token"},
	{Type: "header", Name: "Authorization", Scheme: "Bearer"},
}

// Middleware authorizes requests with a token for a fixed action.
type Middleware struct {
	manager *Manager
	action  string
	sources []Source
	logger  *slog.Logger
}

// NewMiddleware creates a Middleware. A nil sources uses DefaultSources.
func NewMiddleware(manager *Manager, action string, sources []Source) *Middleware {
	if len(sources) == 0 {
		sources = DefaultSources
	}
	return &Middleware{
		manager: manager,
		action:  action,
		sources: sources,
		logger:  manager.logger.With("subsystem", "middleware"),
	}
}

// Handle wraps next. When the route has an {id} wildcard the token must
// have been issued for that object.
func (m *Middleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		value := m.extract(r)
		if value == "" {
			m.logger.Warn("missing access token", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			http.Error(w, "missing access token", http.StatusUnauthorized)
			return
		}

		tok, release, err := m.manager.OpenObject(r.Context(), value, r.PathValue("id"), m.action, remoteAddr(r))
		if err != nil {
			status := StatusFor(err)
			m.logger.Warn("access token rejected",
				"error", err,
				"token", logging.RedactToken(value),
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			http.Error(w, http.StatusText(status), status)
			return
		}
		defer release()

		ctx := context.WithValue(r.Context(), tokenKey, tok)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) extract(r *http.Request) string {
	for _, src := range m.sources {
		switch src.Type {
		case "header":
			value := r.Header.Get(src.Name)
			if value == "" {
				continue
			}
			if src.Scheme == "" {
				return value
			}
			if v, ok := strings.CutPrefix(value, src.Scheme+" "); ok {
				return v
			}
		case "query":
			if value := r.URL.Query().Get(src.Name); value != "" {
				return value
			}
		}
	}
	return ""
}

func remoteAddr(r *http.Request) netip.Addr {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, _ := netip.ParseAddr(host)
	return addr
}

// StatusFor maps a validation error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrTokenNotFound), errors.Is(err, ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrUsageLimitExceeded), errors.Is(err, ErrConcurrencyLimit):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

type contextKey string

const tokenKey contextKey = "access_token"

// FromContext returns the token a request was authorized with.
func FromContext(ctx context.Context) (*Token, bool) {
	tok, ok := ctx.Value(tokenKey).(*Token)
	return tok, ok
}
