package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"

	"mercator-hq/nimbus/pkg/config"
	"mercator-hq/nimbus/pkg/nimbus"
	sectls "mercator-hq/nimbus/pkg/security/tls"
	"mercator-hq/nimbus/pkg/telemetry/health"
	"mercator-hq/nimbus/pkg/telemetry/metrics"
	"mercator-hq/nimbus/pkg/tokens"
)

// Server serves object access and health endpoints for a Service.
type Server struct {
	cfg        config.ServerConfig
	metricsCfg config.MetricsConfig
	svc        *nimbus.Service
	collector  *metrics.Collector
	logger     *slog.Logger

	httpServer    *http.Server
	metricsServer *http.Server
	certs         *sectls.Reloader

	mu           sync.Mutex
	running      bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a Server. collector may be nil, in which case no metrics
// listener is started.
func New(svc *nimbus.Service, collector *metrics.Collector, logger *slog.Logger) (*Server, error) {
	if svc == nil {
		return nil, errors.New("server: service is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg := svc.Config()

	s := &Server{
		cfg:        cfg.Server,
		metricsCfg: cfg.Telemetry.Metrics,
		svc:        svc,
		collector:  collector,
		logger:     logger.With("component", "server"),
	}
	s.httpServer = &http.Server{
		Addr:         s.cfg.ListenAddress,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	tlsConfig, certs, err := sectls.Build(s.cfg.TLS, logger)
	if err != nil {
		return nil, err
	}
	s.httpServer.TLSConfig = tlsConfig
	s.certs = certs

	if collector != nil && s.metricsCfg.Enabled {
		mux := http.NewServeMux()
		mux.Handle(s.metricsCfg.Path, collector.Handler())
		s.metricsServer = &http.Server{
			Addr:        s.metricsCfg.ListenAddress,
			Handler:     mux,
			ReadTimeout: s.cfg.ReadTimeout,
		}
	}
	return s, nil
}

// Handler returns the full middleware-wrapped route tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	access := tokens.NewMiddleware(s.svc.Tokens(), tokens.PermissionRead, nil)
	mux.Handle("GET /api/v1/objects/{id}/access", access.Handle(http.HandlerFunc(s.handleAccess)))
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	health.Register(mux, s.svc.HealthChecker())

	var h http.Handler = mux
	h = RequestIDMiddleware(h)
	h = LoggingMiddleware(s.logger)(h)
	h = TracingMiddleware(s.svc.Tracer())(h)
	h = RecoveryMiddleware(s.logger)(h)
	return h
}

func (s *Server) handleAccess(w http.ResponseWriter, r *http.Request) {
	tok, ok := tokens.FromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	data, err := s.svc.Download(r.Context(), tok.ObjectID)
	if err != nil {
		if errors.Is(err, nimbus.ErrObjectNotFound) {
			http.Error(w, "object not found", http.StatusNotFound)
			return
		}
		s.logger.Error("download failed", "object_id", tok.ObjectID, "error", err, "request_id", RequestID(r.Context()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "no-store")
	if tok.Restrictions.BandwidthLimit != "" {
		w.Header().Set("X-Bandwidth-Limit", tok.Restrictions.BandwidthLimit)
	}
	w.WriteHeader(http.StatusOK)

	rate := 0
	if tok.Restrictions.BandwidthLimit != "" {
		rate = tokens.BandwidthBytesPerSecond
	}
	if err := writeThrottled(r.Context(), w, data, rate); err != nil {
		s.logger.Debug("object stream interrupted", "object_id", tok.ObjectID, "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.svc.Health(r.Context())
	code := http.StatusOK
	if h.Status != health.StatusReady {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(h); err != nil {
		s.logger.Warn("failed to encode health", "error", err)
	}
}

// Start listens on the configured addresses and blocks until ctx is done
// or a listener fails. Either way both listeners are shut down before
// Start returns.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server: already running")
	}
	s.running = true
	s.mu.Unlock()

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 2)

	tlsEnabled := s.httpServer.TLSConfig != nil
	s.logger.Info("server listening", "address", ln.Addr().String(), "tls", tlsEnabled)
	go func() {
		var err error
		if tlsEnabled {
			err = s.httpServer.ServeTLS(ln, "", "")
		} else {
			err = s.httpServer.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server: %w", err)
		}
	}()

	if s.metricsServer != nil {
		s.logger.Info("metrics listening", "address", s.metricsServer.Addr, "path", s.metricsCfg.Path)
		go func() {
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("server: metrics: %w", err)
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		s.logger.Error("listener failed", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	return errors.Join(serveErr, s.Shutdown(shutdownCtx))
}

// Shutdown gracefully stops both listeners. It is safe to call more than
// once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.logger.Info("shutting down server")
		errs := []error{s.httpServer.Shutdown(ctx)}
		if s.metricsServer != nil {
			errs = append(errs, s.metricsServer.Shutdown(ctx))
		}
		errs = append(errs, s.certs.Close())
		s.shutdownErr = errors.Join(errs...)
	})
	return s.shutdownErr
}
