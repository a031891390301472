package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"

	"mercator-hq/nimbus/pkg/config"
)

// cipherSuites maps the accepted server.tls.cipher_suites names. TLS 1.3
// suites are not configurable in crypto/tls and are accepted for
// completeness only.
var cipherSuites = map[string]uint16{
	"TLS_AES_128_GCM_SHA256":       tls.TLS_AES_128_GCM_SHA256,
	"TLS_AES_256_GCM_SHA384":       tls.TLS_AES_256_GCM_SHA384,
	"TLS_CHACHA20_POLY1305_SHA256": tls.TLS_CHACHA20_POLY1305_SHA256,

	"TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256":   tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	"TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384":   tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	"TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256": tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	"TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384": tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	"TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305":    tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
	"TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305":  tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
}

// Build returns the server TLS configuration for cfg and the Reloader
// backing its GetCertificate. It returns nil, nil, nil when TLS is
// disabled.
func Build(cfg config.ServerTLSConfig, logger *slog.Logger) (*tls.Config, *Reloader, error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}

	suites, err := parseCipherSuites(cfg.CipherSuites)
	if err != nil {
		return nil, nil, err
	}

	reloader, err := NewReloader(cfg.CertFile, cfg.KeyFile, cfg.Reload, logger)
	if err != nil {
		return nil, nil, err
	}

	// #nosec G402 - MinVersion is validated to 1.2 or 1.3
	tlsConfig := &tls.Config{
		MinVersion:     minVersion(cfg.MinVersion),
		CipherSuites:   suites,
		GetCertificate: reloader.GetCertificate,
	}

	if cfg.ClientCAFile != "" && cfg.ClientAuth != config.ClientAuthNone {
		pool, err := loadCertPool(cfg.ClientCAFile)
		if err != nil {
			_ = reloader.Close()
			return nil, nil, err
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		if cfg.ClientAuth == config.ClientAuthRequest {
			tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
		}
	}

	return tlsConfig, reloader, nil
}

func minVersion(v string) uint16 {
	if v == "1.2" {
		return tls.VersionTLS12
	}
	return tls.VersionTLS13
}

func parseCipherSuites(names []string) ([]uint16, error) {
	if len(names) == 0 {
		return nil, nil
	}
	suites := make([]uint16, 0, len(names))
	for _, name := range names {
		id, ok := cipherSuites[name]
		if !ok {
			return nil, fmt.Errorf("tls: unsupported cipher suite %q", name)
		}
		suites = append(suites, id)
	}
	return suites, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	// #nosec G304 - path comes from server.tls.client_ca_file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tls: failed to read client CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("tls: no certificates in client CA file %s", path)
	}
	return pool, nil
}
