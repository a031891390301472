package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mercator-hq/nimbus/pkg/config"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// writePair writes a self-signed certificate for cn valid in
// [notBefore, notAfter] and returns the cert and key paths.
func writePair(t *testing.T, dir, cn string, notBefore, notAfter time.Time) (certPath, keyPath string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}

	certPath = filepath.Join(dir, "server.crt")
	keyPath = filepath.Join(dir, "server.key")
	writePEM(t, certPath, "CERTIFICATE", der)
	writePEM(t, keyPath, "EC PRIVATE KEY", keyDER)
	return certPath, keyPath
}

func writePEM(t *testing.T, path, typ string, der []byte) {
	t.Helper()
	data := pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der})
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
}

func valid() (time.Time, time.Time) {
	now := time.Now()
	return now.Add(-time.Hour), now.Add(365 * 24 * time.Hour)
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	nb, na := valid()
	certPath, keyPath := writePair(t, dir, "nimbus", nb, na)

	tests := []struct {
		name       string
		cfg        config.ServerTLSConfig
		wantNil    bool
		wantErr    bool
		wantMin    uint16
		wantAuth   tls.ClientAuthType
		wantSuites int
	}{
		{name: "disabled", cfg: config.ServerTLSConfig{}, wantNil: true},
		{
			name:    "tls 1.3",
			cfg:     config.ServerTLSConfig{Enabled: true, CertFile: certPath, KeyFile: keyPath, MinVersion: "1.3", ClientAuth: config.ClientAuthNone},
			wantMin: tls.VersionTLS13,
		},
		{
			name: "tls 1.2 with suites",
			cfg: config.ServerTLSConfig{Enabled: true, CertFile: certPath, KeyFile: keyPath, MinVersion: "1.2", ClientAuth: config.ClientAuthNone,
				CipherSuites: []string{"TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384"}},
			wantMin:    tls.VersionTLS12,
			wantSuites: 1,
		},
		{
			name: "client ca required",
			cfg: config.ServerTLSConfig{Enabled: true, CertFile: certPath, KeyFile: keyPath, MinVersion: "1.3",
				ClientCAFile: certPath, ClientAuth: config.ClientAuthRequire},
			wantMin:  tls.VersionTLS13,
			wantAuth: tls.RequireAndVerifyClientCert,
		},
		{
			name: "client ca requested",
			cfg: config.ServerTLSConfig{Enabled: true, CertFile: certPath, KeyFile: keyPath, MinVersion: "1.3",
				ClientCAFile: certPath, ClientAuth: config.ClientAuthRequest},
			wantMin:  tls.VersionTLS13,
			wantAuth: tls.VerifyClientCertIfGiven,
		},
		{
			name:    "unknown suite",
			cfg:     config.ServerTLSConfig{Enabled: true, CertFile: certPath, KeyFile: keyPath, CipherSuites: []string{"TLS_RSA_WITH_RC4_128_SHA"}},
			wantErr: true,
		},
		{
			name:    "missing key",
			cfg:     config.ServerTLSConfig{Enabled: true, CertFile: certPath, KeyFile: filepath.Join(dir, "missing.key")},
			wantErr: true,
		},
		{
			name: "bad client ca",
			cfg: config.ServerTLSConfig{Enabled: true, CertFile: certPath, KeyFile: keyPath,
				ClientCAFile: keyPath, ClientAuth: config.ClientAuthRequire},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reloader, err := Build(tt.cfg, discard)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Build() error = %v, wantErr %v", err, tt.wantErr)
			}
			defer reloader.Close()
			if tt.wantErr {
				return
			}
			if tt.wantNil {
				if got != nil || reloader != nil {
					t.Errorf("Build() = %v, %v; want nil for disabled", got, reloader)
				}
				return
			}
			if got.MinVersion != tt.wantMin {
				t.Errorf("MinVersion = %x, want %x", got.MinVersion, tt.wantMin)
			}
			if got.ClientAuth != tt.wantAuth {
				t.Errorf("ClientAuth = %v, want %v", got.ClientAuth, tt.wantAuth)
			}
			if len(got.CipherSuites) != tt.wantSuites {
				t.Errorf("CipherSuites = %v", got.CipherSuites)
			}
			cert, err := got.GetCertificate(&tls.ClientHelloInfo{})
			if err != nil || cert == nil || cert.Leaf.Subject.CommonName != "nimbus" {
				t.Errorf("GetCertificate() = %v, %v", cert, err)
			}
		})
	}
}

func TestValidateCertificate(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name      string
		notBefore time.Time
		notAfter  time.Time
		wantErr   bool
	}{
		{"valid", now.Add(-time.Hour), now.Add(time.Hour), false},
		{"expired", now.Add(-2 * time.Hour), now.Add(-time.Hour), true},
		{"not yet valid", now.Add(time.Hour), now.Add(2 * time.Hour), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			certPath, keyPath := writePair(t, t.TempDir(), "x", tt.notBefore, tt.notAfter)
			cert, err := tls.LoadX509KeyPair(certPath, keyPath)
			if err != nil {
				t.Fatal(err)
			}
			if err := ValidateCertificate(&cert, now); (err != nil) != tt.wantErr {
				t.Errorf("ValidateCertificate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if err := ValidateCertificate(&tls.Certificate{}, now); err == nil {
		t.Error("ValidateCertificate(empty) error = nil")
	}
}

func TestReloader_Watch(t *testing.T) {
	dir := t.TempDir()
	nb, na := valid()
	certPath, keyPath := writePair(t, dir, "first", nb, na)

	r, err := NewReloader(certPath, keyPath, true, discard)
	if err != nil {
		t.Fatalf("NewReloader() error = %v", err)
	}
	defer r.Close()

	writePair(t, dir, "second", nb, na)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		cert, _ := r.GetCertificate(nil)
		if cert.Leaf.Subject.CommonName == "second" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("renewed certificate was not picked up")
}

func TestReloader_KeepsCurrentOnFailure(t *testing.T) {
	dir := t.TempDir()
	nb, na := valid()
	certPath, keyPath := writePair(t, dir, "first", nb, na)

	r, err := NewReloader(certPath, keyPath, false, discard)
	if err != nil {
		t.Fatalf("NewReloader() error = %v", err)
	}
	defer r.Close()

	if err := os.WriteFile(certPath, []byte("not a certificate"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := r.Reload(); err == nil {
		t.Fatal("Reload() error = nil for corrupt certificate")
	}
	cert, _ := r.GetCertificate(nil)
	if cert.Leaf.Subject.CommonName != "first" {
		t.Errorf("current certificate replaced by a failed reload")
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
