package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"time"
)

// ExpiryWarning is how close to NotAfter a certificate is logged as
// expiring.
const ExpiryWarning = 30 * 24 * time.Hour

// ValidateCertificate parses the leaf of cert and checks it is valid at
// now. The parsed leaf is stored on cert.
func ValidateCertificate(cert *tls.Certificate, now time.Time) error {
	if cert == nil || len(cert.Certificate) == 0 {
		return fmt.Errorf("certificate chain is empty")
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return fmt.Errorf("failed to parse certificate: %w", err)
	}
	if now.Before(leaf.NotBefore) {
		return fmt.Errorf("certificate is not yet valid (valid from %s)", leaf.NotBefore.Format(time.RFC3339))
	}
	if now.After(leaf.NotAfter) {
		return fmt.Errorf("certificate expired on %s", leaf.NotAfter.Format(time.RFC3339))
	}
	cert.Leaf = leaf
	return nil
}

// DaysUntilExpiry returns the whole days left before leaf expires.
func DaysUntilExpiry(leaf *x509.Certificate, now time.Time) int {
	return int(leaf.NotAfter.Sub(now).Hours() / 24)
}
