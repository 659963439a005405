package trust

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

// LoadIdentity loads the client certificate presented upstream.
//
// Files ending in .pfx or .p12 are decoded as PKCS#12 with password.
// Anything else is PEM; when keyFile is empty the key must be in certFile.
func LoadIdentity(certFile, keyFile, password string) (*tls.Certificate, error) {
	switch strings.ToLower(filepath.Ext(certFile)) {
	case ".pfx", ".p12":
		return loadPKCS12(certFile, password)
	}
	if keyFile == "" {
		keyFile = certFile
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load identity %q: %w", certFile, err)
	}
	if cert.Leaf == nil {
		if cert.Leaf, err = x509.ParseCertificate(cert.Certificate[0]); err != nil {
			return nil, fmt.Errorf("parse identity %q: %w", certFile, err)
		}
	}
	return &cert, nil
}

// loadPKCS12 decodes a .pfx bundle, keeping any CA certificates it carries
// so intermediates are sent upstream after the leaf.
func loadPKCS12(path, password string) (*tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load identity %q: %w", path, err)
	}
	key, leaf, chain, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return nil, fmt.Errorf("decode identity %q: %w", path, err)
	}
	if !matchesKey(leaf, key) {
		// bundles do not always list the leaf first
		for i, c := range chain {
			if matchesKey(c, key) {
				chain[i] = leaf
				leaf = c
				break
			}
		}
	}
	if !matchesKey(leaf, key) {
		return nil, fmt.Errorf("decode identity %q: no certificate matches the private key", path)
	}
	cert := &tls.Certificate{Certificate: [][]byte{leaf.Raw}, PrivateKey: key, Leaf: leaf}
	for _, c := range chain {
		cert.Certificate = append(cert.Certificate, c.Raw)
	}
	return cert, nil
}

func matchesKey(cert *x509.Certificate, key any) bool {
	signer, ok := key.(crypto.Signer)
	if !ok || cert == nil {
		return false
	}
	pub, ok := signer.Public().(interface{ Equal(crypto.PublicKey) bool })
	return ok && pub.Equal(cert.PublicKey)
}

// CheckExpiry returns the days left on the identity and a warning when fewer
// than 30 remain.
func CheckExpiry(cert *x509.Certificate, now time.Time) (daysLeft int, warning string) {
	daysLeft = int(cert.NotAfter.Sub(now).Hours() / 24)
	if daysLeft < 30 {
		warning = fmt.Sprintf("identity certificate expires in %d days (on %s)", daysLeft, cert.NotAfter.Format("2006-01-02"))
	}
	return daysLeft, warning
}
