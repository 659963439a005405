// Package trust decides which upstream certificates the relay accepts and
// which identity it presents.
//
// The upstream check is deliberately narrow: a presented leaf is accepted
// when the current time lies inside its validity window, and a handshake in
// which the server presents no certificate at all is accepted too. Chain,
// hostname and key-usage checks are not performed. Both behaviours are kept
// for compatibility with the deployed backend and are flagged for review.
package trust

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCertificateRejected is returned when the upstream leaf is outside its validity window.
	ErrCertificateRejected = errors.New("upstream certificate rejected")
	// ErrNoIdentity is returned when a policy is built without an identity certificate.
	ErrNoIdentity = errors.New("identity certificate not loaded")
)

// Policy governs both trust questions of the upstream handshake.
type Policy struct {
	identity *tls.Certificate
	minVer   uint16
	maxVer   uint16

	// Now is the clock used for validity checks.
	Now func() time.Time
}

// NewPolicy returns a policy presenting identity. minVersion/maxVersion are
// crypto/tls version constants; zero means TLS 1.2.
func NewPolicy(identity *tls.Certificate, minVersion, maxVersion uint16) (*Policy, error) {
	if identity == nil || len(identity.Certificate) == 0 {
		return nil, ErrNoIdentity
	}
	if minVersion == 0 {
		minVersion = tls.VersionTLS12
	}
	if maxVersion == 0 {
		maxVersion = tls.VersionTLS12
	}
	return &Policy{identity: identity, minVer: minVersion, maxVer: maxVersion, Now: time.Now}, nil
}

// ValidateUpstreamCertificate reports whether cert is acceptable. A nil
// certificate is accepted.
func (p *Policy) ValidateUpstreamCertificate(cert *x509.Certificate) bool {
	if cert == nil {
		return true
	}
	now := p.Now()
	return !now.Before(cert.NotBefore) && !now.After(cert.NotAfter)
}

// VerifyPeerCertificate plugs ValidateUpstreamCertificate into tls.Config.
func (p *Policy) VerifyPeerCertificate(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return nil
	}
	leaf, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return fmt.Errorf("parse upstream certificate: %w", err)
	}
	if !p.ValidateUpstreamCertificate(leaf) {
		return fmt.Errorf("%w: valid %s to %s", ErrCertificateRejected,
			leaf.NotBefore.UTC().Format(time.RFC3339), leaf.NotAfter.UTC().Format(time.RFC3339))
	}
	return nil
}

// SelectLocalCertificate always returns the process-wide identity.
func (p *Policy) SelectLocalCertificate(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
	return p.identity, nil
}

// Identity returns the certificate presented upstream.
func (p *Policy) Identity() *tls.Certificate { return p.identity }

// ClientConfig builds the upstream TLS configuration. Standard verification
// is disabled; VerifyPeerCertificate applies the policy instead.
func (p *Policy) ClientConfig(serverName string) *tls.Config {
	return &tls.Config{
		ServerName:            serverName,
		MinVersion:            p.minVer,
		MaxVersion:            p.maxVer,
		InsecureSkipVerify:    true, //nolint:gosec // replaced by VerifyPeerCertificate
		VerifyPeerCertificate: p.VerifyPeerCertificate,
		GetClientCertificate:  p.SelectLocalCertificate,
	}
}
