// Package trust decides whether a presented TLS certificate chain should be
// trusted against a set of explicitly pinned root certificates.
//
// Trust is by identity pinning, not policy compliance: a chain is accepted
// when any certificate in it (or in a chain rebuilt using only the pinned
// roots as anchors) has the DER fingerprint of a pinned root. Revocation is
// not checked and extended-key-usage mismatches are ignored — gateway
// operational certificates are commonly self-issued or short-lived and do
// not follow public CA policy.
package trust

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	sbpgate "github.com/sbpgate/sbpgate-go"
)

// PinSet is an immutable set of pinned root certificates, loaded once at
// channel-setup time and held for the life of the connection.
type PinSet struct {
	roots        []*x509.Certificate
	pool         *x509.CertPool
	fingerprints map[[sha256.Size]byte]struct{}
}

// NewPinSet builds a pin set from one or more root certificates.
func NewPinSet(roots ...*x509.Certificate) (*PinSet, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("at least one pinned root certificate is required")
	}

	pool := x509.NewCertPool()
	fingerprints := make(map[[sha256.Size]byte]struct{}, len(roots))
	for _, root := range roots {
		pool.AddCert(root)
		fingerprints[sha256.Sum256(root.Raw)] = struct{}{}
	}

	return &PinSet{
		roots:        roots,
		pool:         pool,
		fingerprints: fingerprints,
	}, nil
}

// NewPinSetFromPEM builds a pin set from PEM-encoded certificates.
func NewPinSetFromPEM(pemBytes []byte) (*PinSet, error) {
	var roots []*x509.Certificate
	for len(pemBytes) > 0 {
		var block *pem.Block
		block, pemBytes = pem.Decode(pemBytes)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse pinned certificate: %w", err)
		}
		roots = append(roots, cert)
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("no certificates found in PEM data")
	}
	return NewPinSet(roots...)
}

// NewPinSetFromFile builds a pin set from a PEM file on disk.
func NewPinSetFromFile(path string) (*PinSet, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pinned certificate file: %w", err)
	}
	return NewPinSetFromPEM(pemBytes)
}

// Pinned reports whether the certificate's DER fingerprint is pinned.
func (p *PinSet) Pinned(cert *x509.Certificate) bool {
	_, ok := p.fingerprints[sha256.Sum256(cert.Raw)]
	return ok
}

// Validate is the trust decision for a peer-presented chain, in the shape
// expected by tls.Config.VerifyPeerCertificate.
//
// The chain is checked two ways: rebuilt with only the pinned roots as
// trust anchors, and exactly as presented. Some peers omit the root from
// the presented chain, others present an incomplete chain that only builds
// once the pinned root is installed as an anchor; checking both accepts
// either shape without demanding a specific one. If any certificate seen on
// either path carries a pinned fingerprint the chain is trusted.
//
// Validate is a pure predicate. A failure carries the code
// sbpgate.ErrCodeTrustValidationFailed and must abort channel
// establishment; it is never retried or downgraded.
func (p *PinSet) Validate(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return sbpgate.Errorf(sbpgate.ErrCodeTrustValidationFailed, "peer presented no certificates")
	}

	presented := make([]*x509.Certificate, 0, len(rawCerts))
	for _, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return sbpgate.Errorf(sbpgate.ErrCodeTrustValidationFailed,
				"failed to parse peer certificate: %v", err)
		}
		presented = append(presented, cert)
	}

	// Rebuild the chain with the pinned roots as the only anchors.
	// ExtKeyUsageAny disables usage-constraint errors; crypto/x509 performs
	// no revocation checking.
	intermediates := x509.NewCertPool()
	for _, cert := range presented[1:] {
		intermediates.AddCert(cert)
	}
	chains, err := presented[0].Verify(x509.VerifyOptions{
		Roots:         p.pool,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err == nil {
		for _, chain := range chains {
			for _, cert := range chain {
				if p.Pinned(cert) {
					return nil
				}
			}
		}
	}

	// The presented chain itself may carry the pinned certificate even
	// when chain building fails.
	for _, cert := range presented {
		if p.Pinned(cert) {
			return nil
		}
	}

	return sbpgate.Errorf(sbpgate.ErrCodeTrustValidationFailed,
		"no certificate in the peer chain matches a pinned root")
}

// TLSConfig returns a TLS configuration that trusts peers solely by this
// pin set. Standard CA and hostname verification is replaced by Validate;
// pinning is the whole trust decision.
func (p *PinSet) TLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify:    true, // pinning via VerifyPeerCertificate replaces CA verification
		VerifyPeerCertificate: p.Validate,
		MinVersion:            tls.VersionTLS12,
	}
}
