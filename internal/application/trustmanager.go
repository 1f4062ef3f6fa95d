package application

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ericfisherdev/trustkit/internal/domain/port/driven"
)

// ErrUntrustedChain is returned when a presented chain is rejected.
var ErrUntrustedChain = errors.New("untrusted certificate chain")

// TrustManager is an immutable snapshot of the trust anchor set, built by
// TrustAggregator.Refresh. Socket factories hold the snapshot they were built
// from; a refresh never mutates an existing TrustManager.
type TrustManager struct {
	generation  uint64
	anchors     []*x509.Certificate
	pool        *x509.CertPool
	policy      driven.TrustPolicy
	systemRoots func() (*x509.CertPool, error)
	now         func() time.Time
}

func newTrustManager(generation uint64, anchors []*x509.Certificate, policy driven.TrustPolicy, systemRoots func() (*x509.CertPool, error), now func() time.Time) *TrustManager {
	pool := x509.NewCertPool()
	for _, a := range anchors {
		pool.AddCert(a)
	}
	return &TrustManager{
		generation:  generation,
		anchors:     anchors,
		pool:        pool,
		policy:      policy,
		systemRoots: systemRoots,
		now:         now,
	}
}

// Generation increases by one with every rebuild.
func (tm *TrustManager) Generation() uint64 { return tm.generation }

// Anchors returns a copy of the anchor set.
func (tm *TrustManager) Anchors() []*x509.Certificate {
	out := make([]*x509.Certificate, len(tm.anchors))
	copy(out, tm.anchors)
	return out
}

// Contains reports whether cert is one of the anchors.
func (tm *TrustManager) Contains(cert *x509.Certificate) bool {
	return containsCert(tm.anchors, cert)
}

// VerifyChain decides whether chain (leaf first) is acceptable for host.
// The chain is checked against the anchors, then the platform roots if the
// policy allows, then the policy's unanchored decision. Hostname checking is
// independent of chain trust and is skipped only when checkHostname is false.
func (tm *TrustManager) VerifyChain(host string, chain []*x509.Certificate, checkHostname bool) error {
	if len(chain) == 0 {
		return fmt.Errorf("%w: no certificates presented", ErrUntrustedChain)
	}
	leaf := chain[0]

	if checkHostname {
		if err := leaf.VerifyHostname(stripPort(host)); err != nil {
			return fmt.Errorf("%w: %w", ErrUntrustedChain, err)
		}
	}

	cause := tm.verifyAgainst(tm.pool, chain)
	if cause == nil {
		return nil
	}

	if tm.policy.AllowSystemFallback(host, chain, cause) {
		roots, err := tm.systemRoots()
		if err == nil && roots != nil {
			if tm.verifyAgainst(roots, chain) == nil {
				return nil
			}
		}
	}

	if tm.policy.AcceptUnanchored(host, chain, cause) {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrUntrustedChain, cause)
}

func (tm *TrustManager) verifyAgainst(roots *x509.CertPool, chain []*x509.Certificate) error {
	intermediates := x509.NewCertPool()
	for _, c := range chain[1:] {
		intermediates.AddCert(c)
	}
	_, err := chain[0].Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		CurrentTime:   tm.now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	})
	return err
}

// verifyConnection adapts VerifyChain to tls.Config.VerifyConnection.
func (tm *TrustManager) verifyConnection(server string, checkHostname bool) func(tls.ConnectionState) error {
	return func(cs tls.ConnectionState) error {
		host := server
		if host == "" {
			host = cs.ServerName
		}
		return tm.VerifyChain(host, cs.PeerCertificates, checkHostname)
	}
}

func containsCert(set []*x509.Certificate, cert *x509.Certificate) bool {
	for _, c := range set {
		if c.Equal(cert) {
			return true
		}
	}
	return false
}

func fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

// stripPort removes a :port suffix if present.
func stripPort(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return hostport
}
