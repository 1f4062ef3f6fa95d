package driven

import (
	"context"
	"crypto/tls"
	"crypto/x509"
)

// TrustPolicy decides what happens when a presented chain does not verify
// against the aggregated trust anchors.
type TrustPolicy interface {
	// AllowSystemFallback reports whether the chain may be re-verified against
	// the platform's default trust roots.
	AllowSystemFallback(host string, chain []*x509.Certificate, cause error) bool

	// AcceptUnanchored reports whether the chain may be accepted even though
	// no anchor (aggregated or platform) vouches for it.
	AcceptUnanchored(host string, chain []*x509.Certificate, cause error) bool
}

// TrustListener is notified by the stores when stored material that feeds the
// trust manager or the socket-factory cache changes.
type TrustListener interface {
	// Refresh rebuilds the anchor set and the derived trust manager.
	Refresh(ctx context.Context) error

	// Invalidate evicts cached socket factories whose key matches or contains host.
	Invalidate(host string)
}

// AnchorSource supplies the bundled ("factory") trust anchors. It is read once
// at startup.
type AnchorSource interface {
	Anchors() ([]*x509.Certificate, error)
}

// ContainerDecoder opens passphrase-protected certificate containers.
type ContainerDecoder interface {
	// DecodeAnchors returns the CA certificates held by a truststore container.
	DecodeAnchors(payload []byte, passphrase string) ([]*x509.Certificate, error)

	// DecodeIdentity returns the client certificate and key held by a container.
	DecodeIdentity(payload []byte, passphrase string) (tls.Certificate, error)
}
