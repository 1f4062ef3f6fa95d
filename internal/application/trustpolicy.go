package application

import (
	"crypto/x509"
	"log/slog"

	"github.com/ericfisherdev/trustkit/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.TrustPolicy = (*ConfiguredTrustPolicy)(nil)

// ConfiguredTrustPolicy answers both trust decision points from deployment
// configuration and logs every lenient decision. The zero-config default
// (NewPermissiveTrustPolicy) allows both, which suits tactical networks whose
// servers present self-signed certificates.
type ConfiguredTrustPolicy struct {
	systemFallback   bool
	acceptUnanchored bool
	logger           *slog.Logger
}

// NewConfiguredTrustPolicy creates a policy with explicit answers for the two
// decision points.
func NewConfiguredTrustPolicy(systemFallback, acceptUnanchored bool, logger *slog.Logger) *ConfiguredTrustPolicy {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfiguredTrustPolicy{
		systemFallback:   systemFallback,
		acceptUnanchored: acceptUnanchored,
		logger:           logger,
	}
}

// NewPermissiveTrustPolicy returns the default policy: platform roots are
// consulted and unanchored chains are accepted with a warning.
func NewPermissiveTrustPolicy(logger *slog.Logger) *ConfiguredTrustPolicy {
	return NewConfiguredTrustPolicy(true, true, logger)
}

// NewStrictTrustPolicy returns a policy that only trusts aggregated anchors.
func NewStrictTrustPolicy(logger *slog.Logger) *ConfiguredTrustPolicy {
	return NewConfiguredTrustPolicy(false, false, logger)
}

// AllowSystemFallback reports whether platform roots may vouch for the chain.
func (p *ConfiguredTrustPolicy) AllowSystemFallback(host string, _ []*x509.Certificate, cause error) bool {
	if p.systemFallback {
		p.logger.Debug("falling back to platform trust roots", "host", host, "cause", cause)
	}
	return p.systemFallback
}

// AcceptUnanchored reports whether a chain no anchor vouches for is accepted.
func (p *ConfiguredTrustPolicy) AcceptUnanchored(host string, chain []*x509.Certificate, cause error) bool {
	if !p.acceptUnanchored {
		return false
	}

	attrs := []any{"host", host, "cause", cause}
	if len(chain) > 0 {
		attrs = append(attrs,
			"subject", chain[0].Subject.String(),
			"issuer", chain[0].Issuer.String(),
			"fingerprint", fingerprint(chain[0]),
		)
	}
	p.logger.Warn("accepting certificate chain without a trusted anchor", attrs...)
	return true
}
