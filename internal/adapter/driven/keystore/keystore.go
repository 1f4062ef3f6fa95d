// Package keystore opens PKCS#12 containers: truststores that contribute trust
// anchors and key-bearing containers that provide client identities.
package keystore

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/ericfisherdev/trustkit/internal/domain/model"
	"github.com/ericfisherdev/trustkit/internal/domain/port/driven"
)

// DecodeAnchors returns the certificates in a PKCS#12 truststore. Containers
// that carry a private key yield their leaf followed by the CA chain.
// Failures wrap model.ErrCertificateUnreadable.
func DecodeAnchors(payload []byte, passphrase string) ([]*x509.Certificate, error) {
	certs, trustErr := pkcs12.DecodeTrustStore(payload, passphrase)
	if trustErr == nil && len(certs) > 0 {
		return certs, nil
	}

	_, leaf, caCerts, err := pkcs12.DecodeChain(payload, passphrase)
	if err != nil {
		if trustErr != nil && errors.Is(trustErr, pkcs12.ErrIncorrectPassword) {
			err = trustErr
		}
		return nil, fmt.Errorf("%w: %w", model.ErrCertificateUnreadable, err)
	}
	return append([]*x509.Certificate{leaf}, caCerts...), nil
}

// DecodeIdentity returns the client certificate and private key in a
// key-bearing container, ready to present during a TLS handshake.
func DecodeIdentity(payload []byte, passphrase string) (tls.Certificate, error) {
	key, leaf, caCerts, err := pkcs12.DecodeChain(payload, passphrase)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: %w", model.ErrCertificateUnreadable, err)
	}

	chain := make([][]byte, 0, len(caCerts)+1)
	chain = append(chain, leaf.Raw)
	for _, c := range caCerts {
		chain = append(chain, c.Raw)
	}

	return tls.Certificate{
		Certificate: chain,
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}

// CheckValidity opens payload and checks the validity window of its first
// certificate at now. Expired, not-yet-valid and unreadable containers are
// reported with distinct errors.
func CheckValidity(payload []byte, passphrase string, now time.Time) model.CertificateValidity {
	certs, err := DecodeAnchors(payload, passphrase)
	if err != nil {
		return model.CertificateValidity{Err: err}
	}

	first := certs[0]
	v := model.CertificateValidity{
		NotBefore: first.NotBefore,
		NotAfter:  first.NotAfter,
	}

	switch {
	case now.After(first.NotAfter):
		v.Err = fmt.Errorf("%w: %q not valid after %s",
			model.ErrCertificateExpired, first.Subject.CommonName, first.NotAfter.UTC().Format(time.RFC3339))
	case now.Before(first.NotBefore):
		v.Err = fmt.Errorf("%w: %q not valid before %s",
			model.ErrCertificateNotYetValid, first.Subject.CommonName, first.NotBefore.UTC().Format(time.RFC3339))
	default:
		v.Valid = true
	}
	return v
}

// Compile-time interface satisfaction check.
var _ driven.ContainerDecoder = PKCS12{}

// PKCS12 adapts the package functions to the driven.ContainerDecoder port.
type PKCS12 struct{}

// DecodeAnchors implements driven.ContainerDecoder.
func (PKCS12) DecodeAnchors(payload []byte, passphrase string) ([]*x509.Certificate, error) {
	return DecodeAnchors(payload, passphrase)
}

// DecodeIdentity implements driven.ContainerDecoder.
func (PKCS12) DecodeIdentity(payload []byte, passphrase string) (tls.Certificate, error) {
	return DecodeIdentity(payload, passphrase)
}
