package model

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// ErrIntegrityViolation marks a stored certificate whose payload no longer
// matches its recorded hash.
var ErrIntegrityViolation = errors.New("certificate integrity violation")

// Validity failures. Callers act differently on each, so they are never
// collapsed into a single flag.
var (
	// ErrCertificateExpired indicates the certificate's NotAfter is in the past.
	ErrCertificateExpired = errors.New("certificate expired")

	// ErrCertificateNotYetValid indicates the certificate's NotBefore is in the future.
	ErrCertificateNotYetValid = errors.New("certificate not yet valid")

	// ErrCertificateUnreadable indicates a wrong passphrase or a corrupt container.
	ErrCertificateUnreadable = errors.New("certificate container unreadable")
)

// CertificateRecord is a PKCS#12 container stored under (Type) or (Type, Server).
type CertificateRecord struct {
	Type    CertificateType
	Server  string // empty for the default slot
	Payload []byte
	Hash    string // hex sha256 of Payload
}

// PayloadHash returns the hex-encoded sha256 used as the integrity hash.
func PayloadHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Verify reports whether the payload still matches the recorded hash.
func (r CertificateRecord) Verify() bool {
	return r.Hash != "" && PayloadHash(r.Payload) == r.Hash
}

// CertificateValidity is the outcome of opening a container and checking the
// validity window of its first certificate. Err is nil when Valid is true and
// otherwise wraps one of ErrCertificateExpired, ErrCertificateNotYetValid or
// ErrCertificateUnreadable.
type CertificateValidity struct {
	Valid     bool
	NotBefore time.Time
	NotAfter  time.Time // zero when the container could not be read
	Err       error
}

// Error returns the failure message, or "" for a valid certificate.
func (v CertificateValidity) Error() string {
	if v.Err == nil {
		return ""
	}
	return v.Err.Error()
}

// Expired reports whether the check failed because the certificate expired.
func (v CertificateValidity) Expired() bool { return errors.Is(v.Err, ErrCertificateExpired) }

// NotYetValid reports whether the check failed because the certificate is not yet valid.
func (v CertificateValidity) NotYetValid() bool { return errors.Is(v.Err, ErrCertificateNotYetValid) }

// Unreadable reports whether the container could not be opened.
func (v CertificateValidity) Unreadable() bool { return errors.Is(v.Err, ErrCertificateUnreadable) }
