package driven

import (
	"context"

	"github.com/ericfisherdev/trustkit/internal/domain/model"
)

// CertificateStore defines the driven port for encrypted PKCS#12 storage keyed
// by (type) for the default slot or (type, server) for server slots. Payloads
// are only ever returned after their integrity hash has been verified.
type CertificateStore interface {
	// Get returns the default-slot payload for certType.
	Get(ctx context.Context, certType model.CertificateType) ([]byte, bool)

	// GetForServer returns the payload stored for certType and server.
	GetForServer(ctx context.Context, certType model.CertificateType, server string) ([]byte, bool)

	// Save stores payload in the default slot for certType.
	Save(ctx context.Context, certType model.CertificateType, payload []byte) error

	// SaveForServer stores payload in the server slot for certType.
	SaveForServer(ctx context.Context, certType model.CertificateType, server string, payload []byte) error

	// Delete removes the default-slot record. Missing records are not an error.
	Delete(ctx context.Context, certType model.CertificateType) error

	// DeleteForServer removes the server-slot record. Missing records are not an error.
	DeleteForServer(ctx context.Context, certType model.CertificateType, server string) error

	// ListServers enumerates the server slots that hold a record of certType.
	ListServers(ctx context.Context, certType model.CertificateType) []string

	// ImportFromFile stores the contents of path under (certType[, server]),
	// optionally deleting the source, and returns the bytes read. It reports
	// false when the file is missing or cannot be read or stored.
	ImportFromFile(ctx context.Context, path, server string, certType model.CertificateType, deleteSource bool) ([]byte, bool)

	// CheckValidity opens payload with passphrase and inspects the validity
	// window of its first certificate.
	CheckValidity(payload []byte, passphrase model.Secret) model.CertificateValidity

	// Close releases the storage handle. Subsequent calls return ErrStoreClosed.
	Close() error
}
