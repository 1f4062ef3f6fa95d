package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/trustkit/internal/domain/model"
)

// ErrStoreClosed is returned by store operations after Close, or when the
// store never finished opening.
var ErrStoreClosed = errors.New("store is closed")

// ErrStoreUnavailable is returned when a store cannot be opened even after its
// backing file was destroyed and recreated. It is fatal for the subsystem.
var ErrStoreUnavailable = errors.New("store unavailable")

// SecretStore defines the driven port for encrypted username/password storage
// keyed by (type, site). Reads swallow storage failures: the adapter logs them
// and reports a miss, so callers never crash on a missing record. Writes
// return errors.
type SecretStore interface {
	// Get returns the credential stored under exactly (credType, site).
	Get(ctx context.Context, credType model.CredentialType, site string) (model.Credential, bool)

	// GetDefault returns the type-wide default credential, i.e. Get(credType, string(credType)).
	GetDefault(ctx context.Context, credType model.CredentialType) (model.Credential, bool)

	// Save inserts or overwrites the credential for (credType, site). When
	// expires is true the credential is swept model.CredentialLifetime after
	// save; otherwise it never expires.
	Save(ctx context.Context, credType model.CredentialType, site, username string, password model.Secret, expires bool) error

	// Delete removes the credential for (credType, site). Deleting a missing
	// credential is not an error.
	Delete(ctx context.Context, credType model.CredentialType, site string) error

	// ListIdentities enumerates distinct (site, type) pairs without secrets.
	ListIdentities(ctx context.Context) []model.CredentialIdentity

	// Close releases the storage handle. Subsequent calls return ErrStoreClosed.
	Close() error
}
