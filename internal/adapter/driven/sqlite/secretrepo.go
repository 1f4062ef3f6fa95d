package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ericfisherdev/trustkit/internal/domain/model"
	"github.com/ericfisherdev/trustkit/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SecretStore = (*SecretRepo)(nil)

// SecretRepo is the SQLite implementation of the SecretStore port interface.
// Usernames and passwords are sealed before write and unsealed after read;
// type, site and expiry stay in the clear so they can be matched and swept.
type SecretRepo struct {
	mu       sync.Mutex
	db       *DB // nil once closed
	listener driven.TrustListener
	logger   *slog.Logger
	now      func() time.Time
}

// OpenSecretRepo opens the credentials store at path with a passphrase
// derived from its install token and deviceID, then sweeps expired rows.
func OpenSecretRepo(ctx context.Context, path string, tokens *TokenStore, deviceID string, logger *slog.Logger) (*SecretRepo, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("store", "secrets")

	passphrase, err := tokens.Passphrase(path, deviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", driven.ErrStoreUnavailable, err)
	}

	db, err := openWithRecovery(ctx, path, passphrase, credentialsSchema, logger)
	if err != nil {
		return nil, err
	}

	r := &SecretRepo{db: db, logger: logger, now: time.Now}
	r.sweepExpired(ctx)
	return r, nil
}

// SetTrustListener registers the listener notified after CA and client
// certificate passphrases change.
func (r *SecretRepo) SetTrustListener(l driven.TrustListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listener = l
}

// Get returns the credential stored under exactly (credType, site).
func (r *SecretRepo) Get(ctx context.Context, credType model.CredentialType, site string) (model.Credential, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db == nil {
		r.logger.Warn("credential lookup on closed store", "type", credType, "site", site)
		return model.Credential{}, false
	}

	cred, err := r.lookup(ctx, credType, site)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Credential{}, false
	}
	if err != nil {
		r.logger.Error("get credential failed", "type", credType, "site", site, "error", err)
		return model.Credential{}, false
	}
	return cred, true
}

// GetDefault returns the type-wide default credential.
func (r *SecretRepo) GetDefault(ctx context.Context, credType model.CredentialType) (model.Credential, bool) {
	return r.Get(ctx, credType, string(credType))
}

func (r *SecretRepo) lookup(ctx context.Context, credType model.CredentialType, site string) (model.Credential, error) {
	const query = `
		SELECT username, password, expires
		FROM credentials
		WHERE type = ? AND site = ? AND password IS NOT NULL
		LIMIT 1
	`

	var sealedUser, sealedPass string
	var expires sql.NullInt64
	err := r.db.QueryRowContext(ctx, query, string(credType), site).Scan(&sealedUser, &sealedPass, &expires)
	if err != nil {
		return model.Credential{}, err
	}

	username, err := r.db.Unseal(sealedUser)
	if err != nil {
		return model.Credential{}, fmt.Errorf("unseal username: %w", err)
	}
	password, err := r.db.Unseal(sealedPass)
	if err != nil {
		return model.Credential{}, fmt.Errorf("unseal password: %w", err)
	}

	cred := model.Credential{
		Type:      credType,
		Site:      site,
		Username:  string(username),
		Password:  model.Secret(password),
		ExpiresAt: model.NeverExpires,
	}
	if expires.Valid {
		cred.ExpiresAt = expires.Int64
	}
	return cred, nil
}

// Save inserts or overwrites the credential for (credType, site).
func (r *SecretRepo) Save(ctx context.Context, credType model.CredentialType, site, username string, password model.Secret, expires bool) error {
	listener, err := r.save(ctx, credType, site, username, password, expires)
	if err != nil {
		r.logger.Error("save credential failed", "type", credType, "site", site, "error", err)
		return err
	}
	r.notify(ctx, listener, credType, site)
	return nil
}

func (r *SecretRepo) save(ctx context.Context, credType model.CredentialType, site, username string, password model.Secret, expires bool) (driven.TrustListener, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db == nil {
		return nil, driven.ErrStoreClosed
	}

	expiresAt := model.NeverExpires
	if expires {
		expiresAt = r.now().Add(model.CredentialLifetime).UnixMilli()
	}

	sealedUser, err := r.db.Seal([]byte(username))
	if err != nil {
		return nil, err
	}
	sealedPass, err := r.db.Seal([]byte(password.Reveal()))
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin save credential: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const update = `
		UPDATE credentials SET username = ?, password = ?, expires = ?
		WHERE type = ? AND site = ? AND password IS NOT NULL
	`
	res, err := tx.ExecContext(ctx, update, sealedUser, sealedPass, expiresAt, string(credType), site)
	if err != nil {
		return nil, fmt.Errorf("update credential %s/%s: %w", credType, site, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update credential %s/%s: %w", credType, site, err)
	}

	if n == 0 {
		const insert = `
			INSERT INTO credentials (type, site, username, password, expires)
			VALUES (?, ?, ?, ?, ?)
		`
		if _, err := tx.ExecContext(ctx, insert, string(credType), site, sealedUser, sealedPass, expiresAt); err != nil {
			return nil, fmt.Errorf("insert credential %s/%s: %w", credType, site, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit credential %s/%s: %w", credType, site, err)
	}
	return r.listener, nil
}

// Delete removes the credential for (credType, site).
func (r *SecretRepo) Delete(ctx context.Context, credType model.CredentialType, site string) error {
	listener, err := r.delete(ctx, credType, site)
	if err != nil {
		r.logger.Error("delete credential failed", "type", credType, "site", site, "error", err)
		return err
	}
	r.notify(ctx, listener, credType, site)
	return nil
}

func (r *SecretRepo) delete(ctx context.Context, credType model.CredentialType, site string) (driven.TrustListener, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db == nil {
		return nil, driven.ErrStoreClosed
	}

	const query = `DELETE FROM credentials WHERE type = ? AND site = ?`
	if _, err := r.db.ExecContext(ctx, query, string(credType), site); err != nil {
		return nil, fmt.Errorf("delete credential %s/%s: %w", credType, site, err)
	}
	return r.listener, nil
}

// ListIdentities enumerates distinct (site, type) pairs.
func (r *SecretRepo) ListIdentities(ctx context.Context) []model.CredentialIdentity {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db == nil {
		r.logger.Warn("identity listing on closed store")
		return []model.CredentialIdentity{}
	}

	const query = `SELECT DISTINCT site, type FROM credentials ORDER BY type, site`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		r.logger.Error("list identities failed", "error", err)
		return []model.CredentialIdentity{}
	}
	defer rows.Close()

	ids := []model.CredentialIdentity{}
	for rows.Next() {
		var site, credType sql.NullString
		if err := rows.Scan(&site, &credType); err != nil {
			r.logger.Error("scan identity failed", "error", err)
			return []model.CredentialIdentity{}
		}
		ids = append(ids, model.CredentialIdentity{Site: site.String, Type: model.CredentialType(credType.String)})
	}
	if err := rows.Err(); err != nil {
		r.logger.Error("iterate identities failed", "error", err)
		return []model.CredentialIdentity{}
	}
	return ids
}

// Close releases the storage handle. It is safe to call more than once.
func (r *SecretRepo) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// sweepExpired deletes every credential whose expiry has passed. Failures are
// logged; an unswept row is retried at the next open.
func (r *SecretRepo) sweepExpired(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	const query = `DELETE FROM credentials WHERE expires > 0 AND expires <= ?`
	res, err := r.db.ExecContext(ctx, query, r.now().UnixMilli())
	if err != nil {
		r.logger.Error("sweep expired credentials failed", "error", err)
		return
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		r.logger.Info("swept expired credentials", "count", n)
	}
}

// notify runs outside the store mutex because listeners read back from this store.
func (r *SecretRepo) notify(ctx context.Context, listener driven.TrustListener, credType model.CredentialType, site string) {
	if listener == nil {
		return
	}

	switch {
	case credType.IsCAPassphrase():
		// The write has committed; the refresh must not be abandoned with the caller.
		if err := listener.Refresh(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn("trust refresh after passphrase change failed", "type", credType, "error", err)
		}
	case credType.IsClientCertPassphrase():
		host := site
		if site == string(credType) {
			host = ""
		}
		listener.Invalidate(host)
	}
}
