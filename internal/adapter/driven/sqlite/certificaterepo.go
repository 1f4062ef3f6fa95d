package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ericfisherdev/trustkit/internal/adapter/driven/keystore"
	"github.com/ericfisherdev/trustkit/internal/domain/model"
	"github.com/ericfisherdev/trustkit/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CertificateStore = (*CertificateRepo)(nil)

// CertificateRepo is the SQLite implementation of the CertificateStore port
// interface. Payloads are sealed at rest and stored next to the sha256 of
// their plaintext, which is re-checked on every read.
type CertificateRepo struct {
	mu       sync.Mutex
	db       *DB // nil once closed
	listener driven.TrustListener
	logger   *slog.Logger
	now      func() time.Time
}

// OpenCertificateRepo opens the certificates store at path. It derives its
// own passphrase from the install token of path, so it never shares key
// material with the secret store.
func OpenCertificateRepo(ctx context.Context, path string, tokens *TokenStore, deviceID string, logger *slog.Logger) (*CertificateRepo, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("store", "certificates")

	passphrase, err := tokens.Passphrase(path, deviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", driven.ErrStoreUnavailable, err)
	}

	db, err := openWithRecovery(ctx, path, passphrase, certificatesSchema, logger)
	if err != nil {
		return nil, err
	}

	return &CertificateRepo{db: db, logger: logger, now: time.Now}, nil
}

// SetTrustListener registers the listener notified after anchor-bearing or
// client certificates change.
func (r *CertificateRepo) SetTrustListener(l driven.TrustListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listener = l
}

// Get returns the verified default-slot payload for certType.
func (r *CertificateRepo) Get(ctx context.Context, certType model.CertificateType) ([]byte, bool) {
	return r.get(ctx, certType, "")
}

// GetForServer returns the verified payload stored for certType and server.
func (r *CertificateRepo) GetForServer(ctx context.Context, certType model.CertificateType, server string) ([]byte, bool) {
	return r.get(ctx, certType, server)
}

func (r *CertificateRepo) get(ctx context.Context, certType model.CertificateType, server string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db == nil {
		r.logger.Warn("certificate lookup on closed store", "type", certType, "server", server)
		return nil, false
	}

	const query = `
		SELECT payload, hash
		FROM certificates
		WHERE type = ? AND server IS ?
		LIMIT 1
	`

	var sealed, hash string
	err := r.db.QueryRowContext(ctx, query, string(certType), nullable(server)).Scan(&sealed, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		r.logger.Error("get certificate failed", "type", certType, "server", server, "error", err)
		return nil, false
	}

	payload, err := r.db.Unseal(sealed)
	if err != nil {
		r.integrityViolation(certType, server, err)
		return nil, false
	}

	rec := model.CertificateRecord{Type: certType, Server: server, Payload: payload, Hash: hash}
	if !rec.Verify() {
		r.integrityViolation(certType, server, model.ErrIntegrityViolation)
		return nil, false
	}
	return rec.Payload, true
}

func (r *CertificateRepo) integrityViolation(certType model.CertificateType, server string, cause error) {
	r.logger.Error("stored certificate failed integrity check",
		"event", "integrity_violation",
		"type", certType,
		"server", server,
		"error", cause,
	)
}

// Save stores payload in the default slot for certType.
func (r *CertificateRepo) Save(ctx context.Context, certType model.CertificateType, payload []byte) error {
	return r.SaveForServer(ctx, certType, "", payload)
}

// SaveForServer stores payload in the server slot for certType. An empty
// server addresses the default slot.
func (r *CertificateRepo) SaveForServer(ctx context.Context, certType model.CertificateType, server string, payload []byte) error {
	listener, err := r.save(ctx, certType, server, payload)
	if err != nil {
		r.logger.Error("save certificate failed", "type", certType, "server", server, "error", err)
		return err
	}
	r.notify(ctx, listener, certType, server)
	return nil
}

func (r *CertificateRepo) save(ctx context.Context, certType model.CertificateType, server string, payload []byte) (driven.TrustListener, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db == nil {
		return nil, driven.ErrStoreClosed
	}

	hash := model.PayloadHash(payload)
	sealed, err := r.db.Seal(payload)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin save certificate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const update = `UPDATE certificates SET payload = ?, hash = ? WHERE type = ? AND server IS ?`
	res, err := tx.ExecContext(ctx, update, sealed, hash, string(certType), nullable(server))
	if err != nil {
		return nil, fmt.Errorf("update certificate %s: %w", certType, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update certificate %s: %w", certType, err)
	}

	if n == 0 {
		const insert = `INSERT INTO certificates (type, server, payload, hash) VALUES (?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, insert, string(certType), nullable(server), sealed, hash); err != nil {
			return nil, fmt.Errorf("insert certificate %s: %w", certType, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit certificate %s: %w", certType, err)
	}
	return r.listener, nil
}

// Delete removes the default-slot record for certType.
func (r *CertificateRepo) Delete(ctx context.Context, certType model.CertificateType) error {
	return r.DeleteForServer(ctx, certType, "")
}

// DeleteForServer removes the server-slot record for certType.
func (r *CertificateRepo) DeleteForServer(ctx context.Context, certType model.CertificateType, server string) error {
	listener, err := r.delete(ctx, certType, server)
	if err != nil {
		r.logger.Error("delete certificate failed", "type", certType, "server", server, "error", err)
		return err
	}
	r.notify(ctx, listener, certType, server)
	return nil
}

func (r *CertificateRepo) delete(ctx context.Context, certType model.CertificateType, server string) (driven.TrustListener, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db == nil {
		return nil, driven.ErrStoreClosed
	}

	const query = `DELETE FROM certificates WHERE type = ? AND server IS ?`
	if _, err := r.db.ExecContext(ctx, query, string(certType), nullable(server)); err != nil {
		return nil, fmt.Errorf("delete certificate %s: %w", certType, err)
	}
	return r.listener, nil
}

// ListServers enumerates the server slots holding a record of certType.
func (r *CertificateRepo) ListServers(ctx context.Context, certType model.CertificateType) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db == nil {
		r.logger.Warn("server listing on closed store", "type", certType)
		return []string{}
	}

	const query = `
		SELECT DISTINCT server FROM certificates
		WHERE type = ? AND server IS NOT NULL
		ORDER BY server
	`
	rows, err := r.db.QueryContext(ctx, query, string(certType))
	if err != nil {
		r.logger.Error("list certificate servers failed", "type", certType, "error", err)
		return []string{}
	}
	defer rows.Close()

	servers := []string{}
	for rows.Next() {
		var server string
		if err := rows.Scan(&server); err != nil {
			r.logger.Error("scan certificate server failed", "type", certType, "error", err)
			return []string{}
		}
		servers = append(servers, server)
	}
	if err := rows.Err(); err != nil {
		r.logger.Error("iterate certificate servers failed", "type", certType, "error", err)
		return []string{}
	}
	return servers
}

// ImportFromFile reads path, stores it under (certType[, server]) and returns
// the bytes read.
func (r *CertificateRepo) ImportFromFile(ctx context.Context, path, server string, certType model.CertificateType, deleteSource bool) ([]byte, bool) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		r.logger.Warn("certificate import source missing", "path", path)
		return nil, false
	}
	if err != nil {
		r.logger.Error("read certificate import source failed", "path", path, "error", err)
		return nil, false
	}

	if err := r.SaveForServer(ctx, certType, server, data); err != nil {
		return nil, false
	}

	if deleteSource {
		if err := os.Remove(path); err != nil {
			r.logger.Warn("delete certificate import source failed", "path", path, "error", err)
		}
	}

	r.logger.Info("certificate imported", "type", certType, "server", server, "bytes", len(data))
	return data, true
}

// CheckValidity opens payload with passphrase and classifies the validity of
// its first certificate.
func (r *CertificateRepo) CheckValidity(payload []byte, passphrase model.Secret) model.CertificateValidity {
	return keystore.CheckValidity(payload, passphrase.Reveal(), r.now())
}

// Close releases the storage handle. It is safe to call more than once.
func (r *CertificateRepo) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// notify runs outside the store mutex because listeners read back from this store.
func (r *CertificateRepo) notify(ctx context.Context, listener driven.TrustListener, certType model.CertificateType, server string) {
	if listener == nil {
		return
	}

	switch {
	case certType.IsCAAnchor():
		// The write has committed; the refresh must not be abandoned with the caller.
		if err := listener.Refresh(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn("trust refresh after certificate change failed", "type", certType, "error", err)
		}
	case certType == model.CertificateClient:
		listener.Invalidate(server)
	}
}

// nullable maps the default slot to SQL NULL.
func nullable(server string) any {
	if server == "" {
		return nil
	}
	return server
}
