package sqlite

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/ericfisherdev/trustkit/internal/domain/port/driven"
)

// ErrPassphraseMismatch is returned by OpenDB when the store file was created
// with a different passphrase.
var ErrPassphraseMismatch = errors.New("store passphrase mismatch")

const (
	keycheckPlaintext = "trustkit-keycheck-v1"
	saltSize          = 16
)

// DB is a single-connection SQLite handle whose sensitive columns are sealed
// with a key derived from the store passphrase. The connection is not safe for
// concurrent use; repos serialize access with their own mutex.
type DB struct {
	conn   *sql.DB
	sealer *sealer
	path   string
}

// OpenDB opens or creates the SQLite file at dbPath, applies the named
// embedded migration set, and unlocks the sealing key with passphrase.
func OpenDB(ctx context.Context, dbPath string, passphrase []byte, schema string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath,
	)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping %s: %w", dbPath, err)
	}

	if err := RunMigrations(conn, schema); err != nil {
		_ = conn.Close()
		return nil, err
	}

	s, err := unlock(ctx, conn, passphrase)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &DB{conn: conn, sealer: s, path: dbPath}, nil
}

// unlock derives the sealing key from the passphrase and the per-file salt.
// A fresh file gets a new salt and key check; an existing file must open its
// key check with the derived key.
func unlock(ctx context.Context, conn *sql.DB, passphrase []byte) (*sealer, error) {
	var saltHex, check string
	err := conn.QueryRowContext(ctx, `SELECT salt, keycheck FROM store_meta WHERE id = 1`).Scan(&saltHex, &check)
	if errors.Is(err, sql.ErrNoRows) {
		salt := make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("rand salt: %w", err)
		}
		s, err := newSealer(passphrase, salt)
		if err != nil {
			return nil, err
		}
		sealed, err := s.seal([]byte(keycheckPlaintext))
		if err != nil {
			return nil, err
		}
		const insert = `INSERT INTO store_meta (id, salt, keycheck) VALUES (1, ?, ?)`
		if _, err := conn.ExecContext(ctx, insert, hex.EncodeToString(salt), sealed); err != nil {
			return nil, fmt.Errorf("write store meta: %w", err)
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store meta: %w", err)
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	s, err := newSealer(passphrase, salt)
	if err != nil {
		return nil, err
	}
	plain, err := s.open(check)
	if err != nil || string(plain) != keycheckPlaintext {
		return nil, ErrPassphraseMismatch
	}
	return s, nil
}

// openWithRecovery opens the store once and, on failure, destroys the file and
// tries exactly one more time. A second failure is reported as
// driven.ErrStoreUnavailable. A cancelled or expired ctx never destroys the file.
func openWithRecovery(ctx context.Context, dbPath string, passphrase []byte, schema string, logger *slog.Logger) (*DB, error) {
	db, err := OpenDB(ctx, dbPath, passphrase, schema)
	if err == nil {
		return db, nil
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: open %s: %w", driven.ErrStoreUnavailable, dbPath, err)
	}

	logger.Warn("store open failed, recreating store file", "path", dbPath, "error", err)
	if rmErr := destroyFiles(dbPath); rmErr != nil {
		return nil, fmt.Errorf("%w: destroy %s: %w", driven.ErrStoreUnavailable, dbPath, rmErr)
	}

	db, err = OpenDB(ctx, dbPath, passphrase, schema)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", driven.ErrStoreUnavailable, dbPath, err)
	}
	logger.Info("store file recreated", "path", dbPath)
	return db, nil
}

// destroyFiles removes the database file and its WAL sidecars.
func destroyFiles(dbPath string) error {
	for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// ExecContext executes a statement on the underlying connection.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.conn.ExecContext(ctx, query, args...)
}

// QueryContext runs a query on the underlying connection.
func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.conn.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query on the underlying connection.
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.conn.QueryRowContext(ctx, query, args...)
}

// BeginTx starts a transaction on the underlying connection.
func (db *DB) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return db.conn.BeginTx(ctx, nil)
}

// Seal encrypts plaintext for storage.
func (db *DB) Seal(plaintext []byte) (string, error) {
	return db.sealer.seal(plaintext)
}

// Unseal decrypts a value produced by Seal.
func (db *DB) Unseal(encoded string) ([]byte, error) {
	return db.sealer.open(encoded)
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("close %s: %w", db.path, err)
	}
	return nil
}
