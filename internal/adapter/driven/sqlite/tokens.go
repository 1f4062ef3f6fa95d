package sqlite

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// maxTokenName keeps token file names under common filesystem limits.
const maxTokenName = 200

// TokenStore persists one random install token per store file in an
// app-private directory. Tokens are created on first use and never rotated.
type TokenStore struct {
	mu  sync.Mutex
	dir string
}

// NewTokenStore returns a TokenStore rooted at dir.
func NewTokenStore(dir string) *TokenStore {
	return &TokenStore{dir: dir}
}

// InstallToken returns the token for the store file at storePath, generating
// and persisting a new UUID if none exists yet.
func (t *TokenStore) InstallToken(storePath string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	name, err := tokenName(storePath)
	if err != nil {
		return "", err
	}
	tokenPath := filepath.Join(t.dir, name)

	data, err := os.ReadFile(tokenPath)
	switch {
	case err == nil:
		token := strings.TrimSpace(string(data))
		if _, parseErr := uuid.Parse(token); parseErr == nil {
			return token, nil
		}
		// Unparseable tokens are replaced; the store they unlocked is unreadable anyway.
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("read install token: %w", err)
	}

	if err := os.MkdirAll(t.dir, 0o700); err != nil {
		return "", fmt.Errorf("create token dir: %w", err)
	}
	token := uuid.NewString()
	if err := os.WriteFile(tokenPath, []byte(token), 0o600); err != nil {
		return "", fmt.Errorf("write install token: %w", err)
	}
	return token, nil
}

// Passphrase returns the derived passphrase for the store file at storePath.
func (t *TokenStore) Passphrase(storePath, deviceID string) ([]byte, error) {
	token, err := t.InstallToken(storePath)
	if err != nil {
		return nil, err
	}
	return DerivePassphrase(token, deviceID), nil
}

// DerivePassphrase computes sha256(installToken || deviceID).
func DerivePassphrase(installToken, deviceID string) []byte {
	sum := sha256.Sum256([]byte(installToken + deviceID))
	return sum[:]
}

// tokenName encodes the store's absolute path into a file name. Paths whose
// encoding would be too long are hashed instead.
func tokenName(storePath string) (string, error) {
	abs, err := filepath.Abs(storePath)
	if err != nil {
		return "", fmt.Errorf("resolve store path: %w", err)
	}
	name := base64.RawURLEncoding.EncodeToString([]byte(abs))
	if len(name) > maxTokenName {
		sum := sha256.Sum256([]byte(abs))
		name = "h-" + hex.EncodeToString(sum[:])
	}
	return name, nil
}
