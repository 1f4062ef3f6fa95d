package sqlite

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const testDeviceID = "test-device"

func TestMain(m *testing.M) {
	// Full-strength key derivation makes every open take noticeable time.
	kdfIterations = 1000
	os.Exit(m.Run())
}

// testStore describes a store file and its token directory under t.TempDir().
type testStore struct {
	path   string
	tokens *TokenStore
	logs   *bytes.Buffer
	logger *slog.Logger
}

func newTestStore(t *testing.T, file string) testStore {
	t.Helper()
	dir := t.TempDir()
	logs := &bytes.Buffer{}
	return testStore{
		path:   filepath.Join(dir, file),
		tokens: NewTokenStore(filepath.Join(dir, ".tokens")),
		logs:   logs,
		logger: slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}
}

// openSecrets opens (or reopens) the credentials store and closes it at cleanup.
func (s testStore) openSecrets(t *testing.T, deviceID string) *SecretRepo {
	t.Helper()
	repo, err := OpenSecretRepo(context.Background(), s.path, s.tokens, deviceID, s.logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

// openCertificates opens (or reopens) the certificate store and closes it at cleanup.
func (s testStore) openCertificates(t *testing.T, deviceID string) *CertificateRepo {
	t.Helper()
	repo, err := OpenCertificateRepo(context.Background(), s.path, s.tokens, deviceID, s.logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

// recordingListener records trust notifications. onRefresh, when set, runs
// inside Refresh so tests can read back from a store during notification.
type recordingListener struct {
	mu          sync.Mutex
	refreshes   int
	invalidated []string
	onRefresh   func(ctx context.Context)
}

func (l *recordingListener) Refresh(ctx context.Context) error {
	if l.onRefresh != nil {
		l.onRefresh(ctx)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refreshes++
	return nil
}

func (l *recordingListener) Invalidate(host string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.invalidated = append(l.invalidated, host)
}

func (l *recordingListener) snapshot() (int, []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refreshes, append([]string(nil), l.invalidated...)
}
