package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// allConfigKeys lists every TRUSTKIT_ env var that Load() reads.
var allConfigKeys = []string{
	"TRUSTKIT_DATA_DIR",
	"TRUSTKIT_TOKEN_DIR",
	"TRUSTKIT_DEVICE_ID",
	"TRUSTKIT_BUNDLED_ANCHORS_DIR",
	"TRUSTKIT_LOGIN_ATTEMPTS",
	"TRUSTKIT_BAD_ACCESS_CODES",
	"TRUSTKIT_TRUST_SYSTEM_FALLBACK",
	"TRUSTKIT_ACCEPT_UNANCHORED",
	"TRUSTKIT_CONNECT_TIMEOUT",
	"TRUSTKIT_LISTEN_ADDR",
	"TRUSTKIT_LOG_LEVEL",
}

// isolateConfigEnv saves and unsets all TRUSTKIT_ env vars so tests don't
// inherit values from the host environment (e.g. a running daemon).
// t.Cleanup restores original values after the test.
func isolateConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range allConfigKeys {
		if orig, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, orig) })
		} else {
			t.Cleanup(func() { os.Unsetenv(key) })
		}
		os.Unsetenv(key)
	}
}

func TestLoad_Success(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("TRUSTKIT_DATA_DIR", "/var/lib/trustkit")
	t.Setenv("TRUSTKIT_TOKEN_DIR", "/var/lib/trustkit-tokens")
	t.Setenv("TRUSTKIT_DEVICE_ID", " device-42 ")
	t.Setenv("TRUSTKIT_BUNDLED_ANCHORS_DIR", "/etc/trustkit/anchors")
	t.Setenv("TRUSTKIT_LOGIN_ATTEMPTS", "5")
	t.Setenv("TRUSTKIT_BAD_ACCESS_CODES", "401, 403,407")
	t.Setenv("TRUSTKIT_TRUST_SYSTEM_FALLBACK", "false")
	t.Setenv("TRUSTKIT_ACCEPT_UNANCHORED", "0")
	t.Setenv("TRUSTKIT_CONNECT_TIMEOUT", "5s")
	t.Setenv("TRUSTKIT_LISTEN_ADDR", "0.0.0.0:9090")
	t.Setenv("TRUSTKIT_LOG_LEVEL", "debug")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "/var/lib/trustkit", cfg.DataDir)
	assert.Equal(t, "/var/lib/trustkit-tokens", cfg.TokenDir)
	assert.Equal(t, "device-42", cfg.DeviceID)
	assert.Equal(t, "/etc/trustkit/anchors", cfg.BundledAnchorsDir)
	assert.Equal(t, 5, cfg.LoginAttempts)
	assert.Equal(t, []int{401, 403, 407}, cfg.BadAccessCodes)
	assert.False(t, cfg.TrustSystemFallback)
	assert.False(t, cfg.AcceptUnanchored)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, "0.0.0.0:9090", cfg.ListenAddr)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, filepath.Join("/var/lib/trustkit", "credentials.db"), cfg.CredentialsPath())
	assert.Equal(t, filepath.Join("/var/lib/trustkit", "certificates.db"), cfg.CertificatesPath())
}

func TestLoad_Defaults(t *testing.T) {
	isolateConfigEnv(t)

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, filepath.Join("data", ".tokens"), cfg.TokenDir)
	assert.Empty(t, cfg.DeviceID)
	assert.Empty(t, cfg.BundledAnchorsDir)
	assert.Equal(t, 3, cfg.LoginAttempts)
	assert.Equal(t, []int{401, 403}, cfg.BadAccessCodes)
	assert.True(t, cfg.TrustSystemFallback)
	assert.True(t, cfg.AcceptUnanchored)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

// TestLoad_TokenDirFollowsDataDir verifies the token dir default is derived
// from the data dir rather than the working directory.
func TestLoad_TokenDirFollowsDataDir(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("TRUSTKIT_DATA_DIR", "/srv/trust")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/srv/trust", ".tokens"), cfg.TokenDir)
}

func TestLoad_InvalidLoginAttempts(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("TRUSTKIT_LOGIN_ATTEMPTS", "0")

	cfg, err := Load()

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRUSTKIT_LOGIN_ATTEMPTS")
}

func TestLoad_InvalidBadAccessCodes(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("TRUSTKIT_BAD_ACCESS_CODES", "401,ok")

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRUSTKIT_BAD_ACCESS_CODES")
}

func TestLoad_BadAccessCodesOutOfRange(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("TRUSTKIT_BAD_ACCESS_CODES", "200")

	_, err := Load()

	require.Error(t, err)
}

func TestLoad_InvalidBool(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("TRUSTKIT_ACCEPT_UNANCHORED", "sometimes")

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRUSTKIT_ACCEPT_UNANCHORED")
}

func TestLoad_InvalidTimeout(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("TRUSTKIT_CONNECT_TIMEOUT", "notaduration")

	cfg, err := Load()

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRUSTKIT_CONNECT_TIMEOUT")
}

func TestLoad_NonPositiveTimeout(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("TRUSTKIT_CONNECT_TIMEOUT", "-1s")

	_, err := Load()

	require.Error(t, err)
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("TRUSTKIT_LOG_LEVEL", "chatty")

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRUSTKIT_LOG_LEVEL")
}
