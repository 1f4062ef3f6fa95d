// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Store file names inside DataDir.
const (
	CredentialsFile  = "credentials.db"
	CertificatesFile = "certificates.db"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	DataDir             string
	TokenDir            string
	DeviceID            string
	BundledAnchorsDir   string
	LoginAttempts       int
	BadAccessCodes      []int
	TrustSystemFallback bool
	AcceptUnanchored    bool
	ConnectTimeout      time.Duration
	ListenAddr          string
	LogLevel            slog.Level
}

// CredentialsPath returns the SecretStore file path.
func (c *Config) CredentialsPath() string {
	return filepath.Join(c.DataDir, CredentialsFile)
}

// CertificatesPath returns the CertificateStore file path.
func (c *Config) CertificatesPath() string {
	return filepath.Join(c.DataDir, CertificatesFile)
}

// Load reads configuration from environment variables and returns a validated Config.
// Every variable is optional. Defaults: TRUSTKIT_DATA_DIR (data), TRUSTKIT_TOKEN_DIR
// (<data dir>/.tokens), TRUSTKIT_LOGIN_ATTEMPTS (3), TRUSTKIT_BAD_ACCESS_CODES (401,403),
// TRUSTKIT_TRUST_SYSTEM_FALLBACK (true), TRUSTKIT_ACCEPT_UNANCHORED (true),
// TRUSTKIT_CONNECT_TIMEOUT (30s), TRUSTKIT_LISTEN_ADDR (127.0.0.1:8080),
// TRUSTKIT_LOG_LEVEL (info). An empty TRUSTKIT_DEVICE_ID means the host machine id is used.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:             "data",
		DeviceID:            strings.TrimSpace(os.Getenv("TRUSTKIT_DEVICE_ID")),
		BundledAnchorsDir:   os.Getenv("TRUSTKIT_BUNDLED_ANCHORS_DIR"),
		LoginAttempts:       3,
		BadAccessCodes:      []int{401, 403},
		TrustSystemFallback: true,
		AcceptUnanchored:    true,
		ConnectTimeout:      30 * time.Second,
		ListenAddr:          "127.0.0.1:8080",
		LogLevel:            slog.LevelInfo,
	}

	if v, ok := os.LookupEnv("TRUSTKIT_DATA_DIR"); ok && v != "" {
		cfg.DataDir = v
	}

	cfg.TokenDir = filepath.Join(cfg.DataDir, ".tokens")
	if v, ok := os.LookupEnv("TRUSTKIT_TOKEN_DIR"); ok && v != "" {
		cfg.TokenDir = v
	}

	if v, ok := os.LookupEnv("TRUSTKIT_LOGIN_ATTEMPTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("TRUSTKIT_LOGIN_ATTEMPTS must be a positive integer, got %q", v)
		}
		cfg.LoginAttempts = n
	}

	if v, ok := os.LookupEnv("TRUSTKIT_BAD_ACCESS_CODES"); ok {
		codes, err := parseStatusCodes(v)
		if err != nil {
			return nil, fmt.Errorf("TRUSTKIT_BAD_ACCESS_CODES: %w", err)
		}
		cfg.BadAccessCodes = codes
	}

	var err error
	if cfg.TrustSystemFallback, err = boolEnv("TRUSTKIT_TRUST_SYSTEM_FALLBACK", cfg.TrustSystemFallback); err != nil {
		return nil, err
	}
	if cfg.AcceptUnanchored, err = boolEnv("TRUSTKIT_ACCEPT_UNANCHORED", cfg.AcceptUnanchored); err != nil {
		return nil, err
	}

	if v, ok := os.LookupEnv("TRUSTKIT_CONNECT_TIMEOUT"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("TRUSTKIT_CONNECT_TIMEOUT has invalid duration %q: %w", v, err)
		}
		if parsed <= 0 {
			return nil, fmt.Errorf("TRUSTKIT_CONNECT_TIMEOUT must be positive, got %s", parsed)
		}
		cfg.ConnectTimeout = parsed
	}

	if v, ok := os.LookupEnv("TRUSTKIT_LISTEN_ADDR"); ok && v != "" {
		cfg.ListenAddr = v
	}

	if v, ok := os.LookupEnv("TRUSTKIT_LOG_LEVEL"); ok && v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("TRUSTKIT_LOG_LEVEL has invalid level %q: %w", v, err)
		}
	}

	return cfg, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s has invalid boolean %q: %w", key, v, err)
	}
	return b, nil
}

func parseStatusCodes(v string) ([]int, error) {
	var codes []int
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		code, err := strconv.Atoi(part)
		if err != nil || code < 400 || code > 599 {
			return nil, fmt.Errorf("invalid status code %q", part)
		}
		codes = append(codes, code)
	}
	if len(codes) == 0 {
		return nil, fmt.Errorf("no status codes in %q", v)
	}
	return codes, nil
}
