package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ericfisherdev/trustkit/internal/domain/model"
	"github.com/ericfisherdev/trustkit/internal/domain/port/driven"
)

// Connector defaults.
const (
	DefaultLoginAttempts  = 3
	DefaultConnectTimeout = 30 * time.Second
)

// DefaultBadAccessCodes are the statuses treated as an authorization demand.
var DefaultBadAccessCodes = []int{http.StatusUnauthorized, http.StatusForbidden}

// ConnectOptions controls a single AuthConnector.Connect call. Zero values
// take the connector's defaults.
type ConnectOptions struct {
	Method string
	Header http.Header
	Body   []byte

	// LoginAttempts bounds the number of credential prompts.
	LoginAttempts int
	// BadAccessCodes are the statuses that mean "credentials needed or wrong".
	BadAccessCodes []int
	// IgnorePreviousFailure retries hosts already marked as failed.
	IgnorePreviousFailure bool
	// AllowAllHostnames disables TLS hostname verification.
	AllowAllHostnames bool
	// FreshSocketFactory bypasses the socket factory cache.
	FreshSocketFactory bool
	// Timeout bounds dialing, the TLS handshake and waiting for headers.
	Timeout time.Duration
}

func (o ConnectOptions) badAccess(code int) bool {
	return slices.Contains(o.BadAccessCodes, code)
}

// DomainState is the per-host authorization memory. Both flags are readable
// without the lock; the lock serializes the credential phase so one prompt
// sequence runs per host at a time.
type DomainState struct {
	mu                    sync.Mutex
	requiresAuthorization atomic.Bool
	authorizationFailed   atomic.Bool
	lastBadAccess         atomic.Int32
}

// RequiresAuthorization reports whether the host demanded credentials.
func (s *DomainState) RequiresAuthorization() bool { return s.requiresAuthorization.Load() }

// AuthorizationFailed reports whether the host rejected every credential.
func (s *DomainState) AuthorizationFailed() bool { return s.authorizationFailed.Load() }

// LastBadAccessStatus is the most recent bad-access status the host answered
// with, or 0 if it never demanded credentials.
func (s *DomainState) LastBadAccessStatus() int { return int(s.lastBadAccess.Load()) }

func (s *DomainState) recordBadAccess(code int) int {
	s.lastBadAccess.Store(int32(code))
	return code
}

// AuthConnector opens HTTP(S) connections, supplying Basic-Auth credentials
// when a host demands them. Credentials come from the secret store first and
// from the prompter after that; prompted credentials are persisted.
type AuthConnector struct {
	secrets  driven.SecretStore
	trust    *TrustAggregator
	prompter driven.CredentialPrompter
	defaults ConnectOptions
	logger   *slog.Logger

	mu      sync.Mutex
	domains map[string]*DomainState
}

// NewAuthConnector creates a connector. prompter may be nil, in which case
// hosts needing credentials that are not stored fail. defaults supplies
// LoginAttempts, BadAccessCodes and Timeout for calls that leave them unset.
func NewAuthConnector(
	secrets driven.SecretStore,
	trust *TrustAggregator,
	prompter driven.CredentialPrompter,
	defaults ConnectOptions,
	logger *slog.Logger,
) *AuthConnector {
	if logger == nil {
		logger = slog.Default()
	}
	if defaults.LoginAttempts <= 0 {
		defaults.LoginAttempts = DefaultLoginAttempts
	}
	if len(defaults.BadAccessCodes) == 0 {
		defaults.BadAccessCodes = DefaultBadAccessCodes
	}
	if defaults.Timeout <= 0 {
		defaults.Timeout = DefaultConnectTimeout
	}
	return &AuthConnector{
		secrets:  secrets,
		trust:    trust,
		prompter: prompter,
		defaults: defaults,
		logger:   logger,
		domains:  make(map[string]*DomainState),
	}
}

// DomainState returns the state for host, creating it on first use.
func (c *AuthConnector) DomainState(host string) *DomainState {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.domains[host]
	if !ok {
		s = &DomainState{}
		c.domains[host] = s
	}
	return s
}

// Connect performs a request to rawURL and returns the open response on a
// status below 400. The caller must close the response body.
//
// A host not yet known to need credentials is tried anonymously first. When it
// answers with a bad-access code, stored credentials for the host (or the
// default credential) are tried, then the prompter is asked up to
// LoginAttempts times. A host that exhausted its attempts fails immediately on
// later calls unless IgnorePreviousFailure is set.
func (c *AuthConnector) Connect(ctx context.Context, rawURL string, opts ConnectOptions) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("parse url: %q is not an absolute http(s) url", rawURL)
	}

	opts = c.withDefaults(opts)
	host := u.Hostname()
	state := c.DomainState(host)

	lastStatus := http.StatusUnauthorized
	if !state.RequiresAuthorization() {
		resp, err := c.attempt(ctx, u, opts, nil)
		if err == nil {
			return resp, nil
		}
		code := statusCode(err)
		if !opts.badAccess(code) {
			return nil, &AuthError{Host: host, StatusCode: code, Err: err}
		}
		state.requiresAuthorization.Store(true)
		lastStatus = state.recordBadAccess(code)
		c.logger.Info("host requires authorization", "host", host, "status", code)
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if code := state.LastBadAccessStatus(); code != 0 {
		lastStatus = code
	}

	if state.AuthorizationFailed() && !opts.IgnorePreviousFailure {
		return nil, &AuthError{
			Host:                host,
			StatusCode:          lastStatus,
			CredentialsRejected: true,
			Err:                 ErrAuthorizationFailed,
		}
	}

	if creds, ok := c.storedCredentials(ctx, host); ok {
		resp, err := c.attempt(ctx, u, opts, creds)
		if err == nil {
			state.authorizationFailed.Store(false)
			return resp, nil
		}
		code := statusCode(err)
		if !opts.badAccess(code) {
			state.requiresAuthorization.Store(false)
			return nil, &AuthError{Host: host, StatusCode: code, Err: err}
		}
		lastStatus = state.recordBadAccess(code)
		c.logger.Info("stored credentials rejected", "host", host, "status", code)
	}

	attempts := 0
	for attempts < opts.LoginAttempts && c.prompter != nil {
		creds, err := c.prompter.PromptCredentials(ctx, u, lastStatus)
		if err != nil {
			return nil, &AuthError{Host: host, StatusCode: lastStatus, Attempts: attempts, Err: fmt.Errorf("prompt credentials: %w", err)}
		}
		if creds == nil {
			c.logger.Info("credential prompt declined", "host", host)
			break
		}
		attempts++

		c.persist(ctx, host, creds)

		resp, err := c.attempt(ctx, u, opts, creds)
		if err == nil {
			state.authorizationFailed.Store(false)
			return resp, nil
		}
		code := statusCode(err)
		if !opts.badAccess(code) {
			state.authorizationFailed.Store(true)
			state.requiresAuthorization.Store(false)
			return nil, &AuthError{Host: host, StatusCode: code, Attempts: attempts, Err: err}
		}
		lastStatus = state.recordBadAccess(code)
	}

	state.authorizationFailed.Store(true)
	c.logger.Warn("authorization failed", "host", host, "attempts", attempts, "status", lastStatus)
	return nil, &AuthError{
		Host:                host,
		StatusCode:          lastStatus,
		Attempts:            attempts,
		CredentialsRejected: true,
		Err:                 ErrAuthorizationFailed,
	}
}

func (c *AuthConnector) persist(ctx context.Context, host string, creds *model.BasicAuth) {
	if c.secrets == nil {
		return
	}
	if err := c.secrets.Save(ctx, model.CredentialHTTPBasicAuth, host, creds.Username, creds.Password, false); err != nil {
		c.logger.Warn("failed to persist credentials", "host", host, "error", err)
	}
}

func (c *AuthConnector) withDefaults(opts ConnectOptions) ConnectOptions {
	if opts.Method == "" {
		opts.Method = http.MethodGet
	}
	if opts.LoginAttempts <= 0 {
		opts.LoginAttempts = c.defaults.LoginAttempts
	}
	if len(opts.BadAccessCodes) == 0 {
		opts.BadAccessCodes = c.defaults.BadAccessCodes
	}
	if opts.Timeout <= 0 {
		opts.Timeout = c.defaults.Timeout
	}
	return opts
}

// storedCredentials returns the host's Basic-Auth credential, falling back to
// the default one.
func (c *AuthConnector) storedCredentials(ctx context.Context, host string) (*model.BasicAuth, bool) {
	if c.secrets == nil {
		return nil, false
	}
	cred, ok := c.secrets.Get(ctx, model.CredentialHTTPBasicAuth, host)
	if !ok {
		cred, ok = c.secrets.GetDefault(ctx, model.CredentialHTTPBasicAuth)
	}
	if !ok {
		return nil, false
	}
	return &model.BasicAuth{Username: cred.Username, Password: cred.Password}, true
}

// httpClient builds a client whose transport dials fresh connections. HTTPS
// uses the socket factory current at the time of the call.
func (c *AuthConnector) httpClient(ctx context.Context, u *url.URL, opts ConnectOptions) *http.Client {
	dialer := &net.Dialer{Timeout: opts.Timeout}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   opts.Timeout,
		ResponseHeaderTimeout: opts.Timeout,
		DisableKeepAlives:     true,
	}
	if u.Scheme == "https" && c.trust != nil {
		f := c.trust.SocketFactory(ctx, u.Hostname(), opts.AllowAllHostnames, !opts.FreshSocketFactory)
		transport.TLSClientConfig = f.TLSConfig()
	}
	return &http.Client{Transport: transport}
}

// attempt sends one request on a fresh client. Statuses of 400 and above close
// the body and are returned as *StatusError.
func (c *AuthConnector) attempt(ctx context.Context, u *url.URL, opts ConnectOptions, creds *model.BasicAuth) (*http.Response, error) {
	var body io.Reader
	if opts.Body != nil {
		body = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(ctx, opts.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if creds != nil {
		req.SetBasicAuth(creds.Username, creds.Password.Reveal())
	}

	resp, err := c.httpClient(ctx, u, opts).Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	return resp, nil
}

// IsAuthorizationFailure reports whether err is a terminal credential failure.
func IsAuthorizationFailure(err error) bool {
	return errors.Is(err, ErrAuthorizationFailed)
}
