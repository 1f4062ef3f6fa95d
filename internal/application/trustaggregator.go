package application

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/ericfisherdev/trustkit/internal/domain/model"
	"github.com/ericfisherdev/trustkit/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.TrustListener = (*TrustAggregator)(nil)

// TrustAggregator merges bundled anchors, runtime-added anchors and CA
// containers from the certificate store into a single TrustManager, and caches
// one SocketFactory per server. Every rebuild replaces the TrustManager and
// clears the factory cache.
type TrustAggregator struct {
	mu          sync.Mutex
	certs       driven.CertificateStore
	secrets     driven.SecretStore
	decoder     driven.ContainerDecoder
	policy      driven.TrustPolicy
	logger      *slog.Logger
	bundled     []*x509.Certificate
	runtime     []*x509.Certificate
	current     *TrustManager
	factories   map[string]*SocketFactory
	systemRoots func() (*x509.CertPool, error)
	now         func() time.Time
}

// NewTrustAggregator creates an aggregator whose initial TrustManager holds
// only the bundled anchors. Call Refresh to fold in stored containers.
func NewTrustAggregator(
	certs driven.CertificateStore,
	secrets driven.SecretStore,
	decoder driven.ContainerDecoder,
	policy driven.TrustPolicy,
	bundled []*x509.Certificate,
	logger *slog.Logger,
) *TrustAggregator {
	if logger == nil {
		logger = slog.Default()
	}
	a := &TrustAggregator{
		certs:       certs,
		secrets:     secrets,
		decoder:     decoder,
		policy:      policy,
		logger:      logger,
		bundled:     dedupe(nil, bundled),
		factories:   make(map[string]*SocketFactory),
		systemRoots: x509.SystemCertPool,
		now:         time.Now,
	}
	a.current = newTrustManager(1, a.bundled, policy, a.systemRoots, a.now)
	return a
}

// TrustManager returns the current snapshot.
func (a *TrustAggregator) TrustManager() *TrustManager {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// AddAnchor adds cert to the runtime anchor set and rebuilds. Adding an anchor
// that is already present still rebuilds.
func (a *TrustAggregator) AddAnchor(ctx context.Context, cert *x509.Certificate) error {
	if cert == nil {
		return errors.New("add anchor: nil certificate")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !containsCert(a.runtime, cert) {
		a.runtime = append(a.runtime, cert)
	}
	return a.rebuildLocked(ctx)
}

// RemoveAnchor removes cert from the runtime anchor set and rebuilds. Bundled
// and stored anchors are unaffected.
func (a *TrustAggregator) RemoveAnchor(ctx context.Context, cert *x509.Certificate) error {
	if cert == nil {
		return errors.New("remove anchor: nil certificate")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	kept := a.runtime[:0]
	for _, c := range a.runtime {
		if !c.Equal(cert) {
			kept = append(kept, c)
		}
	}
	clear(a.runtime[len(kept):])
	a.runtime = kept
	return a.rebuildLocked(ctx)
}

// Refresh rebuilds the TrustManager from all anchor sources and clears the
// factory cache. Containers that cannot be opened are skipped.
func (a *TrustAggregator) Refresh(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rebuildLocked(ctx)
}

// Invalidate evicts cached factories whose key contains host. An empty host
// evicts every factory.
func (a *TrustAggregator) Invalidate(host string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	evicted := 0
	for key := range a.factories {
		if host == "" || strings.Contains(key, host) {
			delete(a.factories, key)
			evicted++
		}
	}
	if evicted > 0 {
		a.logger.Debug("socket factories invalidated", "host", host, "evicted", evicted)
	}
}

// SocketFactory returns a factory for server bound to the current
// TrustManager. With useCache a cached factory is reused when one exists;
// either way the returned factory replaces the cache entry.
func (a *TrustAggregator) SocketFactory(ctx context.Context, server string, allowAllHostnames, useCache bool) *SocketFactory {
	key := factoryKey(server, allowAllHostnames)

	a.mu.Lock()
	defer a.mu.Unlock()

	if useCache {
		if f, ok := a.factories[key]; ok {
			return f
		}
	}

	f := a.newSocketFactory(ctx, server, allowAllHostnames)
	a.factories[key] = f
	return f
}

func (a *TrustAggregator) rebuildLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	anchors := dedupe(nil, a.bundled)
	anchors = dedupe(anchors, a.runtime)
	anchors = dedupe(anchors, a.storedAnchors(ctx))

	generation := a.current.Generation() + 1
	a.current = newTrustManager(generation, anchors, a.policy, a.systemRoots, a.now)
	clear(a.factories)

	a.logger.Info("trust anchors rebuilt",
		"generation", generation,
		"anchors", len(anchors),
		"bundled", len(a.bundled),
		"runtime", len(a.runtime),
	)
	return nil
}

// storedAnchors decrypts every CA container in the certificate store, the
// default slot and each server slot, using the matching passphrase.
func (a *TrustAggregator) storedAnchors(ctx context.Context) []*x509.Certificate {
	if a.certs == nil {
		return nil
	}

	var out []*x509.Certificate
	for _, certType := range model.CAAnchorTypes() {
		if payload, ok := a.certs.Get(ctx, certType); ok {
			out = append(out, a.openContainer(ctx, certType, "", payload)...)
		}
		for _, server := range a.certs.ListServers(ctx, certType) {
			payload, ok := a.certs.GetForServer(ctx, certType, server)
			if !ok {
				continue
			}
			out = append(out, a.openContainer(ctx, certType, server, payload)...)
		}
	}
	return out
}

func (a *TrustAggregator) openContainer(ctx context.Context, certType model.CertificateType, server string, payload []byte) []*x509.Certificate {
	pass, ok := a.passphrase(ctx, certType.PassphraseType(), server)
	if !ok {
		a.logger.Warn("skipping truststore without passphrase", "type", certType, "server", server)
		return nil
	}

	certs, err := a.decoder.DecodeAnchors(payload, pass.Reveal())
	if err != nil {
		a.logger.Warn("skipping unreadable truststore", "type", certType, "server", server, "error", err)
		return nil
	}
	return certs
}

// passphrase looks up the server-scoped credential, falling back to the
// default credential of the same type.
func (a *TrustAggregator) passphrase(ctx context.Context, credType model.CredentialType, server string) (model.Secret, bool) {
	if a.secrets == nil {
		return "", false
	}
	if server != "" {
		if cred, ok := a.secrets.Get(ctx, credType, server); ok {
			return cred.Password, true
		}
	}
	if cred, ok := a.secrets.GetDefault(ctx, credType); ok {
		return cred.Password, true
	}
	return "", false
}

func (a *TrustAggregator) newSocketFactory(ctx context.Context, server string, allowAllHostnames bool) *SocketFactory {
	tm := a.current
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         stripPort(server),
		InsecureSkipVerify: true, //nolint:gosec // chain and hostname are checked in VerifyConnection
		VerifyConnection:   tm.verifyConnection(server, !allowAllHostnames),
	}

	f := &SocketFactory{
		server:            server,
		allowAllHostnames: allowAllHostnames,
		trust:             tm,
	}
	if id, ok := a.clientIdentity(ctx, server); ok {
		cfg.Certificates = []tls.Certificate{id}
		f.clientCert = true
	}
	f.config = cfg
	return f
}

// clientIdentity opens the client certificate for server, falling back to the
// default slot.
func (a *TrustAggregator) clientIdentity(ctx context.Context, server string) (tls.Certificate, bool) {
	if a.certs == nil {
		return tls.Certificate{}, false
	}

	host := stripPort(server)
	payload, ok := a.certs.GetForServer(ctx, model.CertificateClient, host)
	if !ok {
		payload, ok = a.certs.Get(ctx, model.CertificateClient)
	}
	if !ok {
		return tls.Certificate{}, false
	}

	pass, ok := a.passphrase(ctx, model.CredentialClientCertPassword, host)
	if !ok {
		a.logger.Warn("client certificate has no passphrase", "server", host)
		return tls.Certificate{}, false
	}

	id, err := a.decoder.DecodeIdentity(payload, pass.Reveal())
	if err != nil {
		a.logger.Warn("client certificate unreadable", "server", host, "error", err)
		return tls.Certificate{}, false
	}
	return id, true
}

func factoryKey(server string, allowAllHostnames bool) string {
	if allowAllHostnames {
		return server + "|any-host"
	}
	return server + "|verify-host"
}

// dedupe appends the certificates of add that are not already in dst.
func dedupe(dst, add []*x509.Certificate) []*x509.Certificate {
	for _, c := range add {
		if c != nil && !containsCert(dst, c) {
			dst = append(dst, c)
		}
	}
	return dst
}

// SocketFactory produces TLS connections verified against the TrustManager it
// was built from, presenting a client certificate when one is stored.
type SocketFactory struct {
	server            string
	allowAllHostnames bool
	trust             *TrustManager
	config            *tls.Config
	clientCert        bool
}

// TLSConfig returns a copy of the factory's TLS configuration, suitable for
// http.Transport.TLSClientConfig.
func (f *SocketFactory) TLSConfig() *tls.Config {
	return f.config.Clone()
}

// TrustManager returns the snapshot this factory verifies against.
func (f *SocketFactory) TrustManager() *TrustManager { return f.trust }

// Server returns the server the factory was built for.
func (f *SocketFactory) Server() string { return f.server }

// AllowAllHostnames reports whether hostname verification is disabled.
func (f *SocketFactory) AllowAllHostnames() bool { return f.allowAllHostnames }

// HasClientCertificate reports whether a client identity is presented.
func (f *SocketFactory) HasClientCertificate() bool { return f.clientCert }

// DialContext opens a TLS connection to addr.
func (f *SocketFactory) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	d := &tls.Dialer{Config: f.TLSConfig()}
	return d.DialContext(ctx, network, addr)
}
