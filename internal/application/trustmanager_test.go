package application

import (
	"bytes"
	"crypto/x509"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/trustkit/internal/adapter/driven/keystore/keystoretest"
)

func noSystemRoots() (*x509.CertPool, error) { return x509.NewCertPool(), nil }

func TestTrustManager_VerifyChain(t *testing.T) {
	anchored := keystoretest.NewAuthority(t, "Anchored CA")
	platform := keystoretest.NewAuthority(t, "Platform CA")
	stranger := keystoretest.NewAuthority(t, "Stranger CA")

	anchoredLeaf := anchored.IssueServer(t, "tak.example.com").Leaf
	platformLeaf := platform.IssueServer(t, "tak.example.com").Leaf
	strangerLeaf := stranger.IssueServer(t, "tak.example.com").Leaf

	platformRoots := func() (*x509.CertPool, error) {
		pool := x509.NewCertPool()
		pool.AddCert(platform.Cert)
		return pool, nil
	}

	tests := []struct {
		name          string
		policy        *recordingPolicy
		chain         []*x509.Certificate
		host          string
		checkHostname bool
		wantErr       bool
	}{
		{name: "anchored chain", policy: &recordingPolicy{}, chain: []*x509.Certificate{anchoredLeaf}, host: "tak.example.com", checkHostname: true},
		{name: "anchored chain with port", policy: &recordingPolicy{}, chain: []*x509.Certificate{anchoredLeaf}, host: "tak.example.com:8443", checkHostname: true},
		{name: "platform chain with fallback", policy: &recordingPolicy{systemFallback: true}, chain: []*x509.Certificate{platformLeaf}, host: "tak.example.com", checkHostname: true},
		{name: "platform chain without fallback", policy: &recordingPolicy{}, chain: []*x509.Certificate{platformLeaf}, host: "tak.example.com", checkHostname: true, wantErr: true},
		{name: "unanchored rejected", policy: &recordingPolicy{systemFallback: true}, chain: []*x509.Certificate{strangerLeaf}, host: "tak.example.com", checkHostname: true, wantErr: true},
		{name: "unanchored accepted", policy: &recordingPolicy{acceptUnanchored: true}, chain: []*x509.Certificate{strangerLeaf}, host: "tak.example.com", checkHostname: true},
		{name: "hostname mismatch", policy: &recordingPolicy{acceptUnanchored: true}, chain: []*x509.Certificate{anchoredLeaf}, host: "evil.example.com", checkHostname: true, wantErr: true},
		{name: "hostname check disabled", policy: &recordingPolicy{}, chain: []*x509.Certificate{anchoredLeaf}, host: "evil.example.com", checkHostname: false},
		{name: "empty chain", policy: &recordingPolicy{acceptUnanchored: true}, chain: nil, host: "tak.example.com", checkHostname: false, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm := newTrustManager(1, []*x509.Certificate{anchored.Cert}, tt.policy, platformRoots, time.Now)

			err := tm.VerifyChain(tt.host, tt.chain, tt.checkHostname)

			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUntrustedChain)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestTrustManager_IntermediatesFromChain(t *testing.T) {
	root := keystoretest.NewAuthority(t, "Root")
	leaf := root.IssueServer(t, "tak.example.com").Leaf

	tm := newTrustManager(1, []*x509.Certificate{root.Cert}, &recordingPolicy{}, noSystemRoots, time.Now)

	// The root travelling with the chain is harmless.
	assert.NoError(t, tm.VerifyChain("tak.example.com", []*x509.Certificate{leaf, root.Cert}, true))
}

func TestTrustManager_UsesClock(t *testing.T) {
	ca := keystoretest.NewAuthority(t, "CA")
	leaf := ca.IssueServer(t, "tak.example.com").Leaf
	later := func() time.Time { return time.Now().Add(30 * 24 * time.Hour) }

	tm := newTrustManager(1, []*x509.Certificate{ca.Cert}, &recordingPolicy{}, noSystemRoots, later)

	assert.ErrorIs(t, tm.VerifyChain("tak.example.com", []*x509.Certificate{leaf}, true), ErrUntrustedChain)
}

func TestTrustManager_SystemRootsError(t *testing.T) {
	ca := keystoretest.NewAuthority(t, "CA")
	leaf := ca.IssueServer(t, "tak.example.com").Leaf
	policy := &recordingPolicy{systemFallback: true}
	broken := func() (*x509.CertPool, error) { return nil, errors.New("no platform store") }

	tm := newTrustManager(1, nil, policy, broken, time.Now)

	assert.ErrorIs(t, tm.VerifyChain("tak.example.com", []*x509.Certificate{leaf}, true), ErrUntrustedChain)
	assert.Equal(t, 1, policy.unanchoredCalls)
}

func TestTrustManager_AnchorsIsACopy(t *testing.T) {
	ca := keystoretest.NewAuthority(t, "CA")
	tm := newTrustManager(4, []*x509.Certificate{ca.Cert}, &recordingPolicy{}, noSystemRoots, time.Now)

	anchors := tm.Anchors()
	anchors[0] = nil

	assert.Equal(t, uint64(4), tm.Generation())
	assert.True(t, tm.Contains(ca.Cert))
}

func TestConfiguredTrustPolicy(t *testing.T) {
	ca := keystoretest.NewAuthority(t, "CA")
	chain := []*x509.Certificate{ca.Cert}
	cause := errors.New("unknown authority")

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	permissive := NewPermissiveTrustPolicy(logger)
	assert.True(t, permissive.AllowSystemFallback("tak.example.com", chain, cause))
	assert.True(t, permissive.AcceptUnanchored("tak.example.com", chain, cause))
	assert.Contains(t, buf.String(), "accepting certificate chain without a trusted anchor")
	assert.Contains(t, buf.String(), fingerprint(ca.Cert))

	strict := NewStrictTrustPolicy(logger)
	assert.False(t, strict.AllowSystemFallback("tak.example.com", chain, cause))
	assert.False(t, strict.AcceptUnanchored("tak.example.com", chain, cause))

	mixed := NewConfiguredTrustPolicy(true, false, nil)
	assert.True(t, mixed.AllowSystemFallback("tak.example.com", chain, cause))
	assert.False(t, mixed.AcceptUnanchored("tak.example.com", chain, cause))
}

func TestStripPort(t *testing.T) {
	require.Equal(t, "tak.example.com", stripPort("tak.example.com:8443"))
	require.Equal(t, "tak.example.com", stripPort("tak.example.com"))
	require.Equal(t, "::1", stripPort("[::1]:443"))
}
