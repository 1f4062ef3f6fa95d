package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupEnv points the CLI at a fresh data dir with a fixed device id.
func setupEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TRUSTKIT_DATA_DIR", t.TempDir())
	t.Setenv("TRUSTKIT_TOKEN_DIR", "")
	t.Setenv("TRUSTKIT_DEVICE_ID", "test-device")
	t.Setenv("TRUSTKIT_BUNDLED_ANCHORS_DIR", "")
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(strings.NewReader(stdin), &out, &errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// basicAuthServer answers 200 "hello" for alice/s3cret and 401 otherwise.
func basicAuthServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice" || pass != "s3cret" {
			w.Header().Set("WWW-Authenticate", `Basic realm="test"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("hello"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCred_SetListDelete(t *testing.T) {
	setupEnv(t)

	out, err := runCLI(t, "s3cret\n", "cred", "set", "HTTP_BASIC_AUTH", "tak.example.com", "--username", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "stored HTTP_BASIC_AUTH credential for tak.example.com")

	_, err = runCLI(t, "fallback\n", "cred", "set", "HTTP_BASIC_AUTH", "-u", "bob")
	require.NoError(t, err)

	out, err = runCLI(t, "", "identities")
	require.NoError(t, err)
	assert.Contains(t, out, "tak.example.com")
	assert.Contains(t, out, "(default)")
	assert.NotContains(t, out, "s3cret")

	_, err = runCLI(t, "", "cred", "delete", "HTTP_BASIC_AUTH", "tak.example.com")
	require.NoError(t, err)

	out, err = runCLI(t, "", "identities")
	require.NoError(t, err)
	assert.NotContains(t, out, "tak.example.com")
	assert.Contains(t, out, "(default)")
}

func TestCred_UnknownType(t *testing.T) {
	setupEnv(t)

	_, err := runCLI(t, "pw\n", "cred", "set", "NOT_A_TYPE", "-u", "alice")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown credential type")
}

func TestFetch_PromptsAndPersists(t *testing.T) {
	setupEnv(t)
	var hits atomic.Int32
	srv := basicAuthServer(t, &hits)

	out, err := runCLI(t, "alice\ns3cret\n", "fetch", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	assert.Equal(t, int32(2), hits.Load())

	// A new process has fresh domain state but finds the stored credential.
	out, err = runCLI(t, "", "fetch", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestFetch_CredentialsRejected(t *testing.T) {
	setupEnv(t)
	var hits atomic.Int32
	srv := basicAuthServer(t, &hits)

	_, err := runCLI(t, "bob\nwrong\nbob\nworse\n", "fetch", "--attempts", "2", srv.URL)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected the supplied credentials")
	// One anonymous request, then one per prompt.
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetch_PromptDeclined(t *testing.T) {
	setupEnv(t)
	var hits atomic.Int32
	srv := basicAuthServer(t, &hits)

	_, err := runCLI(t, "\n", "fetch", srv.URL)

	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetch_InvalidHeader(t *testing.T) {
	setupEnv(t)

	_, err := runCLI(t, "", "fetch", "-H", "no-colon", "http://127.0.0.1:1/")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid header")
}

func TestCert_ImportMissingFile(t *testing.T) {
	setupEnv(t)

	_, err := runCLI(t, "", "cert", "import", "CA_TRUSTSTORE", "/nonexistent/ca.p12")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "import of")
}

func TestCert_CheckNothingStored(t *testing.T) {
	setupEnv(t)

	_, err := runCLI(t, "", "cert", "check", "CLIENT_CERTIFICATE")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no CLIENT_CERTIFICATE certificate stored")
}

func TestCert_ServersEmpty(t *testing.T) {
	setupEnv(t)

	out, err := runCLI(t, "", "cert", "servers", "CA_TRUSTSTORE")

	require.NoError(t, err)
	assert.Empty(t, out)
}
