package anchors

import (
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/trustkit/internal/adapter/driven/keystore/keystoretest"
)

func pemBytes(t *testing.T, der ...[]byte) []byte {
	t.Helper()
	var out []byte
	for _, d := range der {
		out = append(out, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: d})...)
	}
	return out
}

func TestDir_Anchors(t *testing.T) {
	dir := t.TempDir()
	a := keystoretest.NewAuthority(t, "A Root")
	b := keystoretest.NewAuthority(t, "B Root")
	c := keystoretest.NewAuthority(t, "C Root")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "01-bundle.pem"), pemBytes(t, a.Cert.Raw, b.Cert.Raw), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "02-single.der"), c.Cert.Raw, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("not a cert"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.pem"), 0o700))

	certs, err := Dir(dir).Anchors()
	require.NoError(t, err)
	require.Len(t, certs, 3)
	assert.Equal(t, "A Root", certs[0].Subject.CommonName)
	assert.Equal(t, "B Root", certs[1].Subject.CommonName)
	assert.Equal(t, "C Root", certs[2].Subject.CommonName)
}

func TestDir_EmptyPathYieldsNothing(t *testing.T) {
	certs, err := Dir("").Anchors()
	require.NoError(t, err)
	assert.Empty(t, certs)
}

func TestDir_EmptyDirectory(t *testing.T) {
	certs, err := Dir(t.TempDir()).Anchors()
	require.NoError(t, err)
	assert.Empty(t, certs)
}

func TestDir_MissingDirectory(t *testing.T) {
	_, err := Dir(filepath.Join(t.TempDir(), "absent")).Anchors()
	assert.Error(t, err)
}

func TestDir_UnparseableFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.crt"), []byte("garbage"), 0o600))

	_, err := Dir(dir).Anchors()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.crt")
}

func TestParseCertificates_SkipsNonCertificateBlocks(t *testing.T) {
	ca := keystoretest.NewAuthority(t, "Root")
	data := append(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte{1, 2, 3}}), pemBytes(t, ca.Cert.Raw)...)

	certs, err := ParseCertificates(data)
	require.NoError(t, err)
	require.Len(t, certs, 1)
	assert.True(t, certs[0].Equal(ca.Cert))
}

func TestParseCertificates_NoCertificates(t *testing.T) {
	data := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte{1, 2, 3}})

	_, err := ParseCertificates(data)
	assert.ErrorIs(t, err, ErrNoCertificates)
}
