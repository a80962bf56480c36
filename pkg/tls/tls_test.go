package tls

import (
	"crypto/x509"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndLoad(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")

	created, err := EnsureSelfSignedCert(certFile, keyFile, "oracled", "10.1.2.3", "oracle.internal")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = EnsureSelfSignedCert(certFile, keyFile, "oracled")
	require.NoError(t, err)
	assert.False(t, created, "existing files must not be regenerated")

	info, err := os.Stat(keyFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	cfg, err := LoadTLSConfig(certFile, keyFile, "", false)
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)

	leaf, err := x509.ParseCertificate(cfg.Certificates[0].Certificate[0])
	require.NoError(t, err)
	assert.Contains(t, leaf.DNSNames, "oracle.internal")
	assert.Equal(t, "10.1.2.3", leaf.IPAddresses[2].String())
}

func TestClientTrustsGeneratedCA(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	require.NoError(t, GenerateSelfSignedCert(certFile, keyFile, "localhost"))

	serverCfg, err := LoadTLSConfig(certFile, keyFile, "", false)
	require.NoError(t, err)

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	srv.TLS = serverCfg
	srv.StartTLS()
	defer srv.Close()

	clientCfg, err := LoadClientTLSConfig("", "", certFile, false)
	require.NoError(t, err)
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: clientCfg}}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ok", string(body))
}

func TestLoadTLSConfigErrors(t *testing.T) {
	_, err := LoadTLSConfig("missing.pem", "missing.key", "", false)
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a cert"), 0644))
	_, err = LoadClientTLSConfig("", "", bad, false)
	assert.Error(t, err)

}
