package fathom

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTLSConfigBadMaterial(t *testing.T) {
	_, err := LoadTLSConfig(
		filepath.Join(t.TempDir(), "missing-cert.pem"),
		filepath.Join(t.TempDir(), "missing-key.pem"),
	)
	require.Error(t, err)

	var ce *ConfigError
	assert.ErrorAs(t, err, &ce)
}

func TestNewACMETLSConfig(t *testing.T) {
	c := NewACMETLSConfig(ACMEConfig{
		CertRoot:      t.TempDir(),
		HostWhitelist: []string{"example.com"},
	})

	require.NotNil(t, c)
	assert.Equal(t, uint16(tls.VersionTLS12), c.MinVersion)
	assert.NotNil(t, c.GetCertificate)
}

func TestHTTPSRedirect(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "http://example.com:8080/foo/bar?a=1", nil)

	httpsRedirect(rec, req)

	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, "https://example.com/foo/bar?a=1", rec.Header().Get("Location"))
}
