package tls

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keepalive-service/internal/config"
)

func TestDevCertGenerator_GeneratesAndReuses(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	gen := NewDevCertGenerator(dir, nil)

	cert, err := gen.GenerateCert([]string{"keepalive.local", "127.0.0.1"})
	require.NoError(t, err)

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	assert.Contains(t, leaf.DNSNames, "keepalive.local")
	require.Len(t, leaf.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", leaf.IPAddresses[0].String())

	info, err := os.Stat(filepath.Join(dir, "dev-key.pem"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	again, err := gen.GenerateCert([]string{"other.local"})
	require.NoError(t, err)
	assert.Equal(t, cert.Certificate[0], again.Certificate[0])
}

func TestDevCertGenerator_RegeneratesExpired(t *testing.T) {
	dir := t.TempDir()
	gen := NewDevCertGenerator(dir, nil)

	first, err := gen.GenerateCert([]string{"localhost"})
	require.NoError(t, err)

	gen.nowFunc = func() time.Time { return time.Now().Add(devCertValidity + time.Hour) }
	second, err := gen.GenerateCert([]string{"localhost"})
	require.NoError(t, err)
	assert.NotEqual(t, first.Certificate[0], second.Certificate[0])
}

func TestTLSManager_FallsBackToSelfSigned(t *testing.T) {
	m := NewTLSManager(config.ServerConfig{
		EnableTLS:   true,
		Domain:      "localhost",
		AutoCertDir: t.TempDir(),
	}, "development", nil)

	cert, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	require.NoError(t, err)
	require.NotNil(t, cert)
	assert.Nil(t, m.GetAutocertManager())

	cfg := m.GetTLSConfig()
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
}

func TestTLSManager_ProductionRefusesSelfSigned(t *testing.T) {
	m := NewTLSManager(config.ServerConfig{
		EnableTLS:   true,
		Domain:      "example.com",
		AutoCertDir: t.TempDir(),
	}, "production", nil)

	_, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "example.com"})
	assert.Error(t, err)
}
