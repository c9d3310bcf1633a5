package tls

import (
	"crypto/tls"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"keepalive-service/internal/config"
	"keepalive-service/internal/util"
)

// TLSManager picks a certificate for the recorder endpoint: ACME first, then
// files on disk, then a cached self-signed development certificate.
type TLSManager struct {
	server      config.ServerConfig
	environment string
	autoCert    *autocert.Manager
	logger      *zap.Logger

	devOnce sync.Once
	devCert *tls.Certificate
	devErr  error
}

func NewTLSManager(server config.ServerConfig, environment string, logger *zap.Logger) *TLSManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &TLSManager{
		server:      server,
		environment: environment,
		logger:      logger,
	}

	if server.AutoCert && server.EnableTLS {
		m.setupAutoCert()
	}
	return m
}

func (m *TLSManager) setupAutoCert() {
	if err := os.MkdirAll(m.server.AutoCertDir, 0700); err != nil {
		m.logger.Warn("Could not create autocert directory", util.ErrorField(err))
		return
	}

	m.autoCert = &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(m.server.Domain),
		Cache:      autocert.DirCache(m.server.AutoCertDir),
		Email:      m.server.Email,
	}

	m.logger.Info("AutoCert configured",
		util.String("domain", m.server.Domain),
		util.String("cache_dir", m.server.AutoCertDir))
}

func (m *TLSManager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if m.autoCert != nil {
		cert, err := m.autoCert.GetCertificate(hello)
		if err == nil {
			return cert, nil
		}
		m.logger.Warn("AutoCert lookup failed, falling back", util.ErrorField(err))
	}

	if m.server.CertFile != "" && m.server.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(m.server.CertFile, m.server.KeyFile)
		if err == nil {
			return &cert, nil
		}
		m.logger.Warn("Failed to load certificate files", util.ErrorField(err))
	}

	if m.environment == "production" {
		return nil, fmt.Errorf("no certificate available for %q", hello.ServerName)
	}
	return m.selfSigned()
}

// selfSigned generates or loads the development certificate once per process.
func (m *TLSManager) selfSigned() (*tls.Certificate, error) {
	m.devOnce.Do(func() {
		hosts := []string{m.server.Domain, "localhost", "127.0.0.1", "::1"}
		cert, err := NewDevCertGenerator(m.server.AutoCertDir, m.logger).GenerateCert(hosts)
		if err != nil {
			m.devErr = fmt.Errorf("failed to generate self-signed certificate: %w", err)
			return
		}
		m.devCert = &cert
	})
	return m.devCert, m.devErr
}

func (m *TLSManager) GetTLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: m.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1"},
		MinVersion:     tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
	}
}

func (m *TLSManager) GetAutocertManager() *autocert.Manager {
	return m.autoCert
}
