package tls

import (
	stdtls "crypto/tls"
	"fmt"
	"net/http"

	"golang.org/x/crypto/acme/autocert"

	"wallet-auth-service/internal/config"
	"wallet-auth-service/internal/util"
)

// Manager provides the server TLS configuration: ACME autocert when a domain
// is configured, static cert files otherwise.
type Manager struct {
	cfg     *config.ServerConfig
	certMgr *autocert.Manager
}

func NewManager(cfg *config.Config) (*Manager, error) {
	serverCfg := cfg.Server
	m := &Manager{cfg: &serverCfg}

	if serverCfg.AutoCert {
		if serverCfg.Domain == "" {
			return nil, fmt.Errorf("autocert enabled without a domain")
		}
		m.certMgr = &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(serverCfg.Domain),
			Cache:      autocert.DirCache(serverCfg.AutoCertDir),
			Email:      serverCfg.Email,
		}
		util.Info("TLS autocert enabled for " + serverCfg.Domain)
	}

	return m, nil
}

// TLSConfig returns the config for the HTTPS listener.
func (m *Manager) TLSConfig() (*stdtls.Config, error) {
	if m.certMgr != nil {
		cfg := m.certMgr.TLSConfig()
		cfg.MinVersion = stdtls.VersionTLS12
		return cfg, nil
	}

	if m.cfg.CertFile == "" || m.cfg.KeyFile == "" {
		return nil, fmt.Errorf("TLS enabled without cert/key files or autocert")
	}
	cert, err := stdtls.LoadX509KeyPair(m.cfg.CertFile, m.cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
	}
	return &stdtls.Config{
		MinVersion:   stdtls.VersionTLS12,
		Certificates: []stdtls.Certificate{cert},
	}, nil
}

// HTTPHandler wraps a fallback handler so ACME HTTP-01 challenges are served
// on the plain listener.
func (m *Manager) HTTPHandler(fallback http.Handler) http.Handler {
	if m.certMgr != nil {
		return m.certMgr.HTTPHandler(fallback)
	}
	return fallback
}
