// Package tls builds the TLS configuration of the search status server.
//
// The server always requires TLS 1.3 with AEAD cipher suites. When a CA file
// is configured, clients must also present a certificate signed by it
// (mutual TLS); otherwise any client may connect.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// Config holds the certificate file paths of the status server.
type Config struct {
	Enabled  bool
	CertFile string
	KeyFile  string
	// CAFile, when set, enables client certificate verification.
	CAFile string
}

// Mutual reports whether clients must present a certificate.
func (c Config) Mutual() bool {
	return c.Enabled && c.CAFile != ""
}

// Validate checks that every configured file exists.
// Returns error if TLS is enabled but the certificate or key is missing or
// any configured file is inaccessible.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.CertFile == "" || c.KeyFile == "" {
		return errors.New("tls enabled but cert/key files not specified")
	}

	paths := []string{c.CertFile, c.KeyFile}
	if c.CAFile != "" {
		paths = append(paths, c.CAFile)
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("tls file %q: %w", path, err)
		}
	}

	return nil
}

// NewServerConfig loads the server key pair and, for mutual TLS, the client
// CA pool.
//
// Returns error if:
//   - The configuration is invalid (see Validate)
//   - The key pair cannot be loaded
//   - The CA file cannot be read or holds no PEM certificate
//
// Returns nil, nil when TLS is disabled.
func NewServerConfig(c Config) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load server certificate: %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
		CipherSuites: []uint16{
			tls.TLS_AES_128_GCM_SHA256,
			tls.TLS_AES_256_GCM_SHA384,
			tls.TLS_CHACHA20_POLY1305_SHA256,
		},
	}

	if c.CAFile != "" {
		pool, err := loadPool(c.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return cfg, nil
}

func loadPool(caFile string) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read CA certificate: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("failed to parse CA certificate")
	}
	return pool, nil
}
