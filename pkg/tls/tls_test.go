package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeSelfSigned writes a self-signed certificate and key under dir and
// returns their paths.
func writeSelfSigned(t *testing.T, dir string) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "oceanquake-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatal(err)
	}
	return certFile, keyFile
}

func TestConfig_Validate(t *testing.T) {
	dir := t.TempDir()
	cert, key := writeSelfSigned(t, dir)

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "disabled", cfg: Config{}, wantErr: false},
		{name: "disabled ignores files", cfg: Config{CertFile: "/nope"}, wantErr: false},
		{name: "missing key", cfg: Config{Enabled: true, CertFile: cert}, wantErr: true},
		{name: "server only", cfg: Config{Enabled: true, CertFile: cert, KeyFile: key}, wantErr: false},
		{name: "mutual", cfg: Config{Enabled: true, CertFile: cert, KeyFile: key, CAFile: cert}, wantErr: false},
		{name: "missing ca file", cfg: Config{Enabled: true, CertFile: cert, KeyFile: key, CAFile: filepath.Join(dir, "ca.pem")}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewServerConfig(t *testing.T) {
	dir := t.TempDir()
	cert, key := writeSelfSigned(t, dir)

	t.Run("disabled", func(t *testing.T) {
		cfg, err := NewServerConfig(Config{})
		if err != nil || cfg != nil {
			t.Errorf("NewServerConfig() = %v, %v, want nil, nil", cfg, err)
		}
	})

	t.Run("server only", func(t *testing.T) {
		cfg, err := NewServerConfig(Config{Enabled: true, CertFile: cert, KeyFile: key})
		if err != nil {
			t.Fatalf("NewServerConfig() error = %v", err)
		}
		if cfg.MinVersion != tls.VersionTLS13 {
			t.Errorf("MinVersion = %x, want TLS 1.3", cfg.MinVersion)
		}
		if cfg.ClientAuth != tls.NoClientCert {
			t.Errorf("ClientAuth = %v, want NoClientCert", cfg.ClientAuth)
		}
		if len(cfg.Certificates) != 1 {
			t.Errorf("Certificates = %d, want 1", len(cfg.Certificates))
		}
	})

	t.Run("mutual", func(t *testing.T) {
		c := Config{Enabled: true, CertFile: cert, KeyFile: key, CAFile: cert}
		if !c.Mutual() {
			t.Error("Mutual() = false")
		}
		cfg, err := NewServerConfig(c)
		if err != nil {
			t.Fatalf("NewServerConfig() error = %v", err)
		}
		if cfg.ClientAuth != tls.RequireAndVerifyClientCert || cfg.ClientCAs == nil {
			t.Error("mutual TLS should require and verify client certificates")
		}
	})

	t.Run("bad ca", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.pem")
		if err := os.WriteFile(bad, []byte("not pem"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := NewServerConfig(Config{Enabled: true, CertFile: cert, KeyFile: key, CAFile: bad}); err == nil {
			t.Error("expected error for unparsable CA")
		}
	})

	t.Run("mismatched pair", func(t *testing.T) {
		_, otherKey := writeSelfSigned(t, t.TempDir())
		if _, err := NewServerConfig(Config{Enabled: true, CertFile: cert, KeyFile: otherKey}); err == nil {
			t.Error("expected error for mismatched key pair")
		}
	})
}
