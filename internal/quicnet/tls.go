// Package quicnet provisions TLS for the QUIC transport acceptor and dialer.
package quicnet

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/spf13/viper"

	"github.com/MichaAI/multidustry/pkg/transport"
)

// ServerTLS builds the acceptor TLS config for transport.tls.mode. In acme
// mode the returned handler answers HTTP-01 challenges and should be mounted
// on :80; it is nil otherwise.
func ServerTLS(ctx context.Context, v *viper.Viper) (*tls.Config, http.Handler, error) {
	switch mode := v.GetString("transport.tls.mode"); mode {
	case "", "self_signed":
		c, err := SelfSignedTLS()
		return c, nil, err
	case "file":
		c, err := BuildFileTLS(v.GetString("transport.tls.cert_file"), v.GetString("transport.tls.key_file"))
		return c, nil, err
	case "acme":
		return BuildCertMagicTLS(ctx, CertMagicConfig{
			Domain:       v.GetString("transport.tls.domain"),
			Email:        v.GetString("transport.tls.email"),
			StorageDir:   filepath.Join(v.GetString("data_dir"), "certmagic"),
			EnableHTTP01: true,
		})
	default:
		return nil, nil, fmt.Errorf("unknown transport.tls.mode %q", mode)
	}
}

// ClientTLS builds the dialer TLS config. Self-signed peers need
// transport.insecure_skip_verify.
func ClientTLS(v *viper.Viper) *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: v.GetBool("transport.insecure_skip_verify"),
		NextProtos:         []string{transport.ALPN},
		MinVersion:         tls.VersionTLS13,
	}
}

// SelfSignedTLS generates a throwaway certificate valid for a day. Clients
// must skip verification to talk to it.
func SelfSignedTLS() (*tls.Config, error) {
	certPEM, keyPEM, err := SelfSignedPEM("localhost", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{transport.ALPN},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// SelfSignedPEM returns a PEM certificate and PKCS#8 key for host.
func SelfSignedPEM(host string, validFor time.Duration) (certPEM, keyPEM []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	now := time.Now()
	templ := &x509.Certificate{
		SerialNumber:          big.NewInt(now.UnixNano()),
		Subject:               pkix.Name{CommonName: host},
		DNSNames:              []string{host},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(validFor),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, templ, templ, &key.PublicKey, key)
	if err != nil {
		return nil, nil, err
	}
	pkcs8, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, err
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8})
	return certPEM, keyPEM, nil
}

// BuildFileTLS loads a certificate from PEM files for BYO certs.
func BuildFileTLS(certFile, keyFile string) (*tls.Config, error) {
	if certFile == "" || keyFile == "" {
		return nil, errors.New("both certFile and keyFile are required")
	}
	c, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load keypair: %w", err)
	}
	now := time.Now()
	for i, b := range c.Certificate {
		cert, err := x509.ParseCertificate(b)
		if err != nil {
			return nil, fmt.Errorf("invalid certificate at index %d: %w", i, err)
		}
		if now.Before(cert.NotBefore) {
			return nil, fmt.Errorf("certificate not yet valid (starts %s)", cert.NotBefore)
		}
		if now.After(cert.NotAfter) {
			return nil, fmt.Errorf("certificate expired on %s", cert.NotAfter)
		}
	}
	return &tls.Config{
		Certificates: []tls.Certificate{c},
		NextProtos:   []string{transport.ALPN},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// CertMagicConfig configures automatic certificate management.
type CertMagicConfig struct {
	Domain       string
	Email        string
	StorageDir   string // defaults to ~/.cache/multidustry/certmagic
	CA           string // defaults to Let's Encrypt production
	EnableHTTP01 bool
}

// BuildCertMagicTLS obtains or loads a certificate for cfg.Domain and returns
// the TLS config plus the HTTP-01 challenge handler when enabled.
func BuildCertMagicTLS(ctx context.Context, cfg CertMagicConfig) (*tls.Config, http.Handler, error) {
	if cfg.Domain == "" {
		return nil, nil, errors.New("domain is required")
	}
	if cfg.StorageDir == "" {
		home, _ := os.UserHomeDir()
		cfg.StorageDir = filepath.Join(home, ".cache", "multidustry", "certmagic")
	}
	if err := os.MkdirAll(cfg.StorageDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("cert storage: %w", err)
	}

	cm := certmagic.NewDefault()
	cm.Storage = &certmagic.FileStorage{Path: cfg.StorageDir}
	ca := cfg.CA
	if ca == "" {
		ca = certmagic.LetsEncryptProductionCA
	}
	issuer := certmagic.NewACMEIssuer(cm, certmagic.ACMEIssuer{
		CA:     ca,
		Email:  cfg.Email,
		Agreed: true,
		// UDP-only listener: TLS-ALPN-01 needs TCP :443.
		DisableTLSALPNChallenge: true,
		DisableHTTPChallenge:    !cfg.EnableHTTP01,
	})
	cm.Issuers = []certmagic.Issuer{issuer}

	if err := cm.ManageSync(ctx, []string{cfg.Domain}); err != nil {
		return nil, nil, err
	}

	tlsConf := cm.TLSConfig()
	tlsConf.NextProtos = append(tlsConf.NextProtos, transport.ALPN)
	tlsConf.MinVersion = tls.VersionTLS13
	if cfg.EnableHTTP01 {
		return tlsConf, issuer.HTTPChallengeHandler(http.NotFoundHandler()), nil
	}
	return tlsConf, nil, nil
}
