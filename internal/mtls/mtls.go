package mtls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
)

// ClientConfig builds a TLS client configuration from a PEM cert/key pair and
// an optional CA bundle. With an empty cert and key it returns nil, meaning
// plain system-root verification.
func ClientConfig(certPEM, keyPEM, caPEM string) (*tls.Config, error) {
	if certPEM == "" && keyPEM == "" && caPEM == "" {
		return nil, nil
	}
	if certPEM == "" || keyPEM == "" {
		return nil, errors.New("client certificate and key must both be set")
	}

	cert, err := tls.X509KeyPair([]byte(certPEM), []byte(keyPEM))
	if err != nil {
		return nil, fmt.Errorf("parse client key pair: %w", err)
	}

	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}

	if caPEM != "" {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(caPEM)) {
			return nil, errors.New("parse ca certificate: no valid PEM blocks")
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}
