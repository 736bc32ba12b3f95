package smtptest

import (
	"crypto/tls"
	"crypto/x509"

	smtptls "github.com/shineum/mailsend-lite/internal/tls"
)

// SelfSignedTLS returns a server config with a fresh certificate for
// localhost and 127.0.0.1, and a pool trusting that certificate.
func SelfSignedTLS() (*tls.Config, *x509.CertPool, error) {
	cert, err := smtptls.GenerateSelfSignedCert()
	if err != nil {
		return nil, nil, err
	}

	pool := x509.NewCertPool()
	pool.AddCert(cert.Leaf)

	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		MinVersion:   tls.VersionTLS12,
	}, pool, nil
}
