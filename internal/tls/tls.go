// Package tls builds TLS configurations for the SMTP client and generates the
// self-signed certificates used by in-process test servers.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"
)

// GenerateSelfSignedCert returns an in-memory ECDSA P-256 certificate valid
// for one day. hosts become the SANs, IP literals as IP addresses; without
// hosts the certificate covers localhost and 127.0.0.1.
func GenerateSelfSignedCert(hosts ...string) (*tls.Certificate, error) {
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1"}
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ECDSA key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{CommonName: hosts[0]},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}

// LoadRootCAs reads PEM encoded certificates from path into a pool used in
// place of the system roots.
func LoadRootCAs(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}

// EncodeCertificatePEM returns the PEM encoding of the leaf of cert.
func EncodeCertificatePEM(cert *tls.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Certificate[0]})
}

// ClientOptions controls certificate verification on the client side.
type ClientOptions struct {
	// ServerName is the expected host name of the peer.
	ServerName string
	// VerifyPeer enables certificate chain verification.
	VerifyPeer bool
	// VerifyPeerName enables host name verification. It has no effect
	// unless VerifyPeer is set.
	VerifyPeerName bool
	// RootCAs overrides the system roots.
	RootCAs *x509.CertPool
}

// ClientConfig returns the client tls.Config for opts. Without VerifyPeer the
// peer certificate is not checked at all; with VerifyPeer but not
// VerifyPeerName the chain is verified while the host name is not.
func ClientConfig(opts ClientOptions) *tls.Config {
	cfg := &tls.Config{
		ServerName: opts.ServerName,
		RootCAs:    opts.RootCAs,
		MinVersion: tls.VersionTLS12,
	}

	switch {
	case !opts.VerifyPeer:
		cfg.InsecureSkipVerify = true
	case !opts.VerifyPeerName:
		// Chain verification is done by hand since the standard check is
		// tied to the host name.
		cfg.InsecureSkipVerify = true
		cfg.VerifyConnection = func(cs tls.ConnectionState) error {
			return verifyChain(cs, opts.RootCAs)
		}
	}

	return cfg
}

// verifyChain verifies the peer chain against roots without a host name check.
func verifyChain(cs tls.ConnectionState, roots *x509.CertPool) error {
	if len(cs.PeerCertificates) == 0 {
		return fmt.Errorf("peer presented no certificate")
	}

	intermediates := x509.NewCertPool()
	for _, cert := range cs.PeerCertificates[1:] {
		intermediates.AddCert(cert)
	}

	_, err := cs.PeerCertificates[0].Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
	})
	if err != nil {
		return fmt.Errorf("failed to verify peer certificate: %w", err)
	}
	return nil
}
