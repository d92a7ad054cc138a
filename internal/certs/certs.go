// Package certs provides the TLS material for the HTTP/3 listener: a
// certificate pair loaded from disk, or a self-signed ECDSA P-256
// certificate for development.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"math/big"
	"net"
	"time"
)

const (
	defaultValidity = 30 * 24 * time.Hour
	maxValidity     = 397 * 24 * time.Hour // CA/Browser Forum limit
)

// Bundle holds a TLS certificate and its SHA-256 fingerprint.
type Bundle struct {
	TLSCert     tls.Certificate
	Fingerprint [32]byte
	NotAfter    time.Time
	SelfSigned  bool
}

// FingerprintHex returns the SHA-256 fingerprint of the leaf as hex.
func (b *Bundle) FingerprintHex() string {
	return hex.EncodeToString(b.Fingerprint[:])
}

// TLSConfig returns a server configuration serving the bundle.
func (b *Bundle) TLSConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{b.TLSCert},
		MinVersion:   tls.VersionTLS13,
	}
}

// Load reads a PEM certificate chain and key.
func Load(certFile, keyFile string) (*Bundle, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("certs: load key pair: %w", err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("certs: parse leaf: %w", err)
	}
	cert.Leaf = leaf
	return &Bundle{
		TLSCert:     cert,
		Fingerprint: sha256.Sum256(cert.Certificate[0]),
		NotAfter:    leaf.NotAfter,
	}, nil
}

// Generate creates a self-signed certificate for hosts, which may be DNS
// names or IP addresses. localhost and the loopback addresses are always
// included. A non-positive validity means 30 days; longer than 397 days is
// capped.
func Generate(hosts []string, validity time.Duration) (*Bundle, error) {
	switch {
	case validity <= 0:
		validity = defaultValidity
	case validity > maxValidity:
		validity = maxValidity
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("certs: generate private key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("certs: generate serial number: %w", err)
	}

	notBefore := time.Now().Add(-1 * time.Minute) // clock skew
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "sounds-relay"},
		NotBefore:    notBefore,
		NotAfter:     notBefore.Add(validity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	for _, h := range hosts {
		if h == "" || h == "localhost" {
			continue
		}
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("certs: create certificate: %w", err)
	}

	return &Bundle{
		TLSCert: tls.Certificate{
			Certificate: [][]byte{der},
			PrivateKey:  key,
		},
		Fingerprint: sha256.Sum256(der),
		NotAfter:    template.NotAfter,
		SelfSigned:  true,
	}, nil
}
