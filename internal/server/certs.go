package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"time"
)

// CertParams holds parameters for generating a self-signed certificate.
type CertParams struct {
	// CommonName is the CN field (default: localhost)
	CommonName string
	// Organization is the O field
	Organization string
	// Hosts become DNS or IP SANs depending on their form
	Hosts []string
	// ValidDays is certificate validity in days (default: 365)
	ValidDays int
}

// DefaultCertParams returns parameters for host, which is used as the common
// name unless it is empty or a wildcard listen address.
func DefaultCertParams(host string) CertParams {
	cn := host
	if cn == "" || cn == "0.0.0.0" || cn == "::" {
		cn = "localhost"
	}
	hosts := []string{"localhost", "127.0.0.1"}
	if cn != "localhost" && cn != "127.0.0.1" {
		hosts = append([]string{cn}, hosts...)
	}
	return CertParams{
		CommonName:   cn,
		Organization: "ExperimentalHTTPServer",
		Hosts:        hosts,
		ValidDays:    365,
	}
}

// ServerCert represents a generated certificate.
type ServerCert struct {
	// CertPEM is the certificate in PEM format
	CertPEM []byte
	// KeyPEM is the PKCS#8 private key in PEM format
	KeyPEM []byte
	// Certificate is the parsed x509 certificate
	Certificate *x509.Certificate
}

// GenerateSelfSigned creates an ECDSA P-256 certificate signed by its own
// key. It lives in memory only.
func GenerateSelfSigned(params CertParams) (*ServerCert, error) {
	if params.ValidDays <= 0 {
		params.ValidDays = 365
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial number: %w", err)
	}

	notBefore := time.Now().Add(-5 * time.Minute)
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   params.CommonName,
			Organization: []string{params.Organization},
		},
		NotBefore:             notBefore,
		NotAfter:              notBefore.AddDate(0, 0, params.ValidDays),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, h := range params.Hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else if h != "" {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}

	return &ServerCert{
		CertPEM:     pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		KeyPEM:      pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}),
		Certificate: cert,
	}, nil
}
