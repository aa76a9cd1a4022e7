package server

import (
	"crypto/tls"
	"fmt"

	"github.com/gkumurzhi/ExperimentalServer/internal/logging"
	"go.uber.org/zap"
)

// serverCipherSuites are the TLS 1.2 suites offered: ECDHE key exchange with
// AEAD ciphers only. TLS 1.3 suites are not configurable and always allowed.
var serverCipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
}

// NewTLSConfig loads a certificate and key from PEM files.
func NewTLSConfig(certPath, keyPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}

	logging.Info("TLS configuration created from files",
		zap.String("cert", certPath),
		zap.String("key", keyPath),
	)
	return buildTLSConfig(cert), nil
}

// NewTLSConfigFromMemory builds a configuration from PEM-encoded data, as
// produced by GenerateSelfSigned.
func NewTLSConfigFromMemory(certPEM, keyPEM []byte) (*tls.Config, error) {
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate from memory: %w", err)
	}

	logging.Info("TLS configuration created from in-memory certificate",
		zap.String("source", "self-signed"),
	)
	return buildTLSConfig(cert), nil
}

func buildTLSConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		CipherSuites: serverCipherSuites,
	}
}

// GetTLSInfo returns human-readable TLS configuration information
func GetTLSInfo(config *tls.Config) map[string]interface{} {
	names := make([]string, 0, len(config.CipherSuites))
	for _, id := range config.CipherSuites {
		names = append(names, tls.CipherSuiteName(id))
	}
	return map[string]interface{}{
		"min_version":   tls.VersionName(config.MinVersion),
		"cipher_suites": names,
		"num_certs":     len(config.Certificates),
	}
}
