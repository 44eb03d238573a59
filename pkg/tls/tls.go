// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tls loads the TLS configuration used to reach ssl:// and wss://
// brokers.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"os"
)

var (
	errLoadCerts    = errors.New("failed to load certificates")
	errLoadServerCA = errors.New("failed to load Server CA")
	errAppendCA     = errors.New("failed to append root ca tls.Config")
)

type Config struct {
	CertFile     string `yaml:"cert_file"`
	KeyFile      string `yaml:"key_file"`
	ServerCAFile string `yaml:"server_ca_file"`
	ServerName   string `yaml:"server_name"`

	// InsecureSkipVerify disables broker certificate verification. For test
	// brokers with self-signed certificates only.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// Enabled reports whether any TLS setting is present.
func (c Config) Enabled() bool {
	return c.CertFile != "" || c.KeyFile != "" || c.ServerCAFile != "" || c.ServerName != "" || c.InsecureSkipVerify
}

// LoadClientConfig returns the client TLS configuration, or nil when nothing
// is configured and the system defaults apply.
func LoadClientConfig(c *Config) (*tls.Config, error) {
	if c == nil || !c.Enabled() {
		return nil, nil
	}

	config := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         c.ServerName,
		InsecureSkipVerify: c.InsecureSkipVerify,
	}

	if c.CertFile != "" || c.KeyFile != "" {
		certificate, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, errors.Join(errLoadCerts, err)
		}
		config.Certificates = []tls.Certificate{certificate}
	}

	rootCA, err := loadCertFile(c.ServerCAFile)
	if err != nil {
		return nil, errors.Join(errLoadServerCA, err)
	}
	if len(rootCA) > 0 {
		config.RootCAs = x509.NewCertPool()
		if !config.RootCAs.AppendCertsFromPEM(rootCA) {
			return nil, errAppendCA
		}
	}

	return config, nil
}

// SecurityStatus returns log message from TLS config.
func SecurityStatus(c *tls.Config) string {
	switch {
	case c == nil:
		return "no TLS"
	case c.InsecureSkipVerify:
		return "TLS without verification"
	case len(c.Certificates) > 0:
		return "mutual TLS"
	default:
		return "TLS"
	}
}

func loadCertFile(certFile string) ([]byte, error) {
	if certFile != "" {
		return os.ReadFile(certFile)
	}
	return []byte{}, nil
}
