// Copyright 2023 The emqx-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tls builds server TLS configurations for gateway listeners from
// PEM files.
package tls

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
)

// VerifyMode defines how client certificates are checked.
type VerifyMode string

const (
	// VerifyNone does not request a client certificate.
	VerifyNone VerifyMode = "none"
	// VerifyPeer verifies a client certificate when one is presented.
	VerifyPeer VerifyMode = "verify_peer"
	// VerifyPeerFailIfNoCert requires and verifies a client certificate.
	VerifyPeerFailIfNoCert VerifyMode = "verify_peer_fail_if_no_peer_cert"
)

// Options locates the PEM files of a listener.
type Options struct {
	CertFile   string
	KeyFile    string
	CACertFile string
	Verify     VerifyMode
}

// ServerConfig loads the key pair and, when peers are verified, the CA pool.
func ServerConfig(opts Options) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	switch opts.Verify {
	case "", VerifyNone:
		cfg.ClientAuth = tls.NoClientCert
		return cfg, nil
	case VerifyPeer:
		cfg.ClientAuth = tls.VerifyClientCertIfGiven
	case VerifyPeerFailIfNoCert:
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	default:
		return nil, fmt.Errorf("unknown verify mode: %s", opts.Verify)
	}

	if opts.CACertFile == "" {
		return nil, errors.New("a CA certificate is required to verify peers")
	}
	pem, err := os.ReadFile(opts.CACertFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("failed to parse CA certificate")
	}
	cfg.ClientCAs = pool
	return cfg, nil
}

// Fingerprint returns the hex SHA256 digest of a certificate.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}
