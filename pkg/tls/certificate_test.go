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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSelfSigned writes a self-signed certificate and its key to dir and
// returns their paths.
func writeSelfSigned(t *testing.T, dir string) (certFile, keyFile string) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "gateway", Organization: []string{"Test Org"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(priv)
	require.NoError(t, err)

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0600))
	return certFile, keyFile
}

func TestServerConfig(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writeSelfSigned(t, dir)

	testCases := []struct {
		name       string
		opts       Options
		clientAuth tls.ClientAuthType
		expectErr  bool
	}{
		{name: "no verification", opts: Options{CertFile: certFile, KeyFile: keyFile}, clientAuth: tls.NoClientCert},
		{name: "verify peer", opts: Options{CertFile: certFile, KeyFile: keyFile, CACertFile: certFile, Verify: VerifyPeer}, clientAuth: tls.VerifyClientCertIfGiven},
		{name: "require peer", opts: Options{CertFile: certFile, KeyFile: keyFile, CACertFile: certFile, Verify: VerifyPeerFailIfNoCert}, clientAuth: tls.RequireAndVerifyClientCert},
		{name: "verify without CA", opts: Options{CertFile: certFile, KeyFile: keyFile, Verify: VerifyPeer}, expectErr: true},
		{name: "unknown mode", opts: Options{CertFile: certFile, KeyFile: keyFile, Verify: "sometimes"}, expectErr: true},
		{name: "missing key", opts: Options{CertFile: certFile, KeyFile: filepath.Join(dir, "nope.pem")}, expectErr: true},
		{name: "bad CA", opts: Options{CertFile: certFile, KeyFile: keyFile, CACertFile: keyFile, Verify: VerifyPeer}, expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := ServerConfig(tc.opts)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, cfg.Certificates, 1)
			assert.Equal(t, tc.clientAuth, cfg.ClientAuth)
			if tc.clientAuth != tls.NoClientCert {
				assert.NotNil(t, cfg.ClientCAs)
			}
		})
	}
}

func TestFingerprint(t *testing.T) {
	certFile, _ := writeSelfSigned(t, t.TempDir())
	data, err := os.ReadFile(certFile)
	require.NoError(t, err)
	block, _ := pem.Decode(data)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)

	fp := Fingerprint(cert)
	assert.Len(t, fp, 64)
	assert.Equal(t, fp, Fingerprint(cert))
}
