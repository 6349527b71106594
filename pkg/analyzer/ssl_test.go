/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package analyzer

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamb0n-3/quantum-scanner/pkg/models"
)

func newTLSServer(t *testing.T) uint16 {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "analyzer-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{"localhost"},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}

	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}

			go func(c net.Conn) {
				defer c.Close()

				// drive the handshake; the client hangs up after it
				buf := make([]byte, 1)

				_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
				_, _ = c.Read(buf)
			}(conn)
		}
	}()

	return uint16(ln.Addr().(*net.TCPAddr).Port)
}

func TestEnrichTLSFetchesCertificate(t *testing.T) {
	port := newTLSServer(t)

	s := testSuite()
	r := &models.PortResult{Host: "127.0.0.1", Port: port, State: models.StateOpen}

	s.enrichTLS(context.Background(), r)

	require.NotNil(t, r.Cert)
	assert.Contains(t, r.Cert.Subject, "analyzer-test")
	assert.Equal(t, "ECDSA", r.Cert.KeyAlgorithm)
	assert.NotEmpty(t, r.Cert.Version)
	assert.NotEmpty(t, r.Cert.CipherSuite)
}

func TestCertNotes(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	healthy := &models.CertInfo{
		NotBefore:    now.Add(-24 * time.Hour),
		NotAfter:     now.Add(365 * 24 * time.Hour),
		SigAlgorithm: "SHA256-RSA",
		KeyAlgorithm: "RSA",
		PublicKeyBits: 4096,
		Version:      "TLSv1.3",
		CipherSuite:  "TLS_AES_128_GCM_SHA256",
	}
	assert.Empty(t, certNotes(healthy, now))

	expired := &models.CertInfo{NotAfter: now.Add(-time.Hour), NotBefore: now.Add(-100 * time.Hour)}
	notes := certNotes(expired, now)
	require.NotEmpty(t, notes)
	assert.Contains(t, notes[0], "certificate expired")

	expiring := &models.CertInfo{NotAfter: now.Add(10 * 24 * time.Hour), NotBefore: now.Add(-time.Hour)}
	notes = certNotes(expiring, now)
	require.NotEmpty(t, notes)
	assert.Contains(t, notes[0], "certificate expires")

	weak := &models.CertInfo{
		NotBefore:     now.Add(-time.Hour),
		NotAfter:      now.Add(365 * 24 * time.Hour),
		SigAlgorithm:  "SHA1-RSA",
		KeyAlgorithm:  "RSA",
		PublicKeyBits: 1024,
		Version:       "TLSv1.0",
		CipherSuite:   "TLS_RSA_WITH_RC4_128_SHA",
	}

	notes = certNotes(weak, now)
	require.Len(t, notes, 4)
	assert.Contains(t, notes[0], "deprecated signature algorithm")
	assert.Contains(t, notes[1], "weak RSA key")
	assert.Contains(t, notes[2], "legacy protocol")
	assert.Contains(t, notes[3], "weak cipher suite")
}
