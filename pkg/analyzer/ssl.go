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
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hamb0n-3/quantum-scanner/pkg/models"
)

// enrichTLS performs a certificate fetch on a port that conventionally
// speaks TLS when the scan itself did not already collect one.
func (s *Suite) enrichTLS(ctx context.Context, result *models.PortResult) {
	addr := net.JoinHostPort(result.Host, strconv.Itoa(int(result.Port)))

	raw, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return
	}
	defer raw.Close()

	cfg := &tls.Config{
		InsecureSkipVerify: true, // #nosec G402 - certificates are inspected, not trusted
		MinVersion:         tls.VersionTLS10,
	}

	if net.ParseIP(result.Host) == nil {
		cfg.ServerName = result.Host
	}

	conn := tls.Client(raw, cfg)
	defer conn.Close()

	if err := conn.HandshakeContext(ctx); err != nil {
		s.log.Debug().Err(err).
			Str("target", result.Host).
			Uint16("port", result.Port).
			Msg("certificate fetch failed")

		return
	}

	state := conn.ConnectionState()

	if len(state.PeerCertificates) == 0 {
		return
	}

	cert := models.NewCertInfo(state.PeerCertificates[0])
	cert.Version = models.TLSVersionName(state.Version)
	cert.CipherSuite = tls.CipherSuiteName(state.CipherSuite)

	result.Cert = cert
}

const (
	minRSABits = 2048

	// expiryWarning flags certificates within a month of expiring.
	expiryWarning = 30 * 24 * time.Hour
)

// certNotes flags the certificate weaknesses worth surfacing: expiry,
// legacy protocol versions, deprecated hashes, short RSA keys and weak
// negotiated ciphers.
func certNotes(cert *models.CertInfo, now time.Time) []string {
	var notes []string

	switch {
	case now.After(cert.NotAfter):
		notes = append(notes, fmt.Sprintf("certificate expired %s", cert.NotAfter.Format("2006-01-02")))
	case now.Add(expiryWarning).After(cert.NotAfter):
		notes = append(notes, fmt.Sprintf("certificate expires %s", cert.NotAfter.Format("2006-01-02")))
	case now.Before(cert.NotBefore):
		notes = append(notes, "certificate not yet valid")
	}

	sig := strings.ToUpper(cert.SigAlgorithm)
	if strings.Contains(sig, "SHA1") || strings.Contains(sig, "MD5") {
		notes = append(notes, fmt.Sprintf("deprecated signature algorithm %s", cert.SigAlgorithm))
	}

	if cert.KeyAlgorithm == "RSA" && cert.PublicKeyBits > 0 && cert.PublicKeyBits < minRSABits {
		notes = append(notes, fmt.Sprintf("weak RSA key (%d bits)", cert.PublicKeyBits))
	}

	switch cert.Version {
	case "TLSv1.0", "TLSv1.1":
		notes = append(notes, fmt.Sprintf("legacy protocol %s negotiated", cert.Version))
	}

	cipher := strings.ToUpper(cert.CipherSuite)
	if strings.Contains(cipher, "RC4") || strings.Contains(cipher, "3DES") {
		notes = append(notes, fmt.Sprintf("weak cipher suite %s", cert.CipherSuite))
	}

	return notes
}
