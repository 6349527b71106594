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

package models

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
)

// TLSVersionName renders a TLS version constant for reports.
func TLSVersionName(version uint16) string {
	switch version {
	case tls.VersionTLS10:
		return "TLSv1.0"
	case tls.VersionTLS11:
		return "TLSv1.1"
	case tls.VersionTLS12:
		return "TLSv1.2"
	case tls.VersionTLS13:
		return "TLSv1.3"
	default:
		return tls.VersionName(version)
	}
}

// NewCertInfo extracts the report fields from a peer certificate. The
// negotiated Version and CipherSuite are filled in by the caller, which
// owns the connection state.
func NewCertInfo(cert *x509.Certificate) *CertInfo {
	info := &CertInfo{
		Subject:      cert.Subject.String(),
		Issuer:       cert.Issuer.String(),
		NotBefore:    cert.NotBefore,
		NotAfter:     cert.NotAfter,
		SigAlgorithm: cert.SignatureAlgorithm.String(),
		KeyAlgorithm: cert.PublicKeyAlgorithm.String(),
		AltNames:     cert.DNSNames,
	}

	switch key := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		info.PublicKeyBits = key.N.BitLen()
	case *ecdsa.PublicKey:
		info.PublicKeyBits = key.Curve.Params().BitSize
	case ed25519.PublicKey:
		info.PublicKeyBits = ed25519.PublicKeySize * 8
	}

	return info
}
