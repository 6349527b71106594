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

// Package analyzer enriches reachable-port results after their state is
// settled: service identification, banner grabbing, TLS certificate
// inspection, SSH host keys and known-version vulnerability notes.
// Everything here is best effort and additive; the analyzer never
// changes a port's state or findings.
package analyzer

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/hamb0n-3/quantum-scanner/pkg/logger"
	"github.com/hamb0n-3/quantum-scanner/pkg/models"
	"github.com/hamb0n-3/quantum-scanner/pkg/scan"
)

const defaultAnalyzerTimeout = 5 * time.Second

// Suite runs the enrichment passes over one result. It dials through
// the same dialer as the stream probes, so a proxied scan stays proxied
// during enrichment.
type Suite struct {
	timeout time.Duration
	dialer  scan.Dialer
	log     logger.Logger
}

// NewSuite builds the analyzer suite with zero-value defaults applied.
func NewSuite(timeout time.Duration, dialer scan.Dialer, log logger.Logger) *Suite {
	if timeout <= 0 {
		timeout = defaultAnalyzerTimeout
	}

	if dialer == nil {
		dialer = &net.Dialer{}
	}

	return &Suite{timeout: timeout, dialer: dialer, log: log}
}

// Enrich decorates a reachable port with whatever the service will
// reveal: a banner, a refined service name, TLS certificate details, an
// SSH host key and vulnerability notes for recognizable versions. Open,
// unfiltered and open|filtered ports all get the pass; closed and
// filtered ports pass through untouched, and TCP connections are only
// attempted for ports something other than the UDP technique found.
func (s *Suite) Enrich(ctx context.Context, result *models.PortResult) error {
	switch result.State {
	case models.StateOpen, models.StateUnfiltered, models.StateOpenFiltered:
	default:
		return nil
	}

	svc := ServiceFor(result.Port)

	if udpOnly(result) {
		result.Service = svc
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// TLS ports get their metadata from the handshake instead of a
	// plaintext read that the peer would reject.
	if result.Banner == "" && !likelyTLS(result.Port) {
		banner, err := s.grabBanner(ctx, result.Host, result.Port, svc)
		if err != nil {
			s.log.Debug().Err(err).
				Str("target", result.Host).
				Uint16("port", result.Port).
				Msg("banner grab failed")
		} else {
			result.Banner = banner
		}
	}

	if detected := detectService(result.Banner); detected != "" {
		svc = detected
	}

	result.Service = svc

	if err := ctx.Err(); err != nil {
		return err
	}

	if svc == "ssh" || strings.HasPrefix(result.Banner, "SSH-") {
		s.enrichSSH(ctx, result)
	}

	if result.Cert == nil && likelyTLS(result.Port) {
		s.enrichTLS(ctx, result)
	}

	if result.Cert != nil {
		result.VulnNotes = append(result.VulnNotes, certNotes(result.Cert, time.Now())...)
	}

	result.VulnNotes = append(result.VulnNotes, vulnNotes(result.Banner)...)

	return nil
}

// udpOnly reports whether every finding that saw the port open (or
// possibly open) came from the UDP technique; such ports get no
// TCP-side enrichment.
func udpOnly(result *models.PortResult) bool {
	sawOpen := false

	for _, f := range result.Findings {
		if f.State != models.StateOpen && f.State != models.StateOpenFiltered {
			continue
		}

		sawOpen = true

		if f.Technique != models.TechUDP {
			return false
		}
	}

	return sawOpen
}
