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

package scan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/hamb0n-3/quantum-scanner/pkg/logger"
	"github.com/hamb0n-3/quantum-scanner/pkg/models"
)

const (
	udpReadBuffer = 2048

	icmpTypeDestUnreach = 3
	icmpCodePortUnreach = 3
	icmpCodeHostUnreach = 1
	icmpCodeAdminProhib = 13
)

// UDPProber probes UDP ports over connected sockets. Connecting lets the
// kernel route ICMP port-unreachable errors back to us as socket errors,
// so no raw ICMP listener (and no privilege) is needed.
type UDPProber struct {
	timeout time.Duration
	logger  logger.Logger
}

var _ Prober = (*UDPProber)(nil)

// NewUDPProber builds a UDP prober with the given per-probe timeout.
func NewUDPProber(timeout time.Duration, log logger.Logger) *UDPProber {
	if timeout == 0 {
		timeout = models.DefaultTimeout
	}

	return &UDPProber{timeout: timeout, logger: log}
}

// Probe sends the probe's payload and waits for an application reply, an
// ICMP-derived socket error, or the timeout.
func (p *UDPProber) Probe(ctx context.Context, probe *models.Probe) (*models.Reply, error) {
	if probe.Technique != models.TechUDP {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTechnique, probe.Technique)
	}

	d := net.Dialer{Timeout: p.timeout}
	addr := net.JoinHostPort(probe.Target.Host, strconv.Itoa(int(probe.Port)))

	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	defer func() { _ = conn.Close() }()

	if uc, ok := conn.(*net.UDPConn); ok && probe.TTL > 0 && probe.Target.IsIPv4() {
		if err := ipv4.NewConn(uc).SetTTL(int(probe.TTL)); err != nil {
			p.logger.Debug().Err(err).Msg("failed to set UDP TTL")
		}
	}

	if _, err := conn.Write(probe.Payload); err != nil {
		if reply := udpErrorReply(err); reply != nil {
			return reply, nil
		}

		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	probe.SentAt = time.Now()

	deadline := probe.SentAt.Add(p.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	buf := make([]byte, udpReadBuffer)

	n, err := conn.Read(buf)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrDeadlineExceeded):
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			return &models.Reply{Kind: models.ReplyTimeout, ReceivedAt: time.Now()}, nil
		default:
			if reply := udpErrorReply(err); reply != nil {
				reply.RTT = time.Since(probe.SentAt)
				return reply, nil
			}

			return nil, fmt.Errorf("%w: %w", ErrTransport, err)
		}
	}

	payload := make([]byte, n)
	copy(payload, buf[:n])

	return &models.Reply{
		Kind:       models.ReplyUDP,
		Payload:    payload,
		ReceivedAt: time.Now(),
		RTT:        time.Since(probe.SentAt),
	}, nil
}

// udpErrorReply translates the socket errors the kernel raises for
// inbound ICMP errors on a connected UDP socket. ECONNREFUSED is the
// port-unreachable signal; unreachable-network errors map to their ICMP
// shapes so the classifier sees one vocabulary.
func udpErrorReply(err error) *models.Reply {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return &models.Reply{
			Kind:       models.ReplyICMP,
			ICMPType:   icmpTypeDestUnreach,
			ICMPCode:   icmpCodePortUnreach,
			ReceivedAt: time.Now(),
		}
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return &models.Reply{
			Kind:       models.ReplyICMP,
			ICMPType:   icmpTypeDestUnreach,
			ICMPCode:   icmpCodeHostUnreach,
			ReceivedAt: time.Now(),
		}
	case errors.Is(err, syscall.EACCES):
		return &models.Reply{
			Kind:       models.ReplyICMP,
			ICMPType:   icmpTypeDestUnreach,
			ICMPCode:   icmpCodeAdminProhib,
			ReceivedAt: time.Now(),
		}
	default:
		return nil
	}
}

// Close is a no-op: UDP probes use per-probe sockets.
func (*UDPProber) Close() error {
	return nil
}
