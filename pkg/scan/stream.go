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
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/net/proxy"

	"github.com/hamb0n-3/quantum-scanner/pkg/logger"
	"github.com/hamb0n-3/quantum-scanner/pkg/models"
)

const streamReadBuffer = 4096

// Dialer abstracts stream dialing so stream probes can ride a SOCKS5
// proxy. Raw probes never use it; crafted packets cannot be proxied.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type dialerFunc func(ctx context.Context, network, address string) (net.Conn, error)

func (f dialerFunc) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return f(ctx, network, address)
}

// NewStreamDialer returns a direct dialer, or a SOCKS5 one when proxyAddr
// is set.
func NewStreamDialer(proxyAddr string) (Dialer, error) {
	if proxyAddr == "" {
		return &net.Dialer{}, nil
	}

	d, err := proxy.SOCKS5("tcp", proxyAddr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("socks5 dialer: %w", err)
	}

	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd, nil
	}

	return dialerFunc(func(_ context.Context, network, address string) (net.Conn, error) {
		return d.Dial(network, address)
	}), nil
}

// StreamProber runs the techniques that need an established TCP stream:
// a full TLS handshake, and the TLS-shaped echo probe.
type StreamProber struct {
	timeout time.Duration
	dialer  Dialer
	logger  logger.Logger
}

var _ Prober = (*StreamProber)(nil)

// NewStreamProber builds a stream prober. A nil dialer dials directly.
func NewStreamProber(timeout time.Duration, dialer Dialer, log logger.Logger) *StreamProber {
	if timeout == 0 {
		timeout = models.DefaultTimeout
	}

	if dialer == nil {
		dialer = &net.Dialer{}
	}

	return &StreamProber{timeout: timeout, dialer: dialer, logger: log}
}

// Probe runs the probe's stream technique to completion.
func (p *StreamProber) Probe(ctx context.Context, probe *models.Probe) (*models.Reply, error) {
	switch probe.Technique {
	case models.TechSSL:
		return p.probeTLS(ctx, probe)
	case models.TechTLSEcho:
		return p.probeEcho(ctx, probe)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTechnique, probe.Technique)
	}
}

// dial connects to the probe's port. A refused connection or a connect
// timeout is a classification signal, returned as a reply; other network
// failures are transport errors.
func (p *StreamProber) dial(ctx context.Context, probe *models.Probe) (net.Conn, *models.Reply, error) {
	dctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	probe.SentAt = time.Now()
	addr := net.JoinHostPort(probe.Target.Host, strconv.Itoa(int(probe.Port)))

	conn, err := p.dialer.DialContext(dctx, "tcp", addr)
	if err == nil {
		return conn, nil, nil
	}

	if ctx.Err() != nil {
		return nil, nil, ctx.Err()
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		// The kernel turned the peer's RST into a refused connect.
		return nil, &models.Reply{
			Kind:       models.ReplyTCP,
			Flags:      models.TCPFlags{RST: true},
			ReceivedAt: time.Now(),
			RTT:        time.Since(probe.SentAt),
		}, nil
	case isTimeout(err):
		return nil, &models.Reply{Kind: models.ReplyTimeout, ReceivedAt: time.Now()}, nil
	default:
		return nil, nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
}

func (p *StreamProber) probeTLS(ctx context.Context, probe *models.Probe) (*models.Reply, error) {
	conn, reply, err := p.dial(ctx, probe)
	if err != nil || reply != nil {
		return reply, err
	}

	defer func() { _ = conn.Close() }()

	cfg := &tls.Config{
		InsecureSkipVerify: true,             // #nosec G402 - certificates are collected, not trusted
		MinVersion:         tls.VersionTLS10, // #nosec G402 - legacy endpoints are in scope
	}
	if net.ParseIP(probe.Target.Host) == nil {
		cfg.ServerName = probe.Target.Host
	}

	tlsConn := tls.Client(conn, cfg)

	hctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := tlsConn.HandshakeContext(hctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// The TCP connect already went through, so the port is open even
		// though the peer does not speak TLS.
		return &models.Reply{
			Kind:       models.ReplyHandshake,
			Handshake:  &models.HandshakeInfo{Complete: false},
			ReceivedAt: time.Now(),
			RTT:        time.Since(probe.SentAt),
		}, nil
	}

	state := tlsConn.ConnectionState()
	hs := &models.HandshakeInfo{
		Complete: true,
		Version:  models.TLSVersionName(state.Version),
		Cipher:   tls.CipherSuiteName(state.CipherSuite),
	}

	if len(state.PeerCertificates) > 0 {
		hs.Cert = models.NewCertInfo(state.PeerCertificates[0])
		hs.Cert.Version = hs.Version
		hs.Cert.CipherSuite = hs.Cipher
	}

	return &models.Reply{
		Kind:       models.ReplyHandshake,
		Handshake:  hs,
		ReceivedAt: time.Now(),
		RTT:        time.Since(probe.SentAt),
	}, nil
}

func (p *StreamProber) probeEcho(ctx context.Context, probe *models.Probe) (*models.Reply, error) {
	conn, reply, err := p.dial(ctx, probe)
	if err != nil || reply != nil {
		return reply, err
	}

	defer func() { _ = conn.Close() }()

	deadline := time.Now().Add(p.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	if _, err := conn.Write(probe.Payload); err != nil {
		// Connect succeeded; a write failure still proves the port open.
		return &models.Reply{
			Kind:       models.ReplyHandshake,
			Handshake:  &models.HandshakeInfo{Complete: false},
			ReceivedAt: time.Now(),
			RTT:        time.Since(probe.SentAt),
		}, nil
	}

	buf := make([]byte, streamReadBuffer)

	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// Open but silent, or reset after connect: either way the
		// three-way handshake completed.
		return &models.Reply{
			Kind:       models.ReplyHandshake,
			Handshake:  &models.HandshakeInfo{Complete: false},
			ReceivedAt: time.Now(),
			RTT:        time.Since(probe.SentAt),
		}, nil
	}

	echoed := make([]byte, n)
	copy(echoed, buf[:n])

	return &models.Reply{
		Kind:       models.ReplyHandshake,
		Handshake:  &models.HandshakeInfo{Echoed: echoed},
		Payload:    echoed,
		ReceivedAt: time.Now(),
		RTT:        time.Since(probe.SentAt),
	}, nil
}

// Close is a no-op: stream probes use per-probe connections.
func (*StreamProber) Close() error {
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}
