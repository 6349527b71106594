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

//go:build !windows

package scan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/hamb0n-3/quantum-scanner/pkg/logger"
	"github.com/hamb0n-3/quantum-scanner/pkg/models"
)

const rawReadBuffer = 65536

// RawTCPProber sends hand-built TCP segments over a raw IPv4 socket and
// correlates replies (TCP and ICMP errors) back to the waiting probe.
// One prober serves the whole run; Probe is called concurrently by the
// worker pool.
type RawTCPProber struct {
	timeout  time.Duration
	logger   logger.Logger
	rawConn  *ipv4.RawConn
	icmpConn *icmp.PacketConn
	sessions *sessionTable

	closed    chan struct{}
	closeOnce sync.Once
	readers   sync.WaitGroup

	mu sync.Mutex // serializes header writes on the raw conn
}

var _ Prober = (*RawTCPProber)(nil)

// NewRawTCPProber opens the raw TCP and ICMP sockets and starts the
// receive loops. Requires elevated privileges; without them the returned
// error wraps ErrPrivilege and the caller must abort before probing.
func NewRawTCPProber(timeout time.Duration, log logger.Logger) (*RawTCPProber, error) {
	if timeout == 0 {
		timeout = models.DefaultTimeout
	}

	conn, err := net.ListenPacket("ip4:tcp", "0.0.0.0")
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%w: %w", ErrPrivilege, err)
		}

		return nil, fmt.Errorf("open raw tcp socket: %w", err)
	}

	rawConn, err := ipv4.NewRawConn(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create raw connection: %w", err)
	}

	icmpConn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		_ = rawConn.Close()

		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%w: %w", ErrPrivilege, err)
		}

		return nil, fmt.Errorf("open icmp socket: %w", err)
	}

	p := &RawTCPProber{
		timeout:  timeout,
		logger:   log,
		rawConn:  rawConn,
		icmpConn: icmpConn,
		sessions: newSessionTable(),
		closed:   make(chan struct{}),
	}

	p.readers.Add(2)
	go p.readTCP()
	go p.readICMP()

	return p, nil
}

// Probe sends one raw probe and waits for its reply, its timeout, or ctx.
func (p *RawTCPProber) Probe(ctx context.Context, probe *models.Probe) (*models.Reply, error) {
	if !probe.Technique.IsRaw() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTechnique, probe.Technique)
	}

	select {
	case <-p.closed:
		return nil, ErrProberClosed
	default:
	}

	key := sessionKey{
		addr:  probe.Target.IP.String(),
		port:  probe.Port,
		proto: protoTCP,
		id:    probe.SrcPort,
	}

	replyCh, err := p.sessions.register(key, probe.ExpectAck)
	if err != nil {
		return nil, err
	}

	defer p.sessions.remove(key)

	if err := p.send(probe); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	probe.SentAt = time.Now()

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case reply := <-replyCh:
		reply.RTT = reply.ReceivedAt.Sub(probe.SentAt)
		return reply, nil
	case <-timer.C:
		return &models.Reply{Kind: models.ReplyTimeout, ReceivedAt: time.Now()}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// send writes the probe's segment, as one datagram or as the planned
// fragment series. All fragments share the probe's IP id so the far end
// can reassemble.
func (p *RawTCPProber) send(probe *models.Probe) error {
	hdr := ipv4.Header{
		Version:  ipv4.Version,
		Len:      ipv4.HeaderLen,
		ID:       int(probe.IPID),
		TTL:      int(probe.TTL),
		Protocol: protoTCP,
		Src:      probe.Target.Src.To4(),
		Dst:      probe.Target.IP.To4(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(probe.Fragments) == 0 {
		hdr.Flags = ipv4.DontFragment
		hdr.TotalLen = ipv4.HeaderLen + len(probe.WireBytes)

		return p.rawConn.WriteTo(&hdr, probe.WireBytes, nil)
	}

	for _, frag := range probe.Fragments {
		fh := hdr
		fh.TotalLen = ipv4.HeaderLen + len(frag.Bytes)
		fh.FragOff = frag.Offset

		if frag.More {
			fh.Flags = ipv4.MoreFragments
		}

		if err := p.rawConn.WriteTo(&fh, frag.Bytes, nil); err != nil {
			return err
		}
	}

	return nil
}

// readTCP is the TCP receive loop. Every inbound TCP packet on the host
// passes through here; the session table decides which ones are ours.
func (p *RawTCPProber) readTCP() {
	defer p.readers.Done()

	dec := newTCPDecoder()
	buf := make([]byte, rawReadBuffer)

	for {
		hdr, payload, _, err := p.rawConn.ReadFrom(buf)
		if err != nil {
			select {
			case <-p.closed:
				return
			default:
			}

			p.logger.Debug().Err(err).Msg("raw tcp read failed")

			continue
		}

		src, dst, reply, err := dec.decode(payload)
		if err != nil {
			continue
		}

		reply.TTL = uint8(hdr.TTL) // #nosec G115 - header TTL is one octet
		reply.ReceivedAt = time.Now()

		key := sessionKey{addr: hdr.Src.String(), port: src, proto: protoTCP, id: dst}
		p.sessions.deliver(key, reply)
	}
}

// readICMP watches for ICMP errors quoting our probes. Unreachable and
// time-exceeded messages are the only way a filtered port ever speaks.
func (p *RawTCPProber) readICMP() {
	defer p.readers.Done()

	buf := make([]byte, rawReadBuffer)

	for {
		n, _, err := p.icmpConn.ReadFrom(buf)
		if err != nil {
			select {
			case <-p.closed:
				return
			default:
			}

			p.logger.Debug().Err(err).Msg("icmp read failed")

			continue
		}

		msg, err := icmp.ParseMessage(1, buf[:n])
		if err != nil {
			continue
		}

		var quoted []byte

		switch body := msg.Body.(type) {
		case *icmp.DstUnreach:
			quoted = body.Data
		case *icmp.TimeExceeded:
			quoted = body.Data
		case *icmp.ParamProb:
			quoted = body.Data
		default:
			continue
		}

		origDst, origDstPort, origSrcPort, proto, err := parseQuoted(quoted)
		if err != nil {
			continue
		}

		icmpType, ok := msg.Type.(ipv4.ICMPType)
		if !ok {
			continue
		}

		reply := &models.Reply{
			Kind:       models.ReplyICMP,
			ICMPType:   uint8(icmpType),  // #nosec G115 - ICMP type is one octet
			ICMPCode:   uint8(msg.Code),  // #nosec G115 - ICMP code is one octet
			ReceivedAt: time.Now(),
		}

		key := sessionKey{addr: origDst.String(), port: origDstPort, proto: proto, id: origSrcPort}
		p.sessions.deliver(key, reply)
	}
}

// Close stops the receive loops and releases the sockets. In-flight
// Probe calls resolve as timeouts or context errors.
func (p *RawTCPProber) Close() error {
	var err error

	p.closeOnce.Do(func() {
		close(p.closed)

		err = p.rawConn.Close()

		if cerr := p.icmpConn.Close(); cerr != nil && err == nil {
			err = cerr
		}

		p.readers.Wait()
	})

	return err
}
