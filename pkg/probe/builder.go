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

package probe

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/hamb0n-3/quantum-scanner/pkg/models"
)

// Builder assembles technique-specific probes. Every probe draws a fresh
// IP id, sequence number and TTL so repeated probes to one target do not
// share an obvious signature; the resolved profile supplies the TTL
// baseline, window size, option ordering and mimicry payload.
type Builder struct {
	profile *Profile

	mu  sync.Mutex
	rng *rand.Rand
}

// NewBuilder wraps profile and rng. rng is guarded internally; Build is
// safe for concurrent use.
func NewBuilder(profile *Profile, rng *rand.Rand) *Builder {
	return &Builder{profile: profile, rng: rng}
}

// Profile returns the resolved profile the builder was built with.
func (b *Builder) Profile() *Profile {
	return b.profile
}

// draw produces the per-probe randomized fields under the rng lock.
func (b *Builder) draw() (ipid uint16, seq uint32, ttl uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ipid = uint16(b.rng.Intn(0xfffe) + 1)
	seq = b.rng.Uint32()
	ttl = b.profile.TTL(b.rng)

	return ipid, seq, ttl
}

// Build assembles one probe for the given unit and attempt. srcPort must
// be a reserved port for raw techniques and may be zero for stream and
// UDP techniques, where the kernel picks it. Raw techniques require the
// target to carry both a destination and a source IPv4 address.
func (b *Builder) Build(
	target models.Target,
	port uint16,
	tech models.Technique,
	attempt int,
	srcPort uint16,
) (*models.Probe, error) {
	ipid, seq, ttl := b.draw()

	p := &models.Probe{
		Target:    target,
		Port:      port,
		Technique: tech,
		Attempt:   attempt,
		SrcPort:   srcPort,
		IPID:      ipid,
		TTL:       ttl,
		Seq:       seq,
		ExpectAck: seq + 1,
		Window:    b.profile.Window(),
		MimicOS:   b.profile.OS(),
	}

	switch {
	case tech == models.TechUDP:
		p.Payload = UDPPayload(port)
		return p, nil
	case tech == models.TechTLSEcho:
		b.mu.Lock()
		p.Payload = tlsEchoProbe(b.rng)
		b.mu.Unlock()

		return p, nil
	case tech.IsStream():
		return p, nil
	}

	if target.IP == nil || target.Src == nil {
		return nil, fmt.Errorf("%w: raw probe for %q needs resolved addresses",
			models.ErrInvalidTarget, target.Host)
	}

	var payload []byte

	flags, ok := techniqueFlags[tech]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownTechnique, tech)
	}

	if tech == models.TechMimic {
		payload = b.profile.MimicPayload()
		if len(payload) > maxMimicPrefix {
			payload = payload[:maxMimicPrefix]
		}
	}

	wire, err := b.serializeTCP(p, flags, payload)
	if err != nil {
		return nil, err
	}

	p.WireBytes = wire

	if tech == models.TechFrag || b.profile.Fragment() {
		frags, err := b.planFragments(wire)
		if err != nil {
			return nil, err
		}

		p.Fragments = frags
	}

	return p, nil
}

// tcpFlags is the flag set a technique stamps on its segment.
type tcpFlags struct {
	syn, ack, fin, psh, urg bool
}

var techniqueFlags = map[models.Technique]tcpFlags{
	models.TechSYN:    {syn: true},
	models.TechACK:    {ack: true},
	models.TechFIN:    {fin: true},
	models.TechXmas:   {fin: true, psh: true, urg: true},
	models.TechNull:   {},
	models.TechWindow: {ack: true},
	models.TechMimic:  {syn: true},
	models.TechFrag:   {syn: true},
}

// serializeTCP renders the TCP segment with its checksum computed against
// the IPv4 pseudo-header. Only the segment is returned; the transport
// writes the IP header itself so it can also emit fragments.
func (b *Builder) serializeTCP(p *models.Probe, flags tcpFlags, payload []byte) ([]byte, error) {
	ip := &layers.IPv4{
		Version:  4,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    p.Target.Src,
		DstIP:    p.Target.IP,
	}

	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(p.SrcPort),
		DstPort: layers.TCPPort(p.Port),
		Seq:     p.Seq,
		Window:  p.Window,
		SYN:     flags.syn,
		ACK:     flags.ack,
		FIN:     flags.fin,
		PSH:     flags.psh,
		URG:     flags.urg,
		Options: b.profile.TCPOptions(),
	}

	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, fmt.Errorf("checksum context: %w", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	if err := gopacket.SerializeLayers(buf, opts, tcp, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("serialize tcp segment: %w", err)
	}

	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())

	return out, nil
}
