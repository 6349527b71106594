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
	"encoding/binary"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/hamb0n-3/quantum-scanner/pkg/models"
)

const (
	protoTCP = 6
	protoUDP = 17

	ipv4HeaderMin = 20
	quotedMinLen  = 8 // transport bytes an ICMP error must quote
)

// tcpDecoder reuses one gopacket decoding parser across reads. It is not
// safe for concurrent use; each receive loop owns its own.
type tcpDecoder struct {
	tcp     layers.TCP
	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

func newTCPDecoder() *tcpDecoder {
	d := &tcpDecoder{}
	d.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeTCP, &d.tcp)
	d.parser.IgnoreUnsupported = true

	return d
}

// decode parses one TCP segment into a reply plus the ports that key its
// session: src is the peer port, dst the local port the probe went out on.
func (d *tcpDecoder) decode(seg []byte) (src, dst uint16, reply *models.Reply, err error) {
	d.decoded = d.decoded[:0]

	if err := d.parser.DecodeLayers(seg, &d.decoded); err != nil {
		return 0, 0, nil, fmt.Errorf("%w: %w", ErrNotTCPSegment, err)
	}

	if len(d.decoded) == 0 || d.decoded[0] != layers.LayerTypeTCP {
		return 0, 0, nil, ErrNotTCPSegment
	}

	reply = &models.Reply{
		Kind: models.ReplyTCP,
		Flags: models.TCPFlags{
			SYN: d.tcp.SYN,
			ACK: d.tcp.ACK,
			FIN: d.tcp.FIN,
			RST: d.tcp.RST,
			PSH: d.tcp.PSH,
			URG: d.tcp.URG,
		},
		Ack:    d.tcp.Ack,
		Window: d.tcp.Window,
	}

	for _, opt := range d.tcp.Options {
		if opt.OptionType == layers.TCPOptionKindTimestamps {
			reply.TimestampOpt = true
			break
		}
	}

	return uint16(d.tcp.SrcPort), uint16(d.tcp.DstPort), reply, nil
}

// parseQuoted extracts the correlation fields from the datagram an ICMP
// error quotes: the original destination address and the first transport
// header bytes, which carry the original source and destination ports.
func parseQuoted(data []byte) (dst net.IP, dstPort, srcPort uint16, proto uint8, err error) {
	if len(data) < ipv4HeaderMin {
		return nil, 0, 0, 0, ErrShortIPv4Header
	}

	if data[0]>>4 != 4 {
		return nil, 0, 0, 0, ErrNotIPv4
	}

	ihl := int(data[0]&0x0f) * 4
	if ihl < ipv4HeaderMin {
		return nil, 0, 0, 0, ErrBadIPv4HeaderLength
	}

	if len(data) < ihl+quotedMinLen {
		return nil, 0, 0, 0, ErrShortQuotedPacket
	}

	proto = data[9]
	dst = net.IPv4(data[16], data[17], data[18], data[19])

	transport := data[ihl:]
	srcPort = binary.BigEndian.Uint16(transport[0:2])
	dstPort = binary.BigEndian.Uint16(transport[2:4])

	return dst, dstPort, srcPort, proto, nil
}
