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

// mimicPayloads maps protocol template ids to the first bytes a server of
// that protocol would put on the wire. Mimic probes carry a prefix of the
// template so middleboxes that sniff payloads see familiar traffic.
var mimicPayloads = map[string][]byte{
	"HTTP":     []byte("HTTP/1.1 200 OK\r\nServer: Apache/2.4.41 (Ubuntu)\r\nContent-Type: text/html\r\nContent-Length: 0\r\n\r\n"),
	"HTTP/1.0": []byte("HTTP/1.0 200 OK\r\nServer: Apache/2.4.41 (Ubuntu)\r\nContent-Type: text/html\r\nContent-Length: 0\r\n\r\n"),
	"HTTP/1.1": []byte("HTTP/1.1 200 OK\r\nServer: Apache/2.4.41 (Ubuntu)\r\nContent-Type: text/html\r\nContent-Length: 0\r\n\r\n"),
	"HTTP/2.0": []byte("HTTP/2.0 200 OK\r\nserver: nginx\r\ncontent-length: 0\r\n\r\n"),
	"SSH":      []byte("SSH-2.0-OpenSSH_8.2p1 Ubuntu-4ubuntu0.5\r\n"),
	"FTP":      []byte("220 FTP Server Ready\r\n"),
	"SMTP":     []byte("220 mail.example.com ESMTP Postfix\r\n"),
	"IMAP":     []byte("* OK IMAP4rev1 Service Ready\r\n"),
	"POP3":     []byte("+OK POP3 server ready\r\n"),
}

// MimicProtocols lists the accepted template ids.
func MimicProtocols() []string {
	out := make([]string, 0, len(mimicPayloads))
	for name := range mimicPayloads {
		out = append(out, name)
	}

	return out
}

// KnownMimicProtocol reports whether name has a payload template.
func KnownMimicProtocol(name string) bool {
	_, ok := mimicPayloads[name]
	return ok
}

// maxMimicPrefix caps how much of a template rides on a mimic probe.
// A short prefix is enough for payload-sniffing gear and keeps the
// segment within what an initial data-bearing packet plausibly carries.
const maxMimicPrefix = 16

// dnsQueryRootA is a well-formed DNS query for the root A record:
// transaction id 0x1234, recursion desired, one question. Resolvers
// answer or refuse it; either way the port proves open.
var dnsQueryRootA = []byte{
	0x12, 0x34, // transaction id
	0x01, 0x00, // flags: recursion desired
	0x00, 0x01, // questions
	0x00, 0x00, // answers
	0x00, 0x00, // authority
	0x00, 0x00, // additional
	0x00,       // QNAME: root
	0x00, 0x01, // QTYPE: A
	0x00, 0x01, // QCLASS: IN
}

// ntpClientRequest is a minimal NTPv3 client packet (LI=0, VN=3, mode 3).
func ntpClientRequest() []byte {
	pkt := make([]byte, 48)
	pkt[0] = 0x1b

	return pkt
}

var ssdpSearch = []byte("M-SEARCH * HTTP/1.1\r\n" +
	"HOST: 239.255.255.250:1900\r\n" +
	"MAN: \"ssdp:discover\"\r\n" +
	"MX: 1\r\n" +
	"ST: ssdp:all\r\n\r\n")

// defaultUDPPayload is sent to ports with no protocol-specific probe.
// Most services ignore it, but a closed port still answers with ICMP
// port-unreachable, which is the distinction the UDP technique needs.
var defaultUDPPayload = []byte("probe")

// udpPayloads maps destination ports to service-specific probe bodies.
// A payload a service actually parses raises the odds of an application
// reply, turning open|filtered into a conclusive open.
var udpPayloads = map[uint16][]byte{
	53:   dnsQueryRootA,
	123:  ntpClientRequest(),
	1900: ssdpSearch,
	5353: dnsQueryRootA,
}

// UDPPayload returns the probe body for port, falling back to the
// generic payload.
func UDPPayload(port uint16) []byte {
	if p, ok := udpPayloads[port]; ok {
		return p
	}

	return defaultUDPPayload
}

// tlsEchoProbe is a byte sequence shaped like the start of a TLS 1.2
// ServerHello record. Echo services and some protocol-confused endpoints
// send it (or part of it) back; a TLS stack answers with an alert and a
// plain closed port resets. The distinct reactions separate the states.
func tlsEchoProbe(rng interface{ Read([]byte) (int, error) }) []byte {
	pkt := make([]byte, 0, 5+4+2+32)
	pkt = append(pkt,
		0x16,       // handshake record
		0x03, 0x03, // TLS 1.2
		0x00, 0x2f, // record length
		0x02,             // server hello
		0x00, 0x00, 0x2b, // handshake length
		0x03, 0x03, // server version
	)

	random := make([]byte, 32)
	if rng != nil {
		_, _ = rng.Read(random)
	}

	pkt = append(pkt, random...)
	pkt = append(pkt, 0x00) // session id length

	return pkt
}
