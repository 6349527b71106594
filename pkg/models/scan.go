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

// Package models provides the data model shared by the scan engine.
package models

import (
	"fmt"
	"net"
	"time"
)

// Technique identifies one port-probing technique.
type Technique string

const (
	TechSYN     Technique = "syn"
	TechACK     Technique = "ack"
	TechFIN     Technique = "fin"
	TechXmas    Technique = "xmas"
	TechNull    Technique = "null"
	TechWindow  Technique = "window"
	TechSSL     Technique = "ssl"
	TechUDP     Technique = "udp"
	TechTLSEcho Technique = "tls_echo"
	TechMimic   Technique = "mimic"
	TechFrag    Technique = "frag"
)

// Techniques returns every known technique in canonical order.
func Techniques() []Technique {
	return []Technique{
		TechSYN, TechACK, TechFIN, TechXmas, TechNull, TechWindow,
		TechSSL, TechUDP, TechTLSEcho, TechMimic, TechFrag,
	}
}

// ParseTechnique converts a string like "syn" or "tls_echo" into a Technique.
func ParseTechnique(s string) (Technique, error) {
	for _, t := range Techniques() {
		if s == string(t) {
			return t, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownTechnique, s)
}

// IsRaw reports whether the technique needs a raw packet transport
// rather than an ordinary stream socket.
func (t Technique) IsRaw() bool {
	switch t {
	case TechSSL, TechTLSEcho, TechUDP:
		return false
	default:
		return true
	}
}

// IsStream reports whether the technique runs over a full TCP connection
// and can therefore be carried by a stream proxy.
func (t Technique) IsStream() bool {
	return t == TechSSL || t == TechTLSEcho
}

// PortState is the reachability verdict for one port.
type PortState string

const (
	StateOpen           PortState = "open"
	StateClosed         PortState = "closed"
	StateFiltered       PortState = "filtered"
	StateUnfiltered     PortState = "unfiltered"
	StateOpenFiltered   PortState = "open|filtered"
	StateClosedFiltered PortState = "closed|filtered"
)

// statePriority orders states by how conclusive-positive they are. When
// several techniques disagree about one port the highest priority wins.
var statePriority = map[PortState]int{
	StateOpen:           6,
	StateUnfiltered:     5,
	StateClosed:         4,
	StateOpenFiltered:   3,
	StateFiltered:       2,
	StateClosedFiltered: 1,
}

// Priority returns the reconciliation rank of the state. Unknown states
// rank below every defined one.
func (s PortState) Priority() int {
	return statePriority[s]
}

// Target is one resolved scan destination.
type Target struct {
	Host string `json:"host"`

	// IP is the parsed form of Host. Src is the local source address the
	// transport discovered for reaching it; raw probes need it for
	// checksum computation.
	IP  net.IP `json:"-"`
	Src net.IP `json:"-"`
}

// NewTarget parses an IP literal into a Target.
func NewTarget(host string) (Target, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		return Target{}, fmt.Errorf("%w: %q", ErrInvalidTarget, host)
	}

	return Target{Host: host, IP: ip}, nil
}

// TargetFromIP builds a Target from an already-parsed address.
func TargetFromIP(ip net.IP) Target {
	return Target{Host: ip.String(), IP: ip}
}

// IsIPv4 reports whether the target is an IPv4 address.
func (t Target) IsIPv4() bool {
	return t.IP.To4() != nil
}

// Fragment is one IP fragment of a larger raw probe. Offset is expressed
// in 8-byte units as required by the IP header.
type Fragment struct {
	Bytes  []byte
	Offset int
	More   bool
}

// Probe is one outbound probe unit, keyed by (target, port, technique,
// attempt). Raw techniques carry a serialized transport segment in
// WireBytes (plus an optional fragment series); stream and UDP techniques
// carry Payload instead.
type Probe struct {
	Target    Target
	Port      uint16
	Technique Technique
	Attempt   int

	SrcPort uint16
	IPID    uint16
	TTL     uint8
	Seq     uint32
	// ExpectAck correlates a SYN-bearing probe with its answer: a
	// legitimate reply acknowledges Seq+1.
	ExpectAck uint32
	Window    uint16

	WireBytes []byte
	Fragments []Fragment
	Payload   []byte

	// MimicOS is the fingerprint the probe was shaped after, recorded so
	// results can report the evasion parameters actually used.
	MimicOS string

	SentAt time.Time
}

// UnitKey identifies the (target, port) pair a probe contributes to.
func (p *Probe) UnitKey() string {
	return fmt.Sprintf("%s:%d", p.Target.Host, p.Port)
}

// ReplyKind tags what kind of signal a probe observed.
type ReplyKind string

const (
	ReplyTCP       ReplyKind = "tcp"
	ReplyICMP      ReplyKind = "icmp"
	ReplyUDP       ReplyKind = "udp"
	ReplyHandshake ReplyKind = "handshake"
	ReplyTimeout   ReplyKind = "timeout"
)

// TCPFlags is the flag set observed on a TCP reply.
type TCPFlags struct {
	SYN bool
	ACK bool
	FIN bool
	RST bool
	PSH bool
	URG bool
}

// Reply is the observed outcome of exactly one probe. A timeout is a
// Reply of kind ReplyTimeout, not an error: it drives classification
// like any other signal.
type Reply struct {
	Kind ReplyKind

	Flags  TCPFlags
	Ack    uint32
	Window uint16
	TTL    uint8
	// TimestampOpt records whether the peer negotiated the TCP timestamp
	// option, a useful OS-fingerprinting hint.
	TimestampOpt bool

	ICMPType uint8
	ICMPCode uint8

	Payload   []byte
	Handshake *HandshakeInfo

	ReceivedAt time.Time
	RTT        time.Duration
}

const (
	icmpDestUnreachable = 3
	icmpCodePortUnreach = 3
	icmpCodeFragNeeded  = 4
)

// IsPortUnreachable reports whether the reply is an ICMP destination
// unreachable with the port-unreachable code.
func (r *Reply) IsPortUnreachable() bool {
	return r.Kind == ReplyICMP && r.ICMPType == icmpDestUnreachable && r.ICMPCode == icmpCodePortUnreach
}

// IsFragNeeded reports whether the reply is an ICMP fragmentation-needed
// signal, which marks a stateful filter in the path.
func (r *Reply) IsFragNeeded() bool {
	return r.Kind == ReplyICMP && r.ICMPType == icmpDestUnreachable && r.ICMPCode == icmpCodeFragNeeded
}

// HandshakeInfo captures the result of a stream-level probe: a completed
// TLS handshake, or raw bytes echoed back after connect.
type HandshakeInfo struct {
	Complete bool
	Version  string
	Cipher   string
	Cert     *CertInfo
	// Echoed holds the first bytes read back by a TLS-echo probe.
	Echoed []byte
}

// TechniqueFinding is one technique's contribution to a port verdict.
type TechniqueFinding struct {
	Technique  Technique     `json:"technique"`
	State      PortState     `json:"state"`
	Reason     string        `json:"reason,omitempty"`
	Attempts   int           `json:"attempts"`
	Conclusive bool          `json:"conclusive"`
	RespTime   time.Duration `json:"resp_time,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// CertInfo is the certificate metadata extracted by the SSL analyzer.
type CertInfo struct {
	Subject       string    `json:"subject"`
	Issuer        string    `json:"issuer"`
	NotBefore     time.Time `json:"not_before"`
	NotAfter      time.Time `json:"not_after"`
	SigAlgorithm  string    `json:"signature_algorithm,omitempty"`
	KeyAlgorithm  string    `json:"key_algorithm,omitempty"`
	PublicKeyBits int       `json:"public_key_bits,omitempty"`
	AltNames      []string  `json:"alt_names,omitempty"`
	Version       string    `json:"tls_version,omitempty"`
	CipherSuite   string    `json:"cipher_suite,omitempty"`
}

// SSHInfo is the SSH enrichment attached to ports speaking SSH.
type SSHInfo struct {
	Version     string `json:"version"`
	HostKeyType string `json:"host_key_type,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// PortResult is the reconciled verdict for one (target, port) pair. One
// exists per pair per run; cancellation marks it incomplete instead of
// dropping it.
type PortResult struct {
	Host     string             `json:"host"`
	Port     uint16             `json:"port"`
	State    PortState          `json:"state"`
	Findings []TechniqueFinding `json:"findings,omitempty"`

	Service   string    `json:"service,omitempty"`
	Banner    string    `json:"banner,omitempty"`
	Cert      *CertInfo `json:"cert,omitempty"`
	SSH       *SSHInfo  `json:"ssh,omitempty"`
	VulnNotes []string  `json:"vuln_notes,omitempty"`

	Incomplete bool      `json:"incomplete,omitempty"`
	FirstProbe time.Time `json:"first_probe,omitempty"`
	LastSeen   time.Time `json:"last_seen,omitempty"`
}

// Key returns the aggregation key for the result.
func (r *PortResult) Key() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
