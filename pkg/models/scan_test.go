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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTechnique(t *testing.T) {
	tech, err := ParseTechnique("tls_echo")
	require.NoError(t, err)
	assert.Equal(t, TechTLSEcho, tech)

	_, err = ParseTechnique("SYN")
	assert.ErrorIs(t, err, ErrUnknownTechnique, "technique names are lowercase")
}

func TestTechniqueTransportClass(t *testing.T) {
	for _, tech := range Techniques() {
		switch tech {
		case TechSSL, TechTLSEcho:
			assert.True(t, tech.IsStream(), "%s should be stream-based", tech)
			assert.False(t, tech.IsRaw(), "%s should not need raw sockets", tech)
		case TechUDP:
			assert.False(t, tech.IsRaw(), "%s uses a datagram socket, not a raw one", tech)
			assert.False(t, tech.IsStream())
		default:
			assert.True(t, tech.IsRaw(), "%s should need raw sockets", tech)
			assert.False(t, tech.IsStream())
		}
	}
}

func TestStatePriorityOrder(t *testing.T) {
	// Most conclusive-positive evidence wins during reconciliation.
	order := []PortState{
		StateOpen, StateUnfiltered, StateClosed,
		StateOpenFiltered, StateFiltered, StateClosedFiltered,
	}

	for i := 1; i < len(order); i++ {
		assert.Greater(t, order[i-1].Priority(), order[i].Priority(),
			"%s must outrank %s", order[i-1], order[i])
	}

	assert.Zero(t, PortState("bogus").Priority(), "unknown states rank below all defined ones")
}

func TestNewTarget(t *testing.T) {
	tgt, err := NewTarget("192.0.2.7")
	require.NoError(t, err)
	assert.True(t, tgt.IsIPv4())
	assert.Equal(t, "192.0.2.7", tgt.Host)

	v6, err := NewTarget("2001:db8::42")
	require.NoError(t, err)
	assert.False(t, v6.IsIPv4())

	_, err = NewTarget("not-an-ip")
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestReplyICMPHelpers(t *testing.T) {
	portUnreach := &Reply{Kind: ReplyICMP, ICMPType: 3, ICMPCode: 3}
	assert.True(t, portUnreach.IsPortUnreachable())
	assert.False(t, portUnreach.IsFragNeeded())

	fragNeeded := &Reply{Kind: ReplyICMP, ICMPType: 3, ICMPCode: 4}
	assert.True(t, fragNeeded.IsFragNeeded())

	hostUnreach := &Reply{Kind: ReplyICMP, ICMPType: 3, ICMPCode: 1}
	assert.False(t, hostUnreach.IsPortUnreachable())

	tcp := &Reply{Kind: ReplyTCP, ICMPType: 3, ICMPCode: 3}
	assert.False(t, tcp.IsPortUnreachable(), "kind gates the ICMP helpers")
}

func TestTopPorts(t *testing.T) {
	assert.Len(t, Top10Ports(), 10)
	assert.Len(t, TopPorts(100), 100)
	assert.Len(t, TopPorts(500), 100, "clamped to the known list")
	assert.Empty(t, TopPorts(-1))

	seen := make(map[uint16]struct{})
	for _, p := range TopPorts(100) {
		_, dup := seen[p]
		require.False(t, dup, "duplicate top port %d", p)
		seen[p] = struct{}{}
	}
}
