//go:build !windows
// +build !windows

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
	"math/rand"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamb0n-3/quantum-scanner/pkg/logger"
	"github.com/hamb0n-3/quantum-scanner/pkg/models"
	"github.com/hamb0n-3/quantum-scanner/pkg/probe"
)

// rawTestSrcPort sits above the kernel's ephemeral range so no real
// connection collides with the probe while the test runs.
const rawTestSrcPort = 61001

func requireRoot(t *testing.T) {
	t.Helper()

	if os.Geteuid() != 0 {
		t.Skip("raw socket probing requires root")
	}
}

func rawProbe(t *testing.T, port uint16, srcPort uint16) *models.Probe {
	t.Helper()

	rng := rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // test randomness

	profile, err := probe.NewProfile(nil, rng)
	require.NoError(t, err)

	tgt, err := models.NewTarget("127.0.0.1")
	require.NoError(t, err)

	tgt.Src = net.ParseIP("127.0.0.1")

	p, err := probe.NewBuilder(profile, rng).Build(tgt, port, models.TechSYN, 1, srcPort)
	require.NoError(t, err)

	return p
}

func TestRawTCPProbeLoopback(t *testing.T) {
	requireRoot(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	openPort := uint16(ln.Addr().(*net.TCPAddr).Port)

	prober, err := NewRawTCPProber(2*time.Second, logger.NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = prober.Close() })

	t.Run("open port answers syn-ack", func(t *testing.T) {
		reply, err := prober.Probe(context.Background(), rawProbe(t, openPort, rawTestSrcPort))
		require.NoError(t, err)

		require.Equal(t, models.ReplyTCP, reply.Kind)
		assert.True(t, reply.Flags.SYN)
		assert.True(t, reply.Flags.ACK)
		assert.Positive(t, reply.RTT)
	})

	t.Run("closed port answers rst", func(t *testing.T) {
		closed := closedPort(t)

		reply, err := prober.Probe(context.Background(), rawProbe(t, closed, rawTestSrcPort+1))
		require.NoError(t, err)

		require.Equal(t, models.ReplyTCP, reply.Kind)
		assert.True(t, reply.Flags.RST)
	})
}

func TestRawTCPProbeRejectsStreamTechnique(t *testing.T) {
	requireRoot(t)

	prober, err := NewRawTCPProber(time.Second, logger.NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = prober.Close() })

	p := rawProbe(t, 80, rawTestSrcPort+2)
	p.Technique = models.TechSSL

	_, err = prober.Probe(context.Background(), p)
	assert.ErrorIs(t, err, ErrUnsupportedTechnique)
}

func TestNewRawTCPProberWithoutRoot(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("meaningful only without root")
	}

	_, err := NewRawTCPProber(time.Second, logger.NewTestLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPrivilege)
}
