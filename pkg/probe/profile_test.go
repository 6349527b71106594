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
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamb0n-3/quantum-scanner/pkg/models"
)

func TestNewProfileResolvesRandomOSOnce(t *testing.T) {
	rng := rand.New(rand.NewSource(42)) //nolint:gosec // deterministic test randomness

	p, err := NewProfile(&models.EvasionConfig{MimicOS: models.MimicRandom}, rng)
	require.NoError(t, err)

	first := p.OS()
	assert.Contains(t, mimicOSChoices, first)

	// The choice is fixed at construction; later calls never re-roll.
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, p.OS())
	}
}

func TestNewProfileFingerprints(t *testing.T) {
	tests := []struct {
		os     string
		ttl    uint8
		window uint16
	}{
		{os: models.MimicWindows, ttl: 128, window: 65535},
		{os: models.MimicLinux, ttl: 64, window: 5840},
		{os: models.MimicMacOS, ttl: 64, window: 65535},
	}

	for _, tt := range tests {
		t.Run(tt.os, func(t *testing.T) {
			rng := rand.New(rand.NewSource(1)) //nolint:gosec // deterministic test randomness

			p, err := NewProfile(&models.EvasionConfig{MimicOS: tt.os}, rng)
			require.NoError(t, err)

			assert.Equal(t, tt.os, p.OS())
			assert.Equal(t, tt.window, p.Window())
			assert.Equal(t, tt.ttl, p.TTL(rng), "zero jitter returns the baseline")
			assert.NotEmpty(t, p.TCPOptions())
		})
	}
}

func TestProfileTTLJitter(t *testing.T) {
	rng := rand.New(rand.NewSource(3)) //nolint:gosec // deterministic test randomness

	p, err := NewProfile(&models.EvasionConfig{MimicOS: models.MimicLinux, TTLJitter: 5}, rng)
	require.NoError(t, err)

	varied := false

	for i := 0; i < 100; i++ {
		ttl := int(p.TTL(rng))
		assert.GreaterOrEqual(t, ttl, 59)
		assert.LessOrEqual(t, ttl, 69)

		if ttl != 64 {
			varied = true
		}
	}

	assert.True(t, varied, "jitter must actually perturb the TTL")
}

func TestProfileOptionSlicesAreIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(1)) //nolint:gosec // deterministic test randomness

	p, err := NewProfile(&models.EvasionConfig{MimicOS: models.MimicLinux}, rng)
	require.NoError(t, err)

	a := p.TCPOptions()
	b := p.TCPOptions()
	require.Equal(t, a, b)

	a[0].OptionData[0] = 0xff
	assert.NotEqual(t, a[0].OptionData[0], b[0].OptionData[0])
}

func TestNewProfileRejectsUnknownProtocol(t *testing.T) {
	rng := rand.New(rand.NewSource(1)) //nolint:gosec // deterministic test randomness

	_, err := NewProfile(&models.EvasionConfig{MimicProtocol: "GOPHER"}, rng)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUnknownMimicProtocol)
	assert.ErrorIs(t, err, models.ErrConfig)
}

func TestNewProfileNilConfig(t *testing.T) {
	p, err := NewProfile(nil, rand.New(rand.NewSource(1))) //nolint:gosec // deterministic test randomness
	require.NoError(t, err)

	assert.Equal(t, models.MimicLinux, p.OS())
	assert.False(t, p.Fragment())
	assert.Equal(t, models.DefaultMimicProtocol, p.MimicProtocol())
	assert.NotEmpty(t, p.MimicPayload())
}

func TestUDPPayloadSelection(t *testing.T) {
	assert.Equal(t, dnsQueryRootA, UDPPayload(53))
	assert.Equal(t, dnsQueryRootA, UDPPayload(5353))
	assert.Len(t, UDPPayload(123), 48)
	assert.Equal(t, byte(0x1b), UDPPayload(123)[0])
	assert.Equal(t, defaultUDPPayload, UDPPayload(9999))
}
