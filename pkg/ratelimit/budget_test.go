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

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnboundedNeverWaits(t *testing.T) {
	b := New(0, 0)

	start := time.Now()

	for i := 0; i < 1000; i++ {
		require.NoError(t, b.Wait(context.Background()))
	}

	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Zero(t, b.Limit())
}

func TestBucketCapsThroughput(t *testing.T) {
	// 200 pps with burst 5: 20 sends need 15 refills, so at least 75ms.
	b := New(200, 5)

	start := time.Now()

	for i := 0; i < 20; i++ {
		require.NoError(t, b.Wait(context.Background()))
	}

	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 70*time.Millisecond)
	assert.Equal(t, float64(200), b.Limit())
	assert.Equal(t, 5, b.Burst())
}

func TestDefaultBurstIsOneSecond(t *testing.T) {
	b := New(50, 0)
	assert.Equal(t, 50, b.Burst())
}

func TestWaitHonorsContext(t *testing.T) {
	b := New(1, 1)
	require.NoError(t, b.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := b.Wait(ctx)
	assert.Error(t, err)
}

func TestSetRateLiftsCap(t *testing.T) {
	b := New(10, 1)
	b.SetRate(0)
	assert.Zero(t, b.Limit())

	start := time.Now()

	for i := 0; i < 100; i++ {
		require.NoError(t, b.Wait(context.Background()))
	}

	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestAdaptiveBacksOffUnderTimeouts(t *testing.T) {
	b := NewAdaptive(100, 10)

	for i := 0; i < adjustEvery; i++ {
		b.Observe(i%2 == 0) // 50% timeouts
	}

	assert.InDelta(t, 80, b.Limit(), 0.01)

	// Heavy loss keeps backing off but never below the floor.
	for round := 0; round < 40; round++ {
		for i := 0; i < adjustEvery; i++ {
			b.Observe(true)
		}
	}

	assert.GreaterOrEqual(t, b.Limit(), float64(minAdaptivePPS))
}

func TestAdaptiveRecoversTowardBase(t *testing.T) {
	b := NewAdaptive(100, 10)

	// Push the rate down first.
	for i := 0; i < adjustEvery; i++ {
		b.Observe(true)
	}

	lowered := b.Limit()
	require.Less(t, lowered, float64(100))

	// Clean responses climb back, capped at the configured rate.
	for round := 0; round < 40; round++ {
		for i := 0; i < adjustEvery; i++ {
			b.Observe(false)
		}
	}

	assert.InDelta(t, 100, b.Limit(), 0.01)
}

func TestObserveIgnoredWithoutAdaptive(t *testing.T) {
	b := New(100, 10)

	for i := 0; i < 5*adjustEvery; i++ {
		b.Observe(true)
	}

	assert.Equal(t, float64(100), b.Limit())
}
