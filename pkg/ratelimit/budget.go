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

// Package ratelimit meters outbound probes with a token bucket. Every
// probe attempt, retries included, spends one token before it may touch
// the wire.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

const (
	// minAdaptivePPS is the floor the adaptive controller will not back
	// off below, so a lossy path still makes forward progress.
	minAdaptivePPS = 10

	// adjustEvery is how many observed outcomes trigger one adaptive
	// rate adjustment.
	adjustEvery = 50

	backoffRatio  = 0.40 // timeout share that triggers a slowdown
	recoverRatio  = 0.10 // timeout share under which the rate recovers
	backoffFactor = 0.8
	recoverFactor = 1.1
)

// Budget is a token-bucket probe budget. A zero rate means unbounded: no
// probe ever waits. The optional adaptive mode backs the rate off while
// timeouts dominate the observed outcomes and recovers toward the
// configured rate once responses flow again; it never exceeds the
// configured rate.
type Budget struct {
	limiter *rate.Limiter

	mu       sync.Mutex
	base     float64
	current  float64
	adaptive bool
	observed int
	timeouts int
}

// New builds a budget capped at pps probes per second with the given
// burst capacity. pps == 0 disables limiting entirely; burst <= 0
// defaults to one second's worth of tokens.
func New(pps, burst int) *Budget {
	if pps <= 0 {
		return &Budget{limiter: rate.NewLimiter(rate.Inf, 0)}
	}

	if burst <= 0 {
		burst = pps
	}

	return &Budget{
		limiter: rate.NewLimiter(rate.Limit(pps), burst),
		base:    float64(pps),
		current: float64(pps),
	}
}

// NewAdaptive builds a rate-capped budget whose rate responds to Observe.
func NewAdaptive(pps, burst int) *Budget {
	b := New(pps, burst)
	if b.base > 0 {
		b.adaptive = true
	}

	return b
}

// Wait blocks until one token is available or ctx is done. Unbounded
// budgets return immediately.
func (b *Budget) Wait(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}

// Limit reports the current probes-per-second cap; 0 means unbounded.
func (b *Budget) Limit() float64 {
	if b.limiter.Limit() == rate.Inf {
		return 0
	}

	return float64(b.limiter.Limit())
}

// Burst reports the bucket capacity.
func (b *Budget) Burst() int {
	return b.limiter.Burst()
}

// SetRate replaces the probes-per-second cap; 0 lifts the cap. The
// adaptive baseline moves with it.
func (b *Budget) SetRate(pps int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if pps <= 0 {
		b.base = 0
		b.current = 0
		b.adaptive = false
		b.limiter.SetLimit(rate.Inf)

		return
	}

	b.base = float64(pps)
	b.current = float64(pps)
	b.limiter.SetLimit(rate.Limit(pps))
}

// Observe records one probe outcome. In adaptive mode, every adjustEvery
// outcomes the timeout share is evaluated: above backoffRatio the rate
// drops by backoffFactor (never below minAdaptivePPS), below recoverRatio
// it climbs by recoverFactor, capped at the configured rate.
func (b *Budget) Observe(timedOut bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.adaptive {
		return
	}

	b.observed++

	if timedOut {
		b.timeouts++
	}

	if b.observed < adjustEvery {
		return
	}

	share := float64(b.timeouts) / float64(b.observed)
	b.observed = 0
	b.timeouts = 0

	switch {
	case share > backoffRatio:
		b.current *= backoffFactor
		if b.current < minAdaptivePPS {
			b.current = minAdaptivePPS
		}
	case share < recoverRatio && b.current < b.base:
		b.current *= recoverFactor
		if b.current > b.base {
			b.current = b.base
		}
	default:
		return
	}

	b.limiter.SetLimit(rate.Limit(b.current))
}
