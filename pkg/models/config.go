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
	"encoding/json"
	"fmt"
	"time"
)

var errInvalidDuration = fmt.Errorf("invalid duration")

// Duration wraps time.Duration for JSON configs. It accepts either a Go
// duration string ("3s", "1500ms") or a bare number of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		// bare numbers are seconds, matching the option surface of the
		// reference scanner ("timeout": 3.0)
		*d = Duration(time.Duration(value * float64(time.Second)))
		return nil
	case string:
		dur, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w: %w", errInvalidDuration, err)
		}

		*d = Duration(dur)

		return nil
	default:
		return errInvalidDuration
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Duration returns the wrapped time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Mimic OS fingerprint identifiers accepted by EvasionConfig.
const (
	MimicWindows = "windows"
	MimicLinux   = "linux"
	MimicMacOS   = "macos"
	MimicRandom  = "random"
)

const (
	maxTTLJitter = 5

	// DefaultTTLJitter perturbs the baseline TTL by up to +-2 per probe.
	DefaultTTLJitter = 2

	// DefaultMimicProtocol is the payload template used by the mimic
	// technique when none is configured.
	DefaultMimicProtocol = "HTTP"
)

// EvasionConfig holds the per-run evasion parameters. It is immutable once
// the run starts; a "random" MimicOS is resolved exactly once per run so the
// emitted fingerprint stays internally consistent.
type EvasionConfig struct {
	TTLJitter     int    `json:"ttl_jitter"`
	MimicOS       string `json:"mimic_os,omitempty"`
	MimicProtocol string `json:"mimic_protocol,omitempty"`
	Fragment      bool   `json:"fragment,omitempty"`
}

// DefaultEvasionConfig returns the evasion parameters used when evasion is
// requested without explicit settings.
func DefaultEvasionConfig() *EvasionConfig {
	return &EvasionConfig{
		TTLJitter:     DefaultTTLJitter,
		MimicOS:       MimicRandom,
		MimicProtocol: DefaultMimicProtocol,
	}
}

// Validate checks the evasion parameters.
func (e *EvasionConfig) Validate() error {
	if e.TTLJitter < 0 || e.TTLJitter > maxTTLJitter {
		return fmt.Errorf("%w: %w: %d", ErrConfig, ErrTTLJitterRange, e.TTLJitter)
	}

	switch e.MimicOS {
	case "", MimicWindows, MimicLinux, MimicMacOS, MimicRandom:
	default:
		return fmt.Errorf("%w: %w: %q", ErrConfig, ErrUnknownMimicOS, e.MimicOS)
	}

	return nil
}

const (
	// DefaultConcurrency bounds the probe worker pool.
	DefaultConcurrency = 100

	// DefaultTimeout is the per-probe response wait.
	DefaultTimeout = 3 * time.Second

	// DefaultGrace bounds how long in-flight probes may finish after
	// cancellation before they are abandoned as timeouts.
	DefaultGrace = 1 * time.Second

	// DefaultRouteDiscoveryHost is dialed (UDP, no packets sent) to learn
	// a usable local source address when route discovery needs a fallback.
	DefaultRouteDiscoveryHost = "8.8.8.8:80"
)

// ScanConfig is the full configuration surface of one scan run.
type ScanConfig struct {
	Targets    []string    `json:"targets"`
	Ports      []uint16    `json:"ports"`
	Techniques []Technique `json:"techniques"`

	// Evasion enables the evasion knobs; nil scans with a plain baseline
	// fingerprint and no jitter, mimicry, or fragmentation.
	Evasion *EvasionConfig `json:"evasion,omitempty"`

	Concurrency int `json:"concurrency,omitempty"`

	// RatePPS caps outbound probes per second. Zero means unbounded.
	RatePPS   int `json:"rate_pps,omitempty"`
	RateBurst int `json:"rate_burst,omitempty"`

	// AdaptiveRate lets the budget back off while timeouts dominate and
	// recover toward RatePPS when responses flow again.
	AdaptiveRate bool `json:"adaptive_rate,omitempty"`

	Timeout Duration `json:"timeout,omitempty"`
	Grace   Duration `json:"grace,omitempty"`

	// ShufflePorts randomizes work-unit order so probes do not walk the
	// port list sequentially.
	ShufflePorts bool `json:"shuffle_ports,omitempty"`

	// ProxyAddr, when set, routes stream techniques (ssl, tls_echo and
	// service probes) through a SOCKS5 proxy. Raw probes never use it.
	ProxyAddr string `json:"proxy_addr,omitempty"`

	// SkipEnrichment disables the banner/TLS enrichment pass on open ports.
	SkipEnrichment bool `json:"skip_enrichment,omitempty"`

	RouteDiscoveryHost string `json:"route_discovery_host,omitempty"`
}

// Normalize fills unset fields with defaults. It is idempotent.
func (c *ScanConfig) Normalize() {
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}

	if c.Timeout == 0 {
		c.Timeout = Duration(DefaultTimeout)
	}

	if c.Grace == 0 {
		c.Grace = Duration(DefaultGrace)
	}

	if c.RouteDiscoveryHost == "" {
		c.RouteDiscoveryHost = DefaultRouteDiscoveryHost
	}

	if c.Evasion != nil {
		if c.Evasion.MimicOS == "" {
			c.Evasion.MimicOS = MimicRandom
		}

		if c.Evasion.MimicProtocol == "" {
			c.Evasion.MimicProtocol = DefaultMimicProtocol
		}
	}
}

// Validate checks the whole configuration. Every failure wraps ErrConfig and
// surfaces before any probe is sent.
func (c *ScanConfig) Validate() error {
	if len(c.Targets) == 0 {
		return fmt.Errorf("%w: %w", ErrConfig, ErrNoTargets)
	}

	if len(c.Ports) == 0 {
		return fmt.Errorf("%w: %w", ErrConfig, ErrNoPorts)
	}

	if len(c.Techniques) == 0 {
		return fmt.Errorf("%w: %w", ErrConfig, ErrNoTechniques)
	}

	if c.Concurrency < 0 {
		return fmt.Errorf("%w: %w: %d", ErrConfig, ErrBadConcurrency, c.Concurrency)
	}

	if c.RatePPS < 0 {
		return fmt.Errorf("%w: %w: %d", ErrConfig, ErrBadRate, c.RatePPS)
	}

	seen := make(map[uint16]struct{}, len(c.Ports))

	for _, p := range c.Ports {
		if p == 0 {
			return fmt.Errorf("%w: %w", ErrConfig, ErrInvalidPort)
		}

		if _, dup := seen[p]; dup {
			return fmt.Errorf("%w: %w: %d", ErrConfig, ErrDuplicatePort, p)
		}

		seen[p] = struct{}{}
	}

	rawSelected := false

	for _, t := range c.Techniques {
		if _, err := ParseTechnique(string(t)); err != nil {
			return fmt.Errorf("%w: %w", ErrConfig, err)
		}

		if t.IsRaw() {
			rawSelected = true
		}
	}

	for _, host := range c.Targets {
		tgt, err := NewTarget(host)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrConfig, err)
		}

		// The raw IPv4 transport cannot craft v6 packets; v6 targets are
		// limited to the stream and UDP techniques.
		if rawSelected && !tgt.IsIPv4() {
			return fmt.Errorf("%w: %w: %s", ErrConfig, ErrRawRequiresIPv4, host)
		}
	}

	if c.Evasion != nil {
		if err := c.Evasion.Validate(); err != nil {
			return err
		}
	}

	return nil
}
