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

// Package probe builds outbound scan probes: per-technique TCP segments,
// UDP datagrams and stream parameters, shaped by a per-run evasion profile.
package probe

import (
	"fmt"
	"math/rand"

	"github.com/google/gopacket/layers"

	"github.com/hamb0n-3/quantum-scanner/pkg/models"
)

// Fingerprint is one OS's stack baseline: initial TTL, advertised window
// and TCP option ordering. Probes shaped with a consistent fingerprint do
// not stand out the way a mixed or default one does.
type Fingerprint struct {
	OS      string
	TTL     uint8
	Window  uint16
	options func() []layers.TCPOption
}

// Options returns a fresh option slice; gopacket serialization mutates
// option lengths in place, so callers must not share one.
func (f *Fingerprint) Options() []layers.TCPOption {
	if f.options == nil {
		return nil
	}

	return f.options()
}

const defaultMSS = 1460

func mssOption() layers.TCPOption {
	return layers.TCPOption{
		OptionType:   layers.TCPOptionKindMSS,
		OptionLength: 4,
		OptionData:   []byte{defaultMSS >> 8, defaultMSS & 0xff},
	}
}

func nopOption() layers.TCPOption {
	return layers.TCPOption{OptionType: layers.TCPOptionKindNop}
}

func sackOption() layers.TCPOption {
	return layers.TCPOption{
		OptionType:   layers.TCPOptionKindSACKPermitted,
		OptionLength: 2,
	}
}

func windowScaleOption(shift byte) layers.TCPOption {
	return layers.TCPOption{
		OptionType:   layers.TCPOptionKindWindowScale,
		OptionLength: 3,
		OptionData:   []byte{shift},
	}
}

func timestampOption() layers.TCPOption {
	return layers.TCPOption{
		OptionType:   layers.TCPOptionKindTimestamps,
		OptionLength: 10,
		OptionData:   make([]byte, 8),
	}
}

// fingerprints holds the reference baselines per mimicked OS. Orderings
// follow the classic stack signatures: Linux leads with MSS/SACK/TS,
// Windows pads window-scale with NOPs, macOS trails a timestamp block.
var fingerprints = map[string]Fingerprint{
	models.MimicWindows: {
		OS:     models.MimicWindows,
		TTL:    128,
		Window: 65535,
		options: func() []layers.TCPOption {
			return []layers.TCPOption{
				mssOption(), nopOption(), windowScaleOption(8),
				nopOption(), nopOption(), sackOption(),
			}
		},
	},
	models.MimicLinux: {
		OS:     models.MimicLinux,
		TTL:    64,
		Window: 5840,
		options: func() []layers.TCPOption {
			return []layers.TCPOption{
				mssOption(), sackOption(), timestampOption(),
				nopOption(), windowScaleOption(7),
			}
		},
	},
	models.MimicMacOS: {
		OS:     models.MimicMacOS,
		TTL:    64,
		Window: 65535,
		options: func() []layers.TCPOption {
			return []layers.TCPOption{
				mssOption(), nopOption(), windowScaleOption(6),
				nopOption(), nopOption(), timestampOption(),
				sackOption(),
			}
		},
	},
}

// mimicOSChoices is the pool a "random" MimicOS resolves from.
var mimicOSChoices = []string{models.MimicWindows, models.MimicLinux, models.MimicMacOS}

// Profile is the run-resolved form of an EvasionConfig. A "random" OS is
// resolved exactly once here so every probe in the run carries the same
// fingerprint; TTL jitter stays per-probe.
type Profile struct {
	fp        Fingerprint
	ttlJitter int
	fragment  bool
	payload   []byte
	protocol  string
}

// NewProfile resolves cfg into a concrete profile. A nil cfg yields the
// plain Linux baseline with no jitter or fragmentation; the mimic payload
// falls back to the default template so the mimic technique works without
// explicit evasion settings. rng is consumed only for the one-time
// random-OS resolution.
func NewProfile(cfg *models.EvasionConfig, rng *rand.Rand) (*Profile, error) {
	if cfg == nil {
		return &Profile{
			fp:       fingerprints[models.MimicLinux],
			payload:  mimicPayloads[models.DefaultMimicProtocol],
			protocol: models.DefaultMimicProtocol,
		}, nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	osName := cfg.MimicOS
	switch osName {
	case "", models.MimicRandom:
		osName = mimicOSChoices[rng.Intn(len(mimicOSChoices))]
	}

	fp, ok := fingerprints[osName]
	if !ok {
		return nil, fmt.Errorf("%w: %w: %q", models.ErrConfig, models.ErrUnknownMimicOS, osName)
	}

	proto := cfg.MimicProtocol
	if proto == "" {
		proto = models.DefaultMimicProtocol
	}

	payload, ok := mimicPayloads[proto]
	if !ok {
		return nil, fmt.Errorf("%w: %w: %q", models.ErrConfig, models.ErrUnknownMimicProtocol, proto)
	}

	return &Profile{
		fp:        fp,
		ttlJitter: cfg.TTLJitter,
		fragment:  cfg.Fragment,
		payload:   payload,
		protocol:  proto,
	}, nil
}

// OS returns the resolved fingerprint OS name.
func (p *Profile) OS() string {
	return p.fp.OS
}

// Window returns the baseline advertised TCP window.
func (p *Profile) Window() uint16 {
	return p.fp.Window
}

// TCPOptions returns a fresh copy of the fingerprint's option ordering.
func (p *Profile) TCPOptions() []layers.TCPOption {
	return p.fp.Options()
}

// TTL returns the baseline TTL perturbed by an independent random signed
// offset within the configured jitter. Identical TTLs across rapid probes
// are a scanner signature; per-probe jitter breaks that.
func (p *Profile) TTL(rng *rand.Rand) uint8 {
	ttl := int(p.fp.TTL)
	if p.ttlJitter > 0 {
		ttl += rng.Intn(2*p.ttlJitter+1) - p.ttlJitter
	}

	if ttl < 1 {
		ttl = 1
	}

	if ttl > 255 {
		ttl = 255
	}

	return uint8(ttl)
}

// Fragment reports whether raw probes should be split into IP fragments.
func (p *Profile) Fragment() bool {
	return p.fragment
}

// MimicPayload returns the payload template for the mimic technique.
func (p *Profile) MimicPayload() []byte {
	return p.payload
}

// MimicProtocol returns the selected payload template id.
func (p *Profile) MimicProtocol() string {
	return p.protocol
}
