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
	"errors"

	"github.com/hamb0n-3/quantum-scanner/pkg/models"
)

var errSegmentTooShort = errors.New("segment too short to fragment")

// fragFirstLen is the size of the leading fragment. Eight bytes covers
// the TCP ports and sequence number but not the flags byte, which lands
// in a later fragment and out of reach of filters that only inspect the
// first fragment of a datagram.
const fragFirstLen = 8

// planFragments splits a serialized TCP segment into IP fragments.
// Every fragment except the last is a multiple of 8 bytes, as the IP
// fragment offset field requires; middle fragment sizes are drawn per
// probe so fragmented probes do not share one shape.
func (b *Builder) planFragments(seg []byte) ([]models.Fragment, error) {
	if len(seg) <= fragFirstLen {
		return nil, errSegmentTooShort
	}

	b.mu.Lock()
	chunk := fragFirstLen * (1 + b.rng.Intn(3))
	b.mu.Unlock()

	frags := make([]models.Fragment, 0, 2+(len(seg)-fragFirstLen)/chunk)
	frags = append(frags, models.Fragment{Bytes: seg[:fragFirstLen], Offset: 0, More: true})

	for off := fragFirstLen; off < len(seg); off += chunk {
		end := off + chunk
		if end > len(seg) {
			end = len(seg)
		}

		frags = append(frags, models.Fragment{
			Bytes:  seg[off:end],
			Offset: off / 8,
			More:   end < len(seg),
		})
	}

	return frags, nil
}
