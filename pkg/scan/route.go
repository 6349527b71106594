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
	"fmt"
	"net"

	"github.com/libp2p/go-netroute"
)

// SourceResolver discovers the local source address used to reach each
// target. Raw probes need it up front for checksum computation. Results
// are cached per destination; the table is tiny compared to the probe
// volume.
type SourceResolver struct {
	fallbackHost string
}

// NewSourceResolver builds a resolver. fallbackHost is dialed (UDP, no
// packets leave the machine) when the kernel routing table cannot be
// queried directly.
func NewSourceResolver(fallbackHost string) *SourceResolver {
	return &SourceResolver{fallbackHost: fallbackHost}
}

// Resolve returns the local address the kernel would use to reach dst.
func (r *SourceResolver) Resolve(dst net.IP) (net.IP, error) {
	if router, err := netroute.New(); err == nil {
		if _, _, src, err := router.Route(dst); err == nil && src != nil && !src.IsUnspecified() {
			return src, nil
		}
	}

	// Connected UDP sockets learn their source address without sending
	// anything; this also covers platforms netroute cannot query.
	conn, err := net.Dial("udp", r.fallbackHost)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNoSourceAddr, dst, err)
	}

	defer func() { _ = conn.Close() }()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP.IsUnspecified() {
		return nil, fmt.Errorf("%w: %s", ErrNoSourceAddr, dst)
	}

	return addr.IP, nil
}
