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

import "errors"

var (
	// ErrPrivilege marks transports that could not open a raw socket.
	// It is fatal: the run aborts before any probe is sent.
	ErrPrivilege = errors.New("raw socket requires elevated privileges")

	// ErrTransport marks a per-probe send or receive failure. The
	// affected unit is finalized and the run continues.
	ErrTransport = errors.New("transport failure")

	ErrProberClosed         = errors.New("prober closed")
	ErrUnsupportedTechnique = errors.New("technique not supported by this prober")

	// IPv4/TCP parsing errors
	ErrShortIPv4Header     = errors.New("short IPv4 header")
	ErrNotIPv4             = errors.New("not IPv4")
	ErrBadIPv4HeaderLength = errors.New("bad IPv4 header length")
	ErrShortQuotedPacket   = errors.New("short quoted packet in ICMP payload")
	ErrNotTCPSegment       = errors.New("payload does not decode as TCP")

	// Correlation errors
	ErrSessionConflict = errors.New("session already registered")

	// Route discovery errors
	ErrNoSourceAddr = errors.New("no usable source address for target")

	// Classification errors
	ErrNoRule = errors.New("no classification rule for technique")
)
