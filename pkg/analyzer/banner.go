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

package analyzer

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	bannerReadLimit = 1024
	bannerKeep      = 256

	// greetWait bounds the initial listen for an unsolicited greeting
	// when the port is not in the well-known table.
	greetWait = 400 * time.Millisecond
)

// grabBanner reads whatever the service volunteers. Greeting services
// are read directly; for the rest a minimal HTTP request usually shakes
// an identifying error or header loose.
func (s *Suite) grabBanner(ctx context.Context, host string, port uint16, svc string) (string, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))

	conn, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	buf := make([]byte, bannerReadLimit)

	if serverTalksFirst(svc) {
		_ = conn.SetReadDeadline(deadline)

		n, err := conn.Read(buf)
		if n > 0 {
			return sanitizeBanner(buf[:n]), nil
		}

		return "", err
	}

	if svc == "" {
		// Unknown port: give a greeting service a short chance to speak.
		wait := time.Now().Add(greetWait)
		if wait.After(deadline) {
			wait = deadline
		}

		_ = conn.SetReadDeadline(wait)

		if n, _ := conn.Read(buf); n > 0 {
			return sanitizeBanner(buf[:n]), nil
		}
	}

	_ = conn.SetWriteDeadline(deadline)

	if _, err := conn.Write(bannerRequest(host, svc)); err != nil {
		return "", err
	}

	_ = conn.SetReadDeadline(deadline)

	n, err := conn.Read(buf)
	if n > 0 {
		return sanitizeBanner(buf[:n]), nil
	}

	return "", err
}

func bannerRequest(host, svc string) []byte {
	switch svc {
	case "http", "http-proxy", "https-alt":
		return []byte(fmt.Sprintf(
			"GET / HTTP/1.0\r\nHost: %s\r\nUser-Agent: Mozilla/5.0 (compatible)\r\nConnection: close\r\n\r\n",
			host))
	default:
		return []byte("HEAD / HTTP/1.0\r\n\r\n")
	}
}

// sanitizeBanner strips non-printable bytes so raw protocol greetings
// stay presentable in text and JSON output.
func sanitizeBanner(b []byte) string {
	s := strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' || r == '\t' {
			return r
		}

		if r < 0x20 || r > 0x7e {
			return -1
		}

		return r
	}, string(b))

	s = strings.TrimSpace(s)
	if len(s) > bannerKeep {
		s = s[:bannerKeep]
	}

	return s
}
