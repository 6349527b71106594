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
	"net"
	"strconv"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/hamb0n-3/quantum-scanner/pkg/models"
)

// enrichSSH records the server's version line and host key fingerprint.
// The handshake runs without credentials: key exchange finishes before
// authentication is attempted, which is all the fingerprint needs, so
// the expected "unable to authenticate" outcome still delivers the key.
func (s *Suite) enrichSSH(ctx context.Context, result *models.PortResult) {
	info := &models.SSHInfo{}

	if strings.HasPrefix(result.Banner, "SSH-") {
		version, _, _ := strings.Cut(result.Banner, "\n")
		info.Version = strings.TrimRight(version, "\r")
	}

	if key := s.fetchHostKey(ctx, result.Host, result.Port); key != nil {
		info.HostKeyType = key.Type()
		info.Fingerprint = ssh.FingerprintSHA256(key)
	}

	if info.Version == "" && info.HostKeyType == "" {
		return
	}

	result.SSH = info
}

func (s *Suite) fetchHostKey(ctx context.Context, host string, port uint16) ssh.PublicKey {
	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))

	conn, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	var hostKey ssh.PublicKey

	config := &ssh.ClientConfig{
		User: "probe",
		HostKeyCallback: func(_ string, _ net.Addr, key ssh.PublicKey) error {
			hostKey = key
			return nil
		},
		Timeout: s.timeout,
	}

	sshConn, _, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err == nil {
		// The server accepted anonymous auth; not our business here.
		go ssh.DiscardRequests(reqs)

		_ = sshConn.Close()
	}

	return hostKey
}
