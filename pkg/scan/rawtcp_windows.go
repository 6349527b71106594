//go:build windows
// +build windows

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
	"context"
	"fmt"
	"time"

	"github.com/hamb0n-3/quantum-scanner/pkg/logger"
	"github.com/hamb0n-3/quantum-scanner/pkg/models"
)

// RawTCPProber is a stub implementation for Windows, where the raw
// socket API cannot send crafted TCP segments. Runs limited to the
// stream and UDP techniques still work there.
type RawTCPProber struct{}

var _ Prober = (*RawTCPProber)(nil)

// NewRawTCPProber returns an error: raw TCP probing needs a Unix raw
// socket.
func NewRawTCPProber(_ time.Duration, _ logger.Logger) (*RawTCPProber, error) {
	return nil, fmt.Errorf("%w: raw TCP probing is not supported on Windows", ErrPrivilege)
}

// Probe always fails on Windows.
func (*RawTCPProber) Probe(_ context.Context, _ *models.Probe) (*models.Reply, error) {
	return nil, fmt.Errorf("raw TCP probing is not supported on Windows")
}

// Close is a no-op on Windows.
func (*RawTCPProber) Close() error {
	return nil
}
