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

// Package scan carries probes to the wire and turns what comes back into
// port-state verdicts. It holds the transport implementations (raw IPv4
// TCP, UDP and stream), the reply correlation table and the per-technique
// response classifier.
package scan

//go:generate mockgen -destination=mock_scan.go -package=scan github.com/hamb0n-3/quantum-scanner/pkg/scan Prober

import (
	"context"

	"github.com/hamb0n-3/quantum-scanner/pkg/models"
)

// Prober sends one probe and blocks until its correlated reply, its
// timeout, or ctx cancellation. A timeout is not an error: it comes back
// as a Reply of kind ReplyTimeout so classification sees it as a signal.
// Implementations are safe for concurrent use by the worker pool.
type Prober interface {
	Probe(ctx context.Context, p *models.Probe) (*models.Reply, error)
	Close() error
}
