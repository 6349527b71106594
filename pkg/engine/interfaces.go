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

// Package engine schedules probe work, aggregates per-technique findings
// into port results and assembles the final scan report.
package engine

//go:generate mockgen -destination=mock_engine.go -package=engine github.com/hamb0n-3/quantum-scanner/pkg/engine Sink,Enricher

import (
	"context"

	"github.com/hamb0n-3/quantum-scanner/pkg/models"
)

// Sink receives scan output at the reporting boundary: each finalized
// port result as it completes, then the assembled report. Sink failures
// are logged and never fail the scan.
type Sink interface {
	WriteResult(ctx context.Context, result *models.PortResult) error
	WriteReport(ctx context.Context, report *models.ScanReport) error
}

// Enricher decorates finalized open-port results with service metadata
// (banners, certificates, vulnerability notes). Enrichment is best
// effort: it may add fields but never changes the port state, and its
// errors never fail the scan.
type Enricher interface {
	Enrich(ctx context.Context, result *models.PortResult) error
}
