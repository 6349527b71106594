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

package engine

import (
	"fmt"
	"time"

	"github.com/hamb0n-3/quantum-scanner/pkg/analyzer"
	"github.com/hamb0n-3/quantum-scanner/pkg/models"
)

// assembleReport snapshots the store into the final report: per-target
// summaries with an OS guess, aggregate counters, service categories and
// the risk grade.
func (e *Engine) assembleReport() *models.ScanReport {
	results := e.store.snapshot()

	report := &models.ScanReport{
		ScanID:          e.scanID,
		StartTime:       e.startTime,
		EndTime:         time.Now(),
		Techniques:      e.cfg.Techniques,
		Results:         results,
		PacketsSent:     e.sent.Load(),
		RepliesReceived: e.received.Load(),
		Incomplete:      e.cancelled.Load(),
	}

	summaries := make(map[string]*models.TargetSummary, len(e.targets))

	for i := range results {
		r := &results[i]

		if r.Incomplete {
			report.Incomplete = true
		}

		if r.State != models.StateOpen {
			continue
		}

		report.OpenPorts++

		summary, ok := summaries[r.Host]
		if !ok {
			summary = &models.TargetSummary{Host: r.Host}
			summaries[r.Host] = summary
		}

		// snapshot order is (host, port) ascending, so ports append sorted.
		summary.OpenPorts = append(summary.OpenPorts, r.Port)

		if cat := analyzer.CategoryFor(r.Service); cat != "" {
			if report.ServiceCategories == nil {
				report.ServiceCategories = make(map[string][]string)
			}

			entry := fmt.Sprintf("%s:%d %s", r.Host, r.Port, r.Service)
			report.ServiceCategories[cat] = append(report.ServiceCategories[cat], entry)
		}
	}

	report.Targets = make([]models.TargetSummary, 0, len(e.targets))

	for _, tgt := range e.targets {
		summary, ok := summaries[tgt.Host]
		if !ok {
			summary = &models.TargetSummary{Host: tgt.Host}
		}

		if hint, ok := e.store.hostHint(tgt.Host); ok {
			summary.OSGuess = osGuess(hint)
		}

		report.Targets = append(report.Targets, *summary)
	}

	report.Risk = riskFor(results)

	return report
}

// osGuess maps the observed initial TTL band (and the TCP timestamp
// option, which Windows stacks ship disabled) to a coarse OS family.
func osGuess(h osHint) string {
	switch {
	case h.ttl == 0:
		return ""
	case h.ttl <= 64:
		if h.tsOpt {
			return "Linux/Unix"
		}

		return "Linux/Unix (embedded or hardened)"
	case h.ttl <= 128:
		return "Windows"
	default:
		return "Solaris/AIX or network equipment"
	}
}

// dangerousPorts are services whose exposure alone raises the grade:
// legacy cleartext logins, SMB/RPC, databases and remote desktops.
var dangerousPorts = map[uint16]struct{}{
	21:   {},
	23:   {},
	135:  {},
	139:  {},
	445:  {},
	1433: {},
	3306: {},
	3389: {},
	5432: {},
	5900: {},
	6379: {},
}

// riskFor grades the run: every open port counts, dangerous services
// count more, and anything with vulnerability notes dominates.
func riskFor(results []models.PortResult) models.RiskLevel {
	score := 0

	for i := range results {
		r := &results[i]

		if r.State != models.StateOpen {
			continue
		}

		score++

		if _, risky := dangerousPorts[r.Port]; risky {
			score += 3
		}

		if len(r.VulnNotes) > 0 {
			score += 5
		}
	}

	switch {
	case score <= 2:
		return models.RiskLow
	case score <= 6:
		return models.RiskMedium
	case score <= 12:
		return models.RiskHigh
	default:
		return models.RiskCritical
	}
}
