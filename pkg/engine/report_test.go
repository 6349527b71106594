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
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamb0n-3/quantum-scanner/pkg/logger"
	"github.com/hamb0n-3/quantum-scanner/pkg/models"
)

func TestOSGuess(t *testing.T) {
	assert.Empty(t, osGuess(osHint{}))
	assert.Equal(t, "Linux/Unix", osGuess(osHint{ttl: 62, tsOpt: true}))
	assert.Equal(t, "Linux/Unix (embedded or hardened)", osGuess(osHint{ttl: 64}))
	assert.Equal(t, "Windows", osGuess(osHint{ttl: 127}))
	assert.Equal(t, "Solaris/AIX or network equipment", osGuess(osHint{ttl: 250}))
}

func openOn(port uint16, notes ...string) models.PortResult {
	return models.PortResult{
		Host: "10.0.0.1", Port: port, State: models.StateOpen, VulnNotes: notes,
	}
}

func TestRiskFor(t *testing.T) {
	assert.Equal(t, models.RiskLow, riskFor(nil))
	assert.Equal(t, models.RiskLow, riskFor([]models.PortResult{
		{Host: "10.0.0.1", Port: 80, State: models.StateClosed},
	}))

	assert.Equal(t, models.RiskLow, riskFor([]models.PortResult{openOn(80)}))

	assert.Equal(t, models.RiskMedium, riskFor([]models.PortResult{
		openOn(80), openOn(3389),
	}))

	assert.Equal(t, models.RiskHigh, riskFor([]models.PortResult{
		openOn(23), openOn(445),
	}))

	assert.Equal(t, models.RiskCritical, riskFor([]models.PortResult{
		openOn(23), openOn(445), openOn(21, "CVE-XXXX-YYYY"),
	}))
}

func TestReportSummariesAndCategories(t *testing.T) {
	raw := &fakeProber{fn: func(_ context.Context, p *models.Probe) (*models.Reply, error) {
		if p.Port == 22 {
			return synAckReply(), nil
		}

		return rstReply(), nil
	}}

	cfg := testConfig(models.TechSYN)
	cfg.Ports = []uint16{22, 82}

	eng, err := New(cfg, logger.NewTestLogger(), &Options{RawProber: raw, Seed: 1})
	require.NoError(t, err)

	ch, err := eng.Start(context.Background())
	require.NoError(t, err)

	drain(t, ch)

	report, err := eng.Report()
	require.NoError(t, err)

	require.Len(t, report.Targets, 1)
	summary := report.Targets[0]
	assert.Equal(t, "127.0.0.1", summary.Host)
	assert.Equal(t, []uint16{22}, summary.OpenPorts)
	assert.Equal(t, "Linux/Unix", summary.OSGuess)

	assert.Equal(t, 1, report.OpenPorts)
	assert.Positive(t, report.RepliesReceived)
	assert.False(t, report.EndTime.Before(report.StartTime))
}

func TestJSONSinkOutput(t *testing.T) {
	var buf bytes.Buffer

	sink := NewJSONSink(&buf)

	res := &models.PortResult{Host: "10.0.0.1", Port: 443, State: models.StateOpen}
	require.NoError(t, sink.WriteResult(context.Background(), res))

	report := &models.ScanReport{ScanID: "test-scan", Risk: models.RiskLow}
	require.NoError(t, sink.WriteReport(context.Background(), report))

	dec := json.NewDecoder(&buf)

	var gotRes models.PortResult
	require.NoError(t, dec.Decode(&gotRes))
	assert.Equal(t, uint16(443), gotRes.Port)
	assert.Equal(t, models.StateOpen, gotRes.State)

	var gotReport models.ScanReport
	require.NoError(t, dec.Decode(&gotReport))
	assert.Equal(t, "test-scan", gotReport.ScanID)
}
