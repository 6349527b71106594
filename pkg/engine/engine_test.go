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
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/hamb0n-3/quantum-scanner/pkg/logger"
	"github.com/hamb0n-3/quantum-scanner/pkg/models"
	"github.com/hamb0n-3/quantum-scanner/pkg/scan"
)

// fakeProber scripts replies per probe, keyed however fn likes.
type fakeProber struct {
	fn    func(ctx context.Context, p *models.Probe) (*models.Reply, error)
	calls atomic.Int64
}

func (f *fakeProber) Probe(ctx context.Context, p *models.Probe) (*models.Reply, error) {
	f.calls.Add(1)
	return f.fn(ctx, p)
}

func (*fakeProber) Close() error { return nil }

func synAckReply() *models.Reply {
	return &models.Reply{
		Kind:         models.ReplyTCP,
		Flags:        models.TCPFlags{SYN: true, ACK: true},
		TTL:          64,
		TimestampOpt: true,
		RTT:          2 * time.Millisecond,
	}
}

func rstReply() *models.Reply {
	return &models.Reply{Kind: models.ReplyTCP, Flags: models.TCPFlags{RST: true}, TTL: 64}
}

func timeoutReply() *models.Reply {
	return &models.Reply{Kind: models.ReplyTimeout}
}

func handshakeReply() *models.Reply {
	return &models.Reply{
		Kind: models.ReplyHandshake,
		Handshake: &models.HandshakeInfo{
			Complete: true,
			Version:  "TLSv1.3",
			Cipher:   "TLS_AES_128_GCM_SHA256",
		},
	}
}

func testConfig(techniques ...models.Technique) *models.ScanConfig {
	return &models.ScanConfig{
		Targets:        []string{"127.0.0.1"},
		Ports:          []uint16{81},
		Techniques:     techniques,
		Concurrency:    4,
		Timeout:        models.Duration(500 * time.Millisecond),
		Grace:          models.Duration(100 * time.Millisecond),
		SkipEnrichment: true,
	}
}

// drain consumes the stream to completion and indexes results by key.
func drain(t *testing.T, ch <-chan models.PortResult) map[string]models.PortResult {
	t.Helper()

	out := make(map[string]models.PortResult)

	for r := range ch {
		key := r.Key()
		_, dup := out[key]
		require.False(t, dup, "duplicate result for %s", key)
		out[key] = r
	}

	return out
}

func TestNewRejectsBadConfig(t *testing.T) {
	log := logger.NewTestLogger()

	_, err := New(&models.ScanConfig{}, log, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrConfig)

	_, err = New(&models.ScanConfig{
		Targets:    []string{"not-an-ip"},
		Ports:      []uint16{80},
		Techniques: []models.Technique{models.TechSYN},
	}, log, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrConfig)
}

func TestStartScanCardinality(t *testing.T) {
	// Per port: 81 answers open, 82 closed, 83 stays silent.
	raw := &fakeProber{fn: func(_ context.Context, p *models.Probe) (*models.Reply, error) {
		switch p.Port {
		case 81:
			return synAckReply(), nil
		case 82:
			return rstReply(), nil
		default:
			return timeoutReply(), nil
		}
	}}

	cfg := testConfig(models.TechSYN)
	cfg.Targets = []string{"127.0.0.1", "127.0.0.2"}
	cfg.Ports = []uint16{81, 82, 83}

	eng, err := New(cfg, logger.NewTestLogger(), &Options{RawProber: raw, Seed: 1})
	require.NoError(t, err)

	ch, err := eng.Start(context.Background())
	require.NoError(t, err)

	results := drain(t, ch)

	require.Len(t, results, 6, "exactly one result per (target, port)")

	for _, host := range cfg.Targets {
		assert.Equal(t, models.StateOpen, results[host+":81"].State)
		assert.Equal(t, models.StateClosed, results[host+":82"].State)
		assert.Equal(t, models.StateFiltered, results[host+":83"].State)
	}

	report, err := eng.Report()
	require.NoError(t, err)

	assert.Len(t, report.Results, 6)
	assert.Equal(t, 2, report.OpenPorts)
	assert.False(t, report.Incomplete)
	assert.NotEmpty(t, report.ScanID)
	assert.Positive(t, report.PacketsSent)
}

func TestInconclusiveRetriedExactlyOnce(t *testing.T) {
	ctrl := gomock.NewController(t)

	prober := scan.NewMockProber(ctrl)
	prober.EXPECT().
		Probe(gomock.Any(), gomock.Any()).
		Return(timeoutReply(), nil).
		Times(2)
	prober.EXPECT().Close().Return(nil)

	cfg := testConfig(models.TechSSL)

	eng, err := New(cfg, logger.NewTestLogger(), &Options{StreamProber: prober, Seed: 1})
	require.NoError(t, err)

	ch, err := eng.Start(context.Background())
	require.NoError(t, err)

	results := drain(t, ch)

	res := results["127.0.0.1:81"]
	require.Len(t, res.Findings, 1)
	assert.Equal(t, 2, res.Findings[0].Attempts)
	assert.False(t, res.Findings[0].Conclusive)
	assert.Equal(t, models.StateFiltered, res.State)

	_, err = eng.Report()
	require.NoError(t, err)
}

func TestConclusiveNeverRetried(t *testing.T) {
	ctrl := gomock.NewController(t)

	prober := scan.NewMockProber(ctrl)
	prober.EXPECT().
		Probe(gomock.Any(), gomock.Any()).
		Return(handshakeReply(), nil).
		Times(1)
	prober.EXPECT().Close().Return(nil)

	cfg := testConfig(models.TechSSL)

	eng, err := New(cfg, logger.NewTestLogger(), &Options{StreamProber: prober, Seed: 1})
	require.NoError(t, err)

	ch, err := eng.Start(context.Background())
	require.NoError(t, err)

	results := drain(t, ch)

	res := results["127.0.0.1:81"]
	require.Len(t, res.Findings, 1)
	assert.Equal(t, 1, res.Findings[0].Attempts)
	assert.True(t, res.Findings[0].Conclusive)
	assert.Equal(t, models.StateOpen, res.State)
}

func TestPriorityMergeAcrossTechniques(t *testing.T) {
	// ACK sees the port unfiltered, SYN sees it open; open must win and
	// both findings must survive on the result.
	raw := &fakeProber{fn: func(_ context.Context, p *models.Probe) (*models.Reply, error) {
		if p.Technique == models.TechACK {
			return rstReply(), nil
		}

		return synAckReply(), nil
	}}

	cfg := testConfig(models.TechSYN, models.TechACK)

	eng, err := New(cfg, logger.NewTestLogger(), &Options{RawProber: raw, Seed: 1})
	require.NoError(t, err)

	ch, err := eng.Start(context.Background())
	require.NoError(t, err)

	results := drain(t, ch)

	res := results["127.0.0.1:81"]
	assert.Equal(t, models.StateOpen, res.State)
	require.Len(t, res.Findings, 2)

	byTech := make(map[models.Technique]models.TechniqueFinding)
	for _, f := range res.Findings {
		byTech[f.Technique] = f
	}

	assert.Equal(t, models.StateOpen, byTech[models.TechSYN].State)
	assert.Equal(t, models.StateUnfiltered, byTech[models.TechACK].State)
}

func TestTechniquesRouteToTheirProbers(t *testing.T) {
	var rawTech, udpTech, streamTech atomic.Value

	raw := &fakeProber{fn: func(_ context.Context, p *models.Probe) (*models.Reply, error) {
		rawTech.Store(p.Technique)
		return synAckReply(), nil
	}}
	udp := &fakeProber{fn: func(_ context.Context, p *models.Probe) (*models.Reply, error) {
		udpTech.Store(p.Technique)
		return &models.Reply{Kind: models.ReplyUDP, Payload: []byte("ok")}, nil
	}}
	stream := &fakeProber{fn: func(_ context.Context, p *models.Probe) (*models.Reply, error) {
		streamTech.Store(p.Technique)
		return handshakeReply(), nil
	}}

	cfg := testConfig(models.TechSYN, models.TechUDP, models.TechSSL)

	eng, err := New(cfg, logger.NewTestLogger(), &Options{
		RawProber: raw, UDPProber: udp, StreamProber: stream, Seed: 1,
	})
	require.NoError(t, err)

	ch, err := eng.Start(context.Background())
	require.NoError(t, err)

	drain(t, ch)

	assert.Equal(t, int64(1), raw.calls.Load())
	assert.Equal(t, int64(1), udp.calls.Load())
	assert.Equal(t, int64(1), stream.calls.Load())
	assert.Equal(t, models.TechSYN, rawTech.Load())
	assert.Equal(t, models.TechUDP, udpTech.Load())
	assert.Equal(t, models.TechSSL, streamTech.Load())
}

func TestCancellationYieldsPartialResults(t *testing.T) {
	// Probes hang until the run context is cut off at the end of the
	// grace window.
	blocker := &fakeProber{fn: func(ctx context.Context, _ *models.Probe) (*models.Reply, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	cfg := testConfig(models.TechSSL)
	cfg.Targets = []string{"127.0.0.1", "127.0.0.2", "127.0.0.3"}
	cfg.Ports = []uint16{81, 82, 83}
	cfg.Concurrency = 2

	eng, err := New(cfg, logger.NewTestLogger(), &Options{StreamProber: blocker, Seed: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	ch, err := eng.Start(ctx)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	cancel()

	results := drain(t, ch)

	require.Len(t, results, 9, "cancellation must not drop units")

	incomplete := 0

	for _, r := range results {
		if r.Incomplete {
			incomplete++
		}

		assert.NotEqual(t, models.StateOpen, r.State)
	}

	assert.Positive(t, incomplete, "unfinished units must be flagged")

	report, err := eng.Report()
	require.NoError(t, err)
	assert.True(t, report.Incomplete)
	assert.Len(t, report.Results, 9)
}

func TestSinkReceivesResultsAndReport(t *testing.T) {
	ctrl := gomock.NewController(t)

	sink := NewMockSink(ctrl)
	sink.EXPECT().WriteResult(gomock.Any(), gomock.Any()).Return(nil).Times(2)
	sink.EXPECT().WriteReport(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	raw := &fakeProber{fn: func(_ context.Context, _ *models.Probe) (*models.Reply, error) {
		return rstReply(), nil
	}}

	cfg := testConfig(models.TechSYN)
	cfg.Ports = []uint16{81, 82}

	eng, err := New(cfg, logger.NewTestLogger(), &Options{
		RawProber: raw, Sinks: []Sink{sink}, Seed: 1,
	})
	require.NoError(t, err)

	ch, err := eng.Start(context.Background())
	require.NoError(t, err)

	drain(t, ch)

	_, err = eng.Report()
	require.NoError(t, err)
}

func TestEnricherRunsForOpenPortsOnly(t *testing.T) {
	ctrl := gomock.NewController(t)

	enricher := NewMockEnricher(ctrl)
	enricher.EXPECT().
		Enrich(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, r *models.PortResult) error {
			r.Service = "custom-svc"
			return nil
		}).
		Times(1)

	// 81 completes a handshake, 82 is refused.
	stream := &fakeProber{fn: func(_ context.Context, p *models.Probe) (*models.Reply, error) {
		if p.Port == 81 {
			return handshakeReply(), nil
		}

		return rstReply(), nil
	}}

	cfg := testConfig(models.TechSSL)
	cfg.Ports = []uint16{81, 82}
	cfg.SkipEnrichment = false

	eng, err := New(cfg, logger.NewTestLogger(), &Options{
		StreamProber: stream, Enricher: enricher, Seed: 1,
	})
	require.NoError(t, err)

	ch, err := eng.Start(context.Background())
	require.NoError(t, err)

	results := drain(t, ch)

	assert.Equal(t, "custom-svc", results["127.0.0.1:81"].Service,
		"enrichment output must reach the emitted result")
	assert.Empty(t, results["127.0.0.1:82"].Service)

	report, err := eng.Report()
	require.NoError(t, err)

	for _, r := range report.Results {
		if r.Port == 81 {
			assert.Equal(t, "custom-svc", r.Service, "enrichment must be visible in the report")
		}
	}
}

func TestEnricherCoversAmbiguousStates(t *testing.T) {
	cases := []struct {
		name  string
		tech  models.Technique
		reply *models.Reply
		state models.PortState
	}{
		{"unfiltered", models.TechACK, rstReply(), models.StateUnfiltered},
		{"open-filtered", models.TechFIN, timeoutReply(), models.StateOpenFiltered},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)

			enricher := NewMockEnricher(ctrl)
			enricher.EXPECT().
				Enrich(gomock.Any(), gomock.Any()).
				DoAndReturn(func(_ context.Context, r *models.PortResult) error {
					r.Service = "probed-svc"
					return nil
				}).
				Times(1)

			raw := &fakeProber{fn: func(_ context.Context, _ *models.Probe) (*models.Reply, error) {
				return tc.reply, nil
			}}

			cfg := testConfig(tc.tech)
			cfg.SkipEnrichment = false

			eng, err := New(cfg, logger.NewTestLogger(), &Options{
				RawProber: raw, Enricher: enricher, Seed: 1,
			})
			require.NoError(t, err)

			ch, err := eng.Start(context.Background())
			require.NoError(t, err)

			results := drain(t, ch)

			got := results["127.0.0.1:81"]
			assert.Equal(t, tc.state, got.State)
			assert.Equal(t, "probed-svc", got.Service,
				"ambiguous but reachable ports must get the enrichment pass")
		})
	}
}

func TestStartTwiceFails(t *testing.T) {
	raw := &fakeProber{fn: func(_ context.Context, _ *models.Probe) (*models.Reply, error) {
		return rstReply(), nil
	}}

	eng, err := New(testConfig(models.TechSYN), logger.NewTestLogger(), &Options{RawProber: raw, Seed: 1})
	require.NoError(t, err)

	ch, err := eng.Start(context.Background())
	require.NoError(t, err)

	_, err = eng.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyStarted)

	drain(t, ch)
}

func TestReportBeforeStart(t *testing.T) {
	raw := &fakeProber{fn: func(_ context.Context, _ *models.Probe) (*models.Reply, error) {
		return rstReply(), nil
	}}

	eng, err := New(testConfig(models.TechSYN), logger.NewTestLogger(), &Options{RawProber: raw, Seed: 1})
	require.NoError(t, err)

	_, err = eng.Report()
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, eng.Close())
}

func TestDeterministicResultSetAcrossRuns(t *testing.T) {
	script := func(_ context.Context, p *models.Probe) (*models.Reply, error) {
		if p.Port%2 == 0 {
			return synAckReply(), nil
		}

		return rstReply(), nil
	}

	run := func() map[string]models.PortState {
		cfg := testConfig(models.TechSYN)
		cfg.Ports = []uint16{81, 82, 83, 84}
		cfg.ShufflePorts = true

		eng, err := New(cfg, logger.NewTestLogger(), &Options{
			RawProber: &fakeProber{fn: script}, Seed: 7,
		})
		require.NoError(t, err)

		ch, err := eng.Start(context.Background())
		require.NoError(t, err)

		states := make(map[string]models.PortState)
		for r := range ch {
			states[fmt.Sprintf("%s:%d", r.Host, r.Port)] = r.State
		}

		return states
	}

	first := run()
	second := run()

	assert.Equal(t, first, second, "same script and seed must reproduce the same verdicts")
}
