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
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hamb0n-3/quantum-scanner/pkg/analyzer"
	"github.com/hamb0n-3/quantum-scanner/pkg/logger"
	"github.com/hamb0n-3/quantum-scanner/pkg/models"
	"github.com/hamb0n-3/quantum-scanner/pkg/probe"
	"github.com/hamb0n-3/quantum-scanner/pkg/ratelimit"
	"github.com/hamb0n-3/quantum-scanner/pkg/scan"
)

// enrichConcurrency bounds the post-scan enrichment probes running at
// once, independently of the main worker pool.
const enrichConcurrency = 8

// Options overrides engine collaborators. The zero value selects the
// production implementations; tests inject probers, sinks and a fixed
// seed for deterministic runs.
type Options struct {
	Classifier   *scan.Classifier
	RawProber    scan.Prober
	UDPProber    scan.Prober
	StreamProber scan.Prober
	Sinks        []Sink
	Enricher     Enricher

	// Seed fixes every randomized decision of the run (probe field
	// draws, shuffle order, retry jitter). Zero seeds from the clock.
	Seed int64
}

// Engine runs one scan: it expands the configured targets, ports and
// techniques into work units, drives them through a bounded worker pool
// under the rate budget, folds per-technique verdicts into one result
// per (target, port) and assembles the final report.
//
// An Engine is single-use: construct, Start, drain the result channel,
// then Report.
type Engine struct {
	cfg    *models.ScanConfig
	log    logger.Logger
	scanID string
	seed   int64
	rng    *rand.Rand

	builder    *probe.Builder
	budget     *ratelimit.Budget
	classifier *scan.Classifier
	alloc      *probe.PortAllocator
	resolver   *scan.SourceResolver

	raw    scan.Prober
	udp    scan.Prober
	stream scan.Prober

	sinks    []Sink
	enricher Enricher

	store       *resultStore
	results     chan models.PortResult
	enrichGroup errgroup.Group

	rawNeeded bool
	targets   []models.Target

	runCtx    context.Context
	cancelRun context.CancelFunc
	done      chan struct{}
	started   atomic.Bool
	cancelled atomic.Bool
	closeOnce sync.Once

	sent     atomic.Int64
	received atomic.Int64

	startTime time.Time

	reportMu sync.Mutex
	report   *models.ScanReport
}

// New validates cfg and assembles an engine. Configuration and privilege
// failures surface here, before any probe is sent: a raw-capable run
// that cannot open its packet sockets never half-starts.
func New(cfg *models.ScanConfig, log logger.Logger, opts *Options) (*Engine, error) {
	if opts == nil {
		opts = &Options{}
	}

	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	e := &Engine{
		cfg:    cfg,
		log:    log,
		scanID: uuid.New().String(),
		seed:   seed,
		rng:    rand.New(rand.NewSource(seed + 3)), //nolint:gosec // scheduling jitter, not crypto
		store:  newResultStore(),
		done:   make(chan struct{}),
		sinks:  opts.Sinks,
	}

	profile, err := probe.NewProfile(cfg.Evasion, rand.New(rand.NewSource(seed+2))) //nolint:gosec // probe field draws
	if err != nil {
		return nil, err
	}

	e.builder = probe.NewBuilder(profile, rand.New(rand.NewSource(seed+2))) //nolint:gosec // probe field draws

	if cfg.AdaptiveRate {
		e.budget = ratelimit.NewAdaptive(cfg.RatePPS, cfg.RateBurst)
	} else {
		e.budget = ratelimit.New(cfg.RatePPS, cfg.RateBurst)
	}

	e.classifier = opts.Classifier
	if e.classifier == nil {
		e.classifier = scan.NewClassifier()
	}

	e.resolver = scan.NewSourceResolver(cfg.RouteDiscoveryHost)

	dialer, err := scan.NewStreamDialer(cfg.ProxyAddr)
	if err != nil {
		return nil, err
	}

	if err := e.setupProbers(cfg, log, dialer, opts); err != nil {
		return nil, err
	}

	e.enricher = opts.Enricher
	if e.enricher == nil && !cfg.SkipEnrichment {
		e.enricher = analyzer.NewSuite(cfg.Timeout.Duration(), dialer, log)
	}

	e.enrichGroup.SetLimit(enrichConcurrency)

	return e, nil
}

// setupProbers constructs a prober per transport family, but only the
// families the selected techniques actually use. Opening the raw
// transport is the privileged step; skipping it keeps connect-only scans
// runnable without elevation.
func (e *Engine) setupProbers(cfg *models.ScanConfig, log logger.Logger, dialer scan.Dialer, opts *Options) error {
	timeout := cfg.Timeout.Duration()

	var udpNeeded, streamNeeded bool

	for _, t := range cfg.Techniques {
		switch {
		case t.IsStream():
			streamNeeded = true
		case t == models.TechUDP:
			udpNeeded = true
		default:
			e.rawNeeded = true
		}
	}

	if e.rawNeeded {
		e.raw = opts.RawProber
		if e.raw == nil {
			raw, err := scan.NewRawTCPProber(timeout, log)
			if err != nil {
				return err
			}

			e.raw = raw
		}

		e.alloc = probe.NewEphemeralAllocator(rand.New(rand.NewSource(e.seed + 1))) //nolint:gosec // port shuffle
	}

	if udpNeeded {
		e.udp = opts.UDPProber
		if e.udp == nil {
			e.udp = scan.NewUDPProber(timeout, log)
		}
	}

	if streamNeeded {
		e.stream = opts.StreamProber
		if e.stream == nil {
			e.stream = scan.NewStreamProber(timeout, dialer, log)
		}
	}

	return nil
}

// StartScan is the one-call entry point: validate cfg, start the scan
// and return the lazily consumed result stream. Exactly one result per
// (target, port) pair arrives on the channel, which closes once the run
// finishes or is abandoned after cancellation.
func StartScan(ctx context.Context, cfg *models.ScanConfig, log logger.Logger) (<-chan models.PortResult, error) {
	eng, err := New(cfg, log, nil)
	if err != nil {
		return nil, err
	}

	return eng.Start(ctx)
}

// Start launches the scan. Cancelling ctx stops new probes immediately;
// in-flight probes get the configured grace window to finish before they
// are abandoned as timeouts. The returned channel always delivers one
// result per (target, port) before closing, partial or not.
func (e *Engine) Start(ctx context.Context) (<-chan models.PortResult, error) {
	if e.started.Swap(true) {
		return nil, ErrAlreadyStarted
	}

	e.startTime = time.Now()
	e.runCtx, e.cancelRun = context.WithCancel(context.Background())

	e.resolveTargets()

	e.results = make(chan models.PortResult, len(e.targets)*len(e.cfg.Ports))

	items := e.buildWork(e.startTime)

	e.log.Info().
		Str("scan_id", e.scanID).
		Int("targets", len(e.targets)).
		Int("ports", len(e.cfg.Ports)).
		Int("techniques", len(e.cfg.Techniques)).
		Int("work_items", len(items)).
		Msg("scan started")

	go e.run(ctx, items)

	return e.results, nil
}

// resolveTargets parses the configured targets and, when raw probes are
// in play, discovers the local source address for each one. A target
// with no route still gets scanned by the connect-based techniques; its
// raw probes record transport errors instead of aborting the run.
func (e *Engine) resolveTargets() {
	e.targets = make([]models.Target, 0, len(e.cfg.Targets))

	for _, host := range e.cfg.Targets {
		tgt, err := models.NewTarget(host)
		if err != nil {
			// Validate already rejected unparsable targets.
			continue
		}

		if e.rawNeeded {
			src, err := e.resolver.Resolve(tgt.IP)
			if err != nil {
				e.log.Warn().Err(err).
					Str("target", tgt.Host).
					Msg("no source route; raw probes for this target will fail")
			} else {
				tgt.Src = src
			}
		}

		e.targets = append(e.targets, tgt)
	}
}

// run owns the scan lifecycle after Start: pool, enrichment drain,
// abandonment of unfinished units, report assembly and channel close.
func (e *Engine) run(ctx context.Context, items []workItem) {
	defer close(e.results)
	defer e.closeAll()
	defer e.cancelRun()

	e.watchCancel(ctx)

	e.runPool(ctx, items)

	// Workers are done, so no new enrichment jobs can start.
	_ = e.enrichGroup.Wait()

	for _, r := range e.store.abandon() {
		res := r
		e.emit(&res)
	}

	report := e.assembleReport()

	for _, sink := range e.sinks {
		if err := sink.WriteReport(context.Background(), report); err != nil {
			e.log.Warn().Err(err).Str("scan_id", e.scanID).Msg("sink rejected report")
		}
	}

	e.reportMu.Lock()
	e.report = report
	e.reportMu.Unlock()

	e.log.Info().
		Str("scan_id", e.scanID).
		Int("results", len(report.Results)).
		Int("open_ports", report.OpenPorts).
		Int64("packets_sent", report.PacketsSent).
		Bool("incomplete", report.Incomplete).
		Msg("scan finished")

	close(e.done)
}

// watchCancel arms the grace window: when the caller's context fires,
// the run context stays alive for the configured grace so in-flight
// probes can land, then everything still outstanding is cut off.
func (e *Engine) watchCancel(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			e.cancelled.Store(true)

			t := time.NewTimer(e.cfg.Grace.Duration())
			defer t.Stop()

			select {
			case <-t.C:
			case <-e.done:
			}

			e.cancelRun()
		case <-e.done:
		}
	}()
}

// proberFor routes a technique to its transport family.
func (e *Engine) proberFor(t models.Technique) scan.Prober {
	switch {
	case t.IsStream():
		return e.stream
	case t == models.TechUDP:
		return e.udp
	default:
		return e.raw
	}
}

// Report blocks until the run finishes and returns the assembled report.
func (e *Engine) Report() (*models.ScanReport, error) {
	if !e.started.Load() {
		return nil, ErrNotStarted
	}

	<-e.done

	e.reportMu.Lock()
	defer e.reportMu.Unlock()

	return e.report, nil
}

// ScanID returns the run's identifier.
func (e *Engine) ScanID() string {
	return e.scanID
}

// Close releases the probers. Safe to call whether or not the engine
// ran; a finished run has already closed them.
func (e *Engine) Close() error {
	e.closeAll()
	return nil
}

func (e *Engine) closeAll() {
	e.closeOnce.Do(func() {
		for _, p := range []scan.Prober{e.raw, e.udp, e.stream} {
			if p == nil {
				continue
			}

			if err := p.Close(); err != nil {
				e.log.Warn().Err(err).Msg("prober close failed")
			}
		}
	})
}
