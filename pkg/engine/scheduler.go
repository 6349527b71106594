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
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/hamb0n-3/quantum-scanner/pkg/models"
	"github.com/hamb0n-3/quantum-scanner/pkg/scan"
)

const (
	// maxAttempts bounds each work item at one initial probe plus one
	// retry. Only an inconclusive verdict earns the retry.
	maxAttempts = 2

	retryBackoffMin = 50 * time.Millisecond
	retryBackoffMax = 250 * time.Millisecond

	workBuffer   = 256
	resultBuffer = 256
)

// workItem is one (target, port, technique) probe unit.
type workItem struct {
	target models.Target
	port   uint16
	tech   models.Technique
}

// buildWork expands the configured targets, ports and techniques into
// the full Cartesian work list and seeds the store with one unit per
// (target, port).
func (e *Engine) buildWork(now time.Time) []workItem {
	items := make([]workItem, 0, len(e.targets)*len(e.cfg.Ports)*len(e.cfg.Techniques))

	for _, tgt := range e.targets {
		for _, port := range e.cfg.Ports {
			e.store.seed(tgt.Host, port, len(e.cfg.Techniques), now)

			for _, tech := range e.cfg.Techniques {
				items = append(items, workItem{target: tgt, port: port, tech: tech})
			}
		}
	}

	if e.cfg.ShufflePorts {
		e.rng.Shuffle(len(items), func(i, j int) {
			items[i], items[j] = items[j], items[i]
		})
	}

	return items
}

// runPool feeds the work list through a bounded worker pool. ctx is the
// caller's context: once it fires no new probes start. In-flight probes
// keep running on the engine's run context through the grace window.
func (e *Engine) runPool(ctx context.Context, items []workItem) {
	workCh := make(chan workItem, workBuffer)

	go func() {
		defer close(workCh)

		for _, item := range items {
			select {
			case workCh <- item:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup

	for i := 0; i < e.cfg.Concurrency; i++ {
		wg.Add(1)

		go func(worker int) {
			defer wg.Done()

			rng := rand.New(rand.NewSource(e.seed + int64(worker) + 1)) //nolint:gosec // jitter, not crypto

			for item := range workCh {
				if ctx.Err() != nil {
					continue
				}

				e.runItem(ctx, rng, item)
			}
		}(i)
	}

	wg.Wait()
}

// runItem drives one work unit to a recorded finding: build, send,
// classify, retry once if the verdict was inconclusive, then fold the
// outcome into the unit's result.
func (e *Engine) runItem(ctx context.Context, rng *rand.Rand, item workItem) {
	prober := e.proberFor(item.tech)

	var srcPort uint16

	if item.tech.IsRaw() {
		sp, err := e.alloc.Reserve(e.runCtx)
		if err != nil {
			// Cancellation while waiting for a source port; the unit is
			// finalized by the abandonment pass.
			return
		}

		srcPort = sp
		defer e.alloc.Release(sp)
	}

	var (
		verdict  scan.Verdict
		out      outcome
		rtt      time.Duration
		attempts int
		settled  bool
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := e.budget.Wait(e.runCtx); err != nil {
			if !settled {
				return
			}

			break
		}

		attempts = attempt

		p, err := e.builder.Build(item.target, item.port, item.tech, attempt, srcPort)
		if err != nil {
			e.applyOutcome(item, transportOutcome(item.tech, attempt, err))
			return
		}

		reply, aborted, err := e.probeOnce(prober, p)
		if err != nil {
			e.log.Warn().Err(err).
				Str("target", item.target.Host).
				Uint16("port", item.port).
				Str("technique", string(item.tech)).
				Msg("probe failed")

			e.applyOutcome(item, transportOutcome(item.tech, attempt, err))

			return
		}

		e.budget.Observe(reply.Kind == models.ReplyTimeout)

		v, err := e.classifier.Classify(p, reply)
		if err != nil {
			e.applyOutcome(item, transportOutcome(item.tech, attempt, err))
			return
		}

		verdict = v
		settled = true
		rtt = reply.RTT
		out = replyOutcome(reply)
		out.aborted = aborted

		if v.Conclusive || aborted {
			break
		}

		if attempt < maxAttempts && !e.sleepBackoff(rng) {
			break
		}
	}

	if !settled {
		return
	}

	out.finding = models.TechniqueFinding{
		Technique:  item.tech,
		State:      verdict.State,
		Reason:     verdict.Reason,
		Attempts:   attempts,
		Conclusive: verdict.Conclusive,
		RespTime:   rtt,
	}

	e.applyOutcome(item, out)
}

// probeOnce sends one probe on the run context and normalizes the
// cancellation path: a probe cut off by shutdown reads as a timeout
// observation with aborted set, so the unit still records a finding.
func (e *Engine) probeOnce(prober scan.Prober, p *models.Probe) (reply *models.Reply, aborted bool, err error) {
	reply, err = prober.Probe(e.runCtx, p)

	e.sent.Add(packetsFor(p))

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return &models.Reply{Kind: models.ReplyTimeout}, true, nil
		}

		return nil, false, err
	}

	if reply.Kind != models.ReplyTimeout {
		e.received.Add(1)
	}

	return reply, false, nil
}

// sleepBackoff waits a randomized interval before the retry attempt.
// Returns false if the run was cancelled while waiting.
func (e *Engine) sleepBackoff(rng *rand.Rand) bool {
	span := int64(retryBackoffMax - retryBackoffMin)
	d := retryBackoffMin + time.Duration(rng.Int63n(span))

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-e.runCtx.Done():
		return false
	}
}

// applyOutcome folds a finding into its unit and finalizes the unit when
// it was the last one outstanding.
func (e *Engine) applyOutcome(item workItem, out outcome) {
	completed := e.store.apply(item.target.Host, item.port, out)
	if completed == nil {
		return
	}

	e.finalize(completed)
}

// finalize enriches (when configured and the port may be reachable) and
// emits a completed result.
func (e *Engine) finalize(result *models.PortResult) {
	if e.enricher == nil || !enrichable(result.State) || result.Incomplete {
		e.emit(result)
		return
	}

	host, port := result.Host, result.Port

	e.enrichGroup.Go(func() error {
		enriched := *result

		if err := e.enricher.Enrich(e.runCtx, &enriched); err != nil {
			e.log.Debug().Err(err).
				Str("target", host).
				Uint16("port", port).
				Msg("enrichment failed")

			e.emit(result)

			return nil //nolint:nilerr // enrichment is best effort
		}

		final := e.store.update(host, port, func(r *models.PortResult) {
			r.Service = enriched.Service
			r.Banner = enriched.Banner
			r.SSH = enriched.SSH
			r.VulnNotes = enriched.VulnNotes

			if r.Cert == nil {
				r.Cert = enriched.Cert
			}
		})

		e.emit(final)

		return nil
	})
}

// enrichable reports whether a reconciled state is worth an enrichment
// attempt. Unfiltered and open|filtered ports may still answer an
// application probe even though no technique proved them open.
func enrichable(state models.PortState) bool {
	switch state {
	case models.StateOpen, models.StateUnfiltered, models.StateOpenFiltered:
		return true
	default:
		return false
	}
}

// emit streams one result to the caller's channel and the sinks. The
// channel is buffered for the full unit count, so the send cannot block
// even when the caller drains lazily or walks away after cancelling.
// Sink writes run on a fresh context: output still lands while the run
// context is tearing down.
func (e *Engine) emit(result *models.PortResult) {
	e.results <- *result

	for _, sink := range e.sinks {
		if err := sink.WriteResult(context.Background(), result); err != nil {
			e.log.Warn().Err(err).
				Str("target", result.Host).
				Uint16("port", result.Port).
				Msg("sink rejected result")
		}
	}
}

// transportOutcome records a probe whose transport failed. The unit
// keeps scanning; the error is preserved on the finding.
func transportOutcome(tech models.Technique, attempt int, err error) outcome {
	return outcome{finding: models.TechniqueFinding{
		Technique: tech,
		State:     models.StateFiltered,
		Reason:    "transport-error",
		Attempts:  attempt,
		Error:     err.Error(),
	}}
}

// replyOutcome lifts the metadata worth keeping off a reply.
func replyOutcome(r *models.Reply) outcome {
	out := outcome{
		ttl:   r.TTL,
		tsOpt: r.TimestampOpt,
	}

	if hs := r.Handshake; hs != nil {
		out.cert = hs.Cert

		if len(hs.Echoed) > 0 {
			out.banner = printablePrefix(hs.Echoed)
		}
	}

	if r.Kind == models.ReplyUDP && len(r.Payload) > 0 {
		out.banner = printablePrefix(r.Payload)
	}

	return out
}

func packetsFor(p *models.Probe) int64 {
	if n := len(p.Fragments); n > 0 {
		return int64(n)
	}

	return 1
}

const maxBannerLen = 256

// printablePrefix keeps the leading printable run of b, so binary reply
// bytes do not leak into text output.
func printablePrefix(b []byte) []byte {
	n := len(b)
	if n > maxBannerLen {
		n = maxBannerLen
	}

	end := 0

	for end < n {
		c := b[end]
		if c != '\r' && c != '\n' && c != '\t' && (c < 0x20 || c > 0x7e) {
			break
		}

		end++
	}

	if end == 0 {
		return nil
	}

	return b[:end]
}
