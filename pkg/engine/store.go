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
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/hamb0n-3/quantum-scanner/pkg/models"
)

const storeShardCount = 16

// outcome is one technique's contribution to a unit, plus the reply
// metadata worth keeping beyond the verdict. aborted marks findings
// recorded for probes cut short by cancellation rather than observed to
// conclusion; the unit then finishes as incomplete.
type outcome struct {
	finding models.TechniqueFinding
	cert    *models.CertInfo
	banner  []byte
	ttl     uint8
	tsOpt   bool
	aborted bool
}

// unitState tracks one (target, port) unit while its techniques finish.
type unitState struct {
	result     models.PortResult
	remaining  int
	hasFinding bool
	aborted    bool
	done       bool
}

type storeShard struct {
	mu    sync.Mutex
	units map[string]*unitState
}

// osHint accumulates the fingerprinting signals observed for one host.
type osHint struct {
	ttl   uint8
	tsOpt bool
}

// resultStore folds per-technique findings into exactly one PortResult
// per (target, port). Conflicting verdicts resolve by state priority;
// every finding stays on the result so the report can show its work.
// Sharded by unit key to keep the worker pool off one lock.
type resultStore struct {
	shards [storeShardCount]storeShard

	hintMu sync.Mutex
	hints  map[string]*osHint
}

func newResultStore() *resultStore {
	s := &resultStore{hints: make(map[string]*osHint)}
	for i := range s.shards {
		s.shards[i].units = make(map[string]*unitState)
	}

	return s
}

func unitKey(host string, port uint16) string {
	return fmt.Sprintf("%s:%d", host, port)
}

func (s *resultStore) shard(key string) *storeShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))

	return &s.shards[h.Sum32()%storeShardCount]
}

// seed pre-registers a unit before any probe flies. Until a finding
// lands, the unit reads as filtered and incomplete, which is exactly
// what a cancelled run reports for work it never started.
func (s *resultStore) seed(host string, port uint16, techniques int, now time.Time) {
	key := unitKey(host, port)
	shard := s.shard(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if _, exists := shard.units[key]; exists {
		return
	}

	shard.units[key] = &unitState{
		result: models.PortResult{
			Host:       host,
			Port:       port,
			State:      models.StateFiltered,
			Incomplete: true,
			FirstProbe: now,
			LastSeen:   now,
		},
		remaining: techniques,
	}
}

// apply merges one technique's outcome into its unit. When the last
// technique lands, the finalized result is returned for emission;
// otherwise nil.
func (s *resultStore) apply(host string, port uint16, out outcome) *models.PortResult {
	key := unitKey(host, port)
	shard := s.shard(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	unit, ok := shard.units[key]
	if !ok || unit.done {
		return nil
	}

	res := &unit.result
	res.Findings = append(res.Findings, out.finding)
	res.LastSeen = time.Now()

	// The first finding replaces the seeded placeholder state; later
	// ones only upgrade by priority.
	if !unit.hasFinding {
		res.State = out.finding.State
		unit.hasFinding = true
	} else if out.finding.State.Priority() > res.State.Priority() {
		res.State = out.finding.State
	}

	if out.cert != nil && res.Cert == nil {
		res.Cert = out.cert
	}

	if len(out.banner) > 0 && res.Banner == "" {
		res.Banner = string(out.banner)
	}

	if out.ttl > 0 {
		s.recordHint(host, out.ttl, out.tsOpt)
	}

	if out.aborted {
		unit.aborted = true
	}

	unit.remaining--
	if unit.remaining > 0 {
		return nil
	}

	unit.done = true
	res.Incomplete = unit.aborted

	emitted := *res

	return &emitted
}

// update lets the enrichment pass write back into a finalized unit
// before the report is assembled.
func (s *resultStore) update(host string, port uint16, fn func(*models.PortResult)) *models.PortResult {
	key := unitKey(host, port)
	shard := s.shard(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	unit, ok := shard.units[key]
	if !ok {
		return nil
	}

	fn(&unit.result)

	updated := unit.result

	return &updated
}

// abandon finalizes every unit still waiting on findings. Their seeded
// or partial state stands and they stay marked incomplete. Returns the
// abandoned results for emission.
func (s *resultStore) abandon() []models.PortResult {
	var out []models.PortResult

	for i := range s.shards {
		shard := &s.shards[i]

		shard.mu.Lock()

		for _, unit := range shard.units {
			if unit.done {
				continue
			}

			unit.done = true
			unit.result.Incomplete = true
			out = append(out, unit.result)
		}

		shard.mu.Unlock()
	}

	return out
}

// snapshot returns every unit ordered by host then port, the order the
// report presents. Two runs over the same response script produce the
// same snapshot.
func (s *resultStore) snapshot() []models.PortResult {
	var out []models.PortResult

	for i := range s.shards {
		shard := &s.shards[i]

		shard.mu.Lock()

		for _, unit := range shard.units {
			out = append(out, unit.result)
		}

		shard.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Host != out[j].Host {
			return out[i].Host < out[j].Host
		}

		return out[i].Port < out[j].Port
	})

	return out
}

func (s *resultStore) recordHint(host string, ttl uint8, tsOpt bool) {
	s.hintMu.Lock()
	defer s.hintMu.Unlock()

	hint, ok := s.hints[host]
	if !ok {
		hint = &osHint{}
		s.hints[host] = hint
	}

	if hint.ttl == 0 {
		hint.ttl = ttl
	}

	if tsOpt {
		hint.tsOpt = true
	}
}

func (s *resultStore) hostHint(host string) (osHint, bool) {
	s.hintMu.Lock()
	defer s.hintMu.Unlock()

	hint, ok := s.hints[host]
	if !ok {
		return osHint{}, false
	}

	return *hint, true
}
