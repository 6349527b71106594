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
	"hash/fnv"
	"sync"

	"github.com/hamb0n-3/quantum-scanner/pkg/models"
)

const sessionShardCount = 32

// sessionKey identifies one outstanding probe on the wire. The id is the
// probe's local source port, which the allocator guarantees unique among
// in-flight probes; together with the peer address, peer port and
// protocol it makes reply demultiplexing unambiguous.
type sessionKey struct {
	addr  string
	port  uint16
	proto uint8
	id    uint16
}

// session is one registered wait. expectAck lets delivery reject stray or
// forged SYN/ACKs that do not acknowledge the probe's sequence number.
type session struct {
	ch        chan *models.Reply
	expectAck uint32
}

type sessionShard struct {
	mu       sync.Mutex
	sessions map[sessionKey]*session
}

// sessionTable is the demultiplexer between receive loops and waiting
// probes. Sharded by key hash so a hot receive loop does not serialize
// every in-flight probe behind one lock.
type sessionTable struct {
	shards [sessionShardCount]sessionShard
}

func newSessionTable() *sessionTable {
	t := &sessionTable{}
	for i := range t.shards {
		t.shards[i].sessions = make(map[sessionKey]*session)
	}

	return t
}

func (t *sessionTable) shard(k sessionKey) *sessionShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k.addr))
	_, _ = h.Write([]byte{
		byte(k.port >> 8), byte(k.port),
		k.proto,
		byte(k.id >> 8), byte(k.id),
	})

	return &t.shards[h.Sum32()%sessionShardCount]
}

// register reserves the key and returns the channel its reply will land
// on. The channel is buffered so delivery never blocks a receive loop.
func (t *sessionTable) register(k sessionKey, expectAck uint32) (<-chan *models.Reply, error) {
	s := t.shard(k)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[k]; exists {
		return nil, ErrSessionConflict
	}

	sess := &session{ch: make(chan *models.Reply, 1), expectAck: expectAck}
	s.sessions[k] = sess

	return sess.ch, nil
}

// deliver hands a reply to the waiting probe, if any. The first reply
// wins; later ones for the same key are dropped. SYN/ACK replies that do
// not acknowledge the expected sequence are rejected as strays.
func (t *sessionTable) deliver(k sessionKey, r *models.Reply) bool {
	s := t.shard(k)

	s.mu.Lock()
	sess, ok := s.sessions[k]
	s.mu.Unlock()

	if !ok {
		return false
	}

	if r.Kind == models.ReplyTCP && r.Flags.SYN && r.Flags.ACK &&
		sess.expectAck != 0 && r.Ack != sess.expectAck {
		return false
	}

	select {
	case sess.ch <- r:
		return true
	default:
		return false
	}
}

// remove forgets the key. Safe to call for keys never registered.
func (t *sessionTable) remove(k sessionKey) {
	s := t.shard(k)

	s.mu.Lock()
	delete(s.sessions, k)
	s.mu.Unlock()
}

// pending counts outstanding sessions across all shards.
func (t *sessionTable) pending() int {
	total := 0

	for i := range t.shards {
		t.shards[i].mu.Lock()
		total += len(t.shards[i].sessions)
		t.shards[i].mu.Unlock()
	}

	return total
}
