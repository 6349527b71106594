package probe

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
)

// PortAllocator hands out ephemeral TCP source ports without reuse until
// Release. Each outstanding probe owns its source port exclusively, which
// is what keeps reply demultiplexing unambiguous. It is MPMC and
// lock-free: a buffered channel holds the free list and each slot carries
// an atomic state flag (0=free, 1=reserved) guarding against duplicates.
type PortAllocator struct {
	start uint16
	end   uint16
	cnt   uint32 // total ports (inclusive)

	// one entry per port; index 0 -> start, index cnt-1 -> end
	slots []portSlot

	// freeCount tracks how many ports are currently free. It is updated
	// on successful Reserve/Release.
	freeCount atomic.Uint32

	// ports is a buffered channel holding currently-free ports, filled in
	// shuffled order so consecutive probes draw unrelated source ports.
	ports chan uint16
}

type portSlot struct {
	port  uint16
	state atomic.Uint32 // 0=free, 1=used
}

var (
	ErrNoSourcePorts = errors.New("no source ports available")
	errCtxDone       = errors.New("context canceled")
)

const (
	// IANA ephemeral range as Linux ships it.
	defaultEphemeralStart = 32768
	defaultEphemeralEnd   = 60999
)

// NewPortAllocator builds an allocator for [start, end] inclusive, with
// the free list pre-shuffled by rng. Panics if the range is empty.
func NewPortAllocator(start, end uint16, rng *rand.Rand) *PortAllocator {
	if start == 0 || end == 0 || start > end {
		panic("NewPortAllocator: invalid port range")
	}

	cnt := uint32(end - start + 1)
	slots := make([]portSlot, cnt)

	order := make([]uint16, cnt)

	for i := uint32(0); i < cnt; i++ {
		// Safe conversion: start + i fits in uint16 because
		// cnt = end - start + 1 with both bounds uint16.
		// #nosec G115 - conversion is safe within port range
		p := start + uint16(i)
		slots[i].port = p
		order[i] = p
	}

	rng.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})

	a := &PortAllocator{
		start: start,
		end:   end,
		cnt:   cnt,
		slots: slots,
		ports: make(chan uint16, cnt),
	}

	a.freeCount.Store(cnt)

	for _, p := range order {
		a.ports <- p
	}

	return a
}

// NewEphemeralAllocator builds an allocator over the stock Linux
// ephemeral port range.
func NewEphemeralAllocator(rng *rand.Rand) *PortAllocator {
	return NewPortAllocator(defaultEphemeralStart, defaultEphemeralEnd, rng)
}

// Reserve obtains one free port, blocking until a port is released or ctx
// is done.
func (a *PortAllocator) Reserve(ctx context.Context) (uint16, error) {
	if a.cnt == 0 {
		return 0, ErrNoSourcePorts
	}

	for {
		select {
		case p := <-a.ports:
			// Mark slot as used; guard against any accidental duplicates
			idx := uint32(p - a.start)
			if a.slots[idx].state.Swap(1) == 0 {
				a.freeCount.Add(^uint32(0)) // -1
				return p, nil
			}
			// If it was already 1, get another port
		case <-ctx.Done():
			return 0, errCtxDone
		}
	}
}

// Release marks a port free again. It's safe to call multiple times.
func (a *PortAllocator) Release(port uint16) {
	if port < a.start || port > a.end {
		return
	}

	idx := uint32(port - a.start)
	// Only return the port if we actually transitioned from used->free
	if a.slots[idx].state.Swap(0) == 1 {
		a.freeCount.Add(1)
		// Non-blocking because capacity == cnt
		select {
		case a.ports <- port:
		default:
			// Should not happen; as a safety, drop silently to avoid blocking
		}
	}
}

// Available is an exact count of currently free ports (O(n)).
func (a *PortAllocator) Available() int {
	free := 0

	for i := range a.slots {
		if a.slots[i].state.Load() == 0 {
			free++
		}
	}

	return free
}

// Free returns a fast, approximate count of free ports using the atomic
// counter. It does not scan the slots and is safe for concurrent use.
func (a *PortAllocator) Free() int {
	return int(a.freeCount.Load())
}
