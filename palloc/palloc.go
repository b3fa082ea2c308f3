package palloc

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/mwangala/kcore/util"
)

const PAGE_SIZE = 4096

// Frames freed back to the allocator are filled with freePoison so a
// use-after-free shows up as recognizable garbage; freshly allocated
// frames are filled with allocPoison so callers that assume zeroed
// memory fail loudly. Both values are non-zero and distinct.
const (
	freePoison  byte = 0x01
	allocPoison byte = 0x05
)

// PhysAddr is a page-aligned byte offset into the allocator's arena.
type PhysAddr uint64

// UnitFunc returns the identity of the calling execution unit. The
// value must be stable for the duration of the call; integrations
// back it with an interrupt-safe CPU-id read, tests with a fixture.
type UnitFunc func() int

// RoundRobinUnits is a fallback unit source for standalone use where
// no real CPU identity exists. Any assignment is correct; it only
// spreads load across partitions.
func RoundRobinUnits(units int) UnitFunc {
	var next atomic.Int64
	return func() int {
		return int(next.Add(1)) % units
	}
}

type partition struct {
	mu   sync.Mutex
	free []PhysAddr
}

// Allocator hands out fixed-size physical frames from a single arena.
// The free pool is partitioned per execution unit so the common
// free-then-reallocate path contends only on the local partition;
// allocation falls back to stealing from other partitions when the
// local one is empty.
type Allocator struct {
	arena  []byte
	parts  []*partition
	unitID UnitFunc

	allocs atomic.Uint64
	frees  atomic.Uint64
	steals atomic.Uint64
}

// New builds an allocator with one partition per unit and an arena
// holding the given number of page-sized frames, all initially freed
// into the calling unit's partition.
func New(units, frames int, unitID UnitFunc) *Allocator {
	if units < 1 {
		panic("palloc: need at least one unit")
	}

	a := &Allocator{
		arena:  make([]byte, frames*PAGE_SIZE),
		parts:  make([]*partition, units),
		unitID: unitID,
	}
	for i := range a.parts {
		a.parts[i] = &partition{}
	}

	// single-threaded free range, everything lands on the
	// initializing unit
	u := unitID()
	for pa := PhysAddr(0); int(pa) < len(a.arena); pa += PAGE_SIZE {
		a.freeInto(u, pa)
	}
	return a
}

// Alloc pops a frame from the calling unit's partition, stealing from
// the other partitions in ascending order when the local one is
// empty. At most one partition lock is held at any moment, so the
// steal scan cannot participate in a lock cycle. Returns
// util.ErrOutOfMemory when every partition is empty; never blocks.
func (a *Allocator) Alloc() (PhysAddr, error) {
	u := a.unitID()

	pa, ok := a.pop(u)
	if !ok {
		for i := range a.parts {
			if i == u {
				continue
			}
			if pa, ok = a.pop(i); ok {
				a.steals.Add(1)
				break
			}
		}
	}
	if !ok {
		return 0, errors.Wrap(util.ErrOutOfMemory, "palloc: all partitions empty")
	}

	fill(a.Frame(pa), allocPoison)
	a.allocs.Add(1)
	return pa, nil
}

// Free returns a frame to the calling unit's partition. A misaligned
// or out-of-range address means a corrupted caller, not a user error,
// and panics.
func (a *Allocator) Free(pa PhysAddr) {
	a.freeInto(a.unitID(), pa)
}

func (a *Allocator) freeInto(unit int, pa PhysAddr) {
	if pa%PAGE_SIZE != 0 || int(pa) >= len(a.arena) {
		panic(fmt.Sprintf("palloc: free of invalid frame %#x", uint64(pa)))
	}
	fill(a.Frame(pa), freePoison)

	p := a.parts[unit]
	p.mu.Lock()
	p.free = append(p.free, pa)
	p.mu.Unlock()
	a.frees.Add(1)
}

func (a *Allocator) pop(unit int) (PhysAddr, bool) {
	p := a.parts[unit]
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.free)
	if n == 0 {
		return 0, false
	}
	pa := p.free[n-1]
	p.free = p.free[:n-1]
	return pa, true
}

// Frame returns the backing bytes of the frame at pa.
func (a *Allocator) Frame(pa PhysAddr) []byte {
	if pa%PAGE_SIZE != 0 || int(pa) >= len(a.arena) {
		panic(fmt.Sprintf("palloc: invalid frame %#x", uint64(pa)))
	}
	end := int(pa) + PAGE_SIZE
	return a.arena[pa:end:end]
}

// FreeFrames reports the number of frames currently free across all
// partitions. Racy by nature; meant for stats and tests.
func (a *Allocator) FreeFrames() int {
	total := 0
	for _, p := range a.parts {
		p.mu.Lock()
		total += len(p.free)
		p.mu.Unlock()
	}
	return total
}

type Stats struct {
	Allocs uint64
	Frees  uint64
	Steals uint64
}

func (a *Allocator) Stats() Stats {
	return Stats{
		Allocs: a.allocs.Load(),
		Frees:  a.frees.Load(),
		Steals: a.steals.Load(),
	}
}

func fill(p []byte, b byte) {
	for i := range p {
		p[i] = b
	}
}
