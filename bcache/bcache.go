// Package bcache is a fixed-size cache of device blocks, hashed into
// independently locked buckets of recency-ordered buffers.
//
// Interface:
//   - Read returns a buffer with the block's content, locked for
//     exclusive use by the caller.
//   - Write flushes a locked buffer's content to the device.
//   - Release gives a buffer back when the caller is done with it.
//   - Pin/Unpin keep a buffer resident across lock cycles.
package bcache

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mwangala/kcore/ksync"
)

const (
	BLOCK_SIZE      = 1024
	DEFAULT_BUCKETS = 13
	DEFAULT_BUFFERS = 30
)

// BlockDevice is the synchronous device primitive the cache sits on.
// It transfers exactly one block per call and is assumed infallible
// at this layer; a returned error indicates a broken device contract
// and is treated as fatal.
type BlockDevice interface {
	ReadBlock(dev, blockno uint32, p []byte) error
	WriteBlock(dev, blockno uint32, p []byte) error
}

type bucket struct {
	mu sync.Mutex
	// front = most recently released, back = eviction candidate
	lru *list.List
}

// Cache is a pool of buffers distributed across hash buckets keyed by
// blockno. Bucket mutexes are short-held and never held across device
// I/O or content-lock acquisition; a buffer's content lock is held
// across the caller's whole read-modify-write session.
type Cache struct {
	device    BlockDevice
	blockSize int
	buckets   []bucket
	bufs      []*Buffer

	hits     atomic.Uint64
	misses   atomic.Uint64
	recycles atomic.Uint64
	steals   atomic.Uint64
}

// New builds a fixed pool of buffers, each blockSize bytes, spread
// over the given number of buckets. Every buffer starts zero-tagged, so the
// initial placement (blockno % buckets) puts the whole pool in
// bucket 0; the recycling path redistributes them on demand.
func New(device BlockDevice, buckets, buffers, blockSize int) *Cache {
	if buckets < 1 || buffers < 1 {
		panic("bcache: need at least one bucket and one buffer")
	}

	c := &Cache{
		device:    device,
		blockSize: blockSize,
		buckets:   make([]bucket, buckets),
		bufs:      make([]*Buffer, buffers),
	}
	for i := range c.buckets {
		c.buckets[i].lru = list.New()
	}
	for i := range c.bufs {
		b := &Buffer{
			lock: ksync.NewSleepLock(),
			Data: make([]byte, blockSize),
		}
		b.bucket = int(b.blockno) % buckets
		b.elem = c.buckets[b.bucket].lru.PushFront(b)
		c.bufs[i] = b
	}
	return c
}

// acquire returns a buffer tagged (dev, blockno) with its content
// lock held and its reference count incremented.
//
// Bucket locks are only ever taken in ascending index order: when the
// recycling scan needs a bucket below the home bucket, the home lock
// is dropped first and the pair re-locked low-to-high. Because the
// home lock may have been released, the home bucket is re-checked for
// the tag before any foreign buffer is claimed, which preserves the
// at-most-one-buffer-per-block invariant.
func (c *Cache) acquire(dev, blockno uint32) *Buffer {
	home := int(blockno) % len(c.buckets)
	hb := &c.buckets[home]
	hb.mu.Lock()

	// already cached?
	if b := c.lookup(home, dev, blockno); b != nil {
		b.refcnt++
		hb.mu.Unlock()
		c.hits.Add(1)
		b.lock.Acquire()
		return b
	}
	c.misses.Add(1)

	// reuse an idle buffer from the home bucket
	if b := c.idle(home); b != nil {
		c.retag(b, dev, blockno)
		hb.mu.Unlock()
		c.recycles.Add(1)
		b.lock.Acquire()
		return b
	}

	// recycle the least recently released idle buffer of another
	// bucket and pull it into the home bucket
	for i := range c.buckets {
		if i == home {
			continue
		}
		fb := &c.buckets[i]
		if i < home {
			hb.mu.Unlock()
			fb.mu.Lock()
			hb.mu.Lock()
			if b := c.lookup(home, dev, blockno); b != nil {
				// installed by a concurrent acquire while the
				// home lock was dropped
				b.refcnt++
				fb.mu.Unlock()
				hb.mu.Unlock()
				c.hits.Add(1)
				b.lock.Acquire()
				return b
			}
		} else {
			fb.mu.Lock()
		}

		if b := c.idleFromBack(i); b != nil {
			fb.lru.Remove(b.elem)
			c.retag(b, dev, blockno)
			b.bucket = home
			b.elem = hb.lru.PushFront(b)
			fb.mu.Unlock()
			hb.mu.Unlock()
			c.steals.Add(1)
			b.lock.Acquire()
			return b
		}
		fb.mu.Unlock()
	}

	// the pool is sized to cover the maximum concurrent working
	// set; running dry means a refcnt leak or a misconfigured pool
	panic(fmt.Sprintf("bcache: no buffers for dev %d block %d", dev, blockno))
}

// Read returns a locked buffer with the content of the given block,
// loading it from the device on a miss.
func (c *Cache) Read(dev, blockno uint32) *Buffer {
	b := c.acquire(dev, blockno)
	if !b.valid {
		if err := c.device.ReadBlock(b.dev, b.blockno, b.Data); err != nil {
			panic(fmt.Sprintf("bcache: device read failed: %v", err))
		}
		b.valid = true
	}
	return b
}

// Write flushes b's content to the device. The caller must hold the
// content lock.
func (c *Cache) Write(b *Buffer) {
	if !b.lock.Held() {
		panic("bcache: write of unlocked buffer")
	}
	if err := c.device.WriteBlock(b.dev, b.blockno, b.Data); err != nil {
		panic(fmt.Sprintf("bcache: device write failed: %v", err))
	}
}

// Release drops the caller's content lock and reference. When the
// last reference goes away the buffer moves to the front of its
// current bucket's list, leaving long-idle buffers at the back where
// the recycling scan looks first.
func (c *Cache) Release(b *Buffer) {
	if !b.lock.Held() {
		panic("bcache: release of unlocked buffer")
	}
	b.lock.Release()

	bkt := &c.buckets[b.bucket]
	bkt.mu.Lock()
	b.refcnt--
	if b.refcnt < 0 {
		panic("bcache: negative refcnt")
	}
	if b.refcnt == 0 {
		bkt.lru.MoveToFront(b.elem)
	}
	bkt.mu.Unlock()
}

// Pin takes an extra reference on b, keeping it resident without
// holding the content lock.
func (c *Cache) Pin(b *Buffer) {
	bkt := &c.buckets[b.bucket]
	bkt.mu.Lock()
	b.refcnt++
	bkt.mu.Unlock()
}

// Unpin drops a reference taken with Pin.
func (c *Cache) Unpin(b *Buffer) {
	bkt := &c.buckets[b.bucket]
	bkt.mu.Lock()
	if b.refcnt == 0 {
		bkt.mu.Unlock()
		panic("bcache: unpin of unreferenced buffer")
	}
	b.refcnt--
	bkt.mu.Unlock()
}

// lookup scans bucket i for a buffer tagged (dev, blockno). Caller
// holds the bucket lock.
func (c *Cache) lookup(i int, dev, blockno uint32) *Buffer {
	for e := c.buckets[i].lru.Front(); e != nil; e = e.Next() {
		b := e.Value.(*Buffer)
		if b.dev == dev && b.blockno == blockno {
			return b
		}
	}
	return nil
}

// idle returns the first unreferenced buffer in bucket i, front to
// back. Caller holds the bucket lock.
func (c *Cache) idle(i int) *Buffer {
	for e := c.buckets[i].lru.Front(); e != nil; e = e.Next() {
		if b := e.Value.(*Buffer); b.refcnt == 0 {
			return b
		}
	}
	return nil
}

// idleFromBack returns the unreferenced buffer closest to the back of
// bucket i's list, the least recently released one. Caller holds the
// bucket lock.
func (c *Cache) idleFromBack(i int) *Buffer {
	for e := c.buckets[i].lru.Back(); e != nil; e = e.Prev() {
		if b := e.Value.(*Buffer); b.refcnt == 0 {
			return b
		}
	}
	return nil
}

// retag reassigns an unreferenced buffer to a new block. Caller holds
// the lock of the bucket currently owning b.
func (c *Cache) retag(b *Buffer, dev, blockno uint32) {
	b.dev = dev
	b.blockno = blockno
	b.valid = false
	b.refcnt = 1
}

type Stats struct {
	Hits     uint64
	Misses   uint64
	Recycles uint64
	Steals   uint64
}

func (c *Cache) Stats() Stats {
	return Stats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Recycles: c.recycles.Load(),
		Steals:   c.steals.Load(),
	}
}
