// Package cache provides the bounded pool of reusable block buffers
// shared by the reader, deflator and writer roles. Buffers keep their
// last index association while on the free list, so recently released
// blocks stay addressable until their slot is recycled.
package cache

import (
	"sync"

	"github.com/squashkit/squashkit/pkg/queue"
)

// BlockCache hands out fixed-size buffers keyed by a logical block
// index, bounded by maxBuffers. Exhaustion is not an error: Get blocks
// until another owner releases a buffer.
//
// One mutex guards the free list and the hash table. The two condition
// variables are signalled independently so a thread waiting for a free
// buffer is not woken by an unlock event and vice versa.
type BlockCache struct {
	mu            sync.Mutex
	waitForFree   *sync.Cond
	waitForUnlock *sync.Cond

	bufferSize int
	maxBuffers int

	// firstFreelist selects where released buffers rejoin the free
	// list: the front recycles hot buffers first, the back keeps
	// released blocks resident longest for Lookup.
	firstFreelist bool

	allocated int
	inUse     int

	free  []*queue.FileBuffer
	table map[int64]*queue.FileBuffer
}

// NewBlockCache returns a cache of up to maxBuffers buffers of
// bufferSize bytes each. Buffers are allocated lazily on first demand.
func NewBlockCache(bufferSize, maxBuffers int, firstFreelist bool) *BlockCache {
	c := &BlockCache{
		bufferSize:    bufferSize,
		maxBuffers:    maxBuffers,
		firstFreelist: firstFreelist,
		table:         make(map[int64]*queue.FileBuffer),
	}
	c.waitForFree = sync.NewCond(&c.mu)
	c.waitForUnlock = sync.NewCond(&c.mu)
	return c
}

// Get returns the buffer for index, claiming exclusive ownership. A
// resident unused buffer is reclaimed with its payload intact;
// otherwise the least recently freed buffer is recycled, or a new one
// allocated while under the cap. When all buffers are owned, Get
// blocks until a Put occurs.
func (c *BlockCache) Get(index int64) *queue.FileBuffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		if b, ok := c.table[index]; ok && !b.Used {
			c.unfree(b)
			b.Used = true
			c.inUse++
			return b
		} else if ok {
			// Another owner holds this index. Wait for release and
			// re-check; the binding may have been recycled meanwhile.
			c.waitForFree.Wait()
			continue
		}
		if len(c.free) > 0 {
			b := c.free[0]
			c.free = c.free[1:]
			delete(c.table, b.Index)
			b.Reset()
			b.Index = index
			b.Used = true
			c.table[index] = b
			c.inUse++
			return b
		}
		if c.allocated < c.maxBuffers {
			b := queue.NewFileBuffer(c.bufferSize)
			b.Index = index
			b.Used = true
			c.allocated++
			c.inUse++
			c.table[index] = b
			return b
		}
		c.waitForFree.Wait()
	}
}

// Put releases ownership of a buffer back to the cache. The buffer
// stays in the hash table under its index until its slot is recycled,
// so Lookup can still find it. Exactly one waiter is woken.
func (c *BlockCache) Put(b *queue.FileBuffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b.Used = false
	c.inUse--
	if c.firstFreelist {
		c.free = append([]*queue.FileBuffer{b}, c.free...)
	} else {
		c.free = append(c.free, b)
	}
	c.waitForFree.Signal()
}

// Lookup is a non-blocking peek: it reports whether the block for
// index is resident and returns it without taking ownership. The
// caller must not Put the result and must ensure the buffer cannot be
// recycled while reading its payload, normally by holding the fragment
// lock that pins it.
func (c *BlockCache) Lookup(index int64) *queue.FileBuffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.table[index]
}

// Snapshot returns a detached copy of the block for index, or nil when
// the block is absent or its owner may still be writing it. A resident
// buffer qualifies once it is released, or while it is pinned by Lock,
// which owners only apply after the payload is final. The copy is taken
// under the cache mutex so a concurrent Get cannot recycle the buffer
// mid-read.
func (c *BlockCache) Snapshot(index int64) *queue.FileBuffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.table[index]
	if !ok || (b.Used && !b.Locked) {
		return nil
	}
	out := queue.NewFileBuffer(c.bufferSize)
	out.Index = b.Index
	out.Size = b.Size
	out.CSize = b.CSize
	out.Err = b.Err
	n := b.Size
	if b.CSize > n {
		n = b.CSize
	}
	copy(out.Data, b.Data[:n])
	return out
}

// WaitUnlock blocks until the given buffer is no longer pinned by the
// fragment writer.
func (c *BlockCache) WaitUnlock(b *queue.FileBuffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for b.Locked {
		c.waitForUnlock.Wait()
	}
}

// Unlock clears a buffer's pin and wakes every thread blocked in
// WaitUnlock.
func (c *BlockCache) Unlock(b *queue.FileBuffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b.Locked = false
	c.waitForUnlock.Broadcast()
}

// Lock pins a buffer so it survives release until the writer is done
// with it.
func (c *BlockCache) Lock(b *queue.FileBuffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b.Locked = true
}

// InUse reports how many buffers currently have owners.
func (c *BlockCache) InUse() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inUse
}

// Allocated reports how many buffers have been created so far.
func (c *BlockCache) Allocated() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allocated
}

// unfree removes a buffer from the free list. The list is short (at
// most maxBuffers entries) so a linear scan is fine.
func (c *BlockCache) unfree(b *queue.FileBuffer) {
	for i, e := range c.free {
		if e == b {
			c.free = append(c.free[:i], c.free[i+1:]...)
			return
		}
	}
}
