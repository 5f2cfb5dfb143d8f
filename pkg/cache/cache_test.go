package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squashkit/squashkit/pkg/queue"
)

func TestBlockCacheReuseKeepsPayload(t *testing.T) {
	c := NewBlockCache(64, 4, false)
	b := c.Get(7)
	copy(b.Data, "resident")
	b.Size = 8
	c.Put(b)

	again := c.Get(7)
	assert.Equal(t, "resident", string(again.Payload()))
	assert.Equal(t, 1, c.Allocated())
}

func TestBlockCacheLookupResidency(t *testing.T) {
	c := NewBlockCache(32, 2, false)
	b := c.Get(3)
	c.Put(b)

	assert.NotNil(t, c.Lookup(3))
	assert.Nil(t, c.Lookup(99))

	// Both slots claimed for new indexes: the old binding is recycled.
	nb := c.Get(4)
	nb2 := c.Get(5)
	require.Equal(t, 2, c.Allocated())
	assert.Nil(t, c.Lookup(3))
	c.Put(nb)
	c.Put(nb2)
}

func TestBlockCacheBound(t *testing.T) {
	const max = 3
	c := NewBlockCache(16, max, false)

	bufs := make([]*queue.FileBuffer, 0, max)
	for i := 0; i < max; i++ {
		bufs = append(bufs, c.Get(int64(i)))
	}
	require.Equal(t, max, c.InUse())

	done := make(chan struct{})
	go func() {
		b := c.Get(100)
		c.Put(b)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("get should block while all buffers are owned")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, max, c.Allocated())

	c.Put(bufs[0])
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("get did not resume after a put")
	}

	for _, b := range bufs[1:] {
		c.Put(b)
	}
	assert.Zero(t, c.InUse())
	assert.Equal(t, max, c.Allocated())
}

func TestBlockCacheFreelistPolicy(t *testing.T) {
	// Back-of-list policy keeps released blocks resident longest: the
	// first released buffer is the first recycled.
	back := NewBlockCache(16, 2, false)
	a := back.Get(1)
	b := back.Get(2)
	back.Put(a)
	back.Put(b)
	back.Get(3)
	assert.Nil(t, back.Lookup(1))
	assert.NotNil(t, back.Lookup(2))

	// Front-of-list policy recycles the hottest buffer first.
	front := NewBlockCache(16, 2, true)
	a = front.Get(1)
	b = front.Get(2)
	front.Put(a)
	front.Put(b)
	front.Get(3)
	assert.NotNil(t, front.Lookup(1))
	assert.Nil(t, front.Lookup(2))
}

func TestBlockCacheSnapshot(t *testing.T) {
	c := NewBlockCache(16, 2, false)

	// An owned, unpinned buffer may still be written; no snapshot.
	b := c.Get(5)
	copy(b.Data, "half written")
	b.Size = 12
	assert.Nil(t, c.Snapshot(5))

	// Pinning marks the payload final.
	c.Lock(b)
	snap := c.Snapshot(5)
	require.NotNil(t, snap)
	assert.Equal(t, "half written", string(snap.Payload()))
	c.Unlock(b)
	c.Put(b)

	// Released buffers snapshot too, and the copy is detached: a later
	// recycle does not reach it.
	snap = c.Snapshot(5)
	require.NotNil(t, snap)
	nb := c.Get(9)
	copy(nb.Data, "overwritten!")
	assert.Equal(t, "half written", string(snap.Payload()))
	c.Put(nb)

	assert.Nil(t, c.Snapshot(42))
}

func TestBlockCacheLockUnlock(t *testing.T) {
	c := NewBlockCache(16, 2, false)
	b := c.Get(1)
	c.Lock(b)

	done := make(chan struct{})
	go func() {
		c.WaitUnlock(b)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("wait returned while the buffer was pinned")
	case <-time.After(50 * time.Millisecond):
	}

	c.Unlock(b)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("wait did not resume after unlock")
	}
	c.Put(b)
}
