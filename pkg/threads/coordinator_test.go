package threads

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudget(t *testing.T) {
	assert.Equal(t, 1, Budget(1))
	assert.Equal(t, 5, Budget(4))
	assert.Equal(t, 10, Budget(8))
}

func TestCoordinatorCountsKinds(t *testing.T) {
	c := NewCoordinator(4)
	b := c.GetThreadID(BlockDeflator)
	f := c.GetThreadID(FragmentDeflator)
	assert.Equal(t, 0, b)
	assert.Equal(t, 1, f)
	assert.Equal(t, 2, c.Active())

	c.SetIdle(f)
	assert.Equal(t, 1, c.Active())
	c.SetActive(f)
	assert.Equal(t, 2, c.Active())
}

func TestWaitIdleThrottlesBlockDeflators(t *testing.T) {
	// Budget(1) == 1, so one fragment deflator plus one block deflator
	// is already over budget.
	c := NewCoordinator(1)
	blk := c.GetThreadID(BlockDeflator)
	frag := c.GetThreadID(FragmentDeflator)
	require.Equal(t, 2, c.Active())

	done := make(chan struct{})
	go func() {
		c.WaitIdle(blk)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("block deflator should throttle while over budget")
	case <-time.After(50 * time.Millisecond):
	}

	c.SetIdle(frag)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("block deflator did not resume after capacity freed")
	}
	assert.Equal(t, 1, c.Active())
}

func TestWaitIdleNeverThrottlesFragmentDeflators(t *testing.T) {
	c := NewCoordinator(1)
	c.GetThreadID(BlockDeflator)
	c.GetThreadID(BlockDeflator)
	frag := c.GetThreadID(FragmentDeflator)

	done := make(chan struct{})
	go func() {
		c.WaitIdle(frag)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fragment deflator must not block in WaitIdle")
	}
}

func TestSnapshotDoesNotMutate(t *testing.T) {
	c := NewCoordinator(2)
	id := c.GetThreadID(BlockDeflator)
	before := c.Active()

	snap := c.Snapshot()
	require.Len(t, snap, 1)
	assert.True(t, snap[id].Active)
	assert.Equal(t, BlockDeflator, snap[id].Kind)

	// Mutating the copy must not leak back.
	snap[id].Active = false
	assert.Equal(t, before, c.Active())
	assert.True(t, c.Snapshot()[id].Active)
}
