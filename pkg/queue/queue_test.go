package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundedQueueFIFO(t *testing.T) {
	q := NewBoundedQueue(4)
	for i := 0; i < 3; i++ {
		q.Put(&FileBuffer{Block: int64(i)})
	}
	for i := 0; i < 3; i++ {
		assert.Equal(t, int64(i), q.Get().Block)
	}
	assert.True(t, q.Empty())
}

func TestBoundedQueueBlocksWhenFull(t *testing.T) {
	q := NewBoundedQueue(2)
	q.Put(&FileBuffer{})
	q.Put(&FileBuffer{})

	done := make(chan struct{})
	go func() {
		q.Put(&FileBuffer{Block: 99})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("put should block on a full queue")
	case <-time.After(50 * time.Millisecond):
	}

	q.Get()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("put did not resume after a get freed a slot")
	}
	assert.False(t, q.Empty())
}

func TestBoundedQueueFlush(t *testing.T) {
	q := NewBoundedQueue(3)
	q.Put(&FileBuffer{})
	q.Put(&FileBuffer{})
	q.Flush()
	assert.True(t, q.Empty())
}

func TestSeqQueueScrambledOrder(t *testing.T) {
	q := NewSeqQueue()
	mk := func(fc, blk int64, next NextState) *FileBuffer {
		return &FileBuffer{FileCount: fc, Block: blk, Next: next}
	}
	// Submit out of order; release must follow discovery order.
	q.Put(mk(1, 0, NextFile))
	q.Put(mk(0, 1, NextFile))
	q.Put(mk(0, 0, NextBlock))

	got := []*FileBuffer{q.Get(), q.Get(), q.Get()}
	assert.Equal(t, int64(0), got[0].FileCount)
	assert.Equal(t, int64(0), got[0].Block)
	assert.Equal(t, int64(0), got[1].FileCount)
	assert.Equal(t, int64(1), got[1].Block)
	assert.Equal(t, int64(1), got[2].FileCount)
	assert.Equal(t, int64(0), got[2].Block)
}

func TestSeqQueueBlocksUntilExpectedArrives(t *testing.T) {
	q := NewSeqQueue()
	q.Put(&FileBuffer{FileCount: 0, Block: 1, Next: NextFile})

	results := make(chan *FileBuffer, 2)
	go func() {
		results <- q.Get()
		results <- q.Get()
	}()

	select {
	case <-results:
		t.Fatal("get returned before the expected (0,0) buffer arrived")
	case <-time.After(50 * time.Millisecond):
	}

	q.Put(&FileBuffer{FileCount: 0, Block: 0, Next: NextBlock})
	first := <-results
	second := <-results
	assert.Equal(t, int64(0), first.Block)
	assert.Equal(t, int64(1), second.Block)
}

func TestSeqQueueNextVersion(t *testing.T) {
	q := NewSeqQueue()
	// Generation 0 of the block is superseded; the requeued generation
	// follows under version 1.
	q.Put(&FileBuffer{FileCount: 0, Block: 0, Version: 0, Next: NextVersion})
	q.Put(&FileBuffer{FileCount: 0, Block: 0, Version: 1, Next: NextFile})

	assert.Equal(t, uint16(0), q.Get().Version)
	assert.Equal(t, uint16(1), q.Get().Version)
}

func TestSeqQueueSequenceMode(t *testing.T) {
	q := NewSeqQueue()
	q.SeqPut(&FileBuffer{Sequence: 2, Kind: KindFragment})
	q.SeqPut(&FileBuffer{Sequence: 0, Kind: KindFragment})
	q.SeqPut(&FileBuffer{Sequence: 1, Kind: KindFragment})

	for want := int64(0); want < 3; want++ {
		assert.Equal(t, want, q.SeqGet().Sequence)
	}
}

func TestSeqQueuePendingAndFlush(t *testing.T) {
	q := NewSeqQueue()
	q.Put(&FileBuffer{FileCount: 5, Kind: KindFragment})
	q.Put(&FileBuffer{FileCount: 6})
	frags, blocks := q.Pending()
	assert.Equal(t, 1, frags)
	assert.Equal(t, 1, blocks)

	q.Flush()
	frags, blocks = q.Pending()
	assert.Zero(t, frags)
	assert.Zero(t, blocks)
}

func TestReadQueueEarliestWins(t *testing.T) {
	q := NewReadQueue(2, 2)
	q.Put(0, &FileBuffer{FileCount: 1, Block: 0})
	q.Put(1, &FileBuffer{FileCount: 0, Block: 2})

	// File 0 is earlier than file 1 regardless of ring order.
	first := q.Get()
	assert.Equal(t, int64(0), first.FileCount)
	assert.Equal(t, int64(1), q.Get().FileCount)
	assert.True(t, q.Empty())
}

func TestReadQueueOrderingRule(t *testing.T) {
	a := &FileBuffer{FileCount: 0, Version: 0, Block: 5}
	b := &FileBuffer{FileCount: 0, Version: 1, Block: 0}
	// Version outranks block within a file.
	assert.True(t, a.Earlier(b))
	assert.False(t, b.Earlier(a))
}

func TestReadQueueBlocksProducerOnFullRing(t *testing.T) {
	q := NewReadQueue(1, 1)
	q.Put(0, &FileBuffer{Block: 0})

	done := make(chan struct{})
	go func() {
		q.Put(0, &FileBuffer{Block: 1})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("put should block on a full ring")
	case <-time.After(50 * time.Millisecond):
	}

	assert.Equal(t, int64(0), q.Get().Block)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("producer did not resume after consumer drained the ring")
	}
}

func TestReadQueueConcurrentProducers(t *testing.T) {
	const perThread = 50
	q := NewReadQueue(4, 8)
	var wg sync.WaitGroup
	for id := 0; id < 4; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perThread; i++ {
				q.Put(id, &FileBuffer{FileCount: int64(id), Block: int64(i), Thread: id})
			}
		}(id)
	}

	seen := make(map[int]int64)
	for i := 0; i < 4*perThread; i++ {
		b := q.Get()
		// Per-producer FIFO: blocks of one thread arrive in order.
		if last, ok := seen[b.Thread]; ok {
			require.Greater(t, b.Block, last)
		}
		seen[b.Thread] = b.Block
	}
	wg.Wait()
	assert.True(t, q.Empty())
}
