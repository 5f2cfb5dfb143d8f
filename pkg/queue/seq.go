package queue

import "sync"

// seqHashSize buckets pending entries by the low bits of their ordering
// key.
const seqHashSize = 65536

func seqHash(n int64) int { return int(n & (seqHashSize - 1)) }

// SeqQueue accepts buffers completed in arbitrary order by parallel
// deflator threads and releases them in strict original order. It runs
// in one of two modes per instance: main mode orders by
// (FileCount, Block, Version) and advances per each entry's NextState
// transition; sequence mode orders by the monotonic Sequence key alone.
type SeqQueue struct {
	mu   sync.Mutex
	wait *sync.Cond

	table map[int][]*FileBuffer

	// expected key, main mode
	fileCount int64
	block     int64
	version   uint16

	// expected key, sequence mode
	sequence int64

	fragmentCount int
	blockCount    int
}

// NewSeqQueue returns an empty sequencing queue expecting key zero.
func NewSeqQueue() *SeqQueue {
	q := &SeqQueue{table: make(map[int][]*FileBuffer)}
	q.wait = sync.NewCond(&q.mu)
	return q
}

// Put inserts a completed buffer keyed by (FileCount, Block, Version)
// and wakes the consumer if the buffer is the one it is waiting for.
func (q *SeqQueue) Put(b *FileBuffer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	h := seqHash(b.FileCount)
	q.table[h] = append(q.table[h], b)
	q.account(b, 1)
	if b.FileCount == q.fileCount && b.Block == q.block && b.Version == q.version {
		q.wait.Signal()
	}
}

// Get blocks until the buffer matching the expected
// (FileCount, Block, Version) key arrives, advances the expected key by
// the buffer's NextState transition and returns it.
func (q *SeqQueue) Get() *FileBuffer {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if b := q.take(seqHash(q.fileCount), func(e *FileBuffer) bool {
			return e.FileCount == q.fileCount && e.Block == q.block && e.Version == q.version
		}); b != nil {
			switch b.Next {
			case NextVersion:
				q.version++
				q.block = 0
			case NextBlock:
				q.block++
			case NextFile:
				q.version = 0
				q.block = 0
				q.fileCount++
			}
			return b
		}
		q.wait.Wait()
	}
}

// SeqPut inserts a buffer keyed by its Sequence number.
func (q *SeqQueue) SeqPut(b *FileBuffer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	h := seqHash(b.Sequence)
	q.table[h] = append(q.table[h], b)
	q.account(b, 1)
	if b.Sequence == q.sequence {
		q.wait.Signal()
	}
}

// SeqGet blocks until the buffer with the expected Sequence number
// arrives and returns it, advancing the expectation by one.
func (q *SeqQueue) SeqGet() *FileBuffer {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		want := q.sequence
		if b := q.take(seqHash(want), func(e *FileBuffer) bool {
			return e.Sequence == want
		}); b != nil {
			q.sequence++
			return b
		}
		q.wait.Wait()
	}
}

// TrySeqGet returns the buffer with the expected Sequence number if it
// has already arrived; it never blocks.
func (q *SeqQueue) TrySeqGet() (*FileBuffer, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	want := q.sequence
	if b := q.take(seqHash(want), func(e *FileBuffer) bool {
		return e.Sequence == want
	}); b != nil {
		q.sequence++
		return b, true
	}
	return nil, false
}

// Pending reports the number of queued fragment and block buffers.
func (q *SeqQueue) Pending() (fragments, blocks int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fragmentCount, q.blockCount
}

// Flush discards every pending entry. The expected-key cursor is kept;
// flushing abandons work, it does not rewind order.
func (q *SeqQueue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.table = make(map[int][]*FileBuffer)
	q.fragmentCount = 0
	q.blockCount = 0
}

func (q *SeqQueue) account(b *FileBuffer, delta int) {
	if b.Kind == KindFragment {
		q.fragmentCount += delta
	} else {
		q.blockCount += delta
	}
}

// take removes and returns the first bucket entry matching the
// predicate, or nil.
func (q *SeqQueue) take(h int, match func(*FileBuffer) bool) *FileBuffer {
	bucket := q.table[h]
	for i, e := range bucket {
		if match(e) {
			bucket[i] = bucket[len(bucket)-1]
			bucket = bucket[:len(bucket)-1]
			if len(bucket) == 0 {
				delete(q.table, h)
			} else {
				q.table[h] = bucket
			}
			q.account(e, -1)
			return e
		}
	}
	return nil
}
