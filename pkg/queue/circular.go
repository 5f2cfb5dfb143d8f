package queue

import "sync"

// BoundedQueue is a blocking FIFO of fixed capacity used for unordered
// stage-to-stage handoff, e.g. raw read buffers feeding interchangeable
// deflator threads. A queue of capacity N uses N+1 physical slots so
// the read/write index pair distinguishes empty from full without a
// counter.
type BoundedQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	slots    []*FileBuffer
	readPos  int
	writePos int
}

// NewBoundedQueue returns a queue holding at most size buffers.
func NewBoundedQueue(size int) *BoundedQueue {
	q := &BoundedQueue{slots: make([]*FileBuffer, size+1)}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Put appends a buffer, blocking while the queue is full.
func (q *BoundedQueue) Put(b *FileBuffer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for (q.writePos+1)%len(q.slots) == q.readPos {
		q.notFull.Wait()
	}
	q.slots[q.writePos] = b
	q.writePos = (q.writePos + 1) % len(q.slots)
	q.notEmpty.Signal()
}

// Get removes the oldest buffer, blocking while the queue is empty.
func (q *BoundedQueue) Get() *FileBuffer {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.readPos == q.writePos {
		q.notEmpty.Wait()
	}
	b := q.slots[q.readPos]
	q.slots[q.readPos] = nil
	q.readPos = (q.readPos + 1) % len(q.slots)
	q.notFull.Signal()
	return b
}

// Empty reports whether no buffers are pending.
func (q *BoundedQueue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.readPos == q.writePos
}

// Flush discards all pending buffers by advancing the read index to the
// write index and wakes blocked producers.
func (q *BoundedQueue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.readPos != q.writePos {
		q.slots[q.readPos] = nil
		q.readPos = (q.readPos + 1) % len(q.slots)
	}
	q.notFull.Broadcast()
}
