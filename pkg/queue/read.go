package queue

import "sync"

// readRing is one reader thread's private bounded ring (N+1 slots).
type readRing struct {
	slots    []*FileBuffer
	readPos  int
	writePos int
	notFull  *sync.Cond
}

func (r *readRing) full() bool  { return (r.writePos+1)%len(r.slots) == r.readPos }
func (r *readRing) empty() bool { return r.readPos == r.writePos }

// ReadQueue decouples N independent reader threads from a single
// consumer. Each reader owns a private bounded ring; the consumer takes
// the globally earliest head across all rings (FileBuffer.Earlier), so
// parallel readers cannot starve original file order.
type ReadQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	rings    []*readRing
	count    int
}

// NewReadQueue returns a queue with one ring of the given capacity per
// reader thread.
func NewReadQueue(threads, size int) *ReadQueue {
	q := &ReadQueue{rings: make([]*readRing, threads)}
	q.notEmpty = sync.NewCond(&q.mu)
	for i := range q.rings {
		q.rings[i] = &readRing{slots: make([]*FileBuffer, size+1)}
		q.rings[i].notFull = sync.NewCond(&q.mu)
	}
	return q
}

// Threads reports the number of reader rings.
func (q *ReadQueue) Threads() int { return len(q.rings) }

// Put enqueues a buffer into reader thread id's ring, blocking while
// that ring is full.
func (q *ReadQueue) Put(id int, b *FileBuffer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r := q.rings[id]
	for r.full() {
		r.notFull.Wait()
	}
	r.slots[r.writePos] = b
	r.writePos = (r.writePos + 1) % len(r.slots)
	q.count++
	q.notEmpty.Signal()
}

// Get blocks until any ring is non-empty, then dequeues the earliest
// head across all rings and wakes that ring's producer if it was
// blocked on full.
func (q *ReadQueue) Get() *FileBuffer {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		var (
			best     *FileBuffer
			bestRing *readRing
		)
		for _, r := range q.rings {
			if r.empty() {
				continue
			}
			head := r.slots[r.readPos]
			if best == nil || head.Earlier(best) {
				best = head
				bestRing = r
			}
		}
		if best == nil {
			q.notEmpty.Wait()
			continue
		}
		bestRing.slots[bestRing.readPos] = nil
		bestRing.readPos = (bestRing.readPos + 1) % len(bestRing.slots)
		q.count--
		bestRing.notFull.Signal()
		return best
	}
}

// Empty reports whether every ring is drained.
func (q *ReadQueue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count == 0
}

// Flush discards all pending buffers in every ring and wakes blocked
// producers.
func (q *ReadQueue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, r := range q.rings {
		for !r.empty() {
			r.slots[r.readPos] = nil
			r.readPos = (r.readPos + 1) % len(r.slots)
			q.count--
		}
		r.notFull.Broadcast()
	}
}
