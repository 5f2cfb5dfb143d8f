// Package threads implements admission control for the deflator worker
// pool. Fragment deflators always run; block deflators throttle
// themselves whenever the combined active count would exceed the
// processor-derived budget, so fragment work is never starved by bulk
// block compression.
package threads

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Kind classifies a worker slot.
type Kind int

const (
	// BlockDeflator compresses data blocks.
	BlockDeflator Kind = iota
	// FragmentDeflator compresses packed fragment blocks.
	FragmentDeflator
)

func (k Kind) String() string {
	if k == FragmentDeflator {
		return "fragment deflator"
	}
	return "block deflator"
}

// Slot is a diagnostic snapshot of one worker slot.
type Slot struct {
	ID     int
	Kind   Kind
	Active bool
}

// Coordinator tracks active deflator threads against a budget of
// roughly 1.25 threads per processor.
type Coordinator struct {
	mu   sync.Mutex
	idle *sync.Cond

	budget int
	slots  []Slot

	activeBlocks int
	activeFrags  int
}

// Budget derives the in-flight thread ceiling from the processor
// count.
func Budget(processors int) int { return processors + processors/4 }

// NewCoordinator returns a coordinator budgeted for the given number
// of processors.
func NewCoordinator(processors int) *Coordinator {
	c := &Coordinator{budget: Budget(processors)}
	c.idle = sync.NewCond(&c.mu)
	return c
}

// GetThreadID allocates a worker slot of the given kind, counts it
// active and returns its id.
func (c *Coordinator) GetThreadID(kind Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := len(c.slots)
	c.slots = append(c.slots, Slot{ID: id, Kind: kind, Active: true})
	c.add(kind, 1)
	return id
}

// WaitIdle is the throttle point. While the combined active count
// exceeds the budget, the calling block deflator marks itself idle and
// blocks; it re-activates before returning. Fragment deflators are
// never throttled.
func (c *Coordinator) WaitIdle(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &c.slots[id]
	if s.Kind == FragmentDeflator {
		return
	}
	for {
		if s.Active {
			if c.activeBlocks+c.activeFrags <= c.budget {
				return
			}
			s.Active = false
			c.add(s.Kind, -1)
			c.idle.Broadcast()
		} else if c.activeBlocks+c.activeFrags < c.budget {
			// Re-activating must not push the count back over budget.
			s.Active = true
			c.add(s.Kind, 1)
			return
		}
		c.idle.Wait()
	}
}

// SetIdle marks a finished worker idle and wakes throttled threads.
func (c *Coordinator) SetIdle(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &c.slots[id]
	if s.Active {
		s.Active = false
		c.add(s.Kind, -1)
	}
	c.idle.Broadcast()
}

// SetActive re-activates a slot that went idle via SetIdle, e.g. a
// fragment deflator picking up another block.
func (c *Coordinator) SetActive(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &c.slots[id]
	if !s.Active {
		s.Active = true
		c.add(s.Kind, 1)
	}
}

// Active reports the combined active thread count.
func (c *Coordinator) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeBlocks + c.activeFrags
}

// Snapshot returns a copy of every slot's state for stall diagnosis.
// It never mutates coordinator state.
func (c *Coordinator) Snapshot() []Slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Slot, len(c.slots))
	copy(out, c.slots)
	return out
}

// Dump logs the slot table, one line per slot.
func (c *Coordinator) Dump(log *logrus.Entry) {
	for _, s := range c.Snapshot() {
		log.WithFields(logrus.Fields{
			"thread": s.ID,
			"kind":   s.Kind.String(),
			"active": s.Active,
		}).Info("deflator slot")
	}
}

func (c *Coordinator) add(kind Kind, delta int) {
	if kind == FragmentDeflator {
		c.activeFrags += delta
	} else {
		c.activeBlocks += delta
	}
}
