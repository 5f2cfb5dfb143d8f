package fragment

import (
	"bytes"
	"sync"

	"github.com/zeebo/blake3"
)

// Descriptor locates a fragment: which fragment block it lives in and
// where within the decompressed block.
type Descriptor struct {
	Index  int64
	Offset int
	Size   int
}

// dupEntry is one candidate in a duplicate chain. The checksum and
// content digest are filled in lazily for entries added without their
// payload in hand; such an entry is hashed on first probe.
type dupEntry struct {
	frag     Descriptor
	checksum uint16
	digest   [32]byte
	have     bool
	next     int32
}

const dupNil = int32(-1)

// DupTable indexes stored fragments by file size for duplicate
// detection. Entries live in a flat arena linked by integer indices;
// chains only ever grow for the lifetime of a build. One mutex guards
// lookup and append so insertion is atomic with respect to concurrent
// probes.
type DupTable struct {
	mu      sync.Mutex
	arena   []dupEntry
	buckets map[int64]int32
}

// NewDupTable returns an empty duplicate table.
func NewDupTable() *DupTable {
	return &DupTable{buckets: make(map[int64]int32)}
}

// Add records a stored fragment under its size, with the rolling
// checksum and content digest of the payload the caller just stored.
func (t *DupTable) Add(frag Descriptor, checksum uint16, digest [32]byte) {
	t.add(dupEntry{frag: frag, checksum: checksum, digest: digest, have: true})
}

// AddLazy records a stored fragment whose payload is not in hand; it is
// hashed on its first probe.
func (t *DupTable) AddLazy(frag Descriptor) {
	t.add(dupEntry{frag: frag})
}

func (t *DupTable) add(e dupEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := int32(len(t.arena))
	head, ok := t.buckets[int64(e.frag.Size)]
	if !ok {
		head = dupNil
	}
	e.next = head
	t.arena = append(t.arena, e)
	t.buckets[int64(e.frag.Size)] = idx
}

// Match walks the chain for the probe's size. The rolling checksum and
// the content digest are prefilters; entries whose digest is already
// known are rejected without re-reading their payload. payload
// retrieves a stored candidate's content; a retrieval error skips the
// candidate rather than failing the probe, since a miss only costs a
// duplicate store. The byte comparison is mandatory: no hash match
// alone ever accepts a duplicate.
func (t *DupTable) Match(data []byte, checksum uint16, payload func(Descriptor) ([]byte, error)) (Descriptor, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	head, ok := t.buckets[int64(len(data))]
	if !ok {
		return Descriptor{}, false
	}
	var digest [32]byte
	haveDigest := false
	for i := head; i != dupNil; i = t.arena[i].next {
		e := &t.arena[i]
		if e.have {
			if e.checksum != checksum {
				continue
			}
			if !haveDigest {
				digest = blake3.Sum256(data)
				haveDigest = true
			}
			if e.digest != digest {
				continue
			}
			stored, err := payload(e.frag)
			if err != nil {
				continue
			}
			if bytes.Equal(stored, data) {
				return e.frag, true
			}
			continue
		}
		stored, err := payload(e.frag)
		if err != nil {
			continue
		}
		e.checksum = Checksum(stored)
		e.digest = blake3.Sum256(stored)
		e.have = true
		if e.checksum == checksum && bytes.Equal(stored, data) {
			return e.frag, true
		}
	}
	return Descriptor{}, false
}

// Len reports the number of recorded fragments.
func (t *DupTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.arena)
}
