package fragment

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"

	"github.com/squashkit/squashkit/pkg/cache"
	"github.com/squashkit/squashkit/pkg/compress"
	"github.com/squashkit/squashkit/pkg/format"
	"github.com/squashkit/squashkit/pkg/queue"
)

// NoFragment marks a descriptor without a fragment assignment; it maps
// to the inode's invalid-fragment sentinel when encoded.
const NoFragment int64 = -1

// Config carries the knobs the processor needs from the build session.
type Config struct {
	BlockSize   int
	SparseFiles bool
	Duplicates  bool
}

// Processor assembles fragment blocks from file tails and resolves
// duplicates before anything is stored twice.
//
// Payload retrieval for duplicate comparison is tiered: the block
// still being assembled, the raw fragment cache (sealed blocks pinned
// until their deflator finishes), the reserve cache (decompressed
// blocks kept from earlier probes), the write cache (compressed blocks
// still in flight to the writer), and finally the partially built
// image file itself. The image is authoritative; every cache must
// agree with a fresh on-disk read.
type Processor struct {
	// mu guards the packing state. The entry table has its own lock so
	// the writer can record locations while a packer is blocked waiting
	// for a cache buffer.
	mu sync.Mutex

	cfg   Config
	codec compress.Compressor
	log   *logrus.Entry

	// current is the fragment block being filled; nil between blocks.
	current *queue.FileBuffer
	// count numbers fragment blocks in creation order.
	count int64

	emu     sync.Mutex
	entries []format.FragmentEntry

	frags        *cache.BlockCache
	writeCache   *cache.BlockCache
	reserveCache *cache.BlockCache

	table *DupTable

	image  io.ReaderAt
	submit func(*queue.FileBuffer)
}

// NewProcessor wires a fragment processor to the session's caches, the
// image file being built and a submit hook that hands a completed
// fragment block to the fragment deflators.
func NewProcessor(cfg Config, codec compress.Compressor, frags, writeCache, reserveCache *cache.BlockCache,
	image io.ReaderAt, submit func(*queue.FileBuffer), log *logrus.Entry) *Processor {
	return &Processor{
		cfg:          cfg,
		codec:        codec,
		log:          log,
		frags:        frags,
		writeCache:   writeCache,
		reserveCache: reserveCache,
		table:        NewDupTable(),
		image:        image,
		submit:       submit,
	}
}

// Process handles one finished file tail. It computes the rolling
// checksum and sparse state in one pass, stores sparse tails as holes
// when enabled, resolves duplicates against earlier fragments, and
// otherwise attaches the tail to the current fragment block. The
// returned descriptor has Index == NoFragment for sparse tails.
func (p *Processor) Process(tail []byte) (Descriptor, bool, error) {
	checksum, sparse := ChecksumSparse(tail)
	if p.cfg.SparseFiles && sparse {
		return Descriptor{Index: NoFragment, Size: len(tail)}, false, nil
	}
	if p.cfg.Duplicates {
		if match, ok := p.table.Match(tail, checksum, p.Retrieve); ok {
			return match, true, nil
		}
	}
	desc, err := p.attach(tail)
	if err != nil {
		return Descriptor{}, false, err
	}
	if p.cfg.Duplicates {
		p.table.Add(desc, checksum, blake3.Sum256(tail))
	}
	return desc, false, nil
}

// attach copies tail into the current fragment block, flushing first
// when it does not fit.
func (p *Processor) attach(tail []byte) (Descriptor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(tail) >= p.cfg.BlockSize {
		return Descriptor{}, errors.Errorf("fragment of %d bytes does not fit a %d byte block", len(tail), p.cfg.BlockSize)
	}
	if p.current != nil && p.current.Size+len(tail) > p.cfg.BlockSize {
		p.flushLocked()
	}
	if p.current == nil {
		p.current = p.frags.Get(p.count)
		p.current.Kind = queue.KindFragment
		p.current.Sequence = p.count
		p.current.Size = 0
		p.emu.Lock()
		p.entries = append(p.entries, format.FragmentEntry{StartBlock: format.InvalidBlk})
		p.emu.Unlock()
	}
	desc := Descriptor{Index: p.count, Offset: p.current.Size, Size: len(tail)}
	copy(p.current.Data[p.current.Size:], tail)
	p.current.Size += len(tail)
	return desc, nil
}

// Flush submits a partially filled fragment block. Called at end of
// build and when the dedup path needs the current block durable.
func (p *Processor) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushLocked()
}

func (p *Processor) flushLocked() {
	if p.current == nil {
		return
	}
	b := p.current
	p.current = nil
	p.count++
	p.frags.Lock(b)
	if p.log != nil {
		p.log.WithFields(logrus.Fields{"fragment": b.Index, "bytes": b.Size}).Debug("fragment block sealed")
	}
	p.submit(b)
}

// SetEntry records the on-disk location of a written fragment block.
// The writer calls this once per block; afterwards the block is
// reachable through the authoritative tier.
func (p *Processor) SetEntry(index int64, entry format.FragmentEntry) {
	p.emu.Lock()
	defer p.emu.Unlock()
	p.entries[index] = entry
}

// Entries returns the fragment table in block order.
func (p *Processor) Entries() []format.FragmentEntry {
	p.emu.Lock()
	defer p.emu.Unlock()
	out := make([]format.FragmentEntry, len(p.entries))
	copy(out, p.entries)
	return out
}

// Count reports the number of sealed fragment blocks plus the one in
// progress, if any.
func (p *Processor) Count() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.count
	if p.current != nil {
		n++
	}
	return n
}

// Retrieve returns the stored bytes a descriptor points at, for
// duplicate comparison.
func (p *Processor) Retrieve(desc Descriptor) ([]byte, error) {
	block, err := p.fragmentBlock(desc.Index)
	if err != nil {
		return nil, err
	}
	if desc.Offset+desc.Size > len(block) {
		return nil, errors.Errorf("fragment %d: range %d+%d exceeds block of %d bytes",
			desc.Index, desc.Offset, desc.Size, len(block))
	}
	return block[desc.Offset : desc.Offset+desc.Size], nil
}

// fragmentBlock returns the decompressed fragment block for index via
// the tiered lookup.
func (p *Processor) fragmentBlock(index int64) ([]byte, error) {
	p.mu.Lock()
	// The block still being assembled is its own first tier.
	if p.current != nil && p.current.Index == index {
		out := make([]byte, p.current.Size)
		copy(out, p.current.Payload())
		p.mu.Unlock()
		return out, nil
	}
	p.mu.Unlock()

	p.emu.Lock()
	entry := format.FragmentEntry{StartBlock: format.InvalidBlk}
	if int(index) < len(p.entries) {
		entry = p.entries[index]
	}
	p.emu.Unlock()

	// Sealed blocks stay pinned in the raw fragment cache until the
	// deflator is done with them, so the uncompressed bytes are usually
	// still resident. Snapshot copies under the cache mutex and refuses
	// buffers whose owner may still be writing.
	if b := p.frags.Snapshot(index); b != nil && b.Err == nil {
		return b.Payload(), nil
	}
	if b := p.reserveCache.Snapshot(index); b != nil && b.Err == nil {
		return b.Payload(), nil
	}
	if b := p.writeCache.Snapshot(index); b != nil && b.Err == nil {
		// In-flight blocks carry the stored bytes; CSize < Size means
		// the deflator compressed them.
		stored := b.Data[:b.CSize]
		if b.CSize < b.Size {
			return p.codec.Decompress(stored, b.Size)
		}
		return stored, nil
	}
	if entry.StartBlock == format.InvalidBlk {
		return nil, errors.Errorf("fragment block %d is not yet addressable", index)
	}
	stored := make([]byte, entry.StoredSize())
	if _, err := p.image.ReadAt(stored, entry.StartBlock); err != nil {
		return nil, errors.Wrapf(err, "fragment block %d at offset %d", index, entry.StartBlock)
	}
	var out []byte
	if entry.Compressed() {
		dec, err := compress.DecompressBounded(p.codec, stored, p.cfg.BlockSize)
		if err != nil {
			return nil, errors.Wrapf(err, "fragment block %d", index)
		}
		out = dec
	} else {
		out = stored
	}
	// Keep the decompressed block around for the next probe.
	rb := p.reserveCache.Get(index)
	rb.Size = copy(rb.Data, out)
	p.reserveCache.Put(rb)
	return out, nil
}
