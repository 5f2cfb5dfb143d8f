// Package queue implements the inter-thread handoff machinery of the
// build pipeline: the FileBuffer unit of work, a blocking bounded
// circular queue for unordered stage-to-stage transfer, a sequencing
// queue that restores original file order after parallel compression,
// and a per-reader-thread queue merged by an earliest-first rule.
//
// A FileBuffer has exactly one owner at any instant; ownership moves
// through queues and is never shared mutably.
package queue

// Kind tags the payload carried by a FileBuffer. The payload set is
// closed, so queues stay fully typed.
type Kind uint8

const (
	// KindBlock is a data block belonging to a file.
	KindBlock Kind = iota
	// KindFragment is a tail fragment destined for fragment packing.
	KindFragment
	// KindControl is a pipeline control message (end of stream, flush).
	KindControl
)

// NextState tells the sequencing queue how to advance its expected key
// after releasing a buffer.
type NextState uint8

const (
	// NextBlock expects the same file's next block.
	NextBlock NextState = iota
	// NextFile expects the first block of the next file.
	NextFile
	// NextVersion expects a requeued (recompressed) generation of the
	// same file.
	NextVersion
)

// FileBuffer is the unit of work handed between the reader, deflator
// and writer roles. Buffers are allocated from a cache, filled by
// exactly one reader thread, compressed by one deflator thread and
// drained by the writer, then returned to the cache.
type FileBuffer struct {
	Kind Kind

	// Index is the logical block or fragment slot the buffer targets;
	// it is also the cache key.
	Index int64
	// Sequence is the monotonic global ordering key.
	Sequence int64
	// FileCount is the ordinal of the owning file in discovery order.
	FileCount int64
	// Block is the ordinal of this block within its file.
	Block int64
	// Version counts requeue generations of the same block.
	Version uint16

	// FileSize is the owning file's total size.
	FileSize int64
	// Size is the number of valid payload bytes in Data.
	Size int
	// CSize is the stored (compressed) size once a deflator ran.
	CSize int
	// Checksum is the rolling checksum of the payload.
	Checksum uint16
	// HaveChecksum records whether Checksum has been computed.
	HaveChecksum bool

	// Thread is the reader thread that produced the buffer.
	Thread int
	// Next is the sequencing transition applied when the writer takes
	// this buffer.
	Next NextState

	// Sparse marks an all-zero payload stored as a hole.
	Sparse bool
	// Duplicate marks a buffer resolved to an already-stored fragment.
	Duplicate bool
	// Locked marks a buffer pinned by the fragment writer.
	Locked bool
	// Err carries a per-block failure to the writer, which aborts the
	// build (codec errors invalidate the whole image).
	Err error

	// Used is cache bookkeeping: true while the buffer has an owner.
	Used bool

	Data []byte
}

// NewFileBuffer returns a buffer with a payload of the given capacity.
func NewFileBuffer(size int) *FileBuffer {
	return &FileBuffer{Data: make([]byte, size)}
}

// Payload is the valid prefix of Data.
func (b *FileBuffer) Payload() []byte { return b.Data[:b.Size] }

// Reset clears per-use state so a recycled buffer starts clean; the
// payload slice is kept.
func (b *FileBuffer) Reset() {
	data := b.Data
	*b = FileBuffer{Data: data}
}

// Earlier reports whether b should be consumed before other under the
// global read ordering: file discovery order first, then requeue
// generation, then block order.
func (b *FileBuffer) Earlier(other *FileBuffer) bool {
	if b.FileCount != other.FileCount {
		return b.FileCount < other.FileCount
	}
	if b.Version != other.Version {
		return b.Version < other.Version
	}
	return b.Block < other.Block
}
