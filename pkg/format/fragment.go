package format

import (
	"encoding/binary"
	"math/bits"

	"github.com/pkg/errors"
)

// FragmentEntrySize is the encoded size of one fragment table entry.
const FragmentEntrySize = 16

// FragmentEntry locates one fragment block in the image. The top bit of
// Size marks a block stored uncompressed.
type FragmentEntry struct {
	StartBlock int64
	Size       uint32
	Unused     uint32
}

// StoredSize is the byte count of the fragment block as stored.
func (f *FragmentEntry) StoredSize() uint32 { return BlockSize(f.Size) }

// Compressed reports whether the fragment block is compressed.
func (f *FragmentEntry) Compressed() bool { return BlockCompressed(f.Size) }

// Marshal encodes the entry little-endian.
func (f *FragmentEntry) Marshal() []byte {
	b := make([]byte, FragmentEntrySize)
	le := binary.LittleEndian
	le.PutUint64(b[0:], uint64(f.StartBlock))
	le.PutUint32(b[8:], f.Size)
	le.PutUint32(b[12:], f.Unused)
	return b
}

// UnmarshalFragmentEntry decodes a little-endian fragment table entry.
func UnmarshalFragmentEntry(b []byte) (FragmentEntry, error) {
	if len(b) < FragmentEntrySize {
		return FragmentEntry{}, errors.Wrap(ErrCorruptTable, "fragment entry truncated")
	}
	le := binary.LittleEndian
	return FragmentEntry{
		StartBlock: int64(le.Uint64(b[0:])),
		Size:       le.Uint32(b[8:]),
		Unused:     le.Uint32(b[12:]),
	}, nil
}

// Swap byte-swaps every multi-byte field.
func (f *FragmentEntry) Swap() FragmentEntry {
	return FragmentEntry{
		StartBlock: int64(bits.ReverseBytes64(uint64(f.StartBlock))),
		Size:       bits.ReverseBytes32(f.Size),
		Unused:     bits.ReverseBytes32(f.Unused),
	}
}
