package format

import (
	"encoding/binary"
	"math/bits"

	"github.com/pkg/errors"
)

// XattrIDEntrySize is the encoded size of one xattr id table entry.
const XattrIDEntrySize = 16

// XattrIDEntry maps an inode's xattr index to its attribute list: a
// packed metadata reference to the first attribute, the attribute
// count, and the total encoded size of the list.
type XattrIDEntry struct {
	Xattr uint64
	Count uint32
	Size  uint32
}

// Marshal encodes the entry little-endian.
func (x *XattrIDEntry) Marshal() []byte {
	b := make([]byte, XattrIDEntrySize)
	le := binary.LittleEndian
	le.PutUint64(b[0:], x.Xattr)
	le.PutUint32(b[8:], x.Count)
	le.PutUint32(b[12:], x.Size)
	return b
}

// UnmarshalXattrIDEntry decodes a little-endian xattr id table entry.
func UnmarshalXattrIDEntry(b []byte) (XattrIDEntry, error) {
	if len(b) < XattrIDEntrySize {
		return XattrIDEntry{}, errors.Wrap(ErrCorruptTable, "xattr id entry truncated")
	}
	le := binary.LittleEndian
	return XattrIDEntry{
		Xattr: le.Uint64(b[0:]),
		Count: le.Uint32(b[8:]),
		Size:  le.Uint32(b[12:]),
	}, nil
}

// Swap byte-swaps every multi-byte field.
func (x *XattrIDEntry) Swap() XattrIDEntry {
	return XattrIDEntry{
		Xattr: bits.ReverseBytes64(x.Xattr),
		Count: bits.ReverseBytes32(x.Count),
		Size:  bits.ReverseBytes32(x.Size),
	}
}
