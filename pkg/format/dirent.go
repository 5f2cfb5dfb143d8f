package format

import (
	"encoding/binary"
	"math/bits"

	"github.com/pkg/errors"
)

// DirHeaderSize is the encoded size of a directory run header.
const DirHeaderSize = 12

// DirHeader introduces a run of directory entries that share a metadata
// block start and a base inode number. Count is stored as count-1.
type DirHeader struct {
	Count       uint32
	StartBlock  uint32
	InodeNumber uint32
}

// Marshal encodes the header little-endian.
func (h *DirHeader) Marshal() []byte {
	b := make([]byte, DirHeaderSize)
	le := binary.LittleEndian
	le.PutUint32(b[0:], h.Count-1)
	le.PutUint32(b[4:], h.StartBlock)
	le.PutUint32(b[8:], h.InodeNumber)
	return b
}

// UnmarshalDirHeader decodes a directory run header.
func UnmarshalDirHeader(b []byte) (DirHeader, error) {
	if len(b) < DirHeaderSize {
		return DirHeader{}, errors.Wrap(ErrCorruptTable, "directory header truncated")
	}
	le := binary.LittleEndian
	h := DirHeader{
		Count:       le.Uint32(b[0:]) + 1,
		StartBlock:  le.Uint32(b[4:]),
		InodeNumber: le.Uint32(b[8:]),
	}
	if h.Count > DirCountMax {
		return DirHeader{}, errors.Wrapf(ErrCorruptTable, "directory run of %d entries", h.Count)
	}
	return h, nil
}

// Swap byte-swaps every multi-byte field.
func (h *DirHeader) Swap() DirHeader {
	return DirHeader{
		Count:       bits.ReverseBytes32(h.Count),
		StartBlock:  bits.ReverseBytes32(h.StartBlock),
		InodeNumber: bits.ReverseBytes32(h.InodeNumber),
	}
}

// DirEntry is one name in a directory run. Offset points into the
// decompressed inode metadata block; InodeDelta is relative to the run
// header's base inode number; the name length is stored as len-1.
type DirEntry struct {
	Offset     uint16
	InodeDelta int16
	Type       uint16
	Name       string
}

// EncodedSize is the on-disk size of the entry.
func (e *DirEntry) EncodedSize() int { return 8 + len(e.Name) }

// Marshal encodes the entry little-endian.
func (e *DirEntry) Marshal() []byte {
	b := make([]byte, e.EncodedSize())
	le := binary.LittleEndian
	le.PutUint16(b[0:], e.Offset)
	le.PutUint16(b[2:], uint16(e.InodeDelta))
	le.PutUint16(b[4:], e.Type)
	le.PutUint16(b[6:], uint16(len(e.Name)-1))
	copy(b[8:], e.Name)
	return b
}

// UnmarshalDirEntry decodes one entry and returns it with its encoded
// size so the caller can advance.
func UnmarshalDirEntry(b []byte) (DirEntry, int, error) {
	if len(b) < 8 {
		return DirEntry{}, 0, errors.Wrap(ErrCorruptTable, "directory entry truncated")
	}
	le := binary.LittleEndian
	nameLen := int(le.Uint16(b[6:])) + 1
	if nameLen > NameLenMax {
		return DirEntry{}, 0, errors.Wrapf(ErrCorruptTable, "entry name of %d bytes", nameLen)
	}
	if len(b) < 8+nameLen {
		return DirEntry{}, 0, errors.Wrap(ErrCorruptTable, "directory entry name truncated")
	}
	return DirEntry{
		Offset:     le.Uint16(b[0:]),
		InodeDelta: int16(le.Uint16(b[2:])),
		Type:       le.Uint16(b[4:]),
		Name:       string(b[8 : 8+nameLen]),
	}, 8 + nameLen, nil
}
