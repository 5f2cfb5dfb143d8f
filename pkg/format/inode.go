package format

import (
	"encoding/binary"
	"math/bits"

	"github.com/pkg/errors"
)

// InodeBaseSize is the encoded size of the common inode header.
const InodeBaseSize = 16

// InodeHeader is the base record shared by every inode type. UID and
// GID are indices into the id table, not raw ids.
type InodeHeader struct {
	Type        uint16
	Mode        uint16
	UID         uint16
	GID         uint16
	Mtime       uint32
	InodeNumber uint32
}

func (h *InodeHeader) marshalInto(b []byte) {
	le := binary.LittleEndian
	le.PutUint16(b[0:], h.Type)
	le.PutUint16(b[2:], h.Mode)
	le.PutUint16(b[4:], h.UID)
	le.PutUint16(b[6:], h.GID)
	le.PutUint32(b[8:], h.Mtime)
	le.PutUint32(b[12:], h.InodeNumber)
}

func unmarshalInodeHeader(b []byte) InodeHeader {
	le := binary.LittleEndian
	return InodeHeader{
		Type:        le.Uint16(b[0:]),
		Mode:        le.Uint16(b[2:]),
		UID:         le.Uint16(b[4:]),
		GID:         le.Uint16(b[6:]),
		Mtime:       le.Uint32(b[8:]),
		InodeNumber: le.Uint32(b[12:]),
	}
}

// Swap byte-swaps every multi-byte field.
func (h *InodeHeader) Swap() InodeHeader {
	return InodeHeader{
		Type:        bits.ReverseBytes16(h.Type),
		Mode:        bits.ReverseBytes16(h.Mode),
		UID:         bits.ReverseBytes16(h.UID),
		GID:         bits.ReverseBytes16(h.GID),
		Mtime:       bits.ReverseBytes32(h.Mtime),
		InodeNumber: bits.ReverseBytes32(h.InodeNumber),
	}
}

// Inode is any decoded inode record.
type Inode interface {
	Header() *InodeHeader
	Marshal() []byte
}

// RegInode is a regular file small enough for the 32-bit layout. The
// block list holds one size field per full data block.
type RegInode struct {
	InodeHeader
	StartBlock uint32
	Fragment   uint32
	Offset     uint32
	FileSize   uint32
	BlockList  []uint32
}

func (i *RegInode) Header() *InodeHeader { return &i.InodeHeader }

func (i *RegInode) Marshal() []byte {
	b := make([]byte, InodeBaseSize+16+4*len(i.BlockList))
	i.marshalInto(b)
	le := binary.LittleEndian
	le.PutUint32(b[16:], i.StartBlock)
	le.PutUint32(b[20:], i.Fragment)
	le.PutUint32(b[24:], i.Offset)
	le.PutUint32(b[28:], i.FileSize)
	for n, v := range i.BlockList {
		le.PutUint32(b[32+4*n:], v)
	}
	return b
}

// LRegInode is the extended regular file layout: 64-bit sizes, sparse
// byte count, link count and xattr index.
type LRegInode struct {
	InodeHeader
	StartBlock int64
	FileSize   int64
	Sparse     int64
	Nlink      uint32
	Fragment   uint32
	Offset     uint32
	Xattr      uint32
	BlockList  []uint32
}

func (i *LRegInode) Header() *InodeHeader { return &i.InodeHeader }

func (i *LRegInode) Marshal() []byte {
	b := make([]byte, InodeBaseSize+40+4*len(i.BlockList))
	i.marshalInto(b)
	le := binary.LittleEndian
	le.PutUint64(b[16:], uint64(i.StartBlock))
	le.PutUint64(b[24:], uint64(i.FileSize))
	le.PutUint64(b[32:], uint64(i.Sparse))
	le.PutUint32(b[40:], i.Nlink)
	le.PutUint32(b[44:], i.Fragment)
	le.PutUint32(b[48:], i.Offset)
	le.PutUint32(b[52:], i.Xattr)
	for n, v := range i.BlockList {
		le.PutUint32(b[56+4*n:], v)
	}
	return b
}

// DirInode is a directory whose listing fits the 16-bit size field.
type DirInode struct {
	InodeHeader
	StartBlock  uint32
	Nlink       uint32
	FileSize    uint16
	Offset      uint16
	ParentInode uint32
}

func (i *DirInode) Header() *InodeHeader { return &i.InodeHeader }

func (i *DirInode) Marshal() []byte {
	b := make([]byte, InodeBaseSize+16)
	i.marshalInto(b)
	le := binary.LittleEndian
	le.PutUint32(b[16:], i.StartBlock)
	le.PutUint32(b[20:], i.Nlink)
	le.PutUint16(b[24:], i.FileSize)
	le.PutUint16(b[26:], i.Offset)
	le.PutUint32(b[28:], i.ParentInode)
	return b
}

// DirIndex is one fast-lookup index entry inside an LDirInode.
type DirIndex struct {
	Index      uint32
	StartBlock uint32
	Name       string
}

// LDirInode is the extended directory layout with index entries.
type LDirInode struct {
	InodeHeader
	Nlink       uint32
	FileSize    uint32
	StartBlock  uint32
	ParentInode uint32
	Offset      uint16
	Xattr       uint32
	Index       []DirIndex
}

func (i *LDirInode) Header() *InodeHeader { return &i.InodeHeader }

func (i *LDirInode) Marshal() []byte {
	size := InodeBaseSize + 24
	for _, ix := range i.Index {
		size += 12 + len(ix.Name)
	}
	b := make([]byte, size)
	i.marshalInto(b)
	le := binary.LittleEndian
	le.PutUint32(b[16:], i.Nlink)
	le.PutUint32(b[20:], i.FileSize)
	le.PutUint32(b[24:], i.StartBlock)
	le.PutUint32(b[28:], i.ParentInode)
	le.PutUint16(b[32:], uint16(len(i.Index)))
	le.PutUint16(b[34:], i.Offset)
	le.PutUint32(b[36:], i.Xattr)
	off := InodeBaseSize + 24
	for _, ix := range i.Index {
		le.PutUint32(b[off:], ix.Index)
		le.PutUint32(b[off+4:], ix.StartBlock)
		le.PutUint32(b[off+8:], uint32(len(ix.Name)-1))
		copy(b[off+12:], ix.Name)
		off += 12 + len(ix.Name)
	}
	return b
}

// SymlinkInode stores the target bytes inline after the header.
type SymlinkInode struct {
	InodeHeader
	Nlink  uint32
	Target []byte
}

func (i *SymlinkInode) Header() *InodeHeader { return &i.InodeHeader }

func (i *SymlinkInode) Marshal() []byte {
	b := make([]byte, InodeBaseSize+8+len(i.Target))
	i.marshalInto(b)
	le := binary.LittleEndian
	le.PutUint32(b[16:], i.Nlink)
	le.PutUint32(b[20:], uint32(len(i.Target)))
	copy(b[24:], i.Target)
	return b
}

// DevInode is a character or block device; Rdev packs major/minor.
type DevInode struct {
	InodeHeader
	Nlink uint32
	Rdev  uint32
}

func (i *DevInode) Header() *InodeHeader { return &i.InodeHeader }

func (i *DevInode) Marshal() []byte {
	b := make([]byte, InodeBaseSize+8)
	i.marshalInto(b)
	le := binary.LittleEndian
	le.PutUint32(b[16:], i.Nlink)
	le.PutUint32(b[20:], i.Rdev)
	return b
}

// IpcInode is a fifo or socket: no payload beyond the link count.
type IpcInode struct {
	InodeHeader
	Nlink uint32
}

func (i *IpcInode) Header() *InodeHeader { return &i.InodeHeader }

func (i *IpcInode) Marshal() []byte {
	b := make([]byte, InodeBaseSize+4)
	i.marshalInto(b)
	binary.LittleEndian.PutUint32(b[16:], i.Nlink)
	return b
}

// MakeRdev packs device major/minor numbers the way the kernel does.
func MakeRdev(major, minor uint32) uint32 {
	return (major << 8) | (minor & 0xff) | ((minor &^ 0xff) << 12)
}

// UnmarshalInode decodes one inode record starting at b[0]. blockSize is
// needed to size regular-file block lists. Trailing bytes are ignored;
// the caller tracks consumed length via the returned inode's Marshal.
func UnmarshalInode(b []byte, blockSize uint32) (Inode, error) {
	if len(b) < InodeBaseSize {
		return nil, errors.Wrap(ErrCorruptTable, "inode header truncated")
	}
	hdr := unmarshalInodeHeader(b)
	le := binary.LittleEndian
	payload := b[InodeBaseSize:]

	need := func(n int) error {
		if len(payload) < n {
			return errors.Wrapf(ErrCorruptTable, "inode type %d truncated", hdr.Type)
		}
		return nil
	}

	switch hdr.Type {
	case TypeFile:
		if err := need(16); err != nil {
			return nil, err
		}
		in := &RegInode{
			InodeHeader: hdr,
			StartBlock:  le.Uint32(payload[0:]),
			Fragment:    le.Uint32(payload[4:]),
			Offset:      le.Uint32(payload[8:]),
			FileSize:    le.Uint32(payload[12:]),
		}
		n := blockCount(int64(in.FileSize), in.Fragment != InvalidFrag, blockSize)
		if err := need(16 + 4*n); err != nil {
			return nil, err
		}
		in.BlockList = unmarshalU32s(payload[16:], n)
		return in, nil

	case TypeLFile:
		if err := need(40); err != nil {
			return nil, err
		}
		in := &LRegInode{
			InodeHeader: hdr,
			StartBlock:  int64(le.Uint64(payload[0:])),
			FileSize:    int64(le.Uint64(payload[8:])),
			Sparse:      int64(le.Uint64(payload[16:])),
			Nlink:       le.Uint32(payload[24:]),
			Fragment:    le.Uint32(payload[28:]),
			Offset:      le.Uint32(payload[32:]),
			Xattr:       le.Uint32(payload[36:]),
		}
		n := blockCount(in.FileSize, in.Fragment != InvalidFrag, blockSize)
		if err := need(40 + 4*n); err != nil {
			return nil, err
		}
		in.BlockList = unmarshalU32s(payload[40:], n)
		return in, nil

	case TypeDir:
		if err := need(16); err != nil {
			return nil, err
		}
		return &DirInode{
			InodeHeader: hdr,
			StartBlock:  le.Uint32(payload[0:]),
			Nlink:       le.Uint32(payload[4:]),
			FileSize:    le.Uint16(payload[8:]),
			Offset:      le.Uint16(payload[10:]),
			ParentInode: le.Uint32(payload[12:]),
		}, nil

	case TypeLDir:
		if err := need(24); err != nil {
			return nil, err
		}
		in := &LDirInode{
			InodeHeader: hdr,
			Nlink:       le.Uint32(payload[0:]),
			FileSize:    le.Uint32(payload[4:]),
			StartBlock:  le.Uint32(payload[8:]),
			ParentInode: le.Uint32(payload[12:]),
			Offset:      le.Uint16(payload[18:]),
			Xattr:       le.Uint32(payload[20:]),
		}
		count := int(le.Uint16(payload[16:]))
		off := 24
		for n := 0; n < count; n++ {
			if err := need(off + 12); err != nil {
				return nil, err
			}
			nameLen := int(le.Uint32(payload[off+8:])) + 1
			if nameLen > NameLenMax {
				return nil, errors.Wrap(ErrCorruptTable, "directory index name too long")
			}
			if err := need(off + 12 + nameLen); err != nil {
				return nil, err
			}
			in.Index = append(in.Index, DirIndex{
				Index:      le.Uint32(payload[off:]),
				StartBlock: le.Uint32(payload[off+4:]),
				Name:       string(payload[off+12 : off+12+nameLen]),
			})
			off += 12 + nameLen
		}
		return in, nil

	case TypeSymlink, TypeLSymlink:
		if err := need(8); err != nil {
			return nil, err
		}
		size := int(le.Uint32(payload[4:]))
		if size > SymlinkMax {
			return nil, errors.Wrap(ErrCorruptTable, "symlink target too long")
		}
		if err := need(8 + size); err != nil {
			return nil, err
		}
		return &SymlinkInode{
			InodeHeader: hdr,
			Nlink:       le.Uint32(payload[0:]),
			Target:      append([]byte(nil), payload[8:8+size]...),
		}, nil

	case TypeBlockDev, TypeCharDev, TypeLBlockDev, TypeLCharDev:
		if err := need(8); err != nil {
			return nil, err
		}
		return &DevInode{
			InodeHeader: hdr,
			Nlink:       le.Uint32(payload[0:]),
			Rdev:        le.Uint32(payload[4:]),
		}, nil

	case TypeFifo, TypeSocket, TypeLFifo, TypeLSocket:
		if err := need(4); err != nil {
			return nil, err
		}
		return &IpcInode{
			InodeHeader: hdr,
			Nlink:       le.Uint32(payload[0:]),
		}, nil
	}
	return nil, errors.Wrapf(ErrCorruptTable, "unknown inode type %d", hdr.Type)
}

// blockCount is the number of block-list entries a regular file of the
// given size carries: full blocks only when a fragment holds the tail,
// otherwise the tail rounds up to one more block.
func blockCount(fileSize int64, hasFragment bool, blockSize uint32) int {
	if blockSize == 0 {
		return 0
	}
	if hasFragment {
		return int(fileSize / int64(blockSize))
	}
	return int((fileSize + int64(blockSize) - 1) / int64(blockSize))
}

func unmarshalU32s(b []byte, n int) []uint32 {
	if n == 0 {
		return nil
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[4*i:])
	}
	return out
}
