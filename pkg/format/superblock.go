package format

import (
	"encoding/binary"
	"math/bits"

	"github.com/pkg/errors"
)

// SuperBlockSize is the encoded size of the superblock at offset 0.
const SuperBlockSize = 96

// SuperBlock is the in-memory superblock. On disk every field is
// little-endian; Unmarshal/Marshal convert explicitly so the struct is
// host-order everywhere else.
type SuperBlock struct {
	Magic           uint32
	Inodes          uint32
	MkfsTime        uint32
	BlockSize       uint32
	Fragments       uint32
	Compression     uint16
	BlockLog        uint16
	Flags           Flags
	NoIDs           uint16
	Major           uint16
	Minor           uint16
	RootInode       int64
	BytesUsed       int64
	IDTableStart    int64
	XattrIDStart    int64
	InodeTableStart int64
	DirTableStart   int64
	FragTableStart  int64
	LookupStart     int64
}

// NewSuperBlock returns a superblock preset for a build: current
// version, given block size, optional tables marked invalid.
func NewSuperBlock(blockSize uint32, compression uint16) *SuperBlock {
	return &SuperBlock{
		Magic:        Magic,
		BlockSize:    blockSize,
		BlockLog:     uint16(bits.TrailingZeros32(blockSize)),
		Compression:  compression,
		Major:        MajorVersion,
		Minor:        MinorVersion,
		RootInode:    InvalidBlk,
		XattrIDStart: InvalidTable,
		LookupStart:  InvalidTable,
	}
}

// Marshal encodes the superblock little-endian.
func (sb *SuperBlock) Marshal() []byte {
	b := make([]byte, SuperBlockSize)
	le := binary.LittleEndian
	le.PutUint32(b[0:], sb.Magic)
	le.PutUint32(b[4:], sb.Inodes)
	le.PutUint32(b[8:], sb.MkfsTime)
	le.PutUint32(b[12:], sb.BlockSize)
	le.PutUint32(b[16:], sb.Fragments)
	le.PutUint16(b[20:], sb.Compression)
	le.PutUint16(b[22:], sb.BlockLog)
	le.PutUint16(b[24:], uint16(sb.Flags))
	le.PutUint16(b[26:], sb.NoIDs)
	le.PutUint16(b[28:], sb.Major)
	le.PutUint16(b[30:], sb.Minor)
	le.PutUint64(b[32:], uint64(sb.RootInode))
	le.PutUint64(b[40:], uint64(sb.BytesUsed))
	le.PutUint64(b[48:], uint64(sb.IDTableStart))
	le.PutUint64(b[56:], uint64(sb.XattrIDStart))
	le.PutUint64(b[64:], uint64(sb.InodeTableStart))
	le.PutUint64(b[72:], uint64(sb.DirTableStart))
	le.PutUint64(b[80:], uint64(sb.FragTableStart))
	le.PutUint64(b[88:], uint64(sb.LookupStart))
	return b
}

// UnmarshalSuperBlock decodes a little-endian superblock. It does not
// validate; see Validate.
func UnmarshalSuperBlock(b []byte) (*SuperBlock, error) {
	if len(b) < SuperBlockSize {
		return nil, errors.Wrapf(ErrCorruptTable, "superblock truncated to %d bytes", len(b))
	}
	le := binary.LittleEndian
	sb := &SuperBlock{
		Magic:           le.Uint32(b[0:]),
		Inodes:          le.Uint32(b[4:]),
		MkfsTime:        le.Uint32(b[8:]),
		BlockSize:       le.Uint32(b[12:]),
		Fragments:       le.Uint32(b[16:]),
		Compression:     le.Uint16(b[20:]),
		BlockLog:        le.Uint16(b[22:]),
		Flags:           Flags(le.Uint16(b[24:])),
		NoIDs:           le.Uint16(b[26:]),
		Major:           le.Uint16(b[28:]),
		Minor:           le.Uint16(b[30:]),
		RootInode:       int64(le.Uint64(b[32:])),
		BytesUsed:       int64(le.Uint64(b[40:])),
		IDTableStart:    int64(le.Uint64(b[48:])),
		XattrIDStart:    int64(le.Uint64(b[56:])),
		InodeTableStart: int64(le.Uint64(b[64:])),
		DirTableStart:   int64(le.Uint64(b[72:])),
		FragTableStart:  int64(le.Uint64(b[80:])),
		LookupStart:     int64(le.Uint64(b[88:])),
	}
	return sb, nil
}

// Swap byte-swaps every multi-byte field and returns the result. Double
// swap is the identity. Used when the magic declares a foreign-endian
// image and the caller asked for swap-on-read.
func (sb *SuperBlock) Swap() *SuperBlock {
	out := *sb
	out.Magic = bits.ReverseBytes32(sb.Magic)
	out.Inodes = bits.ReverseBytes32(sb.Inodes)
	out.MkfsTime = bits.ReverseBytes32(sb.MkfsTime)
	out.BlockSize = bits.ReverseBytes32(sb.BlockSize)
	out.Fragments = bits.ReverseBytes32(sb.Fragments)
	out.Compression = bits.ReverseBytes16(sb.Compression)
	out.BlockLog = bits.ReverseBytes16(sb.BlockLog)
	out.Flags = Flags(bits.ReverseBytes16(uint16(sb.Flags)))
	out.NoIDs = bits.ReverseBytes16(sb.NoIDs)
	out.Major = bits.ReverseBytes16(sb.Major)
	out.Minor = bits.ReverseBytes16(sb.Minor)
	out.RootInode = int64(bits.ReverseBytes64(uint64(sb.RootInode)))
	out.BytesUsed = int64(bits.ReverseBytes64(uint64(sb.BytesUsed)))
	out.IDTableStart = int64(bits.ReverseBytes64(uint64(sb.IDTableStart)))
	out.XattrIDStart = int64(bits.ReverseBytes64(uint64(sb.XattrIDStart)))
	out.InodeTableStart = int64(bits.ReverseBytes64(uint64(sb.InodeTableStart)))
	out.DirTableStart = int64(bits.ReverseBytes64(uint64(sb.DirTableStart)))
	out.FragTableStart = int64(bits.ReverseBytes64(uint64(sb.FragTableStart)))
	out.LookupStart = int64(bits.ReverseBytes64(uint64(sb.LookupStart)))
	return &out
}

// SwapInPlace byte-swaps every multi-byte field in place.
func (sb *SuperBlock) SwapInPlace() { *sb = *sb.Swap() }

// Validate checks magic, version, block size and table layout. allowSwap
// requests swap-on-read: a swapped magic swaps the whole superblock
// instead of failing with ErrBigEndian.
func (sb *SuperBlock) Validate(allowSwap bool) error {
	switch sb.Magic {
	case Magic:
	case MagicSwap:
		if !allowSwap {
			return ErrBigEndian
		}
		sb.SwapInPlace()
	default:
		return errors.Wrapf(ErrInvalidMagic, "got 0x%08x", sb.Magic)
	}
	if sb.Major != MajorVersion || sb.Minor > MinorVersion {
		return &UnsupportedVersionError{Major: sb.Major, Minor: sb.Minor}
	}
	if sb.BlockSize < BlockSizeMin || sb.BlockSize > BlockSizeMax ||
		sb.BlockSize&(sb.BlockSize-1) != 0 {
		return errors.Wrapf(ErrInvalidBlockSize, "block_size %d", sb.BlockSize)
	}
	if uint32(1)<<sb.BlockLog != sb.BlockSize {
		return errors.Wrapf(ErrInvalidBlockSize,
			"block_log %d disagrees with block_size %d", sb.BlockLog, sb.BlockSize)
	}
	return sb.validateTables()
}

// tableRegion is a named table start used for bounds and overlap checks.
type tableRegion struct {
	name     string
	start    int64
	optional bool
}

func (sb *SuperBlock) validateTables() error {
	regions := []tableRegion{
		{"inode table", sb.InodeTableStart, false},
		{"directory table", sb.DirTableStart, false},
		{"fragment table", sb.FragTableStart, sb.Fragments == 0},
		{"id table", sb.IDTableStart, false},
		{"xattr id table", sb.XattrIDStart, true},
		{"lookup table", sb.LookupStart, true},
	}
	for _, r := range regions {
		if r.optional && r.start == InvalidTable {
			continue
		}
		if r.start < 0 || r.start >= sb.BytesUsed {
			return errors.Wrapf(ErrCorruptTable,
				"%s start %d outside [0, %d)", r.name, r.start, sb.BytesUsed)
		}
	}
	// Tables are laid out in order; a later table starting before an
	// earlier one means the regions overlap.
	if sb.DirTableStart < sb.InodeTableStart {
		return errors.Wrap(ErrCorruptTable, "directory table precedes inode table")
	}
	if sb.Fragments > 0 && sb.FragTableStart < sb.DirTableStart {
		return errors.Wrap(ErrCorruptTable, "fragment table precedes directory table")
	}
	if sb.Fragments > 0 && sb.IDTableStart < sb.FragTableStart {
		return errors.Wrap(ErrCorruptTable, "id table precedes fragment table")
	}
	return nil
}
