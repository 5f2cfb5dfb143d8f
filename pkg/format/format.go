// Package format defines the on-disk layout of a SquashFS image: the
// superblock, inode headers, directory tables, fragment entries and the
// metadata block wire format, together with the endian normalization
// layer. All multi-byte integers are stored little-endian; a byte-swapped
// magic in the superblock marks a foreign-endian image whose structures
// must be fully swapped on load.
package format

// Magic is the SquashFS superblock magic ("hsqs" little-endian).
const (
	Magic     uint32 = 0x73717368
	MagicSwap uint32 = 0x68737173
)

// Supported on-disk format version.
const (
	MajorVersion uint16 = 4
	MinorVersion uint16 = 0
)

// Metadata block limits. A metadata block never exceeds MetadataSize
// bytes decompressed and is prefixed by a 2-byte header.
const (
	MetadataSize = 8192
	MetadataLog  = 13
)

// Data block size limits. Block sizes are powers of two.
const (
	BlockSizeMin     = 4096
	BlockSizeDefault = 131072
	BlockSizeMax     = 1048576
	BlockLogMax      = 20
)

const (
	// MaxIDs bounds the uid/gid table.
	MaxIDs = 65536
	// NameLenMax is the longest directory entry name.
	NameLenMax = 256
	// DirCountMax is the most entries a single directory header covers.
	DirCountMax = 256
	// SymlinkMax bounds an inline symlink target.
	SymlinkMax = 65535
)

// Sentinel values for optional references.
const (
	InvalidBlk   int64  = -1
	InvalidFrag  uint32 = 0xffffffff
	InvalidXattr uint32 = 0xffffffff
	InvalidTable int64  = -1
)

// Inode type tags. The "L" variants carry 64-bit/extended payloads.
const (
	TypeDir uint16 = iota + 1
	TypeFile
	TypeSymlink
	TypeBlockDev
	TypeCharDev
	TypeFifo
	TypeSocket
	TypeLDir
	TypeLFile
	TypeLSymlink
	TypeLBlockDev
	TypeLCharDev
	TypeLFifo
	TypeLSocket
)

// Compression ids stored in the superblock.
const (
	CompUnknown uint16 = 0
	CompGzip    uint16 = 1
	CompLzma    uint16 = 2
	CompLzo     uint16 = 3
	CompXz      uint16 = 4
	CompLz4     uint16 = 5
	CompZstd    uint16 = 6
)

// metaCompressedBit flags a metadata block stored uncompressed; the low
// 15 bits hold the stored payload length.
const metaCompressedBit = 1 << 15

// blockUncompressedBit flags a data/fragment block stored uncompressed
// inside its 32-bit size field.
const blockUncompressedBit = 1 << 31

// BlockSize extracts the stored byte count from a data/fragment block
// size field.
func BlockSize(v uint32) uint32 { return v &^ blockUncompressedBit }

// BlockCompressed reports whether a data/fragment block is compressed.
func BlockCompressed(v uint32) bool { return v&blockUncompressedBit == 0 }

// BlockSizeField packs a stored byte count and compression state into a
// data/fragment block size field.
func BlockSizeField(size uint32, compressed bool) uint32 {
	if compressed {
		return size
	}
	return size | blockUncompressedBit
}

// MkInodeRef packs a metadata block start and an offset within the
// decompressed block into a 48-bit inode reference.
func MkInodeRef(block uint32, offset uint16) int64 {
	return int64(block)<<16 | int64(offset)
}

// InodeRefBlock extracts the metadata block start from an inode reference.
func InodeRefBlock(ref int64) uint32 { return uint32(ref >> 16) }

// InodeRefOffset extracts the intra-block offset from an inode reference.
func InodeRefOffset(ref int64) uint16 { return uint16(ref & 0xffff) }
