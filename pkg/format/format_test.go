package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSuperBlock() *SuperBlock {
	sb := NewSuperBlock(131072, CompGzip)
	sb.Inodes = 3
	sb.BytesUsed = 4096
	sb.InodeTableStart = 96
	sb.DirTableStart = 200
	sb.FragTableStart = 300
	sb.IDTableStart = 400
	sb.Fragments = 1
	return sb
}

func TestSuperBlockRoundTrip(t *testing.T) {
	sb := validSuperBlock()
	out, err := UnmarshalSuperBlock(sb.Marshal())
	require.NoError(t, err)
	assert.Equal(t, sb, out)
}

func TestSuperBlockDoubleSwapIdentity(t *testing.T) {
	sb := validSuperBlock()
	assert.Equal(t, sb, sb.Swap().Swap())
}

func TestSuperBlockValidate(t *testing.T) {
	require.NoError(t, validSuperBlock().Validate(false))

	bad := validSuperBlock()
	bad.Magic = 0xdeadbeef
	assert.ErrorIs(t, bad.Validate(false), ErrInvalidMagic)

	swapped := validSuperBlock().Swap()
	assert.ErrorIs(t, swapped.Validate(false), ErrBigEndian)

	// Swap-on-read restores the native form.
	swapped = validSuperBlock().Swap()
	require.NoError(t, swapped.Validate(true))
	assert.Equal(t, validSuperBlock(), swapped)

	vers := validSuperBlock()
	vers.Major = 3
	var uve *UnsupportedVersionError
	require.ErrorAs(t, vers.Validate(false), &uve)
	assert.Equal(t, uint16(3), uve.Major)

	odd := validSuperBlock()
	odd.BlockSize = 100000
	assert.ErrorIs(t, odd.Validate(false), ErrInvalidBlockSize)

	out := validSuperBlock()
	out.DirTableStart = out.BytesUsed + 10
	assert.ErrorIs(t, out.Validate(false), ErrCorruptTable)

	overlap := validSuperBlock()
	overlap.DirTableStart = overlap.InodeTableStart - 1
	assert.ErrorIs(t, overlap.Validate(false), ErrCorruptTable)
}

func TestMetaHeader(t *testing.T) {
	b, err := EncodeMetaHeader(MetaHeader{Length: 5000, Uncompressed: true})
	require.NoError(t, err)
	h, err := DecodeMetaHeader(b, MetadataSize)
	require.NoError(t, err)
	assert.Equal(t, 5000, h.Length)
	assert.True(t, h.Uncompressed)

	// Stored length above the caller's bound is corruption.
	_, err = DecodeMetaHeader(b, 4096)
	assert.ErrorIs(t, err, ErrCorruptTable)

	_, err = EncodeMetaHeader(MetaHeader{Length: MetadataSize + 1})
	assert.ErrorIs(t, err, ErrCorruptTable)

	h, err = DecodeMetaHeader([]byte{0, 0}, MetadataSize)
	require.NoError(t, err)
	assert.True(t, h.EndOfStream())
}

func TestFragmentEntrySizeBit(t *testing.T) {
	fe := FragmentEntry{StartBlock: 96, Size: BlockSizeField(300, false)}
	assert.Equal(t, uint32(300), fe.StoredSize())
	assert.False(t, fe.Compressed())

	fe.Size = BlockSizeField(300, true)
	assert.True(t, fe.Compressed())

	out, err := UnmarshalFragmentEntry(fe.Marshal())
	require.NoError(t, err)
	assert.Equal(t, fe, out)
	assert.Equal(t, fe, func() FragmentEntry { s := out.Swap(); return s.Swap() }())
}

func TestXattrIDEntryRoundTrip(t *testing.T) {
	xe := XattrIDEntry{Xattr: uint64(MkInodeRef(2, 40)), Count: 3, Size: 120}
	out, err := UnmarshalXattrIDEntry(xe.Marshal())
	require.NoError(t, err)
	assert.Equal(t, xe, out)
	assert.Equal(t, xe, func() XattrIDEntry { s := out.Swap(); return s.Swap() }())

	_, err = UnmarshalXattrIDEntry(make([]byte, 8))
	assert.ErrorIs(t, err, ErrCorruptTable)
}

func TestInodeRoundTrip(t *testing.T) {
	reg := &RegInode{
		InodeHeader: InodeHeader{Type: TypeFile, Mode: 0644, Mtime: 42, InodeNumber: 7},
		StartBlock:  96,
		Fragment:    InvalidFrag,
		FileSize:    262144,
		BlockList:   []uint32{131072, 131072},
	}
	in, err := UnmarshalInode(reg.Marshal(), 131072)
	require.NoError(t, err)
	assert.Equal(t, reg, in)

	lreg := &LRegInode{
		InodeHeader: InodeHeader{Type: TypeLFile, Mode: 0644, InodeNumber: 8},
		FileSize:    131073,
		Nlink:       1,
		Fragment:    0,
		Offset:      12,
		Xattr:       InvalidXattr,
		BlockList:   []uint32{131072},
	}
	in, err = UnmarshalInode(lreg.Marshal(), 131072)
	require.NoError(t, err)
	assert.Equal(t, lreg, in)

	dir := &DirInode{
		InodeHeader: InodeHeader{Type: TypeDir, Mode: 0755, InodeNumber: 1},
		Nlink:       2,
		FileSize:    3,
		ParentInode: 1,
	}
	in, err = UnmarshalInode(dir.Marshal(), 131072)
	require.NoError(t, err)
	assert.Equal(t, dir, in)

	sym := &SymlinkInode{
		InodeHeader: InodeHeader{Type: TypeSymlink, Mode: 0777, InodeNumber: 9},
		Nlink:       1,
		Target:      []byte("../target"),
	}
	in, err = UnmarshalInode(sym.Marshal(), 131072)
	require.NoError(t, err)
	assert.Equal(t, sym, in)

	dev := &DevInode{
		InodeHeader: InodeHeader{Type: TypeCharDev, Mode: 0600, InodeNumber: 10},
		Nlink:       1,
		Rdev:        MakeRdev(1, 3),
	}
	in, err = UnmarshalInode(dev.Marshal(), 131072)
	require.NoError(t, err)
	assert.Equal(t, dev, in)

	_, err = UnmarshalInode(make([]byte, InodeBaseSize), 131072)
	assert.ErrorIs(t, err, ErrCorruptTable)
}

func TestDirEntryRoundTrip(t *testing.T) {
	hdr := DirHeader{Count: 2, StartBlock: 0, InodeNumber: 1}
	out, err := UnmarshalDirHeader(hdr.Marshal())
	require.NoError(t, err)
	assert.Equal(t, hdr, out)

	e := DirEntry{Offset: 32, InodeDelta: 1, Type: TypeFile, Name: "a.txt"}
	got, n, err := UnmarshalDirEntry(e.Marshal())
	require.NoError(t, err)
	assert.Equal(t, e, got)
	assert.Equal(t, e.EncodedSize(), n)
}

func TestPrimitiveSwaps(t *testing.T) {
	assert.Equal(t, uint16(0x3412), Swap16(0x1234))
	assert.Equal(t, uint32(0x78563412), Swap32(0x12345678))
	assert.Equal(t, uint64(0xefcdab9078563412), Swap64(0x1234567890abcdef))

	s := []uint32{1, 2}
	SwapU32s(s)
	SwapU32s(s)
	assert.Equal(t, []uint32{1, 2}, s)
}

func TestInodeRefPacking(t *testing.T) {
	ref := MkInodeRef(12, 345)
	assert.Equal(t, uint32(12), InodeRefBlock(ref))
	assert.Equal(t, uint16(345), InodeRefOffset(ref))
}

func TestBlockSizeField(t *testing.T) {
	v := BlockSizeField(4096, false)
	assert.Equal(t, uint32(4096), BlockSize(v))
	assert.False(t, BlockCompressed(v))
	assert.True(t, BlockCompressed(BlockSizeField(4096, true)))
}
