package builder

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squashkit/squashkit/pkg/compress"
	"github.com/squashkit/squashkit/pkg/format"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BlockSize = format.BlockSizeMin
	cfg.Processors = 2
	return cfg
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.BlockSize = 5000
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Compression = "rot13"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Processors = -1
	assert.Error(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "build.toml")
	writeFile(t, path, []byte(`
block_size = 65536
compression = "zstd"
always_fragments = true

[compressor_options]
level = "19"
`))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 65536, cfg.BlockSize)
	assert.Equal(t, "zstd", cfg.Compression)
	assert.True(t, cfg.AlwaysFragments)
	assert.Equal(t, "19", cfg.CompressorOptions["level"])

	// Unset keys keep their defaults.
	assert.False(t, cfg.NoDuplicates)
}

func TestMetaWriterPositions(t *testing.T) {
	w := newMetaWriter(compress.Lookup("gzip"), true)

	blk, off := w.Position()
	assert.Equal(t, int64(0), blk)
	assert.Equal(t, 0, off)

	first := bytes.Repeat([]byte{0xaa}, 100)
	require.NoError(t, w.Write(first))

	blk, off = w.Position()
	assert.Equal(t, int64(0), blk)
	assert.Equal(t, 100, off)

	// Cross the block boundary; the next position names block two.
	require.NoError(t, w.Write(bytes.Repeat([]byte{0xbb}, format.MetadataSize)))
	blk, off = w.Position()
	assert.Equal(t, int64(format.MetaHeaderSize+format.MetadataSize), blk)
	assert.Equal(t, 100, off)

	require.NoError(t, w.Flush())

	// The first sealed block decodes back to its payload.
	enc := w.Bytes()
	hdr, err := format.DecodeMetaHeader(enc, format.MetadataSize)
	require.NoError(t, err)
	assert.True(t, hdr.Uncompressed)
	assert.Equal(t, format.MetadataSize, hdr.Length)
	assert.Equal(t, first, enc[format.MetaHeaderSize:format.MetaHeaderSize+100])
}

func TestIDTableInterning(t *testing.T) {
	tbl := newIDTable()

	a, err := tbl.Lookup(1000)
	require.NoError(t, err)
	b, err := tbl.Lookup(0)
	require.NoError(t, err)
	again, err := tbl.Lookup(1000)
	require.NoError(t, err)

	assert.Equal(t, uint16(0), a)
	assert.Equal(t, uint16(1), b)
	assert.Equal(t, a, again)
	assert.Equal(t, uint16(2), tbl.Count())
}

func TestScanNumbersChildrenFirst(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), []byte("a"))
	writeFile(t, filepath.Join(src, "sub", "b.txt"), []byte("b"))
	require.NoError(t, os.Symlink("a.txt", filepath.Join(src, "link")))

	root, all, err := scan(src)
	require.NoError(t, err)
	require.Len(t, all, 5)

	// The root inode is numbered last, children before parents.
	assert.Equal(t, root, all[len(all)-1])
	assert.Equal(t, uint32(len(all)), root.inodeNum)
	for _, n := range all {
		if n != root && n.isDir() {
			for _, c := range n.children {
				assert.Less(t, c.inodeNum, n.inodeNum)
			}
		}
	}

	names := []string{}
	for _, c := range root.children {
		names = append(names, c.name)
	}
	assert.Equal(t, []string{"a.txt", "link", "sub"}, names)
}

func TestBuildSmallTree(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), []byte("hi"))
	writeFile(t, filepath.Join(src, "b.txt"), []byte("hi"))
	writeFile(t, filepath.Join(src, "c.txt"), []byte("bye"))

	out := filepath.Join(t.TempDir(), "small.sqsh")
	stats, err := Build(testConfig(), src, out, nil)
	require.NoError(t, err)

	// Identical tails share one stored fragment; all three tails fit one
	// fragment block.
	assert.Equal(t, int64(1), stats.Fragments)
	assert.Equal(t, int64(1), stats.DuplicateTails)
	assert.Equal(t, 4, stats.Inodes)
	assert.Equal(t, 0, stats.DataFiles)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Zero(t, len(raw)%4096)

	sb, err := format.UnmarshalSuperBlock(raw)
	require.NoError(t, err)
	require.NoError(t, sb.Validate(false))
	assert.Equal(t, uint32(4), sb.Inodes)
	assert.Equal(t, uint32(1), sb.Fragments)
	assert.Equal(t, stats.BytesUsed, sb.BytesUsed)
	assert.True(t, sb.Flags.Duplicates())
	assert.True(t, sb.Flags.NoXattrs())
	assert.False(t, sb.Flags.Exportable())
}

func TestBuildMultiBlockFile(t *testing.T) {
	cfg := testConfig()
	bs := cfg.BlockSize

	// Poorly compressible payload spanning three blocks plus a tail
	// rounded into a fourth, since the file is larger than a block.
	data := make([]byte, 3*bs+100)
	for i := range data {
		data[i] = byte(i*7 + i>>8)
	}
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "big.bin"), data)

	out := filepath.Join(t.TempDir(), "big.sqsh")
	stats, err := Build(cfg, src, out, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DataFiles)
	assert.Equal(t, int64(0), stats.Fragments)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	sb, err := format.UnmarshalSuperBlock(raw)
	require.NoError(t, err)
	require.NoError(t, sb.Validate(false))
	assert.Equal(t, uint32(2), sb.Inodes)
	assert.Equal(t, uint32(0), sb.Fragments)
}

func TestBuildSparseFile(t *testing.T) {
	cfg := testConfig()
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "holes.bin"), make([]byte, 2*cfg.BlockSize))
	writeFile(t, filepath.Join(src, "zerotail.bin"), make([]byte, 100))

	out := filepath.Join(t.TempDir(), "sparse.sqsh")
	stats, err := Build(cfg, src, out, nil)
	require.NoError(t, err)

	// All-zero blocks and tails are stored as holes: no data bytes and
	// no fragments at all.
	assert.Equal(t, int64(0), stats.Fragments)
	assert.Equal(t, 1, stats.DataFiles)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	sb, err := format.UnmarshalSuperBlock(raw)
	require.NoError(t, err)
	require.NoError(t, sb.Validate(false))
}

func TestBuildExportable(t *testing.T) {
	cfg := testConfig()
	cfg.Exportable = true
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "f"), []byte("payload"))

	out := filepath.Join(t.TempDir(), "export.sqsh")
	_, err := Build(cfg, src, out, nil)
	require.NoError(t, err)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	sb, err := format.UnmarshalSuperBlock(raw)
	require.NoError(t, err)
	require.NoError(t, sb.Validate(false))
	assert.True(t, sb.Flags.Exportable())
	assert.NotEqual(t, format.InvalidTable, sb.LookupStart)
}

func TestBuildRejectsBadSource(t *testing.T) {
	out := filepath.Join(t.TempDir(), "none.sqsh")
	_, err := Build(testConfig(), filepath.Join(t.TempDir(), "missing"), out, nil)
	assert.Error(t, err)
}
