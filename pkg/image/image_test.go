package image

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squashkit/squashkit/pkg/builder"
	"github.com/squashkit/squashkit/pkg/format"
)

const testBlockSize = format.BlockSizeMin

func buildImage(t *testing.T, cfg builder.Config, populate func(src string)) string {
	t.Helper()
	src := t.TempDir()
	populate(src)
	out := filepath.Join(t.TempDir(), "test.sqsh")
	_, err := builder.Build(cfg, src, out, nil)
	require.NoError(t, err)
	return out
}

func testBuildConfig() builder.Config {
	cfg := builder.DefaultConfig()
	cfg.BlockSize = testBlockSize
	cfg.Processors = 2
	return cfg
}

func mustWrite(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

// patterned returns n bytes that compress but are not constant, so both
// compressed and raw block paths stay honest.
func patterned(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func TestRoundTrip(t *testing.T) {
	big := patterned(3*testBlockSize + 100)
	zeros := make([]byte, 2*testBlockSize)

	path := buildImage(t, testBuildConfig(), func(src string) {
		mustWrite(t, filepath.Join(src, "a.txt"), []byte("hi"))
		mustWrite(t, filepath.Join(src, "b.txt"), []byte("hi"))
		mustWrite(t, filepath.Join(src, "c.txt"), []byte("bye"))
		mustWrite(t, filepath.Join(src, "sub", "big.bin"), big)
		mustWrite(t, filepath.Join(src, "sub", "empty"), nil)
		mustWrite(t, filepath.Join(src, "zeros.bin"), zeros)
		require.NoError(t, os.Symlink("a.txt", filepath.Join(src, "link")))
	})

	img, err := Open(path, nil)
	require.NoError(t, err)
	defer img.Close()

	assert.Equal(t, "gzip", img.Compression())

	root, err := img.Root()
	require.NoError(t, err)
	entries, err := img.ReadDir(root)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt", "link", "sub", "zeros.bin"}, names)

	for name, want := range map[string][]byte{
		"a.txt":       []byte("hi"),
		"b.txt":       []byte("hi"),
		"c.txt":       []byte("bye"),
		"sub/big.bin": big,
		"sub/empty":   {},
		"zeros.bin":   zeros,
	} {
		ino, err := img.Lookup(name)
		require.NoError(t, err, name)
		var buf bytes.Buffer
		require.NoError(t, img.ReadFile(ino, &buf), name)
		assert.Equal(t, want, buf.Bytes(), name)
	}

	// Deduplicated tails point into the same fragment.
	a, err := img.Lookup("a.txt")
	require.NoError(t, err)
	b, err := img.Lookup("b.txt")
	require.NoError(t, err)
	assert.Equal(t, a.(*format.RegInode).Fragment, b.(*format.RegInode).Fragment)
	assert.Equal(t, a.(*format.RegInode).Offset, b.(*format.RegInode).Offset)

	link, err := img.Lookup("link")
	require.NoError(t, err)
	assert.Equal(t, []byte("a.txt"), link.(*format.SymlinkInode).Target)
}

func TestDuplicateTailsManyFiles(t *testing.T) {
	// Many identical tails probed from concurrent deflators must all
	// resolve to the one stored fragment, whichever cache tier the
	// comparison payload came from.
	cfg := testBuildConfig()
	cfg.Processors = 8
	tail := patterned(1300)

	src := t.TempDir()
	names := make([]string, 60)
	for i := range names {
		names[i] = fmt.Sprintf("f%02d", i)
		mustWrite(t, filepath.Join(src, names[i]), tail)
	}
	out := filepath.Join(t.TempDir(), "dup.sqsh")
	stats, err := builder.Build(cfg, src, out, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(len(names)-1), stats.DuplicateTails)
	assert.Equal(t, int64(1), stats.Fragments)

	img, err := Open(out, nil)
	require.NoError(t, err)
	defer img.Close()

	first, err := img.Lookup(names[0])
	require.NoError(t, err)
	want := first.(*format.RegInode)
	for _, name := range names {
		ino, err := img.Lookup(name)
		require.NoError(t, err, name)
		reg := ino.(*format.RegInode)
		assert.Equal(t, want.Fragment, reg.Fragment, name)
		assert.Equal(t, want.Offset, reg.Offset, name)
		var buf bytes.Buffer
		require.NoError(t, img.ReadFile(ino, &buf), name)
		assert.Equal(t, tail, buf.Bytes(), name)
	}
}

func TestWalkVisitsEverything(t *testing.T) {
	path := buildImage(t, testBuildConfig(), func(src string) {
		mustWrite(t, filepath.Join(src, "one"), []byte("1"))
		mustWrite(t, filepath.Join(src, "d", "two"), []byte("2"))
		mustWrite(t, filepath.Join(src, "d", "e", "three"), []byte("3"))
	})

	img, err := Open(path, nil)
	require.NoError(t, err)
	defer img.Close()

	var seen []string
	require.NoError(t, img.Walk(func(p string, e Entry, ino format.Inode) error {
		seen = append(seen, p)
		return nil
	}))
	sort.Strings(seen)
	assert.Equal(t, []string{"d", "d/e", "d/e/three", "d/two", "one"}, seen)
}

func TestExtract(t *testing.T) {
	content := patterned(testBlockSize + 17)
	path := buildImage(t, testBuildConfig(), func(src string) {
		mustWrite(t, filepath.Join(src, "data.bin"), content)
		mustWrite(t, filepath.Join(src, "nested", "note.txt"), []byte("note"))
		require.NoError(t, os.Symlink("data.bin", filepath.Join(src, "alias")))
	})

	img, err := Open(path, nil)
	require.NoError(t, err)
	defer img.Close()

	dest := t.TempDir()
	require.NoError(t, img.Extract(dest))

	got, err := os.ReadFile(filepath.Join(dest, "data.bin"))
	require.NoError(t, err)
	assert.Equal(t, content, got)

	got, err = os.ReadFile(filepath.Join(dest, "nested", "note.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("note"), got)

	target, err := os.Readlink(filepath.Join(dest, "alias"))
	require.NoError(t, err)
	assert.Equal(t, "data.bin", target)
}

func TestCompressorOptionsRoundTrip(t *testing.T) {
	cfg := testBuildConfig()
	cfg.Compression = "zstd"
	cfg.CompressorOptions = map[string]string{"level": "10"}

	path := buildImage(t, cfg, func(src string) {
		mustWrite(t, filepath.Join(src, "f"), patterned(testBlockSize*2))
	})

	img, err := Open(path, nil)
	require.NoError(t, err)
	defer img.Close()

	assert.Equal(t, "zstd", img.Compression())
	assert.True(t, img.SuperBlock().Flags.CompressorOptions())

	ino, err := img.Lookup("f")
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, img.ReadFile(ino, &buf))
	assert.Equal(t, patterned(testBlockSize*2), buf.Bytes())
}

func TestUncompressedImage(t *testing.T) {
	cfg := testBuildConfig()
	cfg.NoCompressInodes = true
	cfg.NoCompressData = true
	cfg.NoCompressFragments = true

	content := patterned(testBlockSize + 5)
	path := buildImage(t, cfg, func(src string) {
		mustWrite(t, filepath.Join(src, "raw.bin"), content)
		mustWrite(t, filepath.Join(src, "tail.txt"), []byte("just a tail"))
	})

	img, err := Open(path, nil)
	require.NoError(t, err)
	defer img.Close()

	for name, want := range map[string][]byte{
		"raw.bin":  content,
		"tail.txt": []byte("just a tail"),
	} {
		ino, err := img.Lookup(name)
		require.NoError(t, err, name)
		var buf bytes.Buffer
		require.NoError(t, img.ReadFile(ino, &buf), name)
		assert.Equal(t, want, buf.Bytes(), name)
	}
}

func TestIDTableResolution(t *testing.T) {
	path := buildImage(t, testBuildConfig(), func(src string) {
		mustWrite(t, filepath.Join(src, "owned"), []byte("x"))
	})

	img, err := Open(path, nil)
	require.NoError(t, err)
	defer img.Close()

	ino, err := img.Lookup("owned")
	require.NoError(t, err)
	hdr := ino.Header()
	assert.Equal(t, uint32(os.Getuid()), img.ID(hdr.UID))
	assert.Equal(t, uint32(os.Getgid()), img.ID(hdr.GID))
}

func TestReadFileNamesFailingBlockOffset(t *testing.T) {
	content := patterned(2 * testBlockSize)
	path := buildImage(t, testBuildConfig(), func(src string) {
		mustWrite(t, filepath.Join(src, "blob.bin"), content)
	})

	img, err := Open(path, nil)
	require.NoError(t, err)
	ino, err := img.Lookup("blob.bin")
	require.NoError(t, err)
	start := int64(ino.(*format.RegInode).StartBlock)
	require.NoError(t, img.Close())

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xff, 0xff, 0xff, 0xff}, start)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	img, err = Open(path, nil)
	require.NoError(t, err)
	defer img.Close()
	ino, err = img.Lookup("blob.bin")
	require.NoError(t, err)
	var buf bytes.Buffer
	err = img.ReadFile(ino, &buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprintf("data block at %d", start))
}

func TestOpenRejectsForeignEndian(t *testing.T) {
	path := buildImage(t, testBuildConfig(), func(src string) {
		mustWrite(t, filepath.Join(src, "x"), []byte("x"))
	})
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	sb, err := format.UnmarshalSuperBlock(raw[:format.SuperBlockSize])
	require.NoError(t, err)
	copy(raw, sb.Swap().Marshal())

	foreign := filepath.Join(t.TempDir(), "foreign.sqsh")
	require.NoError(t, os.WriteFile(foreign, raw, 0o644))
	_, err = Open(foreign, nil)
	assert.ErrorIs(t, err, format.ErrBigEndian)
}

func TestOpenRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0x42}, 200), 0o644))
	_, err := Open(path, nil)
	assert.Error(t, err)
}

func TestOpenRejectsTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short")
	require.NoError(t, os.WriteFile(path, []byte("hsqs"), 0o644))
	_, err := Open(path, nil)
	assert.Error(t, err)
}
