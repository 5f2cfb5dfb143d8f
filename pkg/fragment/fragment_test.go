package fragment

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"

	"github.com/squashkit/squashkit/pkg/cache"
	"github.com/squashkit/squashkit/pkg/compress"
	"github.com/squashkit/squashkit/pkg/format"
	"github.com/squashkit/squashkit/pkg/queue"
)

func TestChecksumMatchesSparseVariant(t *testing.T) {
	payloads := [][]byte{
		nil,
		{0},
		[]byte("hi"),
		[]byte("the quick brown fox"),
		bytes.Repeat([]byte{0xff, 0x01}, 300),
	}
	for _, p := range payloads {
		want := Checksum(p)
		got, _ := ChecksumSparse(p)
		assert.Equal(t, want, got)
	}
}

func TestChecksumSparseDetection(t *testing.T) {
	_, sparse := ChecksumSparse(make([]byte, 4096))
	assert.True(t, sparse)

	data := make([]byte, 4096)
	data[4095] = 1
	_, sparse = ChecksumSparse(data)
	assert.False(t, sparse)

	_, sparse = ChecksumSparse(nil)
	assert.True(t, sparse)
}

func TestChecksumOrderSensitive(t *testing.T) {
	a := Checksum([]byte{1, 2, 3, 4})
	b := Checksum([]byte{4, 3, 2, 1})
	assert.NotEqual(t, a, b)
}

func TestDupTableChecksumCollisionRejected(t *testing.T) {
	// Both payloads checksum to the same value but differ in content,
	// so the mandatory byte comparison must reject the match.
	first := []byte{2, 5}
	second := []byte{4, 4}
	require.Equal(t, Checksum(first), Checksum(second))

	stored := map[Descriptor][]byte{{Index: 0, Offset: 0, Size: 2}: first}
	payload := func(d Descriptor) ([]byte, error) {
		p, ok := stored[d]
		if !ok {
			return nil, errors.New("not stored")
		}
		return p, nil
	}

	tbl := NewDupTable()
	tbl.Add(Descriptor{Index: 0, Offset: 0, Size: 2}, Checksum(first), blake3.Sum256(first))

	_, ok := tbl.Match(second, Checksum(second), payload)
	assert.False(t, ok)

	match, ok := tbl.Match(first, Checksum(first), payload)
	require.True(t, ok)
	assert.Equal(t, int64(0), match.Index)
}

func TestDupTableLazyChecksum(t *testing.T) {
	content := []byte("deferred")
	stored := map[Descriptor][]byte{{Index: 3, Offset: 8, Size: 8}: content}
	payload := func(d Descriptor) ([]byte, error) { return stored[d], nil }

	tbl := NewDupTable()
	tbl.AddLazy(Descriptor{Index: 3, Offset: 8, Size: 8})

	match, ok := tbl.Match(content, Checksum(content), payload)
	require.True(t, ok)
	assert.Equal(t, 8, match.Offset)
}

func newTestProcessor(t *testing.T, cfg Config, image *bytes.Reader) (*Processor, *[]*queue.FileBuffer) {
	t.Helper()
	var sealed []*queue.FileBuffer
	frags := cache.NewBlockCache(cfg.BlockSize, 4, false)
	writeCache := cache.NewBlockCache(cfg.BlockSize, 4, false)
	reserveCache := cache.NewBlockCache(cfg.BlockSize, 4, true)
	p := NewProcessor(cfg, compress.Lookup("none"), frags, writeCache, reserveCache,
		image, func(b *queue.FileBuffer) { sealed = append(sealed, b) }, nil)
	return p, &sealed
}

func TestProcessorDeduplicatesIdenticalTails(t *testing.T) {
	cfg := Config{BlockSize: 4096, Duplicates: true}
	p, _ := newTestProcessor(t, cfg, bytes.NewReader(nil))

	a, dup, err := p.Process([]byte("hi"))
	require.NoError(t, err)
	assert.False(t, dup)

	b, dup, err := p.Process([]byte("hi"))
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, a, b)

	c, dup, err := p.Process([]byte("bye"))
	require.NoError(t, err)
	assert.False(t, dup)
	assert.NotEqual(t, a.Offset, c.Offset)

	// "hi" and "bye" share one fragment block; "hi" is stored once.
	assert.Equal(t, int64(1), p.Count())
	assert.Equal(t, 2, p.table.Len())
}

func TestProcessorSparseTail(t *testing.T) {
	cfg := Config{BlockSize: 4096, SparseFiles: true, Duplicates: true}
	p, _ := newTestProcessor(t, cfg, bytes.NewReader(nil))

	desc, dup, err := p.Process(make([]byte, 100))
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Equal(t, NoFragment, desc.Index)
	assert.Zero(t, p.Count())
}

func TestProcessorRollsOverFullBlock(t *testing.T) {
	cfg := Config{BlockSize: 64}
	p, sealed := newTestProcessor(t, cfg, bytes.NewReader(nil))

	first, _, err := p.Process(bytes.Repeat([]byte{'a'}, 40))
	require.NoError(t, err)
	second, _, err := p.Process(bytes.Repeat([]byte{'b'}, 40))
	require.NoError(t, err)

	assert.Equal(t, int64(0), first.Index)
	assert.Equal(t, int64(1), second.Index)
	assert.Zero(t, second.Offset)
	require.Len(t, *sealed, 1)
	assert.Equal(t, 40, (*sealed)[0].Size)
	assert.True(t, (*sealed)[0].Locked)
}

func TestProcessorTailTooLarge(t *testing.T) {
	cfg := Config{BlockSize: 16}
	p, _ := newTestProcessor(t, cfg, bytes.NewReader(nil))
	_, _, err := p.Process(make([]byte, 16))
	assert.Error(t, err)
}

func TestProcessorRetrieveFromDisk(t *testing.T) {
	// Raw fragment block already written at offset 10 of the image.
	content := []byte("written-out")
	image := make([]byte, 10+len(content))
	copy(image[10:], content)

	cfg := Config{BlockSize: 64, Duplicates: true}
	p, sealed := newTestProcessor(t, cfg, bytes.NewReader(image))

	desc, _, err := p.Process(content)
	require.NoError(t, err)
	p.Flush()
	require.Len(t, *sealed, 1)

	// Writer finished: block is on disk, stored raw, buffer released.
	p.SetEntry(0, format.FragmentEntry{
		StartBlock: 10,
		Size:       format.BlockSizeField(uint32(len(content)), false),
	})
	b := (*sealed)[0]
	p.frags.Unlock(b)
	p.frags.Put(b)

	got, err := p.Retrieve(desc)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// And the duplicate path still matches through the on-disk tier.
	match, dup, err := p.Process(content)
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, desc, match)
}
