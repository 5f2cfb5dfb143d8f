// Package image implements the read path: opening and validating an
// existing filesystem image, iterating its directory tree, reassembling
// file contents from data blocks and fragments, and extracting entries
// back to a host filesystem.
package image

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/squashkit/squashkit/pkg/compress"
	"github.com/squashkit/squashkit/pkg/format"
)

// Image is an open filesystem image. It is safe for concurrent reads;
// every operation works on its own metadata cursor.
type Image struct {
	f     *os.File
	sb    *format.SuperBlock
	codec compress.Compressor
	ids   []uint32
	frags []format.FragmentEntry
	log   *logrus.Entry
}

// Open maps an image file, validates its superblock and loads the id
// and fragment tables. Foreign-endian images are detected by their
// byte-swapped magic and refused with format.ErrBigEndian; every
// decode below the superblock assumes stored little-endian.
func Open(path string, log *logrus.Logger) (*Image, error) {
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open image")
	}
	img, err := load(f, log.WithField("image", filepath.Base(path)))
	if err != nil {
		f.Close()
		return nil, err
	}
	return img, nil
}

func load(f *os.File, entry *logrus.Entry) (*Image, error) {
	raw := make([]byte, format.SuperBlockSize)
	if _, err := f.ReadAt(raw, 0); err != nil {
		return nil, errors.Wrap(err, "read superblock")
	}
	sb, err := format.UnmarshalSuperBlock(raw)
	if err != nil {
		return nil, err
	}
	if err := sb.Validate(false); err != nil {
		return nil, err
	}

	img := &Image{
		f:     f,
		sb:    sb,
		codec: compress.LookupID(sb.Compression),
		log:   entry,
	}
	if sb.Flags.CompressorOptions() {
		if err := img.loadCompressorOptions(); err != nil {
			return nil, err
		}
	}
	if err := img.loadIDs(); err != nil {
		return nil, err
	}
	if err := img.loadFragments(); err != nil {
		return nil, err
	}
	entry.WithFields(logrus.Fields{
		"inodes":      sb.Inodes,
		"fragments":   sb.Fragments,
		"compression": img.codec.Name(),
		"block_size":  sb.BlockSize,
	}).Debug("image opened")
	return img, nil
}

// Close releases the underlying file.
func (img *Image) Close() error { return img.f.Close() }

// SuperBlock returns the validated superblock.
func (img *Image) SuperBlock() *format.SuperBlock { return img.sb }

// Compression names the image's codec.
func (img *Image) Compression() string { return img.codec.Name() }

// ID resolves an id-table index to the stored uid or gid.
func (img *Image) ID(idx uint16) uint32 {
	if int(idx) < len(img.ids) {
		return img.ids[idx]
	}
	return 0
}

// The compressor options block sits right behind the superblock as a
// single uncompressed metadata block.
func (img *Image) loadCompressorOptions() error {
	hdr := make([]byte, format.MetaHeaderSize)
	if _, err := img.f.ReadAt(hdr, format.SuperBlockSize); err != nil {
		return errors.Wrap(err, "read compressor options")
	}
	mh, err := format.DecodeMetaHeader(hdr, format.MetadataSize)
	if err != nil {
		return err
	}
	if !mh.Uncompressed {
		return errors.Wrap(format.ErrCorruptTable, "compressor options block is compressed")
	}
	opts := make([]byte, mh.Length)
	if _, err := img.f.ReadAt(opts, format.SuperBlockSize+format.MetaHeaderSize); err != nil {
		return errors.Wrap(err, "read compressor options")
	}
	return img.codec.UnmarshalOptions(opts)
}

const (
	idsPerBlock         = format.MetadataSize / 4
	fragEntriesPerBlock = format.MetadataSize / format.FragmentEntrySize
)

func (img *Image) loadIDs() error {
	count := int(img.sb.NoIDs)
	raw, err := img.readIndexedTable(img.sb.IDTableStart, count, idsPerBlock, 4)
	if err != nil {
		return errors.Wrap(err, "id table")
	}
	img.ids = make([]uint32, count)
	for i := range img.ids {
		img.ids[i] = binary.LittleEndian.Uint32(raw[4*i:])
	}
	return nil
}

func (img *Image) loadFragments() error {
	count := int(img.sb.Fragments)
	if count == 0 {
		return nil
	}
	raw, err := img.readIndexedTable(img.sb.FragTableStart, count, fragEntriesPerBlock, format.FragmentEntrySize)
	if err != nil {
		return errors.Wrap(err, "fragment table")
	}
	img.frags = make([]format.FragmentEntry, count)
	for i := range img.frags {
		entry, err := format.UnmarshalFragmentEntry(raw[format.FragmentEntrySize*i:])
		if err != nil {
			return err
		}
		img.frags[i] = entry
	}
	return nil
}

// readIndexedTable loads a table addressed by a block index: the index
// at indexStart lists the absolute position of each metadata block
// holding perBlock fixed-size records.
func (img *Image) readIndexedTable(indexStart int64, count, perBlock, recordSize int) ([]byte, error) {
	if count == 0 {
		return nil, nil
	}
	blocks := (count + perBlock - 1) / perBlock
	index := make([]byte, 8*blocks)
	if _, err := img.f.ReadAt(index, indexStart); err != nil {
		return nil, errors.Wrap(err, "read block index")
	}
	out := make([]byte, 0, count*recordSize)
	for i := 0; i < blocks; i++ {
		start := int64(binary.LittleEndian.Uint64(index[8*i:]))
		payload, _, err := img.readMetaBlockAt(start)
		if err != nil {
			return nil, err
		}
		out = append(out, payload...)
	}
	if len(out) < count*recordSize {
		return nil, errors.Wrapf(format.ErrCorruptTable,
			"table holds %d bytes, need %d", len(out), count*recordSize)
	}
	return out[:count*recordSize], nil
}

// readMetaBlockAt decodes the metadata block stored at the absolute
// image offset and returns the payload plus the offset of the next
// block.
func (img *Image) readMetaBlockAt(pos int64) ([]byte, int64, error) {
	hdr := make([]byte, format.MetaHeaderSize)
	if _, err := img.f.ReadAt(hdr, pos); err != nil {
		return nil, 0, errors.Wrapf(err, "metadata block at %d", pos)
	}
	mh, err := format.DecodeMetaHeader(hdr, format.MetadataSize)
	if err != nil {
		return nil, 0, err
	}
	stored := make([]byte, mh.Length)
	if _, err := img.f.ReadAt(stored, pos+format.MetaHeaderSize); err != nil {
		return nil, 0, errors.Wrapf(err, "metadata block at %d", pos)
	}
	next := pos + format.MetaHeaderSize + int64(mh.Length)
	if mh.Uncompressed {
		return stored, next, nil
	}
	payload, err := compress.DecompressBounded(img.codec, stored, format.MetadataSize)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "metadata block at %d", pos)
	}
	return payload, next, nil
}
