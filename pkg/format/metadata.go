package format

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// MetaHeaderSize is the 2-byte length prefix on every metadata block.
const MetaHeaderSize = 2

// MetaHeader describes one stored metadata block: the on-disk payload
// length and whether the payload was left uncompressed. An all-zero
// header (length 0, compressed) signals end-of-stream in builder
// contexts.
type MetaHeader struct {
	Length       int
	Uncompressed bool
}

// EndOfStream reports the all-zero end-of-stream header.
func (h MetaHeader) EndOfStream() bool { return h.Length == 0 && !h.Uncompressed }

// EncodeMetaHeader writes the 2-byte little-endian header: bit 15 is the
// uncompressed flag, bits 0-14 the stored payload length.
func EncodeMetaHeader(h MetaHeader) ([]byte, error) {
	if h.Length < 0 || h.Length > MetadataSize {
		return nil, errors.Wrapf(ErrCorruptTable, "metadata length %d exceeds %d", h.Length, MetadataSize)
	}
	v := uint16(h.Length)
	if h.Uncompressed {
		v |= metaCompressedBit
	}
	b := make([]byte, MetaHeaderSize)
	binary.LittleEndian.PutUint16(b, v)
	return b, nil
}

// DecodeMetaHeader parses a metadata block header. maxSize is the
// caller's expected upper bound on the stored payload; a stored length
// above it means the table is corrupt.
func DecodeMetaHeader(b []byte, maxSize int) (MetaHeader, error) {
	if len(b) < MetaHeaderSize {
		return MetaHeader{}, errors.Wrap(ErrCorruptTable, "metadata header truncated")
	}
	v := binary.LittleEndian.Uint16(b)
	h := MetaHeader{
		Length:       int(v &^ metaCompressedBit),
		Uncompressed: v&metaCompressedBit != 0,
	}
	if h.Length > maxSize {
		return MetaHeader{}, errors.Wrapf(ErrCorruptTable,
			"metadata length %d exceeds expected %d", h.Length, maxSize)
	}
	return h, nil
}
