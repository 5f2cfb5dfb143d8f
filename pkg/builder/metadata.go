package builder

import (
	"bytes"

	"github.com/squashkit/squashkit/pkg/compress"
	"github.com/squashkit/squashkit/pkg/format"
)

// metaWriter accumulates table records into 8 KiB metadata blocks and
// encodes each block with its 2-byte header as it fills. Positions
// handed out before a record are (block, offset) pairs: the byte
// offset of the record's metadata block within the encoded table, and
// the record's offset within the decompressed block.
type metaWriter struct {
	codec      compress.Compressor
	noCompress bool

	block [format.MetadataSize]byte
	used  int

	out bytes.Buffer
}

func newMetaWriter(codec compress.Compressor, noCompress bool) *metaWriter {
	return &metaWriter{codec: codec, noCompress: noCompress}
}

// Position returns the reference the next written byte will have.
func (w *metaWriter) Position() (block int64, offset int) {
	return int64(w.out.Len()), w.used
}

// Write appends p, sealing full blocks along the way.
func (w *metaWriter) Write(p []byte) error {
	for len(p) > 0 {
		n := copy(w.block[w.used:], p)
		w.used += n
		p = p[n:]
		if w.used == format.MetadataSize {
			if err := w.seal(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush seals a partial final block.
func (w *metaWriter) Flush() error {
	if w.used == 0 {
		return nil
	}
	return w.seal()
}

// Bytes is the encoded table; valid after Flush.
func (w *metaWriter) Bytes() []byte { return w.out.Bytes() }

func (w *metaWriter) seal() error {
	payload := w.block[:w.used]
	stored, uncompressed, err := storeBlock(w.codec, payload, w.noCompress)
	if err != nil {
		return err
	}
	hdr, err := format.EncodeMetaHeader(format.MetaHeader{Length: len(stored), Uncompressed: uncompressed})
	if err != nil {
		return err
	}
	w.out.Write(hdr)
	w.out.Write(stored)
	w.used = 0
	return nil
}

// storeBlock compresses payload unless compression is disabled or does
// not shrink it; the caller, not the codec, makes the store-raw call.
func storeBlock(codec compress.Compressor, payload []byte, noCompress bool) (stored []byte, uncompressed bool, err error) {
	if noCompress {
		return payload, true, nil
	}
	c, err := codec.Compress(payload, len(payload))
	if err != nil {
		return nil, false, err
	}
	if len(c) >= len(payload) {
		return payload, true, nil
	}
	return c, false, nil
}
