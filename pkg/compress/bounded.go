package compress

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// boundedDecompressor is implemented by codecs that can inflate a block
// whose exact decompressed size is unknown.
type boundedDecompressor interface {
	decompressBounded(data []byte, maxSize int) ([]byte, error)
}

// DecompressBounded inflates data producing at most maxSize bytes and
// returns the actual payload. Read paths use it for metadata and
// fragment blocks, where the on-disk format records only an upper
// bound on the decompressed size.
func DecompressBounded(c Compressor, data []byte, maxSize int) ([]byte, error) {
	if bd, ok := c.(boundedDecompressor); ok {
		return bd.decompressBounded(data, maxSize)
	}
	return nil, errors.Wrapf(ErrUnsupported, "%s", c.Name())
}

// readBounded drains r expecting at most max bytes; a longer stream is
// corrupt.
func readBounded(r io.Reader, codec string, max int) ([]byte, error) {
	out := make([]byte, max+1)
	n, err := io.ReadFull(r, out)
	if err != io.ErrUnexpectedEOF && err != io.EOF {
		if err == nil {
			return nil, &DecompressionError{Codec: codec, Expected: max, Got: n}
		}
		return nil, &DecompressionError{Codec: codec, Expected: max, Got: n, Err: err}
	}
	if n > max {
		return nil, &DecompressionError{Codec: codec, Expected: max, Got: n}
	}
	return out[:n], nil
}

func (g *gzipCompressor) decompressBounded(data []byte, maxSize int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, &DecompressionError{Codec: g.Name(), Expected: maxSize, Err: err}
	}
	defer r.Close()
	return readBounded(r, g.Name(), maxSize)
}

func (x *xzCompressor) decompressBounded(data []byte, maxSize int) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, &DecompressionError{Codec: x.Name(), Expected: maxSize, Err: err}
	}
	return readBounded(r, x.Name(), maxSize)
}

func (l *lzmaCompressor) decompressBounded(data []byte, maxSize int) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, &DecompressionError{Codec: l.Name(), Expected: maxSize, Err: err}
	}
	return readBounded(r, l.Name(), maxSize)
}

func (z *zstdCompressor) decompressBounded(data []byte, maxSize int) ([]byte, error) {
	if err := z.ensureDecoder(); err != nil {
		return nil, &DecompressionError{Codec: z.Name(), Expected: maxSize, Err: err}
	}
	out, err := z.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, &DecompressionError{Codec: z.Name(), Expected: maxSize, Err: err}
	}
	if len(out) > maxSize {
		return nil, &DecompressionError{Codec: z.Name(), Expected: maxSize, Got: len(out)}
	}
	return out, nil
}

func (l *lz4Compressor) decompressBounded(data []byte, maxSize int) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}
	out := make([]byte, maxSize)
	n, err := lz4.UncompressBlock(data, out)
	if err != nil {
		return nil, &DecompressionError{Codec: l.Name(), Expected: maxSize, Err: err}
	}
	return out[:n], nil
}

func (n *noneCompressor) decompressBounded(data []byte, maxSize int) ([]byte, error) {
	if len(data) > maxSize {
		return nil, &DecompressionError{Codec: n.Name(), Expected: maxSize, Got: len(data)}
	}
	return append([]byte(nil), data...), nil
}
