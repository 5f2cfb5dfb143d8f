package compress

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"

	"github.com/klauspost/compress/zlib"

	"github.com/squashkit/squashkit/pkg/format"
)

// gzip blocks are zlib streams (RFC 1950), matching the on-disk format.
type gzipCompressor struct {
	level      int
	windowSize int
}

const gzipOptionsSize = 8

func newGzip() Compressor {
	return &gzipCompressor{level: 9, windowSize: 15}
}

func (g *gzipCompressor) Name() string          { return "gzip" }
func (g *gzipCompressor) ID() uint16            { return format.CompGzip }
func (g *gzipCompressor) Supported() bool       { return true }
func (g *gzipCompressor) DefaultBlockSize() int { return format.BlockSizeDefault }

func (g *gzipCompressor) Compress(data []byte, blockSize int) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(data))
	w, err := zlib.NewWriterLevel(&buf, g.level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g *gzipCompressor) Decompress(data []byte, expectedSize int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, &DecompressionError{Codec: g.Name(), Expected: expectedSize, Err: err}
	}
	defer r.Close()
	return readExactly(r, g.Name(), expectedSize)
}

func (g *gzipCompressor) ParseOption(name, value string) error {
	switch name {
	case "level", "Xcompression-level":
		return parseIntOption(g.Name(), name, value, 1, 9, &g.level)
	case "window", "Xwindow-size":
		return parseIntOption(g.Name(), name, value, 8, 15, &g.windowSize)
	}
	return &OptionError{Codec: g.Name(), Option: name, Reason: "unrecognized option"}
}

func (g *gzipCompressor) MarshalOptions() []byte {
	if g.level == 9 && g.windowSize == 15 {
		return nil
	}
	b := make([]byte, gzipOptionsSize)
	le := binary.LittleEndian
	le.PutUint32(b[0:], uint32(g.level))
	le.PutUint16(b[4:], uint16(g.windowSize))
	return b
}

func (g *gzipCompressor) UnmarshalOptions(b []byte) error {
	if len(b) < gzipOptionsSize {
		return &OptionError{Codec: g.Name(), Option: "options block",
			Reason: fmt.Sprintf("truncated to %d bytes", len(b))}
	}
	le := binary.LittleEndian
	g.level = int(le.Uint32(b[0:]))
	g.windowSize = int(le.Uint16(b[4:]))
	if g.level < 1 || g.level > 9 || g.windowSize < 8 || g.windowSize > 15 {
		return &OptionError{Codec: g.Name(), Option: "options block", Reason: "out-of-range values"}
	}
	return nil
}

func (g *gzipCompressor) Usage(w io.Writer) {
	fmt.Fprintf(w, "\t  -Xcompression-level <l>\n")
	fmt.Fprintf(w, "\t\t<l> should be 1 .. 9 (default 9)\n")
	fmt.Fprintf(w, "\t  -Xwindow-size <w>\n")
	fmt.Fprintf(w, "\t\t<w> should be 8 .. 15 (default 15)\n")
}

// readExactly drains r expecting exactly want bytes.
func readExactly(r io.Reader, codec string, want int) ([]byte, error) {
	out := make([]byte, want)
	n, err := io.ReadFull(r, out)
	if err != nil {
		return nil, &DecompressionError{Codec: codec, Expected: want, Got: n, Err: err}
	}
	// A longer stream than expected is as corrupt as a shorter one.
	var extra [1]byte
	if m, _ := r.Read(extra[:]); m != 0 {
		return nil, &DecompressionError{Codec: codec, Expected: want, Got: want + m}
	}
	return out, nil
}

func parseIntOption(codec, name, value string, min, max int, out *int) error {
	v, err := strconv.Atoi(value)
	if err != nil || v < min || v > max {
		return &OptionError{Codec: codec, Option: name, Value: value,
			Reason: fmt.Sprintf("expected integer %d .. %d", min, max)}
	}
	*out = v
	return nil
}
