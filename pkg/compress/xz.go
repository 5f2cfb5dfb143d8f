package compress

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"

	"github.com/squashkit/squashkit/pkg/format"
)

type xzCompressor struct {
	dictSize uint32
}

const xzOptionsSize = 8

func newXz() Compressor {
	return &xzCompressor{dictSize: format.BlockSizeDefault}
}

func (x *xzCompressor) Name() string          { return "xz" }
func (x *xzCompressor) ID() uint16            { return format.CompXz }
func (x *xzCompressor) Supported() bool       { return true }
func (x *xzCompressor) DefaultBlockSize() int { return format.BlockSizeDefault }

func (x *xzCompressor) Compress(data []byte, blockSize int) ([]byte, error) {
	dictCap := int(x.dictSize)
	if dictCap > blockSize {
		dictCap = blockSize
	}
	if dictCap < lzma.MinDictCap {
		dictCap = lzma.MinDictCap
	}
	cfg := xz.WriterConfig{DictCap: dictCap}
	var buf bytes.Buffer
	w, err := cfg.NewWriter(&buf)
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

func (x *xzCompressor) Decompress(data []byte, expectedSize int) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, &DecompressionError{Codec: x.Name(), Expected: expectedSize, Err: err}
	}
	return readExactly(r, x.Name(), expectedSize)
}

func (x *xzCompressor) ParseOption(name, value string) error {
	switch name {
	case "dict-size", "Xdict-size":
		var v int
		if err := parseIntOption(x.Name(), name, value, 8192, format.BlockSizeMax, &v); err != nil {
			return err
		}
		x.dictSize = uint32(v)
		return nil
	}
	return &OptionError{Codec: x.Name(), Option: name, Reason: "unrecognized option"}
}

func (x *xzCompressor) MarshalOptions() []byte {
	if x.dictSize == format.BlockSizeDefault {
		return nil
	}
	b := make([]byte, xzOptionsSize)
	binary.LittleEndian.PutUint32(b[0:], x.dictSize)
	return b
}

func (x *xzCompressor) UnmarshalOptions(b []byte) error {
	if len(b) < xzOptionsSize {
		return &OptionError{Codec: x.Name(), Option: "options block",
			Reason: fmt.Sprintf("truncated to %d bytes", len(b))}
	}
	x.dictSize = binary.LittleEndian.Uint32(b[0:])
	if x.dictSize < 8192 {
		return &OptionError{Codec: x.Name(), Option: "options block", Reason: "dictionary too small"}
	}
	return nil
}

func (x *xzCompressor) Usage(w io.Writer) {
	fmt.Fprintf(w, "\t  -Xdict-size <size>\n")
	fmt.Fprintf(w, "\t\t<size> should be 8192 .. block-size (default block-size)\n")
}
