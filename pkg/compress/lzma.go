package compress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ulikunitz/xz/lzma"

	"github.com/squashkit/squashkit/pkg/format"
)

// lzma is the legacy alone-format codec; it takes no options and writes
// no compressor-options block.
type lzmaCompressor struct{}

func newLzma() Compressor {
	return &lzmaCompressor{}
}

func (l *lzmaCompressor) Name() string          { return "lzma" }
func (l *lzmaCompressor) ID() uint16            { return format.CompLzma }
func (l *lzmaCompressor) Supported() bool       { return true }
func (l *lzmaCompressor) DefaultBlockSize() int { return format.BlockSizeDefault }

func (l *lzmaCompressor) Compress(data []byte, blockSize int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := lzma.NewWriter(&buf)
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

func (l *lzmaCompressor) Decompress(data []byte, expectedSize int) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, &DecompressionError{Codec: l.Name(), Expected: expectedSize, Err: err}
	}
	return readExactly(r, l.Name(), expectedSize)
}

func (l *lzmaCompressor) ParseOption(name, value string) error {
	return &OptionError{Codec: l.Name(), Option: name, Reason: "lzma takes no options"}
}

func (l *lzmaCompressor) MarshalOptions() []byte { return nil }

func (l *lzmaCompressor) UnmarshalOptions(b []byte) error {
	if len(b) != 0 {
		return &OptionError{Codec: l.Name(), Option: "options block",
			Reason: fmt.Sprintf("unexpected %d-byte options block", len(b))}
	}
	return nil
}

func (l *lzmaCompressor) Usage(w io.Writer) {
	fmt.Fprintf(w, "\t  (no options)\n")
}
