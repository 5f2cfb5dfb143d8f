package compress

import (
	"fmt"
	"io"

	"github.com/squashkit/squashkit/pkg/format"
)

// noneCompressor stores blocks verbatim. Selecting it makes the builder
// flag every block uncompressed, since "compressed" output is never
// smaller than the input.
type noneCompressor struct{}

func newNone() Compressor { return &noneCompressor{} }

func (n *noneCompressor) Name() string          { return "none" }
func (n *noneCompressor) ID() uint16            { return format.CompUnknown }
func (n *noneCompressor) Supported() bool       { return true }
func (n *noneCompressor) DefaultBlockSize() int { return format.BlockSizeDefault }

func (n *noneCompressor) Compress(data []byte, blockSize int) ([]byte, error) {
	return append([]byte(nil), data...), nil
}

func (n *noneCompressor) Decompress(data []byte, expectedSize int) ([]byte, error) {
	if len(data) != expectedSize {
		return nil, &DecompressionError{Codec: n.Name(), Expected: expectedSize, Got: len(data)}
	}
	return append([]byte(nil), data...), nil
}

func (n *noneCompressor) ParseOption(name, value string) error {
	return &OptionError{Codec: n.Name(), Option: name, Reason: "none takes no options"}
}

func (n *noneCompressor) MarshalOptions() []byte          { return nil }
func (n *noneCompressor) UnmarshalOptions(b []byte) error { return nil }

func (n *noneCompressor) Usage(w io.Writer) {
	fmt.Fprintf(w, "\t  (no options)\n")
}
