package compress

import (
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/squashkit/squashkit/pkg/format"
)

// unsupportedCompressor is the sentinel returned for codecs this build
// recognizes but cannot code (lzo) and for unknown names or ids. Every
// coding call fails with a descriptive error instead of a crash.
type unsupportedCompressor struct {
	name string
	id   uint16
}

func newLzo() Compressor {
	return &unsupportedCompressor{name: "lzo", id: format.CompLzo}
}

func newUnknown(name string, id uint16) Compressor {
	return &unsupportedCompressor{name: name, id: id}
}

func (u *unsupportedCompressor) Name() string          { return u.name }
func (u *unsupportedCompressor) ID() uint16            { return u.id }
func (u *unsupportedCompressor) Supported() bool       { return false }
func (u *unsupportedCompressor) DefaultBlockSize() int { return format.BlockSizeDefault }

func (u *unsupportedCompressor) Compress(data []byte, blockSize int) ([]byte, error) {
	return nil, errors.Wrapf(ErrUnsupported, "%s", u.name)
}

func (u *unsupportedCompressor) Decompress(data []byte, expectedSize int) ([]byte, error) {
	return nil, errors.Wrapf(ErrUnsupported, "%s", u.name)
}

func (u *unsupportedCompressor) ParseOption(name, value string) error {
	return &OptionError{Codec: u.name, Option: name, Reason: "compressor not supported"}
}

func (u *unsupportedCompressor) MarshalOptions() []byte          { return nil }
func (u *unsupportedCompressor) UnmarshalOptions(b []byte) error { return nil }

func (u *unsupportedCompressor) Usage(w io.Writer) {
	fmt.Fprintf(w, "\t  (not supported by this build)\n")
}
