package compress

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"

	"github.com/squashkit/squashkit/pkg/format"
)

// lz4 on-disk blocks are raw lz4 block streams; the options block
// records the stream version and whether high-compression mode was
// used.
type lz4Compressor struct {
	hc bool
}

const (
	lz4OptionsSize   = 8
	lz4StreamVersion = 1
	lz4FlagHC        = 1
)

func newLz4() Compressor {
	return &lz4Compressor{}
}

func (l *lz4Compressor) Name() string          { return "lz4" }
func (l *lz4Compressor) ID() uint16            { return format.CompLz4 }
func (l *lz4Compressor) Supported() bool       { return true }
func (l *lz4Compressor) DefaultBlockSize() int { return format.BlockSizeDefault }

func (l *lz4Compressor) Compress(data []byte, blockSize int) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	var (
		n   int
		err error
	)
	if l.hc {
		var c lz4.CompressorHC
		n, err = c.CompressBlock(data, dst)
	} else {
		var c lz4.Compressor
		n, err = c.CompressBlock(data, dst)
	}
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Incompressible input; hand back an equal-size copy so the
		// caller's store-raw fallback triggers.
		return append([]byte(nil), data...), nil
	}
	return dst[:n], nil
}

func (l *lz4Compressor) Decompress(data []byte, expectedSize int) ([]byte, error) {
	if len(data) == 0 {
		if expectedSize == 0 {
			return []byte{}, nil
		}
		return nil, &DecompressionError{Codec: l.Name(), Expected: expectedSize, Got: 0}
	}
	out := make([]byte, expectedSize)
	n, err := lz4.UncompressBlock(data, out)
	if err != nil {
		return nil, &DecompressionError{Codec: l.Name(), Expected: expectedSize, Err: err}
	}
	if n != expectedSize {
		return nil, &DecompressionError{Codec: l.Name(), Expected: expectedSize, Got: n}
	}
	return out, nil
}

func (l *lz4Compressor) ParseOption(name, value string) error {
	switch name {
	case "hc", "Xhc":
		if value != "" && value != "true" {
			return &OptionError{Codec: l.Name(), Option: name, Value: value, Reason: "takes no value"}
		}
		l.hc = true
		return nil
	}
	return &OptionError{Codec: l.Name(), Option: name, Reason: "unrecognized option"}
}

// lz4 always writes an options block; the stream version field is
// mandatory in the on-disk format.
func (l *lz4Compressor) MarshalOptions() []byte {
	b := make([]byte, lz4OptionsSize)
	le := binary.LittleEndian
	le.PutUint32(b[0:], lz4StreamVersion)
	if l.hc {
		le.PutUint32(b[4:], lz4FlagHC)
	}
	return b
}

func (l *lz4Compressor) UnmarshalOptions(b []byte) error {
	if len(b) < lz4OptionsSize {
		return &OptionError{Codec: l.Name(), Option: "options block",
			Reason: fmt.Sprintf("truncated to %d bytes", len(b))}
	}
	le := binary.LittleEndian
	if v := le.Uint32(b[0:]); v != lz4StreamVersion {
		return &OptionError{Codec: l.Name(), Option: "options block",
			Reason: fmt.Sprintf("unknown stream version %d", v)}
	}
	l.hc = le.Uint32(b[4:])&lz4FlagHC != 0
	return nil
}

func (l *lz4Compressor) Usage(w io.Writer) {
	fmt.Fprintf(w, "\t  -Xhc\n")
	fmt.Fprintf(w, "\t\tCompress using LZ4 High Compression\n")
}
