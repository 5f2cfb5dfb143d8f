package compress

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/squashkit/squashkit/pkg/format"
)

// zstdCompressor builds its encoder and decoder on first use, after
// options are applied. One instance is shared by every deflator
// goroutine, so initialization goes through sync.Once.
type zstdCompressor struct {
	level int

	encOnce sync.Once
	enc     *zstd.Encoder
	encErr  error

	decOnce sync.Once
	dec     *zstd.Decoder
	decErr  error
}

const zstdOptionsSize = 4

func newZstd() Compressor {
	return &zstdCompressor{level: 15}
}

func (z *zstdCompressor) Name() string          { return "zstd" }
func (z *zstdCompressor) ID() uint16            { return format.CompZstd }
func (z *zstdCompressor) Supported() bool       { return true }
func (z *zstdCompressor) DefaultBlockSize() int { return format.BlockSizeDefault }

func (z *zstdCompressor) Compress(data []byte, blockSize int) ([]byte, error) {
	z.encOnce.Do(func() {
		z.enc, z.encErr = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(z.level)),
			zstd.WithEncoderConcurrency(1))
	})
	if z.encErr != nil {
		return nil, z.encErr
	}
	return z.enc.EncodeAll(data, nil), nil
}

func (z *zstdCompressor) ensureDecoder() error {
	z.decOnce.Do(func() {
		z.dec, z.decErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	})
	return z.decErr
}

func (z *zstdCompressor) Decompress(data []byte, expectedSize int) ([]byte, error) {
	if err := z.ensureDecoder(); err != nil {
		return nil, &DecompressionError{Codec: z.Name(), Expected: expectedSize, Err: err}
	}
	out, err := z.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, &DecompressionError{Codec: z.Name(), Expected: expectedSize, Err: err}
	}
	if len(out) != expectedSize {
		return nil, &DecompressionError{Codec: z.Name(), Expected: expectedSize, Got: len(out)}
	}
	return out, nil
}

func (z *zstdCompressor) ParseOption(name, value string) error {
	switch name {
	case "level", "Xcompression-level":
		return parseIntOption(z.Name(), name, value, 1, 22, &z.level)
	}
	return &OptionError{Codec: z.Name(), Option: name, Reason: "unrecognized option"}
}

func (z *zstdCompressor) MarshalOptions() []byte {
	if z.level == 15 {
		return nil
	}
	b := make([]byte, zstdOptionsSize)
	binary.LittleEndian.PutUint32(b, uint32(z.level))
	return b
}

func (z *zstdCompressor) UnmarshalOptions(b []byte) error {
	if len(b) < zstdOptionsSize {
		return &OptionError{Codec: z.Name(), Option: "options block",
			Reason: fmt.Sprintf("truncated to %d bytes", len(b))}
	}
	z.level = int(binary.LittleEndian.Uint32(b))
	if z.level < 1 || z.level > 22 {
		return &OptionError{Codec: z.Name(), Option: "options block", Reason: "out-of-range level"}
	}
	return nil
}

func (z *zstdCompressor) Usage(w io.Writer) {
	fmt.Fprintf(w, "\t  -Xcompression-level <l>\n")
	fmt.Fprintf(w, "\t\t<l> should be 1 .. 22 (default 15)\n")
}
