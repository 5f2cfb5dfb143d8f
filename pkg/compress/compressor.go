// Package compress provides the pluggable block codec layer: one
// compressor per supported algorithm, selected by name or by the
// numeric id stored in the superblock. A codec works on exactly one
// metadata or data block at a time and never spans blocks. Whether a
// block is stored compressed is the caller's decision: if the
// compressed result is not smaller than the input, the caller stores
// the block raw and flags it uncompressed in the size field.
package compress

import (
	"fmt"
	"io"

	"github.com/squashkit/squashkit/pkg/format"
)

// Compressor compresses and decompresses single blocks and carries its
// per-session option state.
type Compressor interface {
	// Name is the codec's canonical name ("gzip", "zstd", ...).
	Name() string
	// ID is the compression id stored in the superblock.
	ID() uint16
	// Supported reports whether this build can actually code blocks;
	// sentinel codecs return false and fail Compress/Decompress.
	Supported() bool

	// Compress returns the compressed form of data. blockSize is the
	// configured block size, an upper bound on len(data).
	Compress(data []byte, blockSize int) ([]byte, error)
	// Decompress inflates data; the result must be exactly
	// expectedSize bytes or the call fails with a DecompressionError.
	Decompress(data []byte, expectedSize int) ([]byte, error)

	// DefaultBlockSize is the block size the codec prefers.
	DefaultBlockSize() int

	// ParseOption consumes one command-line option ("level", "9").
	ParseOption(name, value string) error
	// MarshalOptions serializes the codec's options into the
	// little-endian compressor-options block, or nil when the codec
	// writes none.
	MarshalOptions() []byte
	// UnmarshalOptions loads a compressor-options block read from an
	// image.
	UnmarshalOptions(b []byte) error
	// Usage writes the codec's option help text.
	Usage(w io.Writer)
}

// constructors, ordered by preference for usage listings.
var constructors = []func() Compressor{
	newGzip,
	newLzo,
	newLz4,
	newXz,
	newZstd,
	newLzma,
	newNone,
}

// Lookup returns a fresh compressor by name. Unrecognized names yield
// the unsupported sentinel rather than an error, so callers surface a
// descriptive failure at first use instead of crashing on selection.
func Lookup(name string) Compressor {
	for _, ctor := range constructors {
		if c := ctor(); c.Name() == name {
			return c
		}
	}
	return newUnknown(name, format.CompUnknown)
}

// LookupID returns a fresh compressor by superblock compression id,
// falling back to the unsupported sentinel.
func LookupID(id uint16) Compressor {
	for _, ctor := range constructors {
		if c := ctor(); c.ID() == id {
			return c
		}
	}
	return newUnknown(fmt.Sprintf("unknown (%d)", id), id)
}

// Valid reports whether name selects a codec this build supports.
func Valid(name string) bool { return Lookup(name).Supported() }

// DisplayUsage lists every supported codec and its options. def marks
// the default codec.
func DisplayUsage(w io.Writer, def string) {
	fmt.Fprintf(w, "Compressors available and compressor specific options:\n")
	for _, ctor := range constructors {
		c := ctor()
		if !c.Supported() {
			continue
		}
		if c.Name() == def {
			fmt.Fprintf(w, "\t%s (default)\n", c.Name())
		} else {
			fmt.Fprintf(w, "\t%s\n", c.Name())
		}
		c.Usage(w)
	}
}
