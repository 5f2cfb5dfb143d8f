package format

import (
	"fmt"

	"github.com/pkg/errors"
)

// Format errors are fatal to the current open or build operation; the
// on-disk contract is violated and nothing is retried.
var (
	// ErrInvalidMagic means the superblock magic matches neither the
	// native nor the byte-swapped constant.
	ErrInvalidMagic = errors.New("invalid superblock magic")

	// ErrBigEndian means the magic is the byte-swapped twin: the image
	// was written on a foreign-endian host. Callers that can swap load
	// with swap-on-read instead of failing.
	ErrBigEndian = errors.New("foreign-endian image")

	// ErrCorruptTable means a table offset or extent falls outside the
	// image or overlaps another table.
	ErrCorruptTable = errors.New("corrupt table layout")

	// ErrInvalidBlockSize means block_size is not a power of two inside
	// [BlockSizeMin, BlockSizeMax] or disagrees with block_log.
	ErrInvalidBlockSize = errors.New("invalid block size")
)

// UnsupportedVersionError reports a recognized image with a version this
// implementation does not read.
type UnsupportedVersionError struct {
	Major, Minor uint16
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported filesystem version %d.%d (need %d.%d)",
		e.Major, e.Minor, MajorVersion, MinorVersion)
}
