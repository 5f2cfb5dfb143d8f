package compress

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrUnsupported marks a codec this build cannot code blocks with.
var ErrUnsupported = errors.New("compressor not supported by this build")

// DecompressionError reports a block that failed to inflate or inflated
// to the wrong length. Fatal for the block involved; build callers
// abort, read callers may skip the entry.
type DecompressionError struct {
	Codec    string
	Expected int
	Got      int
	Err      error
}

func (e *DecompressionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: decompression failed: %v", e.Codec, e.Err)
	}
	return fmt.Sprintf("%s: decompressed to %d bytes, expected %d", e.Codec, e.Got, e.Expected)
}

func (e *DecompressionError) Unwrap() error { return e.Err }

// OptionError reports an unrecognized codec option or an out-of-range
// value.
type OptionError struct {
	Codec  string
	Option string
	Value  string
	Reason string
}

func (e *OptionError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: option %q: %s", e.Codec, e.Option, e.Reason)
	}
	return fmt.Sprintf("%s: option %s=%q: %s", e.Codec, e.Option, e.Value, e.Reason)
}
