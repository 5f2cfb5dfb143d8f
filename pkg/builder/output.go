package builder

import (
	"os"

	"github.com/pkg/errors"
)

// padTo pads finished images to a 4 KiB boundary so they loop-mount
// cleanly.
const padTo = 4096

// output owns the image file being built. All writes append at the
// tracked position except the final superblock patch at offset 0.
type output struct {
	f   *os.File
	pos int64
}

func createOutput(path string) (*output, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "create image")
	}
	return &output{f: f}, nil
}

func (o *output) Position() int64 { return o.pos }

// SeekTo moves the append position; used once to skip the superblock
// region before data is written.
func (o *output) SeekTo(pos int64) { o.pos = pos }

func (o *output) Append(b []byte) error {
	if _, err := o.f.WriteAt(b, o.pos); err != nil {
		return errors.Wrap(err, "write image")
	}
	o.pos += int64(len(b))
	return nil
}

// WriteAt patches already-written regions, e.g. the superblock.
func (o *output) WriteAt(b []byte, pos int64) error {
	_, err := o.f.WriteAt(b, pos)
	return errors.Wrap(err, "patch image")
}

// ReadAt serves the fragment processor's authoritative tier.
func (o *output) ReadAt(b []byte, pos int64) (int, error) {
	return o.f.ReadAt(b, pos)
}

// Pad extends the image to the padding boundary.
func (o *output) Pad() error {
	if rem := o.pos % padTo; rem != 0 {
		return o.Append(make([]byte, padTo-rem))
	}
	return nil
}

func (o *output) Close() error { return o.f.Close() }
