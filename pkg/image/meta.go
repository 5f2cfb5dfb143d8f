package image

import (
	"github.com/pkg/errors"

	"github.com/squashkit/squashkit/pkg/format"
)

// metaReader is a cursor over one metadata table. Records may span
// block boundaries, so the reader keeps a growing window of decoded
// bytes; callers size a record from the window before consuming it.
type metaReader struct {
	img   *Image
	start int64

	next int64
	buf  []byte
}

func (img *Image) metaReader(tableStart int64) *metaReader {
	return &metaReader{img: img, start: tableStart, next: tableStart}
}

// seek positions the cursor at the record living at offset within the
// decoded metadata block starting block bytes into the table.
func (r *metaReader) seek(block int64, offset int) error {
	r.next = r.start + block
	r.buf = nil
	if err := r.load(); err != nil {
		return err
	}
	if offset > len(r.buf) {
		return errors.Wrapf(format.ErrCorruptTable,
			"offset %d beyond metadata block of %d bytes", offset, len(r.buf))
	}
	r.buf = r.buf[offset:]
	return nil
}

func (r *metaReader) load() error {
	payload, next, err := r.img.readMetaBlockAt(r.next)
	if err != nil {
		return err
	}
	r.buf = append(r.buf, payload...)
	r.next = next
	return nil
}

// window returns at least n unconsumed bytes, pulling further blocks
// as needed.
func (r *metaReader) window(n int) ([]byte, error) {
	for len(r.buf) < n {
		if err := r.load(); err != nil {
			return nil, err
		}
	}
	return r.buf, nil
}

func (r *metaReader) consume(n int) { r.buf = r.buf[n:] }
