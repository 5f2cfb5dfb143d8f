// Package reader serves source file reads during image construction.
// Sequential consumers get readahead; consumers that revisit earlier
// ranges are served from buffered chunks without re-seeking.
package reader

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

const (
	// chunkShift aligns readahead chunks to 8 KiB boundaries.
	chunkShift = 13
	chunkSize  = 1 << chunkShift
	chunkMask  = chunkSize - 1

	// maxChunks bounds buffered readahead per file; the chunk furthest
	// behind the cursor is evicted first.
	maxChunks = 64
)

// Reader wraps one source file. In direct mode every read seeks and
// reads the file without buffering. In readahead mode reads at or past
// the cursor pull whole aligned chunks into a table keyed by chunk
// start, and reads behind the cursor are served from that table.
type Reader struct {
	mu     sync.Mutex
	f      *os.File
	direct bool
	cursor int64
	chunks map[int64]*chunk
}

type chunk struct {
	start int64
	data  []byte
}

// Open opens path for reading. direct disables readahead and advises
// the kernel of random access.
func Open(path string, direct bool) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open source file")
	}
	if direct {
		adviseRandom(f)
	}
	return &Reader{f: f, direct: direct, chunks: make(map[int64]*chunk)}, nil
}

// Close releases the file and all buffered chunks.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = nil
	return r.f.Close()
}

// ReadData fills buf from offset, choosing the direct, sequential or
// behind-cursor path. It returns the number of bytes read; a short
// count without error means end of file.
func (r *Reader) ReadData(buf []byte, offset int64) (int, error) {
	if r.direct {
		n, err := r.f.ReadAt(buf, offset)
		if err == io.EOF {
			err = nil
		}
		return n, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	total := 0
	for total < len(buf) {
		pos := offset + int64(total)
		c, err := r.chunkAt(pos &^ chunkMask)
		if err != nil {
			return total, err
		}
		within := int(pos - c.start)
		if within >= len(c.data) {
			// Chunk is shorter than requested: end of file.
			return total, nil
		}
		total += copy(buf[total:], c.data[within:])
	}
	return total, nil
}

// chunkAt returns the buffered chunk starting at the aligned offset,
// reading it in if absent. Reads at or beyond the cursor advance it;
// earlier reads leave the cursor alone so a sequential consumer and a
// revisiting consumer can interleave.
func (r *Reader) chunkAt(start int64) (*chunk, error) {
	if c, ok := r.chunks[start]; ok {
		return c, nil
	}
	data := make([]byte, chunkSize)
	n, err := r.f.ReadAt(data, start)
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "readahead")
	}
	c := &chunk{start: start, data: data[:n]}
	r.store(c)
	if start >= r.cursor {
		r.cursor = start + chunkSize
	}
	return c, nil
}

// store inserts a chunk, evicting the one furthest behind the cursor
// when the table is full.
func (r *Reader) store(c *chunk) {
	if len(r.chunks) >= maxChunks {
		var victim int64 = -1
		for start := range r.chunks {
			if victim == -1 || start < victim {
				victim = start
			}
		}
		delete(r.chunks, victim)
	}
	r.chunks[c.start] = c
}

// Buffered reports how many readahead chunks are resident.
func (r *Reader) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}
