package builder

import (
	"math"

	"github.com/pkg/errors"

	"github.com/squashkit/squashkit/pkg/format"
	"github.com/squashkit/squashkit/pkg/fragment"
	"github.com/squashkit/squashkit/pkg/queue"
	"github.com/squashkit/squashkit/pkg/threads"
)

var errBuildAborted = errors.New("build aborted")

func errFileShrunk(path string) error {
	return errors.Errorf("%s changed size while being read", path)
}

// plan assigns a data ordinal to every regular file that will emit
// data blocks; the sequencing queue orders the write stream by that
// ordinal. Fragment-only and empty files do not take part.
func (s *Session) plan(all []*node) (regular []*node, dataFiles []*node) {
	bs := int64(s.cfg.BlockSize)
	for _, n := range all {
		if !n.mode.IsRegular() {
			continue
		}
		regular = append(regular, n)
		full := n.size / bs
		if !s.useFragment(n.size) && n.size%bs != 0 {
			full++
		}
		if full > 0 {
			n.dataIndex = len(dataFiles)
			dataFiles = append(dataFiles, n)
		}
	}
	return regular, dataFiles
}

// useFragment reports whether a file's tail is stored as a fragment:
// whole files smaller than a block always, larger tails only when
// always-fragments is on.
func (s *Session) useFragment(size int64) bool {
	if s.cfg.NoFragments {
		return false
	}
	if size%int64(s.cfg.BlockSize) == 0 {
		return false
	}
	return size < int64(s.cfg.BlockSize) || s.cfg.AlwaysFragments
}

// readFiles is the reader role: it pulls every regular file through
// the readahead layer, hands full blocks to the deflators through its
// read queue ring and tails to the fragment processor. After a
// failure it closes out the remaining data ordinals with synthetic
// errored buffers so the writer's sequencing accounting completes.
func (s *Session) readFiles(ring int, regular []*node) error {
	var firstErr error
	for _, n := range regular {
		if firstErr != nil {
			s.bail(n, 0, false)
			continue
		}
		emitted, closed, err := s.readFile(ring, n)
		if err != nil {
			s.log.WithError(err).WithField("file", n.path).Error("read failed")
			firstErr = err
			s.bail(n, emitted, closed)
		}
	}
	return firstErr
}

// readFile emits one file's full blocks and processes its tail. It
// reports how many blocks were emitted and whether the file's
// sequencing slot was closed by a final NextFile buffer.
func (s *Session) readFile(ring int, n *node) (emitted int64, closed bool, err error) {
	useFrag := s.useFragment(n.size)
	bs := int64(s.cfg.BlockSize)
	fullBlocks := n.size / bs
	tail := n.size - fullBlocks*bs
	if !useFrag {
		if tail > 0 {
			fullBlocks++
		}
		tail = 0
	}
	if fullBlocks == 0 && tail == 0 {
		return 0, false, nil
	}

	// Tail-only files are consumed in a single read, so readahead buys
	// nothing; they take the direct path.
	r, err := s.readers.Open(n.path, fullBlocks == 0)
	if err != nil {
		return 0, false, err
	}

	for blk := int64(0); blk < fullBlocks; blk++ {
		want := int(bs)
		if rest := n.size - blk*bs; rest < bs {
			want = int(rest)
		}
		b := s.blockCache.Get(s.nextIndex())
		b.Kind = queue.KindBlock
		b.FileCount = int64(n.dataIndex)
		b.Block = blk
		b.FileSize = n.size
		b.Thread = ring
		got, err := r.ReadData(b.Data[:want], blk*bs)
		if err == nil && got != want {
			err = errFileShrunk(n.path)
		}
		if err != nil {
			s.blockCache.Put(b)
			return emitted, false, err
		}
		b.Size = want
		if !s.cfg.NoSparse {
			b.Checksum, b.Sparse = fragment.ChecksumSparse(b.Payload())
			b.HaveChecksum = true
		}
		// The tail fragment never passes through the sequencing queue,
		// so the last full block always closes the file's slot.
		if blk == fullBlocks-1 {
			b.Next = queue.NextFile
		} else {
			b.Next = queue.NextBlock
		}
		s.readQueue.Put(ring, b)
		emitted++
	}
	closed = fullBlocks > 0

	if tail > 0 {
		buf := make([]byte, tail)
		got, err := r.ReadData(buf, fullBlocks*bs)
		if err == nil && int64(got) != tail {
			err = errFileShrunk(n.path)
		}
		if err != nil {
			return emitted, closed, err
		}
		desc, dup, err := s.frag.Process(buf)
		if err != nil {
			return emitted, closed, err
		}
		n.frag = desc
		n.sparseTail = desc.Index == fragment.NoFragment
		if dup {
			s.duplicateTails.Add(1)
		}
	}
	return emitted, closed, nil
}

// bail closes a data ordinal the reader will never finish: one
// synthetic errored buffer at the next expected block. Slots already
// closed, and files without an ordinal, need nothing.
func (s *Session) bail(n *node, emitted int64, closed bool) {
	if n.dataIndex < 0 || closed {
		return
	}
	s.toWriter.Put(&queue.FileBuffer{
		FileCount: int64(n.dataIndex),
		Block:     emitted,
		Next:      queue.NextFile,
		Err:       errBuildAborted,
	})
}

// deflate is the block-deflator role: take the globally earliest raw
// buffer, compress it in place when that shrinks it, release it to the
// sequencing queue. Sparse blocks pass through untouched.
func (s *Session) deflate() {
	tid := s.coord.GetThreadID(threads.BlockDeflator)
	defer s.coord.SetIdle(tid)
	for {
		b := s.readQueue.Get()
		if b.Kind == queue.KindControl {
			return
		}
		s.coord.WaitIdle(tid)
		switch {
		case b.Sparse:
			b.CSize = 0
		case s.cfg.NoCompressData:
			b.CSize = b.Size
		default:
			c, err := s.codec.Compress(b.Payload(), s.cfg.BlockSize)
			if err != nil {
				b.Err = err
			} else if len(c) < b.Size {
				copy(b.Data, c)
				b.CSize = len(c)
			} else {
				b.CSize = b.Size
			}
		}
		s.toWriter.Put(b)
	}
}

// deflateFragments is the fragment-deflator role: it compresses sealed
// fragment blocks into write-cache buffers and keeps a decompressed
// copy in the reserve cache for duplicate probes.
func (s *Session) deflateFragments() {
	tid := s.coord.GetThreadID(threads.FragmentDeflator)
	defer s.coord.SetIdle(tid)
	for {
		// Idle while waiting for work so block deflators are not
		// throttled against a slot that is doing nothing.
		s.coord.SetIdle(tid)
		// Claim the write-cache buffer in dequeue order. A later block
		// must not take the last free buffer while an earlier one still
		// needs its claim, or the in-order writer could never drain.
		s.fragClaim.Lock()
		b := s.fragQueue.Get()
		if b.Kind == queue.KindControl {
			s.fragClaim.Unlock()
			return
		}
		s.coord.SetActive(tid)
		wb := s.writeCache.Get(b.Index)
		s.fragClaim.Unlock()
		wb.Kind = queue.KindFragment
		wb.Sequence = b.Index
		wb.Size = b.Size
		if s.cfg.NoCompressFragments {
			wb.CSize = copy(wb.Data, b.Payload())
		} else {
			c, err := s.codec.Compress(b.Payload(), s.cfg.BlockSize)
			if err != nil {
				wb.Err = err
			} else if len(c) < b.Size {
				copy(wb.Data, c)
				wb.CSize = len(c)
			} else {
				wb.CSize = copy(wb.Data, b.Payload())
			}
		}

		// wb is final; pin it so duplicate probes can snapshot the
		// stored bytes until the writer records the block's location.
		s.writeCache.Lock(wb)

		rb := s.reserveCache.Get(b.Index)
		rb.Size = copy(rb.Data, b.Payload())
		s.reserveCache.Put(rb)

		s.fragCache.Unlock(b)
		s.fragCache.Put(b)
		s.fragSeq.SeqPut(wb)
	}
}

// writeData is the single writer for file data blocks. It consumes the
// sequencing queue in strict order, so every file's blocks land
// contiguously; the region lock keeps the fragment writer out of an
// open block run.
func (s *Session) writeData(dataFiles []*node) error {
	var firstErr error
	locked := false
	for {
		b := s.toWriter.Get()
		if b.Kind == queue.KindControl {
			break
		}
		synthetic := b.Data == nil
		if b.Err != nil && firstErr == nil {
			firstErr = b.Err
		}
		if b.Block == 0 && !locked {
			s.wmu.Lock()
			locked = true
		}
		if firstErr == nil {
			n := dataFiles[b.FileCount]
			if b.Block == 0 {
				n.startBlock = s.out.Position()
			}
			if b.Sparse {
				n.blockList = append(n.blockList, 0)
			} else {
				compressed := b.CSize < b.Size
				if err := s.out.Append(b.Data[:b.CSize]); err != nil {
					firstErr = err
				} else {
					n.blockList = append(n.blockList,
						format.BlockSizeField(uint32(b.CSize), compressed))
				}
			}
		}
		if b.Next == queue.NextFile && locked {
			s.wmu.Unlock()
			locked = false
		}
		if !synthetic {
			s.blockCache.Put(b)
		}
	}
	if locked {
		s.wmu.Unlock()
	}
	return firstErr
}

// writeFragments appends compressed fragment blocks in seal order and
// records their table entries. It takes the region lock per block so
// it never splits a file's data run.
func (s *Session) writeFragments() error {
	var firstErr error
	for {
		fb := s.fragSeq.SeqGet()
		if fb.Kind == queue.KindControl {
			return firstErr
		}
		if fb.Err != nil {
			if firstErr == nil {
				firstErr = fb.Err
			}
			s.writeCache.Unlock(fb)
			s.writeCache.Put(fb)
			continue
		}
		if firstErr == nil {
			s.wmu.Lock()
			pos := s.out.Position()
			compressed := fb.CSize < fb.Size
			err := s.out.Append(fb.Data[:fb.CSize])
			s.wmu.Unlock()
			if err != nil {
				firstErr = err
			} else {
				s.frag.SetEntry(fb.Sequence, format.FragmentEntry{
					StartBlock: pos,
					Size:       format.BlockSizeField(uint32(fb.CSize), compressed),
				})
			}
		}
		// Unpin only after the entry is recorded, so a probe that misses
		// the caches can fall through to the on-disk tier.
		s.writeCache.Unlock(fb)
		s.writeCache.Put(fb)
	}
}

// shutdown closes the pipeline once the readers are done: the last
// fragment block is sealed, every deflator gets one control buffer and
// both writers get their end-of-stream marks. fragsDone must block
// until the fragment deflators have exited so the fragment writer's
// end mark really is last.
func (s *Session) shutdown(dataFiles, deflators, fragDeflators int, fragsDone func()) {
	s.frag.Flush()
	for i := 0; i < fragDeflators; i++ {
		s.fragQueue.Put(&queue.FileBuffer{Kind: queue.KindControl})
	}
	for i := 0; i < deflators; i++ {
		s.readQueue.Put(0, &queue.FileBuffer{Kind: queue.KindControl, FileCount: math.MaxInt64})
	}
	s.toWriter.Put(&queue.FileBuffer{Kind: queue.KindControl, FileCount: int64(dataFiles)})
	fragsDone()
	s.fragSeq.SeqPut(&queue.FileBuffer{Kind: queue.KindControl, Sequence: s.frag.Count()})
}

func (s *Session) nextIndex() int64 {
	return s.blockIndex.Add(1) - 1
}
