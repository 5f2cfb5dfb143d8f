package builder

import (
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/squashkit/squashkit/pkg/cache"
	"github.com/squashkit/squashkit/pkg/compress"
	"github.com/squashkit/squashkit/pkg/format"
	"github.com/squashkit/squashkit/pkg/fragment"
	"github.com/squashkit/squashkit/pkg/queue"
	"github.com/squashkit/squashkit/pkg/reader"
	"github.com/squashkit/squashkit/pkg/threads"
)

// Stats summarizes a finished build.
type Stats struct {
	Inodes         int
	DataFiles      int
	Fragments      int64
	DuplicateTails int64
	BytesUsed      int64
}

// Session holds every component of one build. Nothing is shared
// between sessions; create one per image.
type Session struct {
	cfg   Config
	codec compress.Compressor
	log   *logrus.Entry
	out   *output

	blockCache   *cache.BlockCache
	fragCache    *cache.BlockCache
	writeCache   *cache.BlockCache
	reserveCache *cache.BlockCache

	readQueue *queue.ReadQueue
	toWriter  *queue.SeqQueue
	fragQueue *queue.BoundedQueue
	fragSeq   *queue.SeqQueue

	frag    *fragment.Processor
	coord   *threads.Coordinator
	readers *reader.Manager
	ids     *idTable

	// wmu serializes image appends at file-run granularity.
	wmu sync.Mutex
	// fragClaim orders write-cache claims by fragment dequeue order.
	fragClaim sync.Mutex

	blockIndex     atomic.Int64
	duplicateTails atomic.Int64
}

// Build constructs an image at outPath from the tree rooted at
// sourceDir.
func Build(cfg Config, sourceDir, outPath string, log *logrus.Logger) (*Stats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}
	entry := log.WithField("image", filepath.Base(outPath))

	codec, err := cfg.Compressor()
	if err != nil {
		return nil, err
	}
	root, all, err := scan(sourceDir)
	if err != nil {
		return nil, err
	}
	out, err := createOutput(outPath)
	if err != nil {
		return nil, err
	}
	defer out.Close()

	procs := cfg.Processors
	if procs <= 0 {
		procs = runtime.NumCPU()
	}
	fragProcs := procs / 4
	if fragProcs < 1 {
		fragProcs = 1
	}
	ringSize := 2*procs + 2

	s := &Session{
		cfg:          cfg,
		codec:        codec,
		log:          entry,
		out:          out,
		blockCache:   cache.NewBlockCache(cfg.BlockSize, ringSize+2*procs+4, false),
		fragCache:    cache.NewBlockCache(cfg.BlockSize, 3*fragProcs+6, false),
		writeCache:   cache.NewBlockCache(cfg.BlockSize, 2*fragProcs+4, false),
		reserveCache: cache.NewBlockCache(cfg.BlockSize, 8, true),
		readQueue:    queue.NewReadQueue(1, ringSize),
		toWriter:     queue.NewSeqQueue(),
		fragQueue:    queue.NewBoundedQueue(2*fragProcs + 2),
		fragSeq:      queue.NewSeqQueue(),
		coord:        threads.NewCoordinator(procs),
		readers:      reader.NewManager(cfg.FileLimit, entry),
		ids:          newIDTable(),
	}
	defer s.readers.Close()

	s.frag = fragment.NewProcessor(fragment.Config{
		BlockSize:   cfg.BlockSize,
		SparseFiles: !cfg.NoSparse,
		Duplicates:  !cfg.NoDuplicates,
	}, codec, s.fragCache, s.writeCache, s.reserveCache, out,
		func(b *queue.FileBuffer) { s.fragQueue.Put(b) }, entry)

	// Superblock region first, then the compressor options block.
	out.SeekTo(format.SuperBlockSize)
	opts := codec.MarshalOptions()
	if len(opts) > 0 {
		hdr, err := format.EncodeMetaHeader(format.MetaHeader{Length: len(opts), Uncompressed: true})
		if err != nil {
			return nil, err
		}
		if err := out.Append(hdr); err != nil {
			return nil, err
		}
		if err := out.Append(opts); err != nil {
			return nil, err
		}
	}

	regular, dataFiles := s.plan(all)
	entry.WithFields(logrus.Fields{
		"inodes":     len(all),
		"files":      len(regular),
		"processors": procs,
	}).Info("build started")

	var g errgroup.Group
	g.Go(func() error { return s.writeData(dataFiles) })
	g.Go(s.writeFragments)
	for i := 0; i < procs; i++ {
		g.Go(func() error { s.deflate(); return nil })
	}
	var fragWG sync.WaitGroup
	for i := 0; i < fragProcs; i++ {
		fragWG.Add(1)
		g.Go(func() error {
			defer fragWG.Done()
			s.deflateFragments()
			return nil
		})
	}
	g.Go(func() error {
		err := s.readFiles(0, regular)
		s.shutdown(len(dataFiles), procs, fragProcs, fragWG.Wait)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "pipeline")
	}

	sb, err := s.writeTables(root, all, len(opts) > 0)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Inodes:         len(all),
		DataFiles:      len(dataFiles),
		Fragments:      s.frag.Count(),
		DuplicateTails: s.duplicateTails.Load(),
		BytesUsed:      sb.BytesUsed,
	}
	entry.WithFields(logrus.Fields{
		"bytes":      stats.BytesUsed,
		"fragments":  stats.Fragments,
		"duplicates": stats.DuplicateTails,
	}).Info("build finished")
	return stats, nil
}

// fragmentEntriesPerBlock is how many 16-byte fragment entries one
// metadata block holds.
const fragmentEntriesPerBlock = format.MetadataSize / format.FragmentEntrySize

// lookupRefsPerBlock is how many packed inode references one metadata
// block of the export table holds.
const lookupRefsPerBlock = format.MetadataSize / 8

// writeTables emits the metadata tables and finalizes the superblock.
func (s *Session) writeTables(root *node, all []*node, hasOptions bool) (*format.SuperBlock, error) {
	// Sparse tails occupy a zero entry in the block list instead of a
	// fragment.
	for _, n := range all {
		if n.sparseTail {
			n.blockList = append(n.blockList, 0)
		}
	}

	inodeW := newMetaWriter(s.codec, s.cfg.NoCompressInodes)
	dirW := newMetaWriter(s.codec, s.cfg.NoCompressInodes)
	if err := s.emitNode(root, root.inodeNum+1, inodeW, dirW); err != nil {
		return nil, err
	}
	if err := inodeW.Flush(); err != nil {
		return nil, err
	}
	if err := dirW.Flush(); err != nil {
		return nil, err
	}

	inodeStart := s.out.Position()
	if err := s.out.Append(inodeW.Bytes()); err != nil {
		return nil, err
	}
	dirStart := s.out.Position()
	if err := s.out.Append(dirW.Bytes()); err != nil {
		return nil, err
	}

	fragStart, err := s.writeFragmentTable()
	if err != nil {
		return nil, err
	}

	lookupStart := format.InvalidTable
	if s.cfg.Exportable {
		lookupStart, err = s.writeLookupTable(all)
		if err != nil {
			return nil, err
		}
	}

	idStart, err := s.ids.Write(s.out, s.codec, s.cfg.NoCompressInodes)
	if err != nil {
		return nil, err
	}

	sb := format.NewSuperBlock(uint32(s.cfg.BlockSize), s.codec.ID())
	sb.Inodes = uint32(len(all))
	sb.MkfsTime = uint32(time.Now().Unix())
	sb.Fragments = uint32(s.frag.Count())
	sb.Flags = s.cfg.flags(hasOptions)
	sb.NoIDs = s.ids.Count()
	sb.RootInode = root.ref
	sb.InodeTableStart = inodeStart
	sb.DirTableStart = dirStart
	sb.FragTableStart = fragStart
	sb.IDTableStart = idStart
	sb.LookupStart = lookupStart
	sb.BytesUsed = s.out.Position()

	if err := s.out.Pad(); err != nil {
		return nil, err
	}
	return sb, s.out.WriteAt(sb.Marshal(), 0)
}

func (s *Session) writeFragmentTable() (int64, error) {
	entries := s.frag.Entries()
	starts := make([]int64, 0, (len(entries)+fragmentEntriesPerBlock-1)/fragmentEntriesPerBlock)
	for off := 0; off < len(entries); off += fragmentEntriesPerBlock {
		end := off + fragmentEntriesPerBlock
		if end > len(entries) {
			end = len(entries)
		}
		payload := make([]byte, 0, format.FragmentEntrySize*(end-off))
		for i := off; i < end; i++ {
			payload = append(payload, entries[i].Marshal()...)
		}
		start, err := writeMetaBlock(s.out, s.codec, payload, s.cfg.NoCompressInodes)
		if err != nil {
			return 0, err
		}
		starts = append(starts, start)
	}
	return writeBlockIndex(s.out, starts)
}

// writeLookupTable emits the export table: one packed inode reference
// per inode number.
func (s *Session) writeLookupTable(all []*node) (int64, error) {
	refs := make([]int64, len(all))
	for _, n := range all {
		refs[n.inodeNum-1] = n.ref
	}
	starts := make([]int64, 0, (len(refs)+lookupRefsPerBlock-1)/lookupRefsPerBlock)
	for off := 0; off < len(refs); off += lookupRefsPerBlock {
		end := off + lookupRefsPerBlock
		if end > len(refs) {
			end = len(refs)
		}
		payload := make([]byte, 8*(end-off))
		for i, ref := range refs[off:end] {
			binary.LittleEndian.PutUint64(payload[8*i:], uint64(ref))
		}
		start, err := writeMetaBlock(s.out, s.codec, payload, s.cfg.NoCompressInodes)
		if err != nil {
			return 0, err
		}
		starts = append(starts, start)
	}
	return writeBlockIndex(s.out, starts)
}

// emitNode writes inodes depth first, children before their parent, so
// every directory listing references already-placed inodes and the
// root inode lands last.
func (s *Session) emitNode(n *node, parentNum uint32, inodeW, dirW *metaWriter) error {
	if !n.isDir() {
		return s.emitLeaf(n, inodeW)
	}
	for _, c := range n.children {
		if err := s.emitNode(c, n.inodeNum, inodeW, dirW); err != nil {
			return err
		}
	}

	listBlock, listOffset := dirW.Position()
	listSize, err := s.emitListing(n, dirW)
	if err != nil {
		return err
	}

	uid, gid, err := s.lookupIDs(n)
	if err != nil {
		return err
	}
	nlink := uint32(2)
	for _, c := range n.children {
		if c.isDir() {
			nlink++
		}
	}

	blk, off := inodeW.Position()
	n.ref = format.MkInodeRef(uint32(blk), uint16(off))

	hdr := format.InodeHeader{
		Mode:        modeBits(n),
		UID:         uid,
		GID:         gid,
		Mtime:       n.mtime,
		InodeNumber: n.inodeNum,
	}
	var ino format.Inode
	if listSize+3 <= math.MaxUint16 {
		hdr.Type = format.TypeDir
		ino = &format.DirInode{
			InodeHeader: hdr,
			StartBlock:  uint32(listBlock),
			Nlink:       nlink,
			FileSize:    uint16(listSize + 3),
			Offset:      uint16(listOffset),
			ParentInode: parentNum,
		}
	} else {
		hdr.Type = format.TypeLDir
		ino = &format.LDirInode{
			InodeHeader: hdr,
			Nlink:       nlink,
			FileSize:    uint32(listSize + 3),
			StartBlock:  uint32(listBlock),
			ParentInode: parentNum,
			Offset:      uint16(listOffset),
			Xattr:       format.InvalidXattr,
		}
	}
	return inodeW.Write(ino.Marshal())
}

// emitListing writes one directory's entry runs and returns the
// listing's byte size. A run breaks when the inode metadata block
// changes, the inode delta leaves 16-bit range or the run is full.
func (s *Session) emitListing(n *node, dirW *metaWriter) (int, error) {
	size := 0
	i := 0
	for i < len(n.children) {
		first := n.children[i]
		hdrBlock := uint32(format.InodeRefBlock(first.ref))
		base := first.inodeNum
		j := i
		for j < len(n.children) {
			c := n.children[j]
			if uint32(format.InodeRefBlock(c.ref)) != hdrBlock {
				break
			}
			delta := int64(c.inodeNum) - int64(base)
			if delta < math.MinInt16 || delta > math.MaxInt16 {
				break
			}
			if uint32(j-i) == format.DirCountMax {
				break
			}
			j++
		}
		hdr := format.DirHeader{Count: uint32(j - i), StartBlock: hdrBlock, InodeNumber: base}
		if err := dirW.Write(hdr.Marshal()); err != nil {
			return 0, err
		}
		size += format.DirHeaderSize
		for _, c := range n.children[i:j] {
			e := format.DirEntry{
				Offset:     uint16(format.InodeRefOffset(c.ref)),
				InodeDelta: int16(int64(c.inodeNum) - int64(base)),
				Type:       c.entry,
				Name:       c.name,
			}
			if err := dirW.Write(e.Marshal()); err != nil {
				return 0, err
			}
			size += e.EncodedSize()
		}
		i = j
	}
	return size, nil
}

func (s *Session) emitLeaf(n *node, inodeW *metaWriter) error {
	uid, gid, err := s.lookupIDs(n)
	if err != nil {
		return err
	}
	blk, off := inodeW.Position()
	n.ref = format.MkInodeRef(uint32(blk), uint16(off))

	hdr := format.InodeHeader{
		Mode:        modeBits(n),
		UID:         uid,
		GID:         gid,
		Mtime:       n.mtime,
		InodeNumber: n.inodeNum,
	}

	var ino format.Inode
	switch n.entry {
	case format.TypeFile:
		frag := format.InvalidFrag
		fragOff := uint32(0)
		if n.frag.Index >= 0 {
			frag = uint32(n.frag.Index)
			fragOff = uint32(n.frag.Offset)
		}
		if n.startBlock <= math.MaxUint32 && n.size <= math.MaxUint32 {
			hdr.Type = format.TypeFile
			ino = &format.RegInode{
				InodeHeader: hdr,
				StartBlock:  uint32(n.startBlock),
				Fragment:    frag,
				Offset:      fragOff,
				FileSize:    uint32(n.size),
				BlockList:   n.blockList,
			}
		} else {
			hdr.Type = format.TypeLFile
			ino = &format.LRegInode{
				InodeHeader: hdr,
				StartBlock:  n.startBlock,
				FileSize:    n.size,
				Nlink:       1,
				Fragment:    frag,
				Offset:      fragOff,
				Xattr:       format.InvalidXattr,
				BlockList:   n.blockList,
			}
		}
	case format.TypeSymlink:
		hdr.Type = format.TypeSymlink
		ino = &format.SymlinkInode{InodeHeader: hdr, Nlink: 1, Target: []byte(n.target)}
	case format.TypeCharDev, format.TypeBlockDev:
		hdr.Type = n.entry
		ino = &format.DevInode{InodeHeader: hdr, Nlink: 1, Rdev: n.rdev}
	case format.TypeFifo, format.TypeSocket:
		hdr.Type = n.entry
		ino = &format.IpcInode{InodeHeader: hdr, Nlink: 1}
	default:
		return errors.Errorf("unexpected entry type %d at %s", n.entry, n.path)
	}
	return inodeW.Write(ino.Marshal())
}

func (s *Session) lookupIDs(n *node) (uint16, uint16, error) {
	uid, err := s.ids.Lookup(n.uid)
	if err != nil {
		return 0, 0, err
	}
	gid, err := s.ids.Lookup(n.gid)
	if err != nil {
		return 0, 0, err
	}
	return uid, gid, nil
}

// modeBits converts a Go file mode to the on-disk permission bits.
func modeBits(n *node) uint16 {
	m := uint16(n.mode.Perm())
	if n.mode&os.ModeSetuid != 0 {
		m |= 0o4000
	}
	if n.mode&os.ModeSetgid != 0 {
		m |= 0o2000
	}
	if n.mode&os.ModeSticky != 0 {
		m |= 0o1000
	}
	return m
}
