package image

import (
	"encoding/binary"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/squashkit/squashkit/pkg/compress"
	"github.com/squashkit/squashkit/pkg/format"
)

// Entry is one name inside a directory.
type Entry struct {
	Name string
	// Type is the basic inode type tag from the directory listing.
	Type uint16
	// Ref is the packed inode reference; resolve it with Inode.
	Ref         int64
	InodeNumber uint32
}

// IsDir reports whether the entry names a directory.
func (e Entry) IsDir() bool { return e.Type == format.TypeDir }

// Root returns the root directory inode.
func (img *Image) Root() (format.Inode, error) {
	return img.Inode(img.sb.RootInode)
}

// Inode decodes the inode a packed reference points at.
func (img *Image) Inode(ref int64) (format.Inode, error) {
	r := img.metaReader(img.sb.InodeTableStart)
	if err := r.seek(int64(format.InodeRefBlock(ref)), int(format.InodeRefOffset(ref))); err != nil {
		return nil, err
	}
	size, err := img.inodeSize(r)
	if err != nil {
		return nil, err
	}
	w, err := r.window(size)
	if err != nil {
		return nil, err
	}
	return format.UnmarshalInode(w[:size], img.sb.BlockSize)
}

// inodeSize determines the encoded size of the inode at the cursor
// without consuming it. Variable-length types are sized from their
// fixed part.
func (img *Image) inodeSize(r *metaReader) (int, error) {
	le := binary.LittleEndian
	w, err := r.window(format.InodeBaseSize)
	if err != nil {
		return 0, err
	}
	switch typ := le.Uint16(w); typ {
	case format.TypeFile:
		if w, err = r.window(format.InodeBaseSize + 16); err != nil {
			return 0, err
		}
		size := int64(le.Uint32(w[28:]))
		frag := le.Uint32(w[20:])
		return format.InodeBaseSize + 16 + 4*blockEntries(size, frag != format.InvalidFrag, img.sb.BlockSize), nil
	case format.TypeLFile:
		if w, err = r.window(format.InodeBaseSize + 40); err != nil {
			return 0, err
		}
		size := int64(le.Uint64(w[24:]))
		frag := le.Uint32(w[44:])
		return format.InodeBaseSize + 40 + 4*blockEntries(size, frag != format.InvalidFrag, img.sb.BlockSize), nil
	case format.TypeDir:
		return format.InodeBaseSize + 16, nil
	case format.TypeLDir:
		if w, err = r.window(format.InodeBaseSize + 24); err != nil {
			return 0, err
		}
		count := int(le.Uint16(w[32:]))
		size := format.InodeBaseSize + 24
		for i := 0; i < count; i++ {
			if w, err = r.window(size + 12); err != nil {
				return 0, err
			}
			size += 12 + int(le.Uint32(w[size+8:])) + 1
		}
		return size, nil
	case format.TypeSymlink, format.TypeLSymlink:
		if w, err = r.window(format.InodeBaseSize + 8); err != nil {
			return 0, err
		}
		return format.InodeBaseSize + 8 + int(le.Uint32(w[20:])), nil
	case format.TypeBlockDev, format.TypeCharDev, format.TypeLBlockDev, format.TypeLCharDev:
		return format.InodeBaseSize + 8, nil
	case format.TypeFifo, format.TypeSocket, format.TypeLFifo, format.TypeLSocket:
		return format.InodeBaseSize + 4, nil
	default:
		return 0, errors.Wrapf(format.ErrCorruptTable, "unknown inode type %d", typ)
	}
}

func blockEntries(fileSize int64, hasFragment bool, blockSize uint32) int {
	if hasFragment {
		return int(fileSize / int64(blockSize))
	}
	return int((fileSize + int64(blockSize) - 1) / int64(blockSize))
}

// ReadDir lists a directory inode in stored (name) order.
func (img *Image) ReadDir(ino format.Inode) ([]Entry, error) {
	var start uint32
	var offset uint16
	var size int
	switch d := ino.(type) {
	case *format.DirInode:
		start, offset, size = d.StartBlock, d.Offset, int(d.FileSize)-3
	case *format.LDirInode:
		start, offset, size = d.StartBlock, d.Offset, int(d.FileSize)-3
	default:
		return nil, errors.Errorf("inode %d is not a directory", ino.Header().InodeNumber)
	}
	if size <= 0 {
		return nil, nil
	}

	r := img.metaReader(img.sb.DirTableStart)
	if err := r.seek(int64(start), int(offset)); err != nil {
		return nil, err
	}
	var out []Entry
	for read := 0; read < size; {
		w, err := r.window(format.DirHeaderSize)
		if err != nil {
			return nil, err
		}
		hdr, err := format.UnmarshalDirHeader(w)
		if err != nil {
			return nil, err
		}
		r.consume(format.DirHeaderSize)
		read += format.DirHeaderSize

		for i := 0; i < int(hdr.Count); i++ {
			if w, err = r.window(8); err != nil {
				return nil, err
			}
			nameLen := int(binary.LittleEndian.Uint16(w[6:])) + 1
			if w, err = r.window(8 + nameLen); err != nil {
				return nil, err
			}
			e, n, err := format.UnmarshalDirEntry(w)
			if err != nil {
				return nil, err
			}
			r.consume(n)
			read += n
			out = append(out, Entry{
				Name:        e.Name,
				Type:        e.Type,
				Ref:         format.MkInodeRef(hdr.StartBlock, e.Offset),
				InodeNumber: uint32(int64(hdr.InodeNumber) + int64(e.InodeDelta)),
			})
		}
	}
	return out, nil
}

// Lookup resolves a slash-separated path from the root.
func (img *Image) Lookup(path string) (format.Inode, error) {
	ino, err := img.Root()
	if err != nil {
		return nil, err
	}
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		entries, err := img.ReadDir(ino)
		if err != nil {
			return nil, err
		}
		found := false
		for _, e := range entries {
			if e.Name == part {
				if ino, err = img.Inode(e.Ref); err != nil {
					return nil, err
				}
				found = true
				break
			}
		}
		if !found {
			return nil, errors.Errorf("no entry %q in %q", part, path)
		}
	}
	return ino, nil
}

// Walk visits every entry below the root depth first, parents before
// children. Paths are slash-separated and relative to the root.
func (img *Image) Walk(fn func(path string, e Entry, ino format.Inode) error) error {
	root, err := img.Root()
	if err != nil {
		return err
	}
	return img.walk("", root, fn)
}

func (img *Image) walk(prefix string, dir format.Inode, fn func(string, Entry, format.Inode) error) error {
	entries, err := img.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		ino, err := img.Inode(e.Ref)
		if err != nil {
			return err
		}
		path := e.Name
		if prefix != "" {
			path = prefix + "/" + e.Name
		}
		if err := fn(path, e, ino); err != nil {
			return err
		}
		if e.IsDir() {
			if err := img.walk(path, ino, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadFile streams a regular file's content: its data blocks in order,
// holes as zeros, then the tail fragment.
func (img *Image) ReadFile(ino format.Inode, w io.Writer) error {
	var fileSize, pos int64
	var frag, fragOff uint32
	var list []uint32
	switch f := ino.(type) {
	case *format.RegInode:
		fileSize, pos = int64(f.FileSize), int64(f.StartBlock)
		frag, fragOff = f.Fragment, f.Offset
		list = f.BlockList
	case *format.LRegInode:
		fileSize, pos = f.FileSize, f.StartBlock
		frag, fragOff = f.Fragment, f.Offset
		list = f.BlockList
	default:
		return errors.Errorf("inode %d is not a regular file", ino.Header().InodeNumber)
	}

	bs := int64(img.sb.BlockSize)
	remaining := fileSize
	for _, v := range list {
		chunk := remaining
		if chunk > bs {
			chunk = bs
		}
		stored := format.BlockSize(v)
		if stored == 0 {
			// Hole: a full (or final partial) block of zeros.
			if _, err := w.Write(make([]byte, chunk)); err != nil {
				return errors.Wrap(err, "write output")
			}
			remaining -= chunk
			continue
		}
		raw := make([]byte, stored)
		if _, err := img.f.ReadAt(raw, pos); err != nil {
			return errors.Wrapf(err, "data block at %d", pos)
		}
		out := raw
		if format.BlockCompressed(v) {
			var err error
			if out, err = img.codec.Decompress(raw, int(chunk)); err != nil {
				return errors.Wrapf(err, "data block at %d", pos)
			}
		} else if int64(len(out)) != chunk {
			return errors.Wrapf(format.ErrCorruptTable,
				"raw block of %d bytes, expected %d", len(out), chunk)
		}
		pos += int64(stored)
		if _, err := w.Write(out); err != nil {
			return errors.Wrap(err, "write output")
		}
		remaining -= chunk
	}

	if remaining > 0 {
		if frag == format.InvalidFrag {
			return errors.Wrapf(format.ErrCorruptTable,
				"%d trailing bytes with no fragment", remaining)
		}
		block, err := img.fragmentBlock(frag)
		if err != nil {
			return err
		}
		end := int64(fragOff) + remaining
		if end > int64(len(block)) {
			return errors.Wrapf(format.ErrCorruptTable,
				"fragment range %d+%d exceeds block of %d bytes", fragOff, remaining, len(block))
		}
		if _, err := w.Write(block[fragOff:end]); err != nil {
			return errors.Wrap(err, "write output")
		}
	}
	return nil
}

// fragmentBlock reads and decodes one fragment block.
func (img *Image) fragmentBlock(index uint32) ([]byte, error) {
	if int(index) >= len(img.frags) {
		return nil, errors.Wrapf(format.ErrCorruptTable, "fragment %d of %d", index, len(img.frags))
	}
	entry := img.frags[index]
	stored := make([]byte, entry.StoredSize())
	if _, err := img.f.ReadAt(stored, entry.StartBlock); err != nil {
		return nil, errors.Wrapf(err, "fragment block at %d", entry.StartBlock)
	}
	if !entry.Compressed() {
		return stored, nil
	}
	return compress.DecompressBounded(img.codec, stored, int(img.sb.BlockSize))
}
