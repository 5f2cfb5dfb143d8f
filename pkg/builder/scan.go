package builder

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/squashkit/squashkit/pkg/format"
	"github.com/squashkit/squashkit/pkg/fragment"
)

// node is one entry of the source tree plus everything the table
// writers learn about it during the build.
type node struct {
	name   string
	path   string
	mode   os.FileMode
	uid    uint32
	gid    uint32
	mtime  uint32
	size   int64
	target string
	rdev   uint32

	children []*node

	inodeNum uint32
	entry    uint16

	// dataIndex is the ordinal among files with data blocks, or -1.
	dataIndex  int
	startBlock int64
	blockList  []uint32
	frag       fragment.Descriptor
	sparseTail bool

	// ref is the packed inode reference, set when the inode is written.
	ref int64
}

func (n *node) isDir() bool { return n.mode.IsDir() }

// scan reads the source tree into memory. Children are sorted by name,
// inode numbers are assigned depth first with parents after children so
// the root inode is written last.
func scan(dir string) (*node, []*node, error) {
	info, err := os.Lstat(dir)
	if err != nil {
		return nil, nil, errors.Wrap(err, "stat source")
	}
	if !info.IsDir() {
		return nil, nil, errors.Errorf("source %s is not a directory", dir)
	}
	root, err := scanNode(dir, "")
	if err != nil {
		return nil, nil, err
	}
	var next uint32
	number(root, &next)

	var all []*node
	collect(root, &all)
	return root, all, nil
}

func scanNode(path, name string) (*node, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, errors.Wrap(err, "stat entry")
	}
	n := &node{
		name:      name,
		path:      path,
		mode:      info.Mode(),
		mtime:     uint32(info.ModTime().Unix()),
		size:      info.Size(),
		dataIndex: -1,
		frag:      fragment.Descriptor{Index: fragment.NoFragment},
	}
	n.uid, n.gid, n.rdev = statOwner(info)

	switch {
	case n.mode.IsDir():
		n.entry = format.TypeDir
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, errors.Wrap(err, "read directory")
		}
		for _, e := range entries {
			child, err := scanNode(filepath.Join(path, e.Name()), e.Name())
			if err != nil {
				return nil, err
			}
			n.children = append(n.children, child)
		}
	case n.mode.IsRegular():
		n.entry = format.TypeFile
	case n.mode&os.ModeSymlink != 0:
		n.entry = format.TypeSymlink
		target, err := os.Readlink(path)
		if err != nil {
			return nil, errors.Wrap(err, "readlink")
		}
		n.target = target
		n.size = int64(len(target))
	case n.mode&os.ModeDevice != 0 && n.mode&os.ModeCharDevice != 0:
		n.entry = format.TypeCharDev
	case n.mode&os.ModeDevice != 0:
		n.entry = format.TypeBlockDev
	case n.mode&os.ModeNamedPipe != 0:
		n.entry = format.TypeFifo
	case n.mode&os.ModeSocket != 0:
		n.entry = format.TypeSocket
	default:
		return nil, errors.Errorf("unsupported file type at %s", path)
	}
	return n, nil
}

func number(n *node, next *uint32) {
	for _, c := range n.children {
		number(c, next)
	}
	*next++
	n.inodeNum = *next
}

func collect(n *node, out *[]*node) {
	for _, c := range n.children {
		collect(c, out)
	}
	*out = append(*out, n)
}
