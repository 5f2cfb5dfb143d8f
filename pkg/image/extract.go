package image

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/squashkit/squashkit/pkg/format"
)

// Extract writes the image's tree below destDir. Regular files,
// directories and symlinks are materialized; device nodes, fifos and
// sockets are skipped with a warning since creating them needs
// privileges an extracting user usually lacks.
func (img *Image) Extract(destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return errors.Wrap(err, "create destination")
	}

	// Directory metadata is applied after the walk so read-only
	// permissions do not block extraction of children.
	type dirFix struct {
		path string
		ino  format.Inode
	}
	var dirs []dirFix

	err := img.Walk(func(path string, e Entry, ino format.Inode) error {
		target := filepath.Join(destDir, filepath.FromSlash(path))
		hdr := ino.Header()
		switch ino.(type) {
		case *format.DirInode, *format.LDirInode:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return errors.Wrap(err, "create directory")
			}
			dirs = append(dirs, dirFix{target, ino})
			return nil
		case *format.RegInode, *format.LRegInode:
			f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return errors.Wrap(err, "create file")
			}
			if err := img.ReadFile(ino, f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return errors.Wrap(err, "close file")
			}
			return applyTimes(target, hdr)
		case *format.SymlinkInode:
			link := ino.(*format.SymlinkInode)
			if err := os.Symlink(string(link.Target), target); err != nil {
				return errors.Wrap(err, "create symlink")
			}
			return nil
		default:
			img.log.WithFields(logrus.Fields{
				"entry": path,
				"type":  hdr.Type,
			}).Warn("skipping special file")
			return nil
		}
	})
	if err != nil {
		return err
	}

	for i := len(dirs) - 1; i >= 0; i-- {
		hdr := dirs[i].ino.Header()
		if err := os.Chmod(dirs[i].path, os.FileMode(hdr.Mode)&0o777); err != nil {
			return errors.Wrap(err, "set directory mode")
		}
		if err := applyTimes(dirs[i].path, hdr); err != nil {
			return err
		}
	}
	return nil
}

func applyTimes(path string, hdr *format.InodeHeader) error {
	mtime := time.Unix(int64(hdr.Mtime), 0)
	return errors.Wrap(os.Chtimes(path, mtime, mtime), "set times")
}
