//go:build linux

package builder

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/squashkit/squashkit/pkg/format"
)

// statOwner pulls ownership and device numbers out of the kernel stat
// record. The device number is repacked into the on-disk encoding.
func statOwner(info os.FileInfo) (uid, gid, rdev uint32) {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		major := unix.Major(uint64(st.Rdev))
		minor := unix.Minor(uint64(st.Rdev))
		return st.Uid, st.Gid, format.MakeRdev(major, minor)
	}
	return 0, 0, 0
}
