//go:build linux

package reader

import (
	"os"

	"golang.org/x/sys/unix"
)

// adviseRandom tells the kernel not to read ahead on this descriptor;
// direct-mode readers do their own seeking. Advice failures are
// harmless and ignored.
func adviseRandom(f *os.File) {
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_RANDOM)
}
