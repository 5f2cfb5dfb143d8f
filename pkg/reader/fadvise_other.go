//go:build !linux

package reader

import "os"

// adviseRandom is a no-op where posix_fadvise is unavailable.
func adviseRandom(*os.File) {}
