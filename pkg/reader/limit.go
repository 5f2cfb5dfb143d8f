package reader

import "golang.org/x/sys/unix"

const (
	// openMargin keeps descriptors free for the image file, logging and
	// the runtime.
	openMargin = 10

	defaultFileLimit = 1024
)

// FileLimit derives how many source files may be open at once from the
// process descriptor limit, minus a safety margin.
func FileLimit() int {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return defaultFileLimit - openMargin
	}
	if rl.Cur == unix.RLIM_INFINITY || rl.Cur > 1<<20 {
		return 1<<20 - openMargin
	}
	n := int(rl.Cur) - openMargin
	if n < 1 {
		n = 1
	}
	return n
}
