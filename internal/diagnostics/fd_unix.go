//go:build !windows

package diagnostics

import (
	"os"
	"syscall"
)

// CountFDs returns the number of open file descriptors of this process and
// the soft limit. Zero means unknown.
func CountFDs() (open, limit int) {
	dir := "/proc/self/fd"
	if _, err := os.Stat(dir); err != nil {
		dir = "/dev/fd"
	}
	if entries, err := os.ReadDir(dir); err == nil {
		open = len(entries)
	}

	var rlim syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rlim); err == nil {
		// #nosec G115 -- rlimit values fit in int on supported platforms
		limit = int(rlim.Cur)
	}
	return open, limit
}
