//go:build !windows

package connectivity

import "golang.org/x/sys/unix"

// socketAccess reports whether the current user may read and write path.
func socketAccess(path string) error {
	return unix.Access(path, unix.R_OK|unix.W_OK)
}
