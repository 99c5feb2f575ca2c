//go:build linux

package executor

import (
	"errors"

	"golang.org/x/sys/unix"
)

// watchExit returns a channel closed once the child pid has exited. The
// child is left unreaped so its pid and process group stay valid until
// cmd.Wait. It returns nil when waitid is unusable.
func watchExit(pid int) <-chan struct{} {
	var info unix.Siginfo
	if err := unix.Waitid(unix.P_PID, pid, &info, unix.WEXITED|unix.WNOWAIT|unix.WNOHANG, nil); err != nil &&
		!errors.Is(err, unix.ECHILD) {
		return nil
	}

	ch := make(chan struct{})
	go func() {
		defer close(ch)
		for {
			var info unix.Siginfo
			err := unix.Waitid(unix.P_PID, pid, &info, unix.WEXITED|unix.WNOWAIT, nil)
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return
		}
	}()
	return ch
}

// hasExited reports whether the child pid has exited or was already reaped.
func hasExited(pid int) bool {
	var info unix.Siginfo
	err := unix.Waitid(unix.P_PID, pid, &info, unix.WEXITED|unix.WNOWAIT|unix.WNOHANG, nil)
	if err != nil {
		return errors.Is(err, unix.ECHILD)
	}
	return info.Signo == int32(unix.SIGCHLD)
}
