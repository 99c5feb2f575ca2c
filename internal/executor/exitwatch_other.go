//go:build !linux

package executor

// watchExit is unsupported here; the executor waits on the output pipes.
func watchExit(int) <-chan struct{} { return nil }

func hasExited(int) bool { return false }
