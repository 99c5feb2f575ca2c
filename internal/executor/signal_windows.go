//go:build windows

package executor

import (
	"os"
	"os/exec"
)

// configureProcAttr is a no-op on Windows (Setpgid not supported).
func configureProcAttr(_ *exec.Cmd) {}

// ProcessGroupSignaler falls back to Process.Kill on Windows, where there
// is no graceful signal to send.
type ProcessGroupSignaler struct{}

// Terminate kills the process.
func (ProcessGroupSignaler) Terminate(pid int) error {
	return killPID(pid)
}

// Kill kills the process.
func (ProcessGroupSignaler) Kill(pid int) error {
	return killPID(pid)
}

func killPID(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return p.Kill()
}

func exitSignal(*os.ProcessState) string {
	return ""
}
