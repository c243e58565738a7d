//go:build unix

package transport

import (
	"os/exec"
	"syscall"
)

// detach puts the child in its own process group. Terminal signals such as
// Ctrl-C then reach only codexm, and killTree can stop grandchildren.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killTree(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return cmd.Process.Kill()
	}
	return nil
}
