//go:build linux

package bridge

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// workerSysProcAttr puts the worker in its own process group and asks the
// kernel to SIGKILL it if the host dies first.
func workerSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: unix.SIGKILL,
	}
}

func killProcessGroup(pid int) error {
	if pid <= 0 {
		return unix.ESRCH
	}
	return unix.Kill(-pid, unix.SIGKILL)
}
