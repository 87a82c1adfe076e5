//go:build darwin

package bridge

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// darwin has no parent-death signal; the bridge's cleanup and Shutdown are
// the only teardown paths.
func workerSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(pid int) error {
	if pid <= 0 {
		return unix.ESRCH
	}
	return unix.Kill(-pid, unix.SIGKILL)
}
