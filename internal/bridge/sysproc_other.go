//go:build !linux && !darwin

package bridge

import (
	"errors"
	"syscall"
)

func workerSysProcAttr() *syscall.SysProcAttr {
	return nil
}

func killProcessGroup(int) error {
	return errors.New("process groups not supported")
}
