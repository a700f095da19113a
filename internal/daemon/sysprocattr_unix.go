//go:build !windows

package daemon

import "syscall"

// sysProcAttr puts the daemon in its own process group so a terminal
// interrupt aimed at the GUI does not reach it.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
