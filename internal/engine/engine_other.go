//go:build !windows
// +build !windows

package engine

import (
	"os/exec"
	"syscall"
)

// hideWindow 无控制台窗口；放入独立进程组，便于整组结束
func hideWindow(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessTree pgid 与 pid 相同，负数表示整个进程组
func killProcessTree(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
