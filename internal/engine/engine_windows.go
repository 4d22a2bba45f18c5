//go:build windows
// +build windows

package engine

import (
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/windows"
)

func noWindow() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{HideWindow: true, CreationFlags: windows.CREATE_NO_WINDOW}
}

// hideWindow 内核是控制台程序，不弹出黑框
func hideWindow(cmd *exec.Cmd) {
	cmd.SysProcAttr = noWindow()
}

// killProcessTree taskkill /T 连同内核派生的子进程一起结束
func killProcessTree(pid int) error {
	kill := exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(pid))
	kill.SysProcAttr = noWindow()
	return kill.Run()
}
