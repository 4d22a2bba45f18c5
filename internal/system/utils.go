package system

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
)

// =============================================================================
// 系统工具函数
// =============================================================================

// GetExeDir 可执行文件所在目录，数据文件与内核都放在这里
func GetExeDir() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(exePath); err == nil {
		exePath = resolved
	}
	return filepath.Dir(exePath), nil
}

// OpenFolder 用文件管理器打开目录
func OpenFolder(path string) error {
	var name string
	switch runtime.GOOS {
	case "windows":
		name = "explorer"
	case "darwin":
		name = "open"
	case "linux":
		name = "xdg-open"
	default:
		return fmt.Errorf("不支持的操作系统: %s", runtime.GOOS)
	}
	return exec.Command(name, path).Start()
}

// BusyPorts 返回本机 127.0.0.1 上已被占用的端口
func BusyPorts(ports ...int) []int {
	var busy []int
	for _, port := range ports {
		ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			busy = append(busy, port)
			continue
		}
		ln.Close()
	}
	return busy
}

// SystemInfo 系统信息
type SystemInfo struct {
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	Hostname  string `json:"hostname"`
	GoVersion string `json:"go_version"`
}

// GetSystemInfo 获取系统信息
func GetSystemInfo() SystemInfo {
	hostname, _ := os.Hostname()
	return SystemInfo{
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		Hostname:  hostname,
		GoVersion: runtime.Version(),
	}
}
