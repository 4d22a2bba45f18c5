// Package system 提供系统代理、开机自启、通知等系统级功能
package system

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// AutoStartFlag 开机自启时附加的命令行参数
const AutoStartFlag = "-autostart"

// =============================================================================
// 开机自启动
// =============================================================================

// AutoStartManager 开机自启。Windows 写注册表 Run 键，
// macOS 写 LaunchAgent，Linux 写 XDG autostart 桌面项。
type AutoStartManager struct {
	appName string
	exePath string
	goos    string
	home    string
}

// NewAutoStartManager 以当前可执行文件创建管理器
func NewAutoStartManager(appName string) (*AutoStartManager, error) {
	exePath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("获取程序路径失败: %w", err)
	}
	home, _ := os.UserHomeDir()
	return &AutoStartManager{appName: appName, exePath: exePath, goos: runtime.GOOS, home: home}, nil
}

// Command 自启动时执行的命令行
func (m *AutoStartManager) Command() string {
	return fmt.Sprintf(`"%s" %s`, m.exePath, AutoStartFlag)
}

// IsEnabled 自启项存在且指向当前程序
func (m *AutoStartManager) IsEnabled() bool {
	if m.goos == "windows" {
		value, ok := readRunValue(m.appName)
		return ok && value == m.Command()
	}
	path, err := m.entryPath()
	if err != nil {
		return false
	}
	data, err := os.ReadFile(path)
	return err == nil && strings.Contains(string(data), m.exePath)
}

// SetEnabled 按设置开关
func (m *AutoStartManager) SetEnabled(enabled bool) error {
	if enabled {
		return m.Enable()
	}
	return m.Disable()
}

// Enable 写入自启项；程序移动位置后重新调用即可更新
func (m *AutoStartManager) Enable() error {
	if m.goos == "windows" {
		return writeRunValue(m.appName, m.Command())
	}
	path, err := m.entryPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(m.entryContent()), 0644)
}

// Disable 删除自启项，不存在时不报错
func (m *AutoStartManager) Disable() error {
	if m.goos == "windows" {
		return deleteRunValue(m.appName)
	}
	path, err := m.entryPath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (m *AutoStartManager) entryPath() (string, error) {
	switch m.goos {
	case "darwin":
		return filepath.Join(m.home, "Library", "LaunchAgents", m.launchLabel()+".plist"), nil
	case "linux":
		return filepath.Join(m.home, ".config", "autostart", m.appName+".desktop"), nil
	default:
		return "", fmt.Errorf("不支持的操作系统: %s", m.goos)
	}
}

func (m *AutoStartManager) entryContent() string {
	if m.goos == "darwin" {
		return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>%s</string>
    <key>ProgramArguments</key>
    <array>
        <string>%s</string>
        <string>%s</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
</dict>
</plist>
`, m.launchLabel(), xmlEscape(m.exePath), AutoStartFlag)
	}

	return fmt.Sprintf(`[Desktop Entry]
Type=Application
Name=%s
Exec=%s
Terminal=false
X-GNOME-Autostart-enabled=true
`, m.appName, m.Command())
}

// launchLabel com.babyvpn.client
func (m *AutoStartManager) launchLabel() string {
	return "com." + strings.ToLower(m.appName) + ".client"
}
