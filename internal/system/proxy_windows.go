//go:build windows
// +build windows

package system

import (
	"fmt"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

const internetSettingsKey = `Software\Microsoft\Windows\CurrentVersion\Internet Settings`

var (
	modwininet            = windows.NewLazySystemDLL("wininet.dll")
	procInternetSetOption = modwininet.NewProc("InternetSetOptionW")
)

// refreshSystemProxy 通知 WinINet 重新读取代理设置
func refreshSystemProxy() {
	// INTERNET_OPTION_SETTINGS_CHANGED = 39
	// INTERNET_OPTION_REFRESH = 37
	procInternetSetOption.Call(0, 39, 0, 0)
	procInternetSetOption.Call(0, 37, 0, 0)
}

func setWindowsProxy(server, bypass string) error {
	key, err := registry.OpenKey(registry.CURRENT_USER, internetSettingsKey, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("打开注册表失败: %w", err)
	}
	defer key.Close()

	if err := key.SetStringValue("ProxyServer", server); err != nil {
		return fmt.Errorf("写入 ProxyServer 失败: %w", err)
	}
	if err := key.SetStringValue("ProxyOverride", bypass); err != nil {
		return fmt.Errorf("写入 ProxyOverride 失败: %w", err)
	}
	if err := key.SetDWordValue("ProxyEnable", 1); err != nil {
		return fmt.Errorf("写入 ProxyEnable 失败: %w", err)
	}
	// PAC 优先级高于手动代理
	if err := key.DeleteValue("AutoConfigURL"); err != nil && err != registry.ErrNotExist {
		return fmt.Errorf("删除 AutoConfigURL 失败: %w", err)
	}

	refreshSystemProxy()
	return nil
}

func clearWindowsProxy() error {
	key, err := registry.OpenKey(registry.CURRENT_USER, internetSettingsKey, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("打开注册表失败: %w", err)
	}
	defer key.Close()

	if err := key.SetDWordValue("ProxyEnable", 0); err != nil {
		return fmt.Errorf("写入 ProxyEnable 失败: %w", err)
	}

	refreshSystemProxy()
	return nil
}

func getWindowsProxy() (*ProxySettings, error) {
	key, err := registry.OpenKey(registry.CURRENT_USER, internetSettingsKey, registry.QUERY_VALUE)
	if err != nil {
		return nil, fmt.Errorf("打开注册表失败: %w", err)
	}
	defer key.Close()

	settings := &ProxySettings{}
	if enabled, _, err := key.GetIntegerValue("ProxyEnable"); err == nil {
		settings.Enabled = enabled == 1
	}
	settings.Server, _, _ = key.GetStringValue("ProxyServer")
	settings.Bypass, _, _ = key.GetStringValue("ProxyOverride")
	return settings, nil
}
