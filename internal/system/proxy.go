package system

import (
	"fmt"
	"net"
	"os/exec"
	"runtime"
	"strings"
)

// =============================================================================
// 系统代理设置
// =============================================================================

// DefaultBypass 本地地址不走代理
const DefaultBypass = "<local>"

// ProxySettings 当前系统代理状态
type ProxySettings struct {
	Enabled bool   `json:"enabled"`
	Server  string `json:"server"`
	Bypass  string `json:"bypass"`
}

// ProxyManager 系统代理管理器，指向本地 HTTP 监听端口
type ProxyManager struct {
	goos string
	run  func(name string, args ...string) ([]byte, error)
}

// NewProxyManager 创建代理管理器
func NewProxyManager() *ProxyManager {
	return &ProxyManager{goos: runtime.GOOS, run: runCommand}
}

func runCommand(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}

// Enable 设置系统 HTTP/HTTPS 代理为 hostPort (例如 127.0.0.1:10809)
func (p *ProxyManager) Enable(hostPort string) error {
	host, port, err := net.SplitHostPort(hostPort)
	if err != nil {
		return fmt.Errorf("代理地址无效 %q: %w", hostPort, err)
	}

	switch p.goos {
	case "windows":
		return setWindowsProxy(hostPort, DefaultBypass)
	case "darwin":
		return p.setMacOSProxy(host, port)
	case "linux":
		return p.setLinuxProxy(host, port)
	default:
		return fmt.Errorf("不支持的操作系统: %s", p.goos)
	}
}

// Disable 关闭系统代理
func (p *ProxyManager) Disable() error {
	switch p.goos {
	case "windows":
		return clearWindowsProxy()
	case "darwin":
		return p.clearMacOSProxy()
	case "linux":
		return p.clearLinuxProxy()
	default:
		return fmt.Errorf("不支持的操作系统: %s", p.goos)
	}
}

// Status 读取当前系统代理设置
func (p *ProxyManager) Status() (*ProxySettings, error) {
	switch p.goos {
	case "windows":
		return getWindowsProxy()
	case "linux":
		return p.getLinuxProxy()
	default:
		return &ProxySettings{}, nil
	}
}

// =============================================================================
// macOS 实现
// =============================================================================

func (p *ProxyManager) setMacOSProxy(host, port string) error {
	services, err := p.macOSNetworkServices()
	if err != nil {
		return err
	}

	var steps [][]string
	for _, service := range services {
		steps = append(steps,
			[]string{"-setwebproxy", service, host, port},
			[]string{"-setsecurewebproxy", service, host, port},
			[]string{"-setproxybypassdomains", service, "localhost", "127.0.0.1"},
		)
	}
	return p.networksetup(steps)
}

func (p *ProxyManager) clearMacOSProxy() error {
	services, err := p.macOSNetworkServices()
	if err != nil {
		return err
	}

	var steps [][]string
	for _, service := range services {
		steps = append(steps,
			[]string{"-setwebproxystate", service, "off"},
			[]string{"-setsecurewebproxystate", service, "off"},
		)
	}
	return p.networksetup(steps)
}

// networksetup 依次执行全部命令，单条失败不中断，返回第一个错误
func (p *ProxyManager) networksetup(steps [][]string) error {
	var first error
	for _, args := range steps {
		if _, err := p.run("networksetup", args...); err != nil && first == nil {
			first = fmt.Errorf("networksetup %s: %w", strings.Join(args, " "), err)
		}
	}
	return first
}

func (p *ProxyManager) macOSNetworkServices() ([]string, error) {
	output, err := p.run("networksetup", "-listallnetworkservices")
	if err != nil {
		return nil, fmt.Errorf("读取网络服务失败: %w", err)
	}
	lines := strings.Split(string(output), "\n")
	if len(lines) == 0 {
		return nil, nil
	}

	var services []string
	// 第一行是说明文字，* 开头的服务已禁用
	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "*") {
			services = append(services, line)
		}
	}
	return services, nil
}

// =============================================================================
// Linux (GNOME) 实现
// =============================================================================

func (p *ProxyManager) setLinuxProxy(host, port string) error {
	steps := [][]string{
		{"set", "org.gnome.system.proxy.http", "host", host},
		{"set", "org.gnome.system.proxy.http", "port", port},
		{"set", "org.gnome.system.proxy.https", "host", host},
		{"set", "org.gnome.system.proxy.https", "port", port},
		{"set", "org.gnome.system.proxy", "ignore-hosts", "['localhost', '127.0.0.0/8', '::1']"},
		{"set", "org.gnome.system.proxy", "mode", "manual"},
	}
	for _, args := range steps {
		if _, err := p.run("gsettings", args...); err != nil {
			return fmt.Errorf("gsettings %s: %w", strings.Join(args, " "), err)
		}
	}
	return nil
}

func (p *ProxyManager) clearLinuxProxy() error {
	if _, err := p.run("gsettings", "set", "org.gnome.system.proxy", "mode", "none"); err != nil {
		return fmt.Errorf("关闭系统代理失败: %w", err)
	}
	return nil
}

func (p *ProxyManager) getLinuxProxy() (*ProxySettings, error) {
	mode, err := p.run("gsettings", "get", "org.gnome.system.proxy", "mode")
	if err != nil {
		return nil, err
	}
	settings := &ProxySettings{Enabled: strings.Trim(strings.TrimSpace(string(mode)), "'") == "manual"}

	host, _ := p.run("gsettings", "get", "org.gnome.system.proxy.http", "host")
	port, _ := p.run("gsettings", "get", "org.gnome.system.proxy.http", "port")
	h := strings.Trim(strings.TrimSpace(string(host)), "'")
	if h != "" {
		settings.Server = net.JoinHostPort(h, strings.TrimSpace(string(port)))
	}
	return settings, nil
}
