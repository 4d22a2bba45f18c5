package system

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// 系统通知
// =============================================================================

// DefaultNotifyInterval 同一标题的通知最短间隔
const DefaultNotifyInterval = 3 * time.Second

// NotificationManager 桌面通知，同一标题在 MinInterval 内只发一次
type NotificationManager struct {
	appName string
	goos    string
	run     func(name string, args ...string) ([]byte, error)

	MinInterval time.Duration
	Muted       bool

	mu   sync.Mutex
	last map[string]time.Time
}

// NewNotificationManager 创建通知管理器
func NewNotificationManager(appName string) *NotificationManager {
	return &NotificationManager{
		appName:     appName,
		goos:        runtime.GOOS,
		run:         runCommand,
		MinInterval: DefaultNotifyInterval,
	}
}

// Show 显示系统通知
func (n *NotificationManager) Show(title, message string) error {
	if n.Muted || n.throttled(title) {
		return nil
	}

	switch n.goos {
	case "windows":
		_, err := n.run("powershell", "-NoProfile", "-WindowStyle", "Hidden", "-Command", n.toastScript(title, message))
		return err
	case "darwin":
		_, err := n.run("osascript", "-e", fmt.Sprintf(`display notification %q with title %q`, message, title))
		return err
	case "linux":
		_, err := n.run("notify-send", "-a", n.appName, title, message)
		return err
	default:
		return fmt.Errorf("不支持的操作系统: %s", n.goos)
	}
}

func (n *NotificationManager) throttled(title string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now()
	if last, ok := n.last[title]; ok && now.Sub(last) < n.MinInterval {
		return true
	}
	if n.last == nil {
		n.last = make(map[string]time.Time)
	}
	n.last[title] = now
	return false
}

// toastScript 通过 WinRT ToastNotificationManager 弹出通知
func (n *NotificationManager) toastScript(title, message string) string {
	return fmt.Sprintf(`
[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] | Out-Null
[Windows.Data.Xml.Dom.XmlDocument, Windows.Data.Xml.Dom.XmlDocument, ContentType = WindowsRuntime] | Out-Null
$xml = New-Object Windows.Data.Xml.Dom.XmlDocument
$xml.LoadXml('<toast><visual><binding template="ToastText02"><text id="1">%s</text><text id="2">%s</text></binding></visual></toast>')
[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier('%s').Show([Windows.UI.Notifications.ToastNotification]::new($xml))
`, psQuote(xmlEscape(title)), psQuote(xmlEscape(message)), psQuote(n.appName))
}

var xmlReplacer = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

func xmlEscape(s string) string {
	return xmlReplacer.Replace(s)
}

// psQuote PowerShell 单引号字符串中 ' 写作 ''
func psQuote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
