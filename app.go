// Package main 包含应用主逻辑和前端绑定
package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"babyvpn-wails/internal/config"
	"babyvpn-wails/internal/generator"
	"babyvpn-wails/internal/link"
	"babyvpn-wails/internal/logger"
	"babyvpn-wails/internal/models"
	"babyvpn-wails/internal/ping"
	"babyvpn-wails/internal/system"
	"babyvpn-wails/internal/tunnel"
)

const (
	saveDelay     = 500 * time.Millisecond
	verifyTimeout = 10 * time.Second
)

// App 主应用结构
type App struct {
	ctx         context.Context
	state       *models.AppState
	exeDir      string
	isAutoStart bool

	configManager *config.Manager
	settingsMu    sync.RWMutex
	settings      config.Settings

	logger    *logger.Manager
	tunnel    *tunnel.Controller
	pinger    *ping.Orchestrator
	sysProxy  *system.ProxyManager
	notifier  *system.NotificationManager
	autoStart *system.AutoStartManager

	// 合并短时间内的多次保存
	saveDebounced func(f func())
}

// ConnectionStatus 连接状态（前端展示用）
type ConnectionStatus struct {
	State     tunnel.State `json:"state"`
	Index     int          `json:"index"`
	Alias     string       `json:"alias"`
	Mux       bool         `json:"mux"`
	HTTPAddr  string       `json:"http_addr"`
	SocksAddr string       `json:"socks_addr"`
}

// NewApp 创建新的应用实例
func NewApp(exeDir string, isAutoStart bool) *App {
	return &App{
		state:         models.NewAppState(),
		exeDir:        exeDir,
		isAutoStart:   isAutoStart,
		saveDebounced: debounce.New(saveDelay),
	}
}

// =============================================================================
// 生命周期方法
// =============================================================================

// startup 应用启动时调用
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
	a.state.ExeDir = a.exeDir

	a.logger = logger.NewManager(a.exeDir)
	a.logger.SetCallback(func(entry models.LogEntry) {
		a.emitEvent(models.EventLogAppend, entry)
	})

	a.configManager = config.NewManager(a.exeDir)
	a.configManager.OnWarning = func(message string) {
		a.logger.Log(logger.SourceSystem, models.LevelWarn, logger.CategoryConfig, message)
	}
	a.loadSettings()
	a.loadServers()

	settings := a.getSettings()
	binary := settings.EngineBinary(a.exeDir)

	if n, err := generator.NewGenerator(a.exeDir).CleanupProbeFiles(); err != nil {
		a.logSystem(models.LevelWarn, fmt.Sprintf("清理测速残留文件失败: %v", err))
	} else if n > 0 {
		a.logSystem(models.LevelInfo, fmt.Sprintf("已清理 %d 个测速残留文件", n))
	}

	a.sysProxy = system.NewProxyManager()
	a.notifier = system.NewNotificationManager(models.AppName)
	if as, err := system.NewAutoStartManager(models.AppName); err != nil {
		a.logSystem(models.LevelWarn, fmt.Sprintf("开机自启不可用: %v", err))
	} else {
		a.autoStart = as
	}

	a.tunnel = tunnel.NewController(binary, a.exeDir, a.state, a.sysProxy,
		tunnel.WithLogger(a.logger),
		tunnel.WithLogLevel(settings.LogLevel),
		tunnel.WithEngineLog(a.logger.LogEngineLine),
		tunnel.WithStateListener(a.onTunnelState),
	)

	pair := a.tunnel.Ports()
	if busy := system.BusyPorts(pair.Socks, pair.HTTP); len(busy) > 0 {
		a.logSystem(models.LevelWarn, fmt.Sprintf("本地端口 %v 已被占用，连接可能失败", busy))
	}

	a.pinger = ping.New(binary, a.exeDir, a.state, a.logger)
	a.pinger.TargetURL = settings.ProbeURL
	a.pinger.LogLevel = settings.LogLevel
	a.pinger.OnStart = func(index int) {
		a.emitEvent(models.EventPingStart, map[string]int{"index": index})
	}
	a.pinger.OnResult = func(index int, result models.PingResult) {
		a.emitEvent(models.EventPingResult, map[string]any{"index": index, "result": result})
	}
	a.pinger.OnComplete = func(report ping.Report) {
		a.emitEvent(models.EventPingBatchComplete, report)
	}

	a.logSystem(models.LevelInfo, models.AppTitle+" 已启动")
	a.logSystem(models.LevelInfo, "内核路径: "+binary)

	// 开机自启且开启了自动连接
	if a.isAutoStart && settings.AutoConnect {
		go func() {
			time.Sleep(time.Second) // 等待UI就绪
			if err := a.Connect(); err != nil {
				a.logSystem(models.LevelError, fmt.Sprintf("自动连接失败: %v", err))
			}
		}()
	}
}

// shutdown 应用关闭时调用
func (a *App) shutdown(ctx context.Context) {
	a.logSystem(models.LevelInfo, "正在关闭...")

	// 关闭系统代理并停止内核
	if a.tunnel != nil {
		a.tunnel.Shutdown()
	}

	a.saveServers()
	a.saveSettings()

	if a.logger != nil {
		a.logger.Stop()
	}
}

// =============================================================================
// 窗口控制
// =============================================================================

// ShowWindow 显示主窗口
func (a *App) ShowWindow() {
	runtime.WindowShow(a.ctx)
	runtime.WindowUnminimise(a.ctx)
	runtime.WindowSetAlwaysOnTop(a.ctx, true)
	runtime.WindowSetAlwaysOnTop(a.ctx, false)
}

// HideWindow 隐藏主窗口
func (a *App) HideWindow() {
	runtime.WindowHide(a.ctx)
}

// Quit 退出应用
func (a *App) Quit() {
	runtime.Quit(a.ctx)
}

// =============================================================================
// 服务器列表 API（供前端调用）
// =============================================================================

// GetServers 获取服务器列表
func (a *App) GetServers() []models.ServerEntry {
	return a.state.Entries()
}

// GetSelected 当前选中的索引
func (a *App) GetSelected() int {
	return a.state.Selected()
}

// ImportFromClipboard 从剪贴板导入，每行一个链接
func (a *App) ImportFromClipboard() (int, error) {
	text, err := runtime.ClipboardGetText(a.ctx)
	if err != nil {
		return 0, fmt.Errorf("读取剪贴板失败: %w", err)
	}
	return a.ImportLinks(text)
}

// ImportLinks 导入文本中的链接，返回成功数量
func (a *App) ImportLinks(text string) (int, error) {
	parsed, failed := link.ParseMany(text)
	for _, f := range failed {
		a.logConfig(models.LevelWarn, fmt.Sprintf("导入失败 %v", f))
	}
	if len(parsed) == 0 {
		return 0, fmt.Errorf("剪贴板中没有可识别的链接")
	}

	imported := 0
	for _, p := range parsed {
		if _, err := a.state.AddEntry(models.NewServerEntry(p.Alias, p.Link, p.Outbound)); err != nil {
			a.logConfig(models.LevelError, fmt.Sprintf("添加 %s 失败: %v", p.Alias, err))
			if imported == 0 {
				return 0, err
			}
			break
		}
		imported++
		a.logConfig(models.LevelInfo, fmt.Sprintf("已导入: %s (%s)", p.Alias, p.Outbound.Endpoint()))
	}

	a.scheduleSave()
	a.emitEvent(models.EventServersChanged, nil)
	a.logSystem(models.LevelInfo, fmt.Sprintf("成功导入 %d 个服务器", imported))
	return imported, nil
}

// DeleteServer 删除服务器
func (a *App) DeleteServer(index int) error {
	entry, err := a.state.Entry(index)
	if err != nil {
		return err
	}
	if err := a.state.DeleteEntry(index); err != nil {
		return err
	}
	a.settingsMu.Lock()
	a.settings.ForgetIndex(index)
	a.settingsMu.Unlock()
	a.saveSettings()

	a.scheduleSave()
	a.emitEvent(models.EventServersChanged, nil)
	a.logConfig(models.LevelInfo, "已删除: "+entry.Alias)
	return nil
}

// SelectServer 选中服务器
func (a *App) SelectServer(index int) error {
	if err := a.state.SelectEntry(index); err != nil {
		return err
	}
	a.settingsMu.Lock()
	a.settings.LastSelected = index
	a.settingsMu.Unlock()

	a.emitEvent(models.EventServersChanged, nil)
	return nil
}

// ExportToClipboard 导出全部链接到剪贴板
func (a *App) ExportToClipboard() error {
	text := config.ExportLinks(a.state.Entries())
	if text == "" {
		return fmt.Errorf("没有可导出的服务器")
	}
	if err := runtime.ClipboardSetText(a.ctx, text); err != nil {
		return fmt.Errorf("写入剪贴板失败: %w", err)
	}
	a.logSystem(models.LevelInfo, "链接已复制到剪贴板")
	return nil
}

// =============================================================================
// 连接控制 API
// =============================================================================

// Connect 连接当前选中的服务器
func (a *App) Connect() error {
	index := a.state.Selected()
	if index < 0 {
		return fmt.Errorf("请先选择服务器")
	}
	entry, err := a.state.Entry(index)
	if err != nil {
		return err
	}

	if err := a.tunnel.Connect(index, a.getSettings().EnableMux); err != nil {
		if errors.Is(err, tunnel.ErrBusy) {
			return err
		}
		a.notify("连接失败", fmt.Sprintf("%s: %v", entry.Alias, err))
		return err
	}
	a.notify("已连接", entry.Alias)
	return nil
}

// Disconnect 断开连接
func (a *App) Disconnect() error {
	if err := a.tunnel.Disconnect(); err != nil {
		return err
	}
	a.notify("已断开", "系统代理已关闭")
	return nil
}

// ToggleConnection 已连接则断开，否则连接
func (a *App) ToggleConnection() error {
	if a.tunnel.State() == tunnel.StateConnected {
		return a.Disconnect()
	}
	return a.Connect()
}

// GetConnectionStatus 当前连接状态
func (a *App) GetConnectionStatus() ConnectionStatus {
	pair := a.tunnel.Ports()
	status := ConnectionStatus{
		State:     a.tunnel.State(),
		Index:     a.tunnel.ActiveIndex(),
		Mux:       a.tunnel.Mux(),
		HTTPAddr:  pair.HTTPAddr(),
		SocksAddr: pair.SocksAddr(),
	}
	if entry, err := a.state.Entry(status.Index); err == nil {
		status.Alias = entry.Alias
	}
	return status
}

// CheckConnection 经本地 SOCKS 端口检测连通性，返回毫秒
func (a *App) CheckConnection() (int64, error) {
	ctx, cancel := context.WithTimeout(a.ctx, verifyTimeout)
	defer cancel()

	elapsed, err := a.tunnel.Verify(ctx)
	if err != nil {
		return -1, err
	}
	return elapsed.Milliseconds(), nil
}

func (a *App) onTunnelState(state tunnel.State, index int) {
	a.emitEvent(models.EventConnectionState, map[string]any{
		"state": state,
		"index": index,
	})
}

// =============================================================================
// 测速 API
// =============================================================================

// PingSelected 测试选中的服务器
func (a *App) PingSelected() error {
	index := a.state.Selected()
	if index < 0 {
		return fmt.Errorf("请先选择服务器")
	}
	return a.PingServer(index)
}

// PingServer 测试单个服务器，结果通过事件返回
func (a *App) PingServer(index int) error {
	if _, err := a.state.Entry(index); err != nil {
		return err
	}
	go func() {
		if _, err := a.pinger.ProbeOne(index); err != nil {
			a.logPing(models.LevelWarn, fmt.Sprintf("测速未执行: %v", err))
			return
		}
		a.emitEvent(models.EventServersChanged, nil)
		a.scheduleSave()
	}()
	return nil
}

// PingAll 测试全部服务器，结果通过事件返回
func (a *App) PingAll() error {
	if a.state.Len() == 0 {
		return fmt.Errorf("服务器列表为空")
	}
	go func() {
		if _, err := a.pinger.ProbeAll(); err != nil {
			a.logPing(models.LevelWarn, fmt.Sprintf("测速未执行: %v", err))
			return
		}
		a.emitEvent(models.EventServersChanged, nil)
		a.scheduleSave()
	}()
	return nil
}

// =============================================================================
// 备份 API
// =============================================================================

// ListBackups 列出所有备份
func (a *App) ListBackups() []config.BackupInfo {
	backups, err := a.configManager.ListBackups()
	if err != nil {
		a.logConfig(models.LevelError, fmt.Sprintf("读取备份列表失败: %v", err))
	}
	return backups
}

// RestoreBackup 从备份恢复
func (a *App) RestoreBackup(name string) error {
	if a.state.Active() >= 0 {
		return models.ErrSwitchWhileConnected
	}
	if a.state.ProbesInFlight() > 0 {
		return models.ErrProbeInFlight
	}

	entries, err := a.configManager.RestoreBackup(name)
	if err != nil {
		return err
	}
	if err := a.state.Replace(entries); err != nil {
		return err
	}

	a.emitEvent(models.EventServersChanged, nil)
	a.logConfig(models.LevelInfo, fmt.Sprintf("已从备份恢复: %s (%d 个服务器)", name, len(entries)))
	return nil
}

// =============================================================================
// 设置 API
// =============================================================================

// GetSettings 获取应用设置
func (a *App) GetSettings() config.Settings {
	return a.getSettings()
}

// UpdateSettings 更新应用设置；内核路径在下次启动时生效
func (a *App) UpdateSettings(s config.Settings) error {
	s.Normalize()
	old := a.getSettings()

	if s.AutoStart != old.AutoStart && a.autoStart != nil {
		if err := a.autoStart.SetEnabled(s.AutoStart); err != nil {
			return fmt.Errorf("设置开机自启失败: %w", err)
		}
	}
	if s.ProtectLinks && !config.ProtectionAvailable() {
		s.ProtectLinks = false
		a.logConfig(models.LevelWarn, "当前平台不支持加密保存链接")
	}

	a.settingsMu.Lock()
	a.settings = s
	a.settingsMu.Unlock()

	a.pinger.TargetURL = s.ProbeURL
	a.pinger.LogLevel = s.LogLevel

	if s.ProtectLinks != old.ProtectLinks {
		a.configManager.SetProtection(s.ProtectLinks)
		a.scheduleSave()
	}
	if s.EnginePath != old.EnginePath {
		a.logSystem(models.LevelInfo, "内核路径已修改，重启后生效")
	}

	a.saveSettings()
	return nil
}

// GetAutoStart 获取开机自启状态
func (a *App) GetAutoStart() bool {
	if a.autoStart == nil {
		return false
	}
	return a.autoStart.IsEnabled()
}

// =============================================================================
// 日志 API
// =============================================================================

// GetLogs 获取最近的日志
func (a *App) GetLogs(limit int) []models.LogEntry {
	return a.logger.GetLogs(limit)
}

// GetLogsBySource 按来源获取日志
func (a *App) GetLogsBySource(source string, limit int) []models.LogEntry {
	return a.logger.GetLogsBySource(source, limit)
}

// ClearLogs 清空日志
func (a *App) ClearLogs() {
	a.logger.Clear()
}

// ExportLogs 选择文件并导出日志
func (a *App) ExportLogs(format string) (string, error) {
	path, err := runtime.SaveFileDialog(a.ctx, runtime.SaveDialogOptions{
		Title:           "导出日志",
		DefaultFilename: fmt.Sprintf("babyvpn_logs_%s.%s", time.Now().Format("20060102_150405"), format),
	})
	if err != nil || path == "" {
		return "", err
	}
	if err := a.logger.ExportToFile(path, format); err != nil {
		return "", err
	}
	return path, nil
}

// OpenLogFolder 打开日志目录
func (a *App) OpenLogFolder() error {
	return system.OpenFolder(a.logger.GetLogDir())
}

// OpenDataFolder 打开数据目录
func (a *App) OpenDataFolder() error {
	return system.OpenFolder(a.exeDir)
}

// =============================================================================
// 信息
// =============================================================================

// AppInfo 应用信息
type AppInfo struct {
	Title      string            `json:"title"`
	Version    string            `json:"version"`
	EnginePath string            `json:"engine_path"`
	DataDir    string            `json:"data_dir"`
	System     system.SystemInfo `json:"system"`
}

// GetAppInfo 获取应用信息
func (a *App) GetAppInfo() AppInfo {
	return AppInfo{
		Title:      models.AppTitle,
		Version:    models.AppVersion,
		EnginePath: a.getSettings().EngineBinary(a.exeDir),
		DataDir:    a.exeDir,
		System:     system.GetSystemInfo(),
	}
}

// =============================================================================
// 持久化
// =============================================================================

func (a *App) loadSettings() {
	s, err := a.configManager.LoadSettings()
	if err != nil {
		a.logConfig(models.LevelError, fmt.Sprintf("加载设置失败，使用默认设置: %v", err))
	}
	if s.ProtectLinks && !config.ProtectionAvailable() {
		s.ProtectLinks = false
	}
	a.configManager.SetProtection(s.ProtectLinks)

	a.settingsMu.Lock()
	a.settings = s
	a.settingsMu.Unlock()
}

func (a *App) loadServers() {
	entries, err := a.configManager.Load()
	if err != nil {
		a.logConfig(models.LevelError, fmt.Sprintf("加载服务器列表失败: %v", err))
		return
	}
	if err := a.state.Replace(entries); err != nil {
		a.logConfig(models.LevelError, fmt.Sprintf("加载服务器列表失败: %v", err))
		return
	}
	if last := a.getSettings().LastSelected; last >= 0 && last < len(entries) {
		a.state.SelectEntry(last)
	}
	a.logConfig(models.LevelInfo, fmt.Sprintf("已加载 %d 个服务器", len(entries)))
}

// scheduleSave 延迟保存服务器列表
func (a *App) scheduleSave() {
	a.saveDebounced(a.saveServers)
}

func (a *App) saveServers() {
	if a.configManager == nil {
		return
	}
	if err := a.configManager.Save(a.state.Entries()); err != nil {
		a.logConfig(models.LevelError, fmt.Sprintf("保存服务器列表失败: %v", err))
	}
}

func (a *App) saveSettings() {
	if a.configManager == nil {
		return
	}
	if err := a.configManager.SaveSettings(a.getSettings()); err != nil {
		a.logConfig(models.LevelError, fmt.Sprintf("保存设置失败: %v", err))
	}
}

func (a *App) getSettings() config.Settings {
	a.settingsMu.RLock()
	defer a.settingsMu.RUnlock()
	return a.settings
}

// =============================================================================
// 事件与日志
// =============================================================================

// emitEvent 发送事件到前端
func (a *App) emitEvent(eventType models.EventType, payload interface{}) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, string(eventType), payload)
}

func (a *App) notify(title, message string) {
	if a.notifier == nil {
		return
	}
	if err := a.notifier.Show(title, message); err != nil {
		a.logger.Log(logger.SourceSystem, models.LevelDebug, logger.CategorySystem, fmt.Sprintf("通知发送失败: %v", err))
	}
}

func (a *App) logSystem(level, message string) {
	a.logger.Log(logger.SourceSystem, level, logger.CategorySystem, message)
}

func (a *App) logConfig(level, message string) {
	a.logger.Log(logger.SourceSystem, level, logger.CategoryConfig, message)
}

func (a *App) logPing(level, message string) {
	a.logger.Log(logger.SourceSystem, level, logger.CategoryPing, message)
}
