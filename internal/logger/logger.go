// Package logger 提供统一的日志管理：内存环形缓冲供界面展示，
// 同时经 logrus 写入按天轮转的日志文件。
package logger

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"babyvpn-wails/internal/models"
)

// =============================================================================
// 常量
// =============================================================================

const (
	BufferSize       = 5000
	LogRetentionDays = 7
	MaxLogFileSizeMB = 10
	LogDirName       = "logs"

	timeLayout = "2006-01-02 15:04:05.000"
)

// 日志类别
const (
	CategorySystem     = "系统"
	CategoryEngine     = "内核"
	CategoryPing       = "测速"
	CategoryConnection = "连接"
	CategoryConfig     = "配置"
)

// SourceSystem 非服务器相关日志的来源
const SourceSystem = "系统"

// LogParser 内核输出解析器
type LogParser interface {
	CanParse(line string) bool
	Parse(line string) (level, category, message string)
}

// =============================================================================
// 日志管理器
// =============================================================================

// Manager 日志管理器
type Manager struct {
	mu       sync.RWMutex
	ring     ring
	onNewLog func(entry models.LogEntry)

	exeDir  string
	file    *dailyFile
	fileLog *logrus.Logger

	parsers []LogParser
}

// NewManager 创建日志管理器，exeDir 为空时只写内存
func NewManager(exeDir string) *Manager {
	m := &Manager{
		ring:    newRing(BufferSize),
		exeDir:  exeDir,
		parsers: defaultParsers(),
		fileLog: newFileLogger(),
	}
	if exeDir == "" {
		return m
	}

	file, err := openDailyFile(logDir(exeDir))
	if err != nil {
		m.Log(SourceSystem, models.LevelWarn, CategorySystem, fmt.Sprintf("日志文件不可用: %v", err))
		return m
	}
	file.prune(LogRetentionDays)
	m.file = file
	m.fileLog.SetOutput(file)
	return m
}

// newFileLogger 文件日志格式: time="..." level=info category=.. source=.. msg=..
func newFileLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors:    true,
		FullTimestamp:    true,
		TimestampFormat:  timeLayout,
		QuoteEmptyFields: true,
	})
	return l
}

// Log 记录一条日志
func (m *Manager) Log(source, level, category, message string) {
	entry := models.LogEntry{
		Timestamp: time.Now(),
		Source:    source,
		Level:     level,
		Category:  category,
		Message:   message,
	}

	m.mu.Lock()
	m.ring.push(entry)
	cb := m.onNewLog
	toFile := m.file != nil
	m.mu.Unlock()

	if toFile {
		m.fileLog.WithTime(entry.Timestamp).WithFields(logrus.Fields{
			"source":   entry.Source,
			"category": entry.Category,
		}).Log(toLogrusLevel(entry.Level), entry.Message)
	}
	if cb != nil {
		cb(entry)
	}
}

// LogSystem 系统来源、系统类别
func (m *Manager) LogSystem(level, message string) {
	m.Log(SourceSystem, level, CategorySystem, message)
}

func toLogrusLevel(level string) logrus.Level {
	if l, err := logrus.ParseLevel(level); err == nil {
		return l
	}
	return logrus.InfoLevel
}

// =============================================================================
// 查询
// =============================================================================

// GetLogs 最近 limit 条日志，按时间升序；limit<=0 表示全部
func (m *Manager) GetLogs(limit int) []models.LogEntry {
	return m.filter(limit, func(models.LogEntry) bool { return true })
}

// GetLogsBySource 指定来源（服务器别名）的日志
func (m *Manager) GetLogsBySource(source string, limit int) []models.LogEntry {
	return m.filter(limit, func(e models.LogEntry) bool { return e.Source == source })
}

// GetLogsByLevel 指定级别的日志
func (m *Manager) GetLogsByLevel(level string, limit int) []models.LogEntry {
	return m.filter(limit, func(e models.LogEntry) bool { return e.Level == level })
}

func (m *Manager) filter(limit int, keep func(models.LogEntry) bool) []models.LogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ring.latest(limit, keep)
}

// Clear 清空内存中的日志，文件不受影响
func (m *Manager) Clear() {
	m.mu.Lock()
	m.ring = newRing(BufferSize)
	m.mu.Unlock()
}

// SetCallback 新日志回调（界面推送）
func (m *Manager) SetCallback(cb func(entry models.LogEntry)) {
	m.mu.Lock()
	m.onNewLog = cb
	m.mu.Unlock()
}

// =============================================================================
// 内核输出
// =============================================================================

// ParseAndLog 解析内核原始输出（可能多行）并记录
func (m *Manager) ParseAndLog(source, rawLog string) {
	for _, line := range strings.Split(rawLog, "\n") {
		m.LogEngineLine(source, line)
	}
}

// LogEngineLine 记录一行内核输出，可直接作为 Supervisor 的行回调
func (m *Manager) LogEngineLine(source, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	level, category, message := m.parseLine(line)
	m.Log(source, level, category, message)
}

func (m *Manager) parseLine(line string) (level, category, message string) {
	for _, parser := range m.parsers {
		if parser.CanParse(line) {
			return parser.Parse(line)
		}
	}
	return detectLevel(line), CategoryEngine, line
}

func detectLevel(line string) string {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "error") || strings.Contains(lower, "failed"):
		return models.LevelError
	case strings.Contains(lower, "warn"):
		return models.LevelWarn
	case strings.Contains(lower, "[debug]"):
		return models.LevelDebug
	}
	return models.LevelInfo
}

// =============================================================================
// 文件
// =============================================================================

// Stop 关闭日志文件；之后的日志只进内存
func (m *Manager) Stop() {
	m.mu.Lock()
	file := m.file
	m.file = nil
	m.mu.Unlock()

	if file != nil {
		m.fileLog.SetOutput(io.Discard)
		file.Close()
	}
}

// GetLogFilePath 当前日志文件路径
func (m *Manager) GetLogFilePath() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.file == nil {
		return ""
	}
	return m.file.Path()
}

// GetLogDir 日志目录
func (m *Manager) GetLogDir() string {
	return logDir(m.exeDir)
}

// =============================================================================
// 环形缓冲
// =============================================================================

type ring struct {
	entries []models.LogEntry
	next    int
	count   int
}

func newRing(size int) ring {
	return ring{entries: make([]models.LogEntry, size)}
}

func (r *ring) push(e models.LogEntry) {
	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.count < len(r.entries) {
		r.count++
	}
}

// latest 从最新往前取满足 keep 的 limit 条，返回升序
func (r *ring) latest(limit int, keep func(models.LogEntry) bool) []models.LogEntry {
	if limit <= 0 || limit > r.count {
		limit = r.count
	}
	out := make([]models.LogEntry, 0, limit)
	for i := 1; i <= r.count && len(out) < limit; i++ {
		e := r.entries[(r.next-i+len(r.entries))%len(r.entries)]
		if keep(e) {
			out = append(out, e)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
