// Package models 定义所有数据结构
package models

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// 常量定义
// =============================================================================

const (
	AppName    = "BabyVPN"
	AppVersion = "1.3.0"
	AppTitle   = AppName + " v" + AppVersion

	MaxServers = 200
	MaxLinkLen = 8192
)

// 默认别名（解析器在链接未带名称时使用）
const (
	DefaultVMessAlias  = "VMess Config"
	DefaultVLESSAlias  = "VLess Config"
	DefaultTrojanAlias = "Trojan Config"
)

// 日志级别
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

var (
	ErrIndexOutOfRange      = errors.New("服务器索引越界")
	ErrEntryActive          = errors.New("当前连接中的服务器不能删除")
	ErrProbeInFlight        = errors.New("测速进行中，暂不能修改服务器列表")
	ErrSwitchWhileConnected = errors.New("请先断开连接再切换服务器")
	ErrTooManyServers       = fmt.Errorf("服务器数量已达上限 (%d)", MaxServers)
)

// =============================================================================
// 核心数据结构
// =============================================================================

// PingResult 延迟测试结果
type PingResult struct {
	Latency int    `json:"latency"` // 毫秒, -1 表示失败
	Tested  bool   `json:"tested"`
	Error   string `json:"error,omitempty"` // 仅用于日志诊断
}

// PingOK 成功结果
func PingOK(ms int) PingResult {
	return PingResult{Latency: ms, Tested: true}
}

// PingFail 失败结果，cause 只进日志，不改变对外的成功/失败语义
func PingFail(cause string) PingResult {
	return PingResult{Latency: -1, Tested: true, Error: cause}
}

// OK 是否测速成功
func (p PingResult) OK() bool {
	return p.Tested && p.Latency >= 0
}

func (p PingResult) String() string {
	switch {
	case !p.Tested:
		return "-"
	case p.Latency < 0:
		return "Fail"
	default:
		return fmt.Sprintf("%dms", p.Latency)
	}
}

// ServerEntry 服务器列表中的一项
type ServerEntry struct {
	ID        string     `json:"id"`
	Alias     string     `json:"alias"`
	RawLink   string     `json:"link"`
	Outbound  *Outbound  `json:"outbound"`
	LastPing  PingResult `json:"last_ping"`
	IsProbing bool       `json:"is_probing"` // 运行时状态，不持久化
}

// NewServerEntry 由解析结果创建条目
func NewServerEntry(alias, rawLink string, ob *Outbound) ServerEntry {
	return ServerEntry{
		ID:       uuid.NewString(),
		Alias:    alias,
		RawLink:  rawLink,
		Outbound: ob,
	}
}

// DefaultAlias 解析后的别名补全: 第 n+1 个服务器
func DefaultAlias(n int) string {
	return fmt.Sprintf("Server %d", n+1)
}

// LogEntry 日志条目
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`   // "系统", 服务器别名等
	Level     string    `json:"level"`    // "info", "warn", "error", "debug"
	Category  string    `json:"category"` // "系统", "内核", "测速", "连接", "配置"
	Message   string    `json:"message"`
}

// =============================================================================
// 前后端通信事件
// =============================================================================

// EventType 事件类型
type EventType string

const (
	EventLogAppend         EventType = "log:append"
	EventServersChanged    EventType = "servers:changed"
	EventConnectionState   EventType = "connection:state"
	EventPingStart         EventType = "ping:start"
	EventPingResult        EventType = "ping:result"
	EventPingBatchComplete EventType = "ping:batch:complete"
)

// =============================================================================
// 应用状态管理器
// =============================================================================

// AppState 服务器列表及选中/活动状态（线程安全）
//
// 测速 worker 只通过 SetProbing / SetPingResult 写自己负责的索引；
// 有测速在进行时拒绝增删，保证索引在整个批次中稳定。
type AppState struct {
	mu       sync.RWMutex
	entries  []ServerEntry
	selected int
	active   int
	probes   int
	ExeDir   string
}

// NewAppState 创建新的应用状态
func NewAppState() *AppState {
	return &AppState{
		entries:  make([]ServerEntry, 0),
		selected: -1,
		active:   -1,
	}
}

// Len 服务器数量
func (s *AppState) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Entries 返回列表副本
func (s *AppState) Entries() []ServerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ServerEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Entry 按索引获取
func (s *AppState) Entry(index int) (ServerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.entries) {
		return ServerEntry{}, ErrIndexOutOfRange
	}
	return s.entries[index], nil
}

// AddEntry 追加条目，别名为空时补全；第一个条目自动选中
func (s *AppState) AddEntry(e ServerEntry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.probes > 0 {
		return -1, ErrProbeInFlight
	}
	if len(s.entries) >= MaxServers {
		return -1, ErrTooManyServers
	}
	if e.Alias == "" {
		e.Alias = DefaultAlias(len(s.entries))
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.IsProbing = false

	s.entries = append(s.entries, e)
	if len(s.entries) == 1 {
		s.selected = 0
	}
	return len(s.entries) - 1, nil
}

// DeleteEntry 删除条目，并修正选中/活动索引
func (s *AppState) DeleteEntry(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.entries) {
		return ErrIndexOutOfRange
	}
	if index == s.active {
		return ErrEntryActive
	}
	if s.probes > 0 {
		return ErrProbeInFlight
	}

	s.entries = append(s.entries[:index], s.entries[index+1:]...)

	switch {
	case index == s.selected:
		s.selected = -1
	case index < s.selected:
		s.selected--
	}
	if s.active > index {
		s.active--
	}
	return nil
}

// Replace 整体替换列表（加载配置 / 恢复备份）
func (s *AppState) Replace(entries []ServerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.probes > 0 {
		return ErrProbeInFlight
	}
	if s.active >= 0 {
		return ErrSwitchWhileConnected
	}
	s.entries = make([]ServerEntry, len(entries))
	copy(s.entries, entries)
	for i := range s.entries {
		s.entries[i].IsProbing = false
	}
	s.selected = -1
	if len(s.entries) > 0 {
		s.selected = 0
	}
	return nil
}

// SelectEntry 选中条目；已连接时不允许切换到其他条目
func (s *AppState) SelectEntry(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.entries) {
		return ErrIndexOutOfRange
	}
	if s.active >= 0 && index != s.active {
		return ErrSwitchWhileConnected
	}
	s.selected = index
	return nil
}

// Selected 当前选中索引，-1 表示无
func (s *AppState) Selected() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// SetActive 标记连接中的条目
func (s *AppState) SetActive(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.entries) {
		return ErrIndexOutOfRange
	}
	if s.active >= 0 && s.active != index {
		return ErrSwitchWhileConnected
	}
	s.active = index
	return nil
}

// ClearActive 断开后清除
func (s *AppState) ClearActive() {
	s.mu.Lock()
	s.active = -1
	s.mu.Unlock()
}

// Active 连接中的索引，-1 表示未连接
func (s *AppState) Active() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// BeginProbeBatch 取列表快照，并把全部条目登记为测速中
func (s *AppState) BeginProbeBatch() []ServerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes += len(s.entries)
	for i := range s.entries {
		s.entries[i].IsProbing = true
	}
	out := make([]ServerEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// BeginProbe 登记单个条目测速
func (s *AppState) BeginProbe(index int) (ServerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.entries) {
		return ServerEntry{}, ErrIndexOutOfRange
	}
	s.probes++
	s.entries[index].IsProbing = true
	return s.entries[index], nil
}

// EndProbe 一个测速结束
func (s *AppState) EndProbe() {
	s.mu.Lock()
	if s.probes > 0 {
		s.probes--
	}
	s.mu.Unlock()
}

// ProbesInFlight 进行中的测速数
func (s *AppState) ProbesInFlight() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.probes
}

// SetProbing 写入测速标记（只写 index 对应条目）
func (s *AppState) SetProbing(index int, probing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index >= 0 && index < len(s.entries) {
		s.entries[index].IsProbing = probing
	}
}

// SetPingResult 写入测速结果（只写 index 对应条目）
func (s *AppState) SetPingResult(index int, result PingResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index >= 0 && index < len(s.entries) {
		s.entries[index].LastPing = result
	}
}

// =============================================================================
// 工具函数
// =============================================================================

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
