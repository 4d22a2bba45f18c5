// Package config 负责服务器列表和设置的持久化
package config

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"babyvpn-wails/internal/link"
	"babyvpn-wails/internal/models"
)

// =============================================================================
// 常量
// =============================================================================

const (
	ServersFileName  = "servers.json"
	SettingsFileName = "settings.yaml"
	BackupDirName    = "backups"
	MaxBackups       = 10

	backupPrefix    = "servers_"
	backupTimeFmt   = "20060102-150405.000"
	protectedHeader = "BABYVPN-DPAPI\n"
)

var ErrInvalidBackup = errors.New("无效的备份文件")

// Codec 对落盘数据加密/解密
type Codec interface {
	Protect(data []byte) ([]byte, error)
	Unprotect(data []byte) ([]byte, error)
}

type dpapiCodec struct{}

func (dpapiCodec) Protect(data []byte) ([]byte, error)   { return EncryptDPAPI(data) }
func (dpapiCodec) Unprotect(data []byte) ([]byte, error) { return DecryptDPAPI(data) }

// serverRecord servers.json 中的一条记录
type serverRecord struct {
	ID       string             `json:"id"`
	Alias    string             `json:"alias"`
	Link     string             `json:"link"`
	Outbound *models.Outbound   `json:"outbound,omitempty"`
	LastPing *models.PingResult `json:"last_ping,omitempty"`
}

// BackupInfo 备份文件信息
type BackupInfo struct {
	Name string    `json:"name"`
	Time time.Time `json:"time"`
	Size int64     `json:"size"`
}

// =============================================================================
// 管理器
// =============================================================================

// Manager 读写数据目录下的 servers.json / settings.yaml
type Manager struct {
	mu      sync.Mutex
	dir     string
	protect bool
	codec   Codec

	// OnWarning 加载时跳过的记录
	OnWarning func(message string)
}

// NewManager 创建管理器
func NewManager(dir string) *Manager {
	return &Manager{dir: dir, codec: dpapiCodec{}}
}

// SetProtection 开启后 servers.json 以加密形式保存；平台不支持时忽略
func (m *Manager) SetProtection(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.protect = enabled && (ProtectionAvailable() || !isDPAPI(m.codec))
}

// SetCodec 替换加密实现
func (m *Manager) SetCodec(c Codec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codec = c
}

func isDPAPI(c Codec) bool {
	_, ok := c.(dpapiCodec)
	return ok
}

func (m *Manager) ServersPath() string  { return filepath.Join(m.dir, ServersFileName) }
func (m *Manager) SettingsPath() string { return filepath.Join(m.dir, SettingsFileName) }
func (m *Manager) BackupDir() string    { return filepath.Join(m.dir, BackupDirName) }

// Load 读取服务器列表；文件不存在返回空列表
func (m *Manager) Load() ([]models.ServerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.ServersPath())
	if errors.Is(err, os.ErrNotExist) {
		return []models.ServerEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取服务器列表失败: %w", err)
	}
	return m.decode(data)
}

// Save 保存服务器列表，旧文件内容不同时先备份
func (m *Manager) Save(entries []models.ServerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := m.encode(entries)
	if err != nil {
		return err
	}
	return m.writeServers(data)
}

func (m *Manager) writeServers(data []byte) error {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return fmt.Errorf("创建数据目录失败: %w", err)
	}

	path := m.ServersPath()
	if old, err := os.ReadFile(path); err == nil && len(old) > 0 && !bytes.Equal(old, data) {
		if err := m.backup(old); err != nil {
			return err
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("写入服务器列表失败: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("写入服务器列表失败: %w", err)
	}
	return nil
}

func (m *Manager) encode(entries []models.ServerEntry) ([]byte, error) {
	records := lo.Map(entries, func(e models.ServerEntry, _ int) serverRecord {
		r := serverRecord{ID: e.ID, Alias: e.Alias, Link: e.RawLink, Outbound: e.Outbound}
		if e.LastPing.Tested {
			ping := e.LastPing
			r.LastPing = &ping
		}
		return r
	})

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("序列化服务器列表失败: %w", err)
	}
	if !m.protect {
		return data, nil
	}

	sealed, err := m.codec.Protect(data)
	if err != nil {
		return nil, err
	}
	return []byte(protectedHeader + base64.StdEncoding.EncodeToString(sealed)), nil
}

func (m *Manager) decode(data []byte) ([]models.ServerEntry, error) {
	if bytes.HasPrefix(data, []byte(protectedHeader)) {
		sealed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data[len(protectedHeader):])))
		if err != nil {
			return nil, fmt.Errorf("解码服务器列表失败: %w", err)
		}
		if data, err = m.codec.Unprotect(sealed); err != nil {
			return nil, err
		}
	}

	var records []serverRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("解析服务器列表失败: %w", err)
	}

	entries := make([]models.ServerEntry, 0, len(records))
	for i, r := range records {
		ob, alias := r.Outbound, r.Alias
		if ob == nil {
			parsed, parsedAlias, err := link.Parse(r.Link)
			if err != nil {
				m.warn(fmt.Sprintf("跳过第 %d 条记录: %v", i+1, err))
				continue
			}
			ob = parsed
			if alias == "" {
				alias = parsedAlias
			}
		}
		if alias == "" {
			alias = models.DefaultAlias(len(entries))
		}

		e := models.NewServerEntry(alias, r.Link, ob)
		if r.ID != "" {
			e.ID = r.ID
		}
		if r.LastPing != nil {
			e.LastPing = *r.LastPing
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (m *Manager) warn(message string) {
	if m.OnWarning != nil {
		m.OnWarning(message)
	}
}

// =============================================================================
// 备份
// =============================================================================

func (m *Manager) backup(data []byte) error {
	dir := m.BackupDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建备份目录失败: %w", err)
	}

	name := backupPrefix + time.Now().Format(backupTimeFmt) + ".json"
	if err := os.WriteFile(filepath.Join(dir, name), data, 0600); err != nil {
		return fmt.Errorf("写入备份失败: %w", err)
	}

	backups, err := m.listBackups()
	if err != nil {
		return err
	}
	if len(backups) <= MaxBackups {
		return nil
	}
	for _, b := range backups[MaxBackups:] {
		os.Remove(filepath.Join(dir, b.Name))
	}
	return nil
}

// ListBackups 备份列表，最新的在前
func (m *Manager) ListBackups() ([]BackupInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listBackups()
}

func (m *Manager) listBackups() ([]BackupInfo, error) {
	files, err := os.ReadDir(m.BackupDir())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var backups []BackupInfo
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, backupPrefix), ".json")
		t, err := time.ParseInLocation(backupTimeFmt, stamp, time.Local)
		if err != nil {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		backups = append(backups, BackupInfo{Name: name, Time: t, Size: info.Size()})
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].Time.After(backups[j].Time) })
	return backups, nil
}

// RestoreBackup 用备份替换当前列表，返回恢复后的条目
func (m *Manager) RestoreBackup(name string) ([]models.ServerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if name != filepath.Base(name) || !strings.HasPrefix(name, backupPrefix) {
		return nil, ErrInvalidBackup
	}
	data, err := os.ReadFile(filepath.Join(m.BackupDir(), name))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBackup, err)
	}
	entries, err := m.decode(data)
	if err != nil {
		return nil, err
	}
	if err := m.writeServers(data); err != nil {
		return nil, err
	}
	return entries, nil
}

// =============================================================================
// 导出
// =============================================================================

// ExportLinks 每行一个原始链接
func ExportLinks(entries []models.ServerEntry) string {
	links := lo.FilterMap(entries, func(e models.ServerEntry, _ int) (string, bool) {
		return e.RawLink, e.RawLink != ""
	})
	return strings.Join(links, "\n")
}
