package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Settings 应用设置，保存在 settings.yaml
type Settings struct {
	EnginePath   string `yaml:"engine_path" json:"engine_path"`
	EnableMux    bool   `yaml:"enable_mux" json:"enable_mux"`
	LogLevel     string `yaml:"log_level" json:"log_level"`
	AutoStart    bool   `yaml:"auto_start" json:"auto_start"`
	AutoConnect  bool   `yaml:"auto_connect" json:"auto_connect"`
	ProbeURL     string `yaml:"probe_url" json:"probe_url"`
	ProtectLinks bool   `yaml:"protect_links" json:"protect_links"`
	LastSelected int    `yaml:"last_selected" json:"last_selected"`
}

var logLevels = []string{"debug", "info", "warning", "error", "none"}

// DefaultEngineName 内核可执行文件名
func DefaultEngineName() string {
	if runtime.GOOS == "windows" {
		return "xray.exe"
	}
	return "xray"
}

// DefaultSettings 默认设置
func DefaultSettings() Settings {
	return Settings{
		EnginePath:   DefaultEngineName(),
		EnableMux:    true,
		LogLevel:     "warning",
		ProbeURL:     "http://www.google.com/generate_204",
		LastSelected: -1,
	}
}

// Normalize 补全缺省值并修正非法值
func (s *Settings) Normalize() {
	def := DefaultSettings()
	s.EnginePath = strings.TrimSpace(s.EnginePath)
	if s.EnginePath == "" {
		s.EnginePath = def.EnginePath
	}
	s.LogLevel = strings.ToLower(strings.TrimSpace(s.LogLevel))
	valid := false
	for _, l := range logLevels {
		if s.LogLevel == l {
			valid = true
			break
		}
	}
	if !valid {
		s.LogLevel = def.LogLevel
	}
	if !strings.HasPrefix(s.ProbeURL, "http://") && !strings.HasPrefix(s.ProbeURL, "https://") {
		s.ProbeURL = def.ProbeURL
	}
	if s.LastSelected < -1 {
		s.LastSelected = -1
	}
}

// ForgetIndex 删除第 index 条服务器后调整 LastSelected
func (s *Settings) ForgetIndex(index int) {
	switch {
	case index == s.LastSelected:
		s.LastSelected = -1
	case index < s.LastSelected:
		s.LastSelected--
	}
}

// EngineBinary 内核的绝对路径；相对路径以程序目录为基准
func (s Settings) EngineBinary(exeDir string) string {
	if filepath.IsAbs(s.EnginePath) {
		return s.EnginePath
	}
	return filepath.Join(exeDir, s.EnginePath)
}

// LoadSettings 读取设置；文件不存在返回默认值，缺失字段取默认值
func (m *Manager) LoadSettings() (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := DefaultSettings()
	data, err := os.ReadFile(m.SettingsPath())
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("读取设置失败: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return DefaultSettings(), fmt.Errorf("解析设置失败: %w", err)
	}
	s.Normalize()
	return s, nil
}

// SaveSettings 保存设置
func (m *Manager) SaveSettings(s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s.Normalize()
	data, err := yaml.Marshal(&s)
	if err != nil {
		return fmt.Errorf("序列化设置失败: %w", err)
	}
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return fmt.Errorf("创建数据目录失败: %w", err)
	}
	if err := os.WriteFile(m.SettingsPath(), data, 0644); err != nil {
		return fmt.Errorf("保存设置失败: %w", err)
	}
	return nil
}
