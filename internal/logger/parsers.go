package logger

import (
	"fmt"
	"regexp"
	"strings"

	"babyvpn-wails/internal/models"
)

// =============================================================================
// Xray 输出解析器
// =============================================================================

func defaultParsers() []LogParser {
	return []LogParser{
		&FailedStartParser{},
		&AccessParser{pattern: accessPattern},
		&LeveledParser{pattern: leveledPattern},
		&VersionParser{},
	}
}

var (
	// 2024/01/02 15:04:05 from 127.0.0.1:52314 accepted tcp:www.google.com:443 [http-in -> proxy]
	accessPattern = regexp.MustCompile(`^(?:\d{4}/\d{2}/\d{2} [\d:.]+ )?(?:from )?(\S+) (accepted|rejected) (\S+)(?: \[([^\]]+)\])?`)

	// 2024/01/02 15:04:05 [Warning] core: Xray 1.8.4 started
	leveledPattern = regexp.MustCompile(`^(?:\d{4}/\d{2}/\d{2} [\d:.]+ )?\[(Debug|Info|Warning|Error)\] (.*)$`)
)

// FailedStartParser 内核启动失败
type FailedStartParser struct{}

func (p *FailedStartParser) CanParse(line string) bool {
	return strings.HasPrefix(line, "Failed to start")
}

func (p *FailedStartParser) Parse(line string) (level, category, message string) {
	level = models.LevelError
	category = CategoryEngine
	if isConfigProblem(line) {
		category = CategoryConfig
	}
	rest := strings.TrimSpace(strings.TrimPrefix(line, "Failed to start:"))
	message = "内核启动失败: " + rest
	return
}

// AccessParser 访问日志
type AccessParser struct {
	pattern *regexp.Regexp
}

func (p *AccessParser) CanParse(line string) bool {
	return p.pattern.MatchString(line)
}

func (p *AccessParser) Parse(line string) (level, category, message string) {
	level = models.LevelInfo
	category = CategoryConnection

	m := p.pattern.FindStringSubmatch(line)
	if len(m) < 5 {
		return level, category, line
	}
	target, route := m[3], m[4]
	if m[2] == "rejected" {
		level = models.LevelWarn
		message = fmt.Sprintf("拒绝: %s", target)
		return
	}
	if route != "" {
		message = fmt.Sprintf("访问: %s [%s]", target, route)
	} else {
		message = fmt.Sprintf("访问: %s", target)
	}
	return
}

// LeveledParser 带 [Level] 的内核日志
type LeveledParser struct {
	pattern *regexp.Regexp
}

func (p *LeveledParser) CanParse(line string) bool {
	return p.pattern.MatchString(line)
}

func (p *LeveledParser) Parse(line string) (level, category, message string) {
	m := p.pattern.FindStringSubmatch(line)
	if len(m) < 3 {
		return detectLevel(line), CategoryEngine, line
	}

	switch m[1] {
	case "Debug":
		level = models.LevelDebug
	case "Warning":
		level = models.LevelWarn
	case "Error":
		level = models.LevelError
	default:
		level = models.LevelInfo
	}

	category = CategoryEngine
	message = m[2]
	switch {
	case strings.Contains(message, "Xray") && strings.HasSuffix(message, "started"):
		message = "内核已启动 (" + strings.TrimSpace(strings.TrimPrefix(message, "core:")) + ")"
	case isConfigProblem(message):
		category = CategoryConfig
	}
	return
}

// VersionParser 内核启动时打印的版本行
type VersionParser struct{}

func (p *VersionParser) CanParse(line string) bool {
	return strings.HasPrefix(line, "Xray ") || strings.HasPrefix(line, "V2Ray ")
}

func (p *VersionParser) Parse(line string) (level, category, message string) {
	fields := strings.Fields(line)
	if len(fields) >= 2 {
		return models.LevelInfo, CategoryEngine, "内核版本: " + fields[0] + " " + fields[1]
	}
	return models.LevelInfo, CategoryEngine, line
}

func isConfigProblem(s string) bool {
	return strings.Contains(s, "infra/conf") || strings.Contains(s, "failed to load config") ||
		strings.Contains(s, "failed to read config")
}
