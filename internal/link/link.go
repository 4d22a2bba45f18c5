// Package link 解析 vmess:// vless:// trojan:// 分享链接
package link

import (
	"errors"
	"fmt"
	"strings"

	"babyvpn-wails/internal/models"
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	// ErrUnsupportedScheme 非 vmess/vless/trojan 链接
	ErrUnsupportedScheme = errors.New("不支持的链接类型")
	// ErrMalformed 编码错误、JSON 错误或缺少必填字段
	ErrMalformed = errors.New("链接格式错误")
)

const (
	schemeVMess  = "vmess://"
	schemeVLESS  = "vless://"
	schemeTrojan = "trojan://"
)

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// =============================================================================
// 入口
// =============================================================================

// Parse 将分享链接解析为 Outbound 与显示别名。
// 同一输入总是得到相同结果；别名为空时由调用方用 models.DefaultAlias 补全。
func Parse(raw string) (*models.Outbound, string, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) > models.MaxLinkLen {
		return nil, "", malformed("链接过长 (%d)", len(raw))
	}

	switch {
	case strings.HasPrefix(raw, schemeVMess):
		return parseVMess(raw)
	case strings.HasPrefix(raw, schemeVLESS):
		return parseURI(raw, models.ProtocolVLESS)
	case strings.HasPrefix(raw, schemeTrojan):
		return parseURI(raw, models.ProtocolTrojan)
	default:
		return nil, "", ErrUnsupportedScheme
	}
}

// Parsed 批量解析中的一条成功结果
type Parsed struct {
	Link     string
	Alias    string
	Outbound *models.Outbound
}

// LineError 批量解析中的一条失败
type LineError struct {
	Line int
	Link string
	Err  error
}

func (e LineError) Error() string {
	return fmt.Sprintf("第 %d 行: %v", e.Line, e.Err)
}

func (e LineError) Unwrap() error { return e.Err }

// ParseMany 按行解析剪贴板文本，空行与 # 注释行跳过
func ParseMany(text string) ([]Parsed, []LineError) {
	var ok []Parsed
	var failed []LineError

	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ob, alias, err := Parse(line)
		if err != nil {
			failed = append(failed, LineError{Line: i + 1, Link: line, Err: err})
			continue
		}
		ok = append(ok, Parsed{Link: line, Alias: alias, Outbound: ob})
	}
	return ok, failed
}
