package link

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"babyvpn-wails/internal/models"
)

// =============================================================================
// vmess://<base64(json)>
// =============================================================================

func parseVMess(raw string) (*models.Outbound, string, error) {
	payload, err := decodeBase64(strings.TrimPrefix(raw, schemeVMess))
	if err != nil {
		return nil, "", malformed("vmess base64: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, "", malformed("vmess json: %v", err)
	}

	add := str(m, "add", "")
	if add == "" {
		return nil, "", malformed("vmess 缺少服务器地址")
	}
	port, err := intField(m, "port", -1)
	if err != nil || port <= 0 || port > 65535 {
		return nil, "", malformed("vmess 端口无效")
	}
	id := str(m, "id", "")
	if id == "" {
		return nil, "", malformed("vmess 缺少用户 ID")
	}
	aid, err := intField(m, "aid", 0)
	if err != nil {
		return nil, "", malformed("vmess alterId 无效")
	}

	cipher := str(m, "scy", "auto")
	p := params{
		network:    str(m, "net", models.NetworkTCP),
		security:   orDefault(str(m, "tls", models.SecurityNone), models.SecurityNone),
		host:       str(m, "host", ""),
		sni:        str(m, "sni", ""),
		path:       str(m, "path", "/"),
		alpn:       str(m, "alpn", ""),
		fp:         str(m, "fp", ""),
		headerType: str(m, "type", "none"),
	}
	// vmess 没有独立的 serviceName/seed/key 字段，沿用 path
	p.serviceName = p.path
	p.seed = p.path
	p.quicKey = p.path
	p.quicSecurity = str(m, "scy", models.SecurityNone)
	p.inheritSNI()

	ob := &models.Outbound{
		Protocol: models.ProtocolVMess,
		Address:  add,
		Port:     port,
		UserID:   id,
		AlterID:  aid,
		Cipher:   cipher,
		Network:  p.network,
		Security: p.security,
	}
	p.apply(ob)

	return ob, str(m, "ps", models.DefaultVMessAlias), nil
}

// decodeBase64 补齐 padding 后依次尝试标准 / URL 字母表
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, "=")
	if s == "" {
		return nil, fmt.Errorf("内容为空")
	}
	s += strings.Repeat("=", (4-len(s)%4)%4)

	b, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return b, nil
	}
	if b, urlErr := base64.URLEncoding.DecodeString(s); urlErr == nil {
		return b, nil
	}
	return nil, err
}

// str 读取字符串字段，字段不存在或为 null 时返回默认值
func str(m map[string]any, key, def string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", t))
	}
}

// intField 兼容 "443" 和 443 两种写法
func intField(m map[string]any, key string, def int) (int, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case float64:
		return int(t), nil
	case string:
		t = strings.TrimSpace(t)
		if t == "" {
			return def, nil
		}
		return strconv.Atoi(t)
	default:
		return 0, fmt.Errorf("类型错误: %T", v)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
