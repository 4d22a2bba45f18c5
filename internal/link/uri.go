package link

import (
	"net/url"
	"strconv"
	"strings"

	"babyvpn-wails/internal/models"
)

// =============================================================================
// vless://uuid@host:port?query#alias
// trojan://password@host:port?query#alias
// =============================================================================

func parseURI(raw, protocol string) (*models.Outbound, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, "", malformed("%s: %v", protocol, err)
	}
	if u.User == nil || u.User.Username() == "" {
		return nil, "", malformed("%s 缺少认证信息", protocol)
	}
	host := u.Hostname()
	if host == "" {
		return nil, "", malformed("%s 缺少服务器地址", protocol)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil || port <= 0 || port > 65535 {
		return nil, "", malformed("%s 端口无效", protocol)
	}

	q := rawQuery(u.RawQuery)
	p := params{
		network:      q.get("type", models.NetworkTCP),
		security:     q.get("security", models.SecurityNone),
		path:         q.get("path", "/"),
		host:         q.get("host", ""),
		sni:          q.get("sni", ""),
		fp:           q.get("fp", ""),
		alpn:         q.get("alpn", ""),
		serviceName:  q.get("serviceName", ""),
		headerType:   q.get("headerType", "none"),
		mode:         q.get("mode", "auto"),
		quicSecurity: q.get("quicSecurity", models.SecurityNone),
		quicKey:      q.get("key", ""),
	}
	p.seed = orDefault(q.get("seed", ""), p.path)
	p.inheritSNI()

	ob := &models.Outbound{
		Protocol: protocol,
		Address:  host,
		Port:     port,
		Network:  p.network,
		Security: p.security,
	}
	if protocol == models.ProtocolTrojan {
		ob.Password = u.User.Username()
	} else {
		ob.UserID = u.User.Username()
	}
	p.apply(ob)

	alias := fragmentAlias(u)
	if alias == "" {
		alias = models.DefaultVLESSAlias
		if protocol == models.ProtocolTrojan {
			alias = models.DefaultTrojanAlias
		}
	}
	return ob, alias, nil
}

func fragmentAlias(u *url.URL) string {
	frag := u.EscapedFragment()
	if frag == "" {
		return ""
	}
	if decoded, err := url.PathUnescape(frag); err == nil {
		return strings.TrimSpace(decoded)
	}
	return strings.TrimSpace(u.Fragment)
}

// queryValues 保留第一次出现的值
type queryValues map[string]string

// rawQuery 手动拆分 query，使用 PathUnescape 避免把 '+' 变成空格
func rawQuery(rawQ string) queryValues {
	q := queryValues{}
	for _, pair := range strings.Split(rawQ, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		key, err := url.PathUnescape(k)
		if err != nil {
			key = k
		}
		val, err := url.PathUnescape(v)
		if err != nil {
			val = v
		}
		if _, exists := q[key]; !exists {
			q[key] = val
		}
	}
	return q
}

// get 参数缺失或为空时返回默认值
func (q queryValues) get(key, def string) string {
	if v, ok := q[key]; ok && v != "" {
		return v
	}
	return def
}
