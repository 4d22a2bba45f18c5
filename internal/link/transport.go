package link

import (
	"strings"

	"github.com/samber/lo"

	"babyvpn-wails/internal/models"
)

// =============================================================================
// 三种协议共用的传输层 / TLS 选择逻辑
// =============================================================================

// params 链接中与传输层相关的字段，已套用默认值
type params struct {
	network      string
	security     string
	host         string
	sni          string
	path         string
	alpn         string
	fp           string
	serviceName  string
	headerType   string
	mode         string
	seed         string
	quicSecurity string
	quicKey      string
}

// inheritSNI 有 host 无 sni 时 sni 继承 host
func (p *params) inheritSNI() {
	if p.host != "" && p.sni == "" {
		p.sni = p.host
	}
}

// hostOrSNI 传输层 Host 头缺省时退回 SNI
func (p *params) hostOrSNI() string {
	if p.host != "" {
		return p.host
	}
	return p.sni
}

func (p *params) apply(ob *models.Outbound) {
	if p.security == models.SecurityTLS {
		ob.TLS = p.tls()
	}
	ob.Transport = p.transport()
}

func (p *params) tls() *models.TLSSettings {
	t := &models.TLSSettings{
		ServerName:    p.sni,
		AllowInsecure: false,
		Fingerprint:   p.fp,
	}
	if p.alpn != "" {
		t.ALPN = splitList(p.alpn)
	}
	return t
}

// transport 按 network 选择配置块，未知 network 不生成（由内核使用默认值）
func (p *params) transport() models.Transport {
	switch p.network {
	case models.NetworkWS:
		return models.NewWSTransport(p.path, p.hostOrSNI())
	case models.NetworkXHTTP:
		return models.NewXHTTPTransport(p.mode, p.path, p.hostOrSNI())
	case models.NetworkGRPC:
		return models.NewGRPCTransport(p.serviceName)
	case models.NetworkTCP:
		if p.headerType == "http" {
			return models.NewTCPHTTPTransport(p.host)
		}
	case models.NetworkKCP:
		return models.NewKCPTransport(p.headerType, p.seed)
	case models.NetworkH2, models.NetworkHTTP:
		var hosts []string
		if h := p.hostOrSNI(); h != "" {
			hosts = []string{h}
		}
		return models.NewHTTPTransport(p.path, hosts)
	case models.NetworkQUIC:
		return models.NewQUICTransport(p.quicSecurity, p.quicKey, p.headerType)
	case models.NetworkHTTPUpgrade:
		return models.NewHTTPUpgradeTransport(p.path, p.hostOrSNI())
	}
	return models.Transport{}
}

func splitList(s string) []string {
	parts := lo.Map(strings.Split(s, ","), func(item string, _ int) string {
		return strings.TrimSpace(item)
	})
	return lo.Filter(parts, func(item string, _ int) bool {
		return item != ""
	})
}
