package models

// =============================================================================
// 协议 / 传输 / 安全层常量
// =============================================================================

const (
	ProtocolVMess  = "vmess"
	ProtocolVLESS  = "vless"
	ProtocolTrojan = "trojan"
)

const (
	NetworkTCP         = "tcp"
	NetworkKCP         = "kcp"
	NetworkWS          = "ws"
	NetworkHTTP        = "http"
	NetworkH2          = "h2"
	NetworkGRPC        = "grpc"
	NetworkQUIC        = "quic"
	NetworkHTTPUpgrade = "httpupgrade"
	NetworkXHTTP       = "xhttp"
)

const (
	SecurityNone = "none"
	SecurityTLS  = "tls"
)

// TransportKind 传输层配置块的类型标签
type TransportKind string

const (
	TransportNone        TransportKind = ""
	TransportWS          TransportKind = "ws"
	TransportXHTTP       TransportKind = "xhttp"
	TransportGRPC        TransportKind = "grpc"
	TransportTCP         TransportKind = "tcp"
	TransportKCP         TransportKind = "kcp"
	TransportHTTP        TransportKind = "http"
	TransportQUIC        TransportKind = "quic"
	TransportHTTPUpgrade TransportKind = "httpupgrade"
)

// =============================================================================
// Outbound 规范化的远端服务器描述
// =============================================================================

// Outbound 由分享链接解析得到，构造后不再修改。
// 需要改动（例如开启 Mux）时由调用方先复制。
type Outbound struct {
	Protocol string `json:"protocol"`
	Address  string `json:"address"`
	Port     int    `json:"port"`

	// 认证: vmess/vless 使用 UserID, trojan 使用 Password
	UserID   string `json:"user_id,omitempty"`
	Password string `json:"password,omitempty"`

	// 仅 vmess
	AlterID int    `json:"alter_id,omitempty"`
	Cipher  string `json:"cipher,omitempty"`

	Network  string `json:"network"`
	Security string `json:"security"`

	TLS       *TLSSettings `json:"tls,omitempty"`
	Transport Transport    `json:"transport"`
	Mux       *MuxSettings `json:"mux,omitempty"`
}

// TLSSettings 仅在 security=tls 时存在
type TLSSettings struct {
	ServerName    string   `json:"server_name"`
	AllowInsecure bool     `json:"allow_insecure"`
	ALPN          []string `json:"alpn,omitempty"`
	Fingerprint   string   `json:"fingerprint,omitempty"`
}

// MuxSettings 多路复用
type MuxSettings struct {
	Enabled     bool `json:"enabled"`
	Concurrency int  `json:"concurrency"`
}

// Transport 传输层配置的标签联合体，Kind 决定哪个字段非空
type Transport struct {
	Kind        TransportKind        `json:"kind,omitempty"`
	WS          *WSSettings          `json:"ws,omitempty"`
	XHTTP       *XHTTPSettings       `json:"xhttp,omitempty"`
	GRPC        *GRPCSettings        `json:"grpc,omitempty"`
	TCP         *TCPSettings         `json:"tcp,omitempty"`
	KCP         *KCPSettings         `json:"kcp,omitempty"`
	HTTP        *HTTPSettings        `json:"http,omitempty"`
	QUIC        *QUICSettings        `json:"quic,omitempty"`
	HTTPUpgrade *HTTPUpgradeSettings `json:"httpupgrade,omitempty"`
}

type WSSettings struct {
	Path string `json:"path"`
	Host string `json:"host"`
}

type XHTTPSettings struct {
	Mode string `json:"mode,omitempty"`
	Path string `json:"path"`
	Host string `json:"host"`
}

type GRPCSettings struct {
	ServiceName string `json:"service_name"`
}

// TCPSettings 只用于 HTTP 伪装头
type TCPSettings struct {
	HeaderType string   `json:"header_type"`
	Host       []string `json:"host"`
}

type KCPSettings struct {
	HeaderType string `json:"header_type"`
	Seed       string `json:"seed"`
}

// HTTPSettings 对应 h2 / http
type HTTPSettings struct {
	Path string   `json:"path"`
	Host []string `json:"host"`
}

type QUICSettings struct {
	Security   string `json:"security"`
	Key        string `json:"key"`
	HeaderType string `json:"header_type"`
}

type HTTPUpgradeSettings struct {
	Path string `json:"path"`
	Host string `json:"host"`
}

// =============================================================================
// 传输层构造函数
// =============================================================================

func NewWSTransport(path, host string) Transport {
	return Transport{Kind: TransportWS, WS: &WSSettings{Path: path, Host: host}}
}

func NewXHTTPTransport(mode, path, host string) Transport {
	return Transport{Kind: TransportXHTTP, XHTTP: &XHTTPSettings{Mode: mode, Path: path, Host: host}}
}

func NewGRPCTransport(serviceName string) Transport {
	return Transport{Kind: TransportGRPC, GRPC: &GRPCSettings{ServiceName: serviceName}}
}

// NewTCPHTTPTransport TCP + HTTP 伪装，host 为空时 Host 列表为空
func NewTCPHTTPTransport(host string) Transport {
	return Transport{Kind: TransportTCP, TCP: &TCPSettings{HeaderType: "http", Host: hostList(host)}}
}

func NewKCPTransport(headerType, seed string) Transport {
	return Transport{Kind: TransportKCP, KCP: &KCPSettings{HeaderType: headerType, Seed: seed}}
}

func NewHTTPTransport(path string, hosts []string) Transport {
	if hosts == nil {
		hosts = []string{}
	}
	return Transport{Kind: TransportHTTP, HTTP: &HTTPSettings{Path: path, Host: hosts}}
}

func NewQUICTransport(security, key, headerType string) Transport {
	return Transport{Kind: TransportQUIC, QUIC: &QUICSettings{Security: security, Key: key, HeaderType: headerType}}
}

func NewHTTPUpgradeTransport(path, host string) Transport {
	return Transport{Kind: TransportHTTPUpgrade, HTTPUpgrade: &HTTPUpgradeSettings{Path: path, Host: host}}
}

func hostList(host string) []string {
	if host == "" {
		return []string{}
	}
	return []string{host}
}

// HasTLS 是否启用 TLS
func (o *Outbound) HasTLS() bool {
	return o.Security == SecurityTLS && o.TLS != nil
}

// Endpoint 返回 address:port 形式，用于日志
func (o *Outbound) Endpoint() string {
	return joinHostPort(o.Address, o.Port)
}
