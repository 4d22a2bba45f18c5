// Package generator 处理内核配置的生成、写入和清理
package generator

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mohae/deepcopy"

	"babyvpn-wails/internal/models"
)

// =============================================================================
// 常量定义
// =============================================================================

const (
	MainConfigName    = "config.json"
	MainLogName       = "xray_log.txt"
	ProbeConfigFormat = "ping_config_%d.json"
	ProbeLogFormat    = "ping_log_%d.txt"

	DefaultLogLevel = "warning"

	TagSocksIn = "socks-in"
	TagHTTPIn  = "http-in"
	TagProxy   = "proxy"
	TagDirect  = "direct"

	MuxConcurrency = 8
)

var (
	DNSServers   = []string{"1.1.1.1", "8.8.8.8", "localhost"}
	LoopbackCIDR = []string{"127.0.0.1/32", "::1/128"}
	SniffTargets = []string{"http", "tls"}
)

// =============================================================================
// 配置合成（纯函数）
// =============================================================================

// Options 合成选项
type Options struct {
	SocksPort int
	HTTPPort  int
	EnableMux bool
	LogLevel  string
}

// Synthesize 由 Outbound 生成完整配置。
// 不修改传入的 ob；enableMux=false 时结果中一定没有 mux 块。
func Synthesize(ob *models.Outbound, socksPort, httpPort int, enableMux bool) *EngineConfig {
	return SynthesizeWith(ob, Options{SocksPort: socksPort, HTTPPort: httpPort, EnableMux: enableMux})
}

// SynthesizeWith 同 Synthesize，可指定日志级别
func SynthesizeWith(ob *models.Outbound, opts Options) *EngineConfig {
	src := deepcopy.Copy(*ob).(models.Outbound)

	switch {
	case !opts.EnableMux:
		src.Mux = nil
	case src.Mux == nil:
		src.Mux = &models.MuxSettings{Enabled: true, Concurrency: MuxConcurrency}
	}

	level := opts.LogLevel
	if level == "" {
		level = DefaultLogLevel
	}

	return &EngineConfig{
		Log: LogObject{LogLevel: level},
		Inbounds: []InboundObject{
			{
				Listen:   "127.0.0.1",
				Port:     opts.SocksPort,
				Protocol: "socks",
				Settings: InboundSettings{Auth: "noauth", UDP: true},
				Sniffing: sniffing(),
				Tag:      TagSocksIn,
			},
			{
				Listen:   "127.0.0.1",
				Port:     opts.HTTPPort,
				Protocol: "http",
				Sniffing: sniffing(),
				Tag:      TagHTTPIn,
			},
		},
		Outbounds: []OutboundObject{
			buildOutbound(&src),
			{Protocol: "freedom", Tag: TagDirect},
		},
		DNS: DNSObject{Servers: append([]string(nil), DNSServers...)},
		Routing: RoutingObject{
			DomainStrategy: "AsIs",
			Rules: []RoutingRule{
				{
					Type:        "field",
					OutboundTag: TagDirect,
					IP:          append([]string(nil), LoopbackCIDR...),
				},
			},
		},
	}
}

func sniffing() SniffingObject {
	return SniffingObject{Enabled: true, DestOverride: append([]string(nil), SniffTargets...)}
}

// buildOutbound 规范描述 -> 内核出站对象
func buildOutbound(ob *models.Outbound) OutboundObject {
	out := OutboundObject{
		Protocol: ob.Protocol,
		Tag:      TagProxy,
		StreamSettings: &StreamSettings{
			Network:  ob.Network,
			Security: ob.Security,
		},
	}

	switch ob.Protocol {
	case models.ProtocolTrojan:
		out.Settings.Servers = []TrojanServer{{
			Address:  ob.Address,
			Port:     ob.Port,
			Password: ob.Password,
		}}
	case models.ProtocolVMess:
		aid := ob.AlterID
		out.Settings.Vnext = []VnextServer{{
			Address: ob.Address,
			Port:    ob.Port,
			Users:   []UserObject{{ID: ob.UserID, AlterID: &aid, Security: ob.Cipher}},
		}}
	default:
		out.Settings.Vnext = []VnextServer{{
			Address: ob.Address,
			Port:    ob.Port,
			Users:   []UserObject{{ID: ob.UserID, Encryption: "none"}},
		}}
	}

	if ob.HasTLS() {
		out.StreamSettings.TLSSettings = &TLSObject{
			ServerName:    ob.TLS.ServerName,
			AllowInsecure: false,
			ALPN:          ob.TLS.ALPN,
			Fingerprint:   ob.TLS.Fingerprint,
		}
	}
	applyTransport(out.StreamSettings, ob.Transport)

	if ob.Mux != nil {
		out.Mux = &MuxObject{Enabled: ob.Mux.Enabled, Concurrency: ob.Mux.Concurrency}
	}
	return out
}

func applyTransport(ss *StreamSettings, t models.Transport) {
	switch t.Kind {
	case models.TransportWS:
		ss.WSSettings = &WSObject{Path: t.WS.Path, Headers: map[string]string{"Host": t.WS.Host}}
	case models.TransportXHTTP:
		ss.XHTTPSettings = &XHTTPObject{Mode: t.XHTTP.Mode, Path: t.XHTTP.Path, Host: t.XHTTP.Host}
	case models.TransportGRPC:
		ss.GRPCSettings = &GRPCObject{ServiceName: t.GRPC.ServiceName}
	case models.TransportTCP:
		ss.TCPSettings = &TCPObject{Header: HeaderObject{
			Type:    t.TCP.HeaderType,
			Request: &HeaderRequest{Headers: map[string][]string{"Host": nonNil(t.TCP.Host)}},
		}}
	case models.TransportKCP:
		ss.KCPSettings = &KCPObject{Header: HeaderObject{Type: t.KCP.HeaderType}, Seed: t.KCP.Seed}
	case models.TransportHTTP:
		ss.HTTPSettings = &HTTPObject{Path: t.HTTP.Path, Host: nonNil(t.HTTP.Host)}
	case models.TransportQUIC:
		ss.QUICSettings = &QUICObject{
			Security: t.QUIC.Security,
			Key:      t.QUIC.Key,
			Header:   HeaderObject{Type: t.QUIC.HeaderType},
		}
	case models.TransportHTTPUpgrade:
		ss.HTTPUpgradeSettings = &HTTPUpgradeObject{Path: t.HTTPUpgrade.Path, Host: t.HTTPUpgrade.Host}
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// =============================================================================
// 文件管理
// =============================================================================

// Generator 管理工作目录下的配置与日志文件
type Generator struct {
	workDir string
}

func NewGenerator(workDir string) *Generator {
	return &Generator{workDir: workDir}
}

// MainPaths 主隧道的配置与日志路径
func (g *Generator) MainPaths() (configPath, logPath string) {
	return filepath.Join(g.workDir, MainConfigName), filepath.Join(g.workDir, MainLogName)
}

// ProbePaths 测速实例的配置与日志路径，以 SOCKS 端口区分
func (g *Generator) ProbePaths(socksPort int) (configPath, logPath string) {
	return filepath.Join(g.workDir, fmt.Sprintf(ProbeConfigFormat, socksPort)),
		filepath.Join(g.workDir, fmt.Sprintf(ProbeLogFormat, socksPort))
}

// WriteConfig 将配置写入文件
func WriteConfig(path string, cfg *EngineConfig) error {
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}
	return nil
}

// CleanupProbeFiles 删除上次异常退出残留的测速文件
func (g *Generator) CleanupProbeFiles() (int, error) {
	removed := 0
	for _, pattern := range []string{"ping_config_*.json", "ping_log_*.txt"} {
		files, err := filepath.Glob(filepath.Join(g.workDir, pattern))
		if err != nil {
			return removed, err
		}
		for _, f := range files {
			if os.Remove(f) == nil {
				removed++
			}
		}
	}
	return removed, nil
}
